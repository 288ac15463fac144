package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jask/banksync/internal/aggregator"
	"github.com/jask/banksync/internal/config"
	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/database"
	"github.com/jask/banksync/internal/database/repository"
	"github.com/jask/banksync/internal/gapcache"
	"github.com/jask/banksync/internal/ledger"
	"github.com/jask/banksync/internal/reconcile"
	"github.com/jask/banksync/internal/service"
)

func syncCmd() *cobra.Command {
	var (
		from string
		to   string
		docs []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Parse statements, fill gaps from the aggregator and rebuild the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			paths, err := collectDocuments(docs, cfg.Documents.Dir)
			if err != nil {
				return err
			}

			log := newLogger(cfg)
			svc, cleanup, err := buildService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := svc.Run(cmd.Context(), service.RunOptions{
				DocumentPaths: paths,
				Window:        window,
			})
			if err != nil {
				return err
			}
			render(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "statement document to parse (repeatable); defaults to the configured documents dir")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func parseWindow(from, to string) (daterange.Range, error) {
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return daterange.Range{}, fmt.Errorf("invalid --from: %w", err)
	}
	end := daterange.Day(time.Now().UTC())
	if to != "" {
		end, err = time.Parse(time.DateOnly, to)
		if err != nil {
			return daterange.Range{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return daterange.New(start, end)
}

// collectDocuments resolves the document list: explicit --doc flags
// win, otherwise every supported file in the configured directory. A
// missing directory just means a document-free run.
func collectDocuments(docs []string, dir string) ([]string, error) {
	if len(docs) > 0 {
		return docs, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read documents dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".csv", ".pdf":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// buildService wires the pipeline from config. The store and the
// aggregator are both optional; the gap cache falls back to a JSON
// file when there is no database to keep it in.
func buildService(cfg config.Config, log *logrus.Entry) (*service.SyncService, func(), error) {
	svc := &service.SyncService{
		Cache: gapcache.New(),
		Match: reconcile.Config{
			DateToleranceDays:  cfg.Sync.DateToleranceDays,
			AmountTolerancePct: cfg.Sync.AmountTolerancePct,
			MerchantThreshold:  cfg.Sync.MerchantThreshold,
			ExactDescription:   reconcile.DefaultConfig().ExactDescription,
		},
		Log: log,
	}
	cleanup := func() {}

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		if err := database.RunMigrations(cfg.Database.Path); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		cleanup = func() { _ = db.Close() }
		svc.Store = repository.NewStore(db)
		svc.CacheStore = repository.NewGapCacheRepo(db)
	} else {
		svc.CacheStore = &gapcache.FileStore{Path: cfg.GapCache.Path}
	}

	if cfg.Aggregator.AccessURL != "" {
		svc.Aggregator = aggregator.NewHTTPClient(cfg.Aggregator.AccessURL, cfg.Aggregator.RatePerSec, log.Logger)
	}

	return svc, cleanup, nil
}

func render(cmd *cobra.Command, out *ledger.Ledger) {
	w := cmd.OutOrStdout()
	for _, a := range out.Accounts {
		s := a.Summary
		fmt.Fprintf(w, "%s: %d transactions, %s -> %s (credits %s, debits %s)\n",
			a.Key, len(a.Transactions),
			ledger.Cents(s.StartingCents), ledger.Cents(s.EndingCents),
			ledger.Cents(s.TotalCreditsCents), ledger.Cents(s.TotalDebitsCents))
	}
	fmt.Fprintf(w, "total: %d transactions across %d accounts\n", out.TotalTransactions, len(out.Accounts))
	for _, wmsg := range out.Warnings {
		fmt.Fprintf(w, "warning: %s\n", wmsg)
	}
}
