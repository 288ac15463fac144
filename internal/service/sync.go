package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jask/banksync/internal/aggregator"
	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/database/repository"
	"github.com/jask/banksync/internal/gapcache"
	"github.com/jask/banksync/internal/ledger"
	"github.com/jask/banksync/internal/parser"
	"github.com/jask/banksync/internal/reconcile"
)

// ErrNoDataSource means the run has no documents, no aggregator and no
// store to work from, so there is nothing to sync.
var ErrNoDataSource = errors.New("sync: no data source configured")

// Data-quality thresholds. Runs crossing them still succeed; the
// condition is surfaced as a ledger warning.
const (
	matchRateWarnFloor = 0.5
	totalsWarnCents    = int64(10000)
)

// SyncService runs the full pipeline: parse, upload, coverage, gap
// analysis, gap fill, rebuild. Any collaborator may be nil except the
// cache; a nil Store switches the run to in-memory output, a nil
// Aggregator disables gap filling.
type SyncService struct {
	Store      Store
	Aggregator aggregator.Client
	Cache      *gapcache.Cache
	CacheStore gapcache.Store
	Match      reconcile.Config
	Log        *logrus.Entry

	// SelectParser picks a parser per document; defaults to
	// parser.ForPath.
	SelectParser func(path string) parser.Parser
}

// RunOptions are one run's inputs.
type RunOptions struct {
	DocumentPaths []string
	Window        daterange.Range
}

// Run executes the pipeline stages in order and returns the rebuilt
// ledger for the window. Individual documents and accounts fail soft:
// their problems become warnings and the rest of the run proceeds.
func (s *SyncService) Run(ctx context.Context, opts RunOptions) (*ledger.Ledger, error) {
	if opts.Window.Start.IsZero() || opts.Window.End.Before(opts.Window.Start) {
		return nil, fmt.Errorf("sync: invalid window %s", opts.Window)
	}
	if len(opts.DocumentPaths) == 0 && s.Aggregator == nil && s.Store == nil {
		return nil, ErrNoDataSource
	}

	log := s.log().WithField("window", opts.Window.String())
	out := &ledger.Ledger{
		Sources: ledger.DataSources{Store: s.Store != nil},
	}

	s.loadCache(ctx, log, out)

	builder := s.newBuilder()

	statements := s.parseDocuments(ctx, log, opts.DocumentPaths, out)
	s.uploadStatements(ctx, log, statements, out)
	for _, st := range statements {
		builder.AddStatement(st)
	}

	coverages := s.analyzeCoverage(ctx, log, opts.Window, statements, out)
	s.fillGaps(ctx, log, opts.Window, coverages, statements, builder, out)

	s.saveCache(ctx, log, out)

	reports, err := builder.Build(ctx, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("sync: rebuild: %w", err)
	}
	out.Accounts = reports
	for _, r := range reports {
		out.TotalTransactions += len(r.Transactions)
	}
	log.WithFields(logrus.Fields{
		"accounts":     len(out.Accounts),
		"transactions": out.TotalTransactions,
		"warnings":     len(out.Warnings),
	}).Info("sync complete")
	return out, nil
}

func (s *SyncService) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (s *SyncService) newBuilder() OutputBuilder {
	if s.Store != nil {
		return NewStoreBuilder(s.Store)
	}
	return NewMemoryBuilder()
}

func (s *SyncService) loadCache(ctx context.Context, log *logrus.Entry, out *ledger.Ledger) {
	if s.CacheStore == nil || s.Cache == nil {
		return
	}
	snapshot, err := s.CacheStore.Load(ctx)
	if err != nil {
		// a lost cache only costs redundant fetches
		log.WithError(err).Warn("gap cache load failed, starting empty")
		out.Warnings = append(out.Warnings, fmt.Sprintf("gap cache unavailable: %v", err))
		return
	}
	s.Cache.Restore(snapshot)
}

func (s *SyncService) saveCache(ctx context.Context, log *logrus.Entry, out *ledger.Ledger) {
	if s.CacheStore == nil || s.Cache == nil {
		return
	}
	if err := s.CacheStore.Save(ctx, s.Cache.Snapshot()); err != nil {
		log.WithError(err).Warn("gap cache save failed")
		out.Warnings = append(out.Warnings, fmt.Sprintf("gap cache not saved: %v", err))
	}
}

// parseDocuments is stage one. A document that cannot be parsed is
// skipped with a warning; recoverable line problems surface as the
// statement's own warnings.
func (s *SyncService) parseDocuments(ctx context.Context, log *logrus.Entry, paths []string, out *ledger.Ledger) []ledger.Statement {
	pick := s.SelectParser
	if pick == nil {
		pick = parser.ForPath
	}
	var statements []ledger.Statement
	for _, path := range paths {
		p := pick(path)
		if p == nil {
			log.WithField("path", path).Warn("unsupported document type")
			out.Warnings = append(out.Warnings, fmt.Sprintf("skipped %s: unsupported document type", path))
			continue
		}
		parsed, err := p.Parse(ctx, path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("document failed to parse")
			out.Warnings = append(out.Warnings, fmt.Sprintf("skipped %s: %v", path, err))
			continue
		}
		for _, st := range parsed {
			out.Warnings = append(out.Warnings, st.Warnings...)
			statements = append(statements, st)
		}
		out.Sources.Documents++
	}
	return statements
}

// uploadStatements is stage two. Each statement persists atomically
// for its account; a failing account is logged and skipped without
// stopping the run.
func (s *SyncService) uploadStatements(ctx context.Context, log *logrus.Entry, statements []ledger.Statement, out *ledger.Ledger) {
	if s.Store == nil {
		return
	}
	for _, st := range statements {
		alog := log.WithField("account", st.Key.String())
		if err := s.Store.UpsertAccount(ctx, st.Key); err != nil {
			alog.WithError(err).Error("account upsert failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("account %s not persisted: %v", st.Key, err))
			continue
		}
		if err := s.Store.UpsertStatement(ctx, st); err != nil {
			alog.WithError(err).Error("statement upsert failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("statement for %s not persisted: %v", st.Key, err))
			continue
		}
		inserted, skipped, err := s.Store.UpsertTransactions(ctx, st.Transactions)
		if err != nil {
			alog.WithError(err).Error("transaction upsert failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("transactions for %s not persisted: %v", st.Key, err))
			continue
		}
		alog.WithFields(logrus.Fields{"inserted": inserted, "skipped": skipped}).Info("statement uploaded")
	}
}

// analyzeCoverage is stages three and four: query what each source
// already holds, then subtract it from the window. On a cold start
// with no known accounts the aggregator seeds the account list.
func (s *SyncService) analyzeCoverage(ctx context.Context, log *logrus.Entry, window daterange.Range, statements []ledger.Statement, out *ledger.Ledger) []AccountCoverage {
	var stored []repository.AccountRange
	if s.Store != nil {
		var err error
		stored, err = s.Store.DateRanges(ctx)
		if err != nil {
			log.WithError(err).Warn("stored coverage unavailable")
			out.Warnings = append(out.Warnings, fmt.Sprintf("stored coverage unavailable: %v", err))
		}
	}

	analyzer := &Analyzer{Cache: s.Cache}
	coverages := analyzer.Analyze(window, statements, stored)

	if len(coverages) == 0 && s.Aggregator != nil {
		keys, err := BootstrapKeys(ctx, s.Aggregator)
		if err != nil {
			log.WithError(err).Warn("account discovery failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("account discovery failed: %v", err))
			return nil
		}
		for _, key := range keys {
			var covered []daterange.Range
			if s.Cache != nil {
				covered = s.Cache.CheckedRanges(key.String())
			}
			coverages = append(coverages, AccountCoverage{
				Key:     key,
				Covered: covered,
				Gaps:    daterange.Subtract(window, covered),
			})
		}
	}

	for _, c := range coverages {
		log.WithFields(logrus.Fields{
			"account": c.Key.String(),
			"covered": daterange.TotalDays(c.Covered),
			"gaps":    len(c.Gaps),
		}).Debug("coverage analyzed")
	}
	return coverages
}

// fillGaps is stage five: fetch each account's uncovered ranges from
// the aggregator, reconcile against what is already known, and keep
// only the genuinely new transactions. Empty fetches are remembered so
// the next run skips them.
func (s *SyncService) fillGaps(ctx context.Context, log *logrus.Entry, window daterange.Range, coverages []AccountCoverage, statements []ledger.Statement, builder OutputBuilder, out *ledger.Ledger) {
	if s.Aggregator == nil {
		return
	}
	var toFill []AccountCoverage
	for _, c := range coverages {
		if c.NeedsFill() {
			toFill = append(toFill, c)
		}
	}
	if len(toFill) == 0 {
		return
	}
	out.Sources.Aggregator = true

	descs, err := s.Aggregator.ListAccounts(ctx)
	if err != nil {
		log.WithError(err).Warn("aggregator accounts unavailable, gaps left unfilled")
		out.Warnings = append(out.Warnings, fmt.Sprintf("gap filling skipped: %v", err))
		return
	}
	earliest := s.earliestDates(ctx, log)

	for _, c := range toFill {
		alog := log.WithField("account", c.Key.String())
		desc, ok := resolveDescriptor(c.Key, descs)
		if !ok {
			alog.Warn("no aggregator account matches, gaps left unfilled")
			out.Warnings = append(out.Warnings, fmt.Sprintf("no aggregator account for %s", c.Key))
			continue
		}

		gaps := c.Gaps
		if s.Cache != nil {
			if d, ok := earliest[desc.ID]; ok {
				s.Cache.SetEarliestDate(c.Key.String(), desc.ID, d)
			}
			gaps = s.Cache.PruneGaps(c.Key.String(), desc.ID, gaps)
		}

		fetched, authDead := s.fetchGaps(ctx, alog, c.Key, desc.ID, gaps, out)
		if authDead {
			// credential is dead for every remaining account too
			return
		}
		if len(fetched) == 0 {
			continue
		}

		result := s.reconcileFetched(ctx, alog, window, c, statements, fetched, out)
		builder.AttachMatches(c.Key, result.Matches)
		if err := builder.AddExternal(ctx, c.Key, result.UnmatchedExternal); err != nil {
			alog.WithError(err).Error("gap-fill transactions not recorded")
			out.Warnings = append(out.Warnings, err.Error())
		}
	}
}

// fetchGaps pulls one account's gap ranges. An empty result marks the
// range checked so it is never fetched again; a dead credential stops
// the account, a transient failure skips just the failing range.
func (s *SyncService) fetchGaps(ctx context.Context, alog *logrus.Entry, key ledger.AccountKey, accountID string, gaps []daterange.Range, out *ledger.Ledger) (fetched []ledger.Transaction, authDead bool) {
	for _, gap := range gaps {
		txs, err := s.Aggregator.GetTransactions(ctx, accountID, gap)
		if err != nil {
			if errors.Is(err, aggregator.ErrAuthExpired) {
				alog.WithError(err).Error("aggregator credential expired")
				out.Warnings = append(out.Warnings, fmt.Sprintf("gap filling stopped: %v", err))
				return fetched, true
			}
			alog.WithField("gap", gap.String()).WithError(err).Warn("gap fetch failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("gap %s for %s not filled: %v", gap, key, err))
			continue
		}
		if len(txs) == 0 {
			if s.Cache != nil {
				s.Cache.MarkChecked(key.String(), gap)
			}
			alog.WithField("gap", gap.String()).Debug("gap checked, no transactions")
			continue
		}
		for _, t := range txs {
			// pending transactions settle with different content, which
			// would change their derived id and duplicate them later
			if t.Pending {
				continue
			}
			fetched = append(fetched, convertAggregatorTransaction(key, accountID, t))
		}
	}
	return fetched, false
}

// reconcileFetched matches one account's fetched transactions against
// what this run already knows. Low-confidence pairings, a low overall
// match rate and significantly diverging stream totals all surface as
// ledger warnings.
func (s *SyncService) reconcileFetched(ctx context.Context, alog *logrus.Entry, window daterange.Range, c AccountCoverage, statements []ledger.Statement, fetched []ledger.Transaction, out *ledger.Ledger) reconcile.Result {
	canonical := s.knownTransactions(ctx, alog, window, c.Key, statements)
	result := reconcile.MatchStreams(canonical, fetched, s.matchConfig())
	summary := result.Summary()
	alog.WithFields(logrus.Fields{
		"matched":    summary.Matched,
		"new":        summary.UnmatchedExternal,
		"match_rate": fmt.Sprintf("%.2f", summary.MatchRate),
	}).Info("gap fill reconciled")

	for _, m := range result.Matches {
		if m.NeedsReview {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"%s: low-confidence match (%s, %.2f) between %q and %q",
				c.Key, m.Type, m.Confidence, m.Canonical.Description, m.External.Description))
		}
	}
	if len(canonical) > 0 {
		if summary.MatchRate < matchRateWarnFloor {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"%s: match rate %.2f between statements and aggregator (%d of %d matched)",
				c.Key, summary.MatchRate, summary.Matched, summary.Matched+summary.UnmatchedCanonical))
		}
		if diff := abs64Cents(summary.AmountDifferenceCents); diff > totalsWarnCents {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"%s: statement and aggregator totals differ by %s",
				c.Key, ledger.Cents(diff)))
		}
	}
	return result
}

func abs64Cents(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// knownTransactions is the canonical stream for matching: the store
// when one is configured, otherwise this run's parsed statements.
func (s *SyncService) knownTransactions(ctx context.Context, alog *logrus.Entry, window daterange.Range, key ledger.AccountKey, statements []ledger.Statement) []ledger.Transaction {
	if s.Store != nil {
		txs, err := s.Store.ListTransactions(ctx, key, window)
		if err != nil {
			alog.WithError(err).Warn("stored transactions unavailable for matching")
			return nil
		}
		return txs
	}
	var txs []ledger.Transaction
	for _, st := range statements {
		if st.Key == key {
			txs = append(txs, st.Transactions...)
		}
	}
	return txs
}

// earliestDates asks the aggregator how far back each account goes.
// Absence of an answer never blocks filling, it only forgoes pruning.
func (s *SyncService) earliestDates(ctx context.Context, log *logrus.Entry) map[string]time.Time {
	dates, err := s.Aggregator.EarliestTransactionDates(ctx)
	if err != nil {
		log.WithError(err).Warn("earliest transaction dates unavailable")
		return nil
	}
	return dates
}

func (s *SyncService) matchConfig() reconcile.Config {
	if s.Match == (reconcile.Config{}) {
		return reconcile.DefaultConfig()
	}
	return s.Match
}

// resolveDescriptor pairs an account key with an aggregator account.
// Masked numbers rarely agree byte for byte across sources, so the
// trailing digits plus the account type decide; the type alone breaks
// a tie only when unambiguous.
func resolveDescriptor(key ledger.AccountKey, descs []aggregator.AccountDescriptor) (aggregator.AccountDescriptor, bool) {
	digits := key.MaskDigits()
	var byType []aggregator.AccountDescriptor
	for _, d := range descs {
		dk := ledger.AccountKey{Institution: d.Institution, AccountType: d.AccountType, NumberMasked: d.NumberMasked}
		if digits != "" && dk.MaskDigits() == digits &&
			strings.EqualFold(d.AccountType, key.AccountType) {
			return d, true
		}
		if strings.EqualFold(d.AccountType, key.AccountType) {
			byType = append(byType, d)
		}
	}
	if len(byType) == 1 {
		return byType[0], true
	}
	return aggregator.AccountDescriptor{}, false
}

// convertAggregatorTransaction maps the aggregator shape onto the
// canonical one. The account id stands in for a statement id so the
// content hash stays stable across runs.
func convertAggregatorTransaction(key ledger.AccountKey, accountID string, t aggregator.Transaction) ledger.Transaction {
	direction := ledger.DirectionCredit
	if t.AmountCents < 0 {
		direction = ledger.DirectionDebit
	}
	return ledger.WithID(ledger.Transaction{
		AccountKey:  key,
		Date:        daterange.Day(t.Date),
		PostedDate:  t.Posted,
		AmountCents: t.AmountCents,
		Direction:   direction,
		Description: t.Description,
		Merchant:    t.Merchant,
		Provenance:  ledger.SourceAggregator,
	}, "agg:"+accountID)
}
