package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/banksync/internal/config"
	"github.com/jask/banksync/internal/database"
	"github.com/jask/banksync/internal/database/repository"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts known to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.Database.Path == "" {
				return fmt.Errorf("no database configured")
			}
			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			if err := database.RunMigrationsWithDB(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			keys, err := repository.NewAccountRepo(db).List(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k.String())
			}
			return nil
		},
	}
}
