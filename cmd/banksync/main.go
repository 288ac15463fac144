package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jask/banksync/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "banksync",
		Short:         "Reconcile bank statements against aggregated account data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(syncCmd())
	root.AddCommand(accountsCmd())
	return root
}

func newLogger(cfg config.Config) *logrus.Entry {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return logrus.NewEntry(l)
}
