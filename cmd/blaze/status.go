package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/madhatter5501/blaze/internal/auth"
	"github.com/madhatter5501/blaze/internal/config"
	"github.com/madhatter5501/blaze/internal/db"
	"github.com/madhatter5501/blaze/kanban"
)

func statusCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show card counts per column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			state, closeStore, err := openState(cfg, nil, newLogger(cfg))
			if err != nil {
				return err
			}
			defer closeStore()

			stats := kanban.NewService(state).Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Board: %d cards (%d overdue)\n\n", stats.TotalCards, stats.OverdueCount)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tCARDS")
			for _, col := range kanban.Columns {
				fmt.Fprintf(w, "%s\t%d\n", col.Label(), stats.ByColumn[col])
			}
			return w.Flush()
		},
	}
}

func historyCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List saved board revisions (sqlite storage only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != config.BackendSQLite {
				return fmt.Errorf("history requires the %q storage backend", config.BackendSQLite)
			}

			database, err := db.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			revisions, err := db.NewStore(database, cfg.Storage.History).History()
			if err != nil {
				return err
			}
			if len(revisions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No revisions saved yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REVISION\tSAVED AT\tBYTES")
			for _, r := range revisions {
				fmt.Fprintf(w, "%d\t%s\t%d\n", r.Revision, r.SavedAt.Local().Format("2006-01-02 15:04:05"), len(r.Body))
			}
			return w.Flush()
		},
	}
}

func tokenCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the API token, generating one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// Keep stdout clean for scripts.
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			checker, err := auth.Resolve(auth.Options{Token: cfg.Auth.Token, File: cfg.TokenPath()}, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), checker.Token())
			return nil
		},
	}
}
