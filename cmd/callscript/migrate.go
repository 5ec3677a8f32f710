package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"callscript/internal/store"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply every pending *.up.sql file from CALLSCRIPT_MIGRATIONS_DIR.

With --status nothing is applied; each migration is listed with the time it ran.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		if migrateStatus {
			states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tAPPLIED")
			for _, state := range states {
				applied := "pending"
				if state.AppliedAt != nil {
					applied = state.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\n", state.Version, applied)
			}
			return w.Flush()
		}

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "database is up to date")
			return nil
		}
		for _, version := range applied {
			fmt.Fprintf(out, "applied %s\n", version)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations without applying them")
}
