package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/database"
	"github.com/nerrad567/ja2mqtt/migrations"
)

var errDatabaseDisabled = errors.New("the journal database is disabled (database.enabled: false)")

func newDBCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or roll back the journal database schema",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newDBStatusCommand(opts))
	cmd.AddCommand(newDBRollbackCommand(opts))
	return cmd
}

func newDBStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied and pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only use

			applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.Source)
			if err != nil {
				return err
			}
			printMigrations(cmd.OutOrStdout(), opts, db.Path(), applied, pending)
			return nil
		},
	}
}

func newDBRollbackCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent schema migration",
		Long: "Roll back the most recent schema migration. The bridge applies pending\n" +
			"migrations again on the next start; stop it before rolling back.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // the rollback is committed

			applied, _, err := db.MigrationStatus(cmd.Context(), migrations.Source)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "nothing to roll back")
				return nil
			}

			if err := db.MigrateDown(cmd.Context(), migrations.Source); err != nil {
				return fmt.Errorf("rolling back %s: %w", applied[len(applied)-1].Version, err)
			}
			fmt.Fprintf(out, "rolled back %s\n", applied[len(applied)-1].Version)
			return nil
		},
	}
}

// openDatabase opens the journal database configured in cfg.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, errDatabaseDisabled
	}
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func printMigrations(out io.Writer, opts *rootOptions, path string, applied []database.MigrationRecord, pending []database.Migration) {
	fmt.Fprintln(out, opts.paint(ansiBold, "database: ")+path)
	for _, m := range applied {
		fmt.Fprintf(out, "  %s  %s  %s\n", opts.paint(ansiGreen, "applied"), m.Version,
			m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "  %s  %s  %s\n", opts.paint(ansiYellow, "pending"), m.Version, m.Name)
	}
	if len(applied) == 0 && len(pending) == 0 {
		fmt.Fprintln(out, "  no migrations")
	}
}
