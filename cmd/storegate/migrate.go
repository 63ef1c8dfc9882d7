package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/storegate/internal/config"
	"github.com/giantswarm/storegate/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending sqlite schema migrations",
		Long: `Applies the embedded schema migrations to the sqlite database and
prints the resulting version. serve runs the same migrations on startup;
this command is for running them ahead of a deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if cfg.Storage.Driver != config.DriverSQLite {
					return fmt.Errorf("storage driver is %q, migrations only apply to sqlite", cfg.Storage.Driver)
				}
				dbPath = cfg.Storage.SQLite.Path
			}
			return migrateSQLite(cmd, dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides the configuration)")
	return cmd
}

func migrateSQLite(cmd *cobra.Command, path string) error {
	db, err := sqlite.NewDB(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := sqlite.RunMigrations(db.Writer); err != nil {
		return err
	}
	version, dirty, ok, err := sqlite.MigrationVersion(db.Writer)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
