package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/cli"
	"github.com/pthm/shelfdb/internal/telemetry"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/migrations"
	"github.com/pthm/shelfdb/pkg/migrator"
	"github.com/pthm/shelfdb/pkg/storage"
)

var (
	migrateDryRun   bool
	migrateFailFast bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap the schema and apply pending migrations",
	Long: `Bootstrap the bundled schema and apply every migration not yet recorded
in the migrations table. This is the same sequence the service runs at startup.

A failing migration is logged and the remaining migrations are still
attempted; use --fail-fast to stop at the first failure.`,
	Example: `  # Apply pending migrations
  shelfdb migrate

  # List pending migrations without applying them
  shelfdb migrate --dry-run

  # Stop at the first failing migration
  shelfdb migrate --fail-fast`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)
		failFast := resolveBool(migrateFailFast, cfg.Migrate.FailFast)

		if dryRun {
			return runMigrateDryRun(cmd)
		}
		return runMigrate(cmd, failFast)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.BoolVar(&migrateDryRun, "dry-run", false, "list pending migrations without applying")
	f.BoolVar(&migrateFailFast, "fail-fast", false, "stop at the first failing migration")
}

func runMigrate(cmd *cobra.Command, failFast bool) error {
	sc, err := storageConfig()
	if err != nil {
		return err
	}

	a, report, err := storage.Start(cmd.Context(), sc, storage.StartOptions{
		Migrations: migrations.All(),
		Migrate:    migrator.Options{FailFast: failFast},
		Wrap:       telemetry.WrapAdapter,
	})
	if a != nil {
		defer func() { _ = a.Close() }()
	}
	if report != nil && !quiet {
		printReport(report)
	}
	if err != nil {
		switch {
		case adapter.IsConnectionErr(err), errors.Is(err, storage.ErrUnknownBackend):
			return cli.OpenError(err)
		case report == nil:
			return cli.GeneralError("starting storage", err)
		default:
			return cli.MigrationError("migration failed", err)
		}
	}
	if failed := report.Failed(); len(failed) > 0 {
		return cli.MigrationError(fmt.Sprintf("%d migrations failed: %s", len(failed), strings.Join(failed, ", ")), nil)
	}
	return nil
}

func runMigrateDryRun(cmd *cobra.Command) error {
	a, err := openAdapter(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !quiet {
		fmt.Fprintln(os.Stderr, "-- Dry-run mode: migrations will be listed but not applied")
		fmt.Fprintln(os.Stderr, "")
	}

	_, err = migrator.New(a, migrations.All(), migrator.Options{
		DryRun: os.Stdout,
		Logger: logger,
	}).Run(cmd.Context())
	if err != nil {
		return cli.MigrationError("planning migrations", err)
	}
	return nil
}

func printReport(r *migrator.Report) {
	for _, name := range r.Skipped {
		fmt.Printf("  = %s (already applied)\n", name)
	}
	for _, o := range r.Outcomes {
		switch o.State {
		case migrator.Recorded:
			fmt.Printf("  + %s (%s)\n", o.Name, o.Duration.Round(time.Microsecond))
		case migrator.Failed:
			fmt.Printf("  ✗ %s: %v\n", o.Name, o.Err)
		}
	}
	fmt.Printf("\n%d applied, %d failed, %d already applied\n",
		len(r.Applied()), len(r.Failed()), len(r.Skipped))
}
