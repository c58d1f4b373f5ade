// Package storage selects and starts the configured backend.
//
// A process calls Start once at startup: it constructs exactly one adapter,
// bootstraps the schema, applies pending migrations and hands the adapter
// back for injection into the rest of the application. The caller owns the
// adapter and must Close it on shutdown.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/postgres"
	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
	"github.com/pthm/shelfdb/pkg/bootstrap"
	"github.com/pthm/shelfdb/pkg/migrator"
)

// ErrUnknownBackend is returned for a backend name other than sqlite or postgres.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Config selects a backend and carries its settings. Only the settings of
// the selected backend are used.
type Config struct {
	Backend  adapter.Kind
	SQLite   sqlite.Config
	Postgres postgres.Config
	Logger   *slog.Logger
}

// ParseBackend maps a configuration value to a Kind.
func ParseBackend(s string) (adapter.Kind, error) {
	switch adapter.Kind(s) {
	case adapter.KindSQLite, "":
		return adapter.KindSQLite, nil
	case adapter.KindPostgres:
		return adapter.KindPostgres, nil
	}
	switch s {
	case "postgresql", "pg":
		return adapter.KindPostgres, nil
	case "sqlite3":
		return adapter.KindSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Open constructs the adapter for cfg.Backend. Connection failures are
// returned as *adapter.ConnectionError and must abort startup.
func Open(ctx context.Context, cfg Config) (adapter.Adapter, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case adapter.KindSQLite:
		sc := cfg.SQLite
		if sc.Logger == nil {
			sc.Logger = logger
		}
		a, err := sqlite.New(ctx, sc)
		if err != nil {
			return nil, err
		}
		return a, nil
	case adapter.KindPostgres:
		pc := cfg.Postgres
		if pc.Logger == nil {
			pc.Logger = logger
		}
		a, err := postgres.New(ctx, pc)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// StartOptions controls Start.
type StartOptions struct {
	Migrations []migrator.Migration
	Bootstrap  bootstrap.Options
	Migrate    migrator.Options

	// Wrap decorates the opened adapter, e.g. with instrumentation.
	Wrap func(adapter.Adapter) adapter.Adapter
}

// Start opens the adapter, bootstraps the schema and runs migrations.
//
// Migration failures are logged and reported but do not fail Start unless
// opts.Migrate.FailFast is set; in that case the adapter is closed and the
// error returned. Connection and bootstrap failures always fail Start.
func Start(ctx context.Context, cfg Config, opts StartOptions) (adapter.Adapter, *migrator.Report, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a, err := Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if opts.Wrap != nil {
		a = opts.Wrap(a)
	}

	if opts.Bootstrap.Logger == nil {
		opts.Bootstrap.Logger = logger
	}
	if _, err := bootstrap.Run(ctx, a, opts.Bootstrap); err != nil {
		_ = a.Close()
		return nil, nil, fmt.Errorf("bootstrapping schema: %w", err)
	}

	if opts.Migrate.Logger == nil {
		opts.Migrate.Logger = logger
	}
	report, err := migrator.New(a, opts.Migrations, opts.Migrate).Run(ctx)
	if err != nil {
		if report == nil || opts.Migrate.FailFast {
			_ = a.Close()
			return nil, report, fmt.Errorf("running migrations: %w", err)
		}
		logger.Warn("continuing with failed migrations", "kind", a.Kind(), "failed", report.Failed())
	}

	return a, report, nil
}
