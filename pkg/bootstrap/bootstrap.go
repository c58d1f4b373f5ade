// Package bootstrap creates the initial schema on a fresh database.
//
// The server engine gets the bundled script exactly once: if the marker
// table already exists the database is assumed to be initialized and
// nothing runs. Both scripts use IF NOT EXISTS throughout; the embedded
// one runs on every start.
// Schema changes after the initial creation belong in migrations.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm/shelfdb/pkg/adapter"
	shelfsql "github.com/pthm/shelfdb/sql"
)

// DefaultMarker is the table whose presence means the schema exists.
const DefaultMarker = "users"

// Options configures Run.
type Options struct {
	// Marker overrides DefaultMarker.
	Marker string

	// PostgresScript and SQLiteScript override the bundled scripts.
	PostgresScript string
	SQLiteScript   string

	Logger *slog.Logger
}

// Result reports what Run did.
type Result struct {
	Kind        adapter.Kind
	Marker      string
	MarkerFound bool // marker table existed before Run
	Applied     bool // a script was executed
}

// Run brings a database to the bundled schema.
func Run(ctx context.Context, a adapter.Adapter, opts Options) (Result, error) {
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.PostgresScript == "" {
		opts.PostgresScript = shelfsql.PostgresSchema
	}
	if opts.SQLiteScript == "" {
		opts.SQLiteScript = shelfsql.SQLiteSchema
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{Kind: a.Kind(), Marker: opts.Marker}

	found, err := MarkerExists(ctx, a, opts.Marker)
	if err != nil {
		return res, fmt.Errorf("checking marker table %q: %w", opts.Marker, err)
	}
	res.MarkerFound = found

	script := opts.SQLiteScript
	if !a.Kind().Embedded() {
		if found {
			logger.Info("schema present, skipping bootstrap", "kind", res.Kind, "marker", res.Marker, "applied", false)
			return res, nil
		}
		script = opts.PostgresScript
	}

	if err := a.Exec(ctx, script); err != nil {
		return res, fmt.Errorf("applying %s schema: %w", res.Kind, err)
	}
	res.Applied = true

	logger.Info("schema bootstrapped", "kind", res.Kind, "marker", res.Marker, "marker_found", found, "applied", true)
	return res, nil
}

// MarkerExists reports whether table exists, using column introspection.
func MarkerExists(ctx context.Context, q adapter.Querier, table string) (bool, error) {
	cols, err := q.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}
