package migrator

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// AddColumnIfMissing adds column to table unless it already exists.
// definition is the column type and constraints, e.g. "INTEGER DEFAULT 0".
// It reports whether the column was added.
func AddColumnIfMissing(ctx context.Context, q adapter.Querier, table, column, definition string) (bool, error) {
	cols, err := q.Columns(ctx, table)
	if err != nil {
		return false, fmt.Errorf("inspecting %s: %w", table, err)
	}
	if len(cols) == 0 {
		return false, fmt.Errorf("table %s does not exist", table)
	}
	if adapter.HasColumn(cols, column) {
		return false, nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), definition)
	if err := q.Exec(ctx, stmt); err != nil {
		return false, fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return true, nil
}

// Statements builds a migration that executes each statement in order.
// The statements must be valid on every backend and idempotent, for
// example CREATE INDEX IF NOT EXISTS.
func Statements(name string, stmts ...string) Migration {
	return Migration{
		Name: name,
		Apply: func(ctx context.Context, q adapter.Querier) error {
			for i, stmt := range stmts {
				if err := q.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i+1, err)
				}
			}
			return nil
		},
	}
}
