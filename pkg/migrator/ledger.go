package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// LedgerTable records applied migrations. Only the runner writes to it.
const LedgerTable = "migrations"

// LedgerEntry is one row of the ledger.
type LedgerEntry struct {
	Name       string
	ExecutedAt time.Time
}

func ledgerDDL(kind adapter.Kind) string {
	if kind == adapter.KindPostgres {
		return `CREATE TABLE IF NOT EXISTS migrations (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    executed_at TIMESTAMPTZ NOT NULL
)`
	}
	return `CREATE TABLE IF NOT EXISTS migrations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    executed_at DATETIME NOT NULL
)`
}

const (
	selectLedger = "SELECT name, executed_at FROM migrations ORDER BY id"
	insertLedger = "INSERT INTO migrations (name, executed_at) VALUES (?, ?)"
)

func ensureLedger(ctx context.Context, a adapter.Adapter) error {
	if err := a.Exec(ctx, ledgerDDL(a.Kind())); err != nil {
		return fmt.Errorf("creating ledger table: %w", err)
	}
	return nil
}

// LedgerExists reports whether the ledger table has been created.
func LedgerExists(ctx context.Context, q adapter.Querier) (bool, error) {
	cols, err := q.Columns(ctx, LedgerTable)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

func readLedger(ctx context.Context, q adapter.Querier) ([]LedgerEntry, error) {
	rows, err := q.Prepare(selectLedger).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	entries := make([]LedgerEntry, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		entries = append(entries, LedgerEntry{Name: name, ExecutedAt: asTime(row["executed_at"])})
	}
	return entries, nil
}

func record(ctx context.Context, q adapter.Querier, name string, at time.Time) error {
	if _, err := q.Prepare(insertLedger).Run(ctx, name, at.UTC()); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// asTime accepts the native timestamp or its text form.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
