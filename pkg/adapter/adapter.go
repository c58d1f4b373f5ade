// Package adapter defines the unified storage contract shared by the embedded
// (SQLite) and server (PostgreSQL) backends.
//
// Application code depends only on the interfaces in this package. Concrete
// implementations live in pkg/adapter/sqlite and pkg/adapter/postgres, and
// pkg/storage selects one of them from configuration.
//
// # Placeholders
//
// SQL passed to Prepare uses a single canonical positional placeholder, "?".
// The server backend rewrites it to its numbered form before execution, so
// call sites never see the difference:
//
//	stmt := a.Prepare("SELECT id, email FROM users WHERE email = ?")
//	row, ok, err := stmt.Get(ctx, "reader@example.com")
//	if err != nil {
//	    return err
//	}
//	if !ok {
//	    // no such user
//	}
//
// # Suspension
//
// Every method that may wait on I/O takes a context.Context. Server backend
// calls honor cancellation and deadlines. Embedded backend calls refuse to
// start on a cancelled context but are never interrupted once running.
// Backends that never wait on the network additionally implement Syncer.
package adapter

import (
	"context"
)

// Kind identifies the backend behind an Adapter. It is exposed for logging
// and diagnostics only; call sites must not branch on it to build SQL.
type Kind string

const (
	// KindSQLite is the embedded, file-backed engine.
	KindSQLite Kind = "sqlite"
	// KindPostgres is the client/server engine accessed through a pool.
	KindPostgres Kind = "postgres"
)

// String returns the backend name.
func (k Kind) String() string {
	return string(k)
}

// Embedded reports whether the backend runs in-process.
func (k Kind) Embedded() bool {
	return k == KindSQLite
}

// Row is one result row keyed by column name. Values are normalized by
// NormalizeValue so both backends return the same Go types.
type Row map[string]any

// RunResult is the outcome of a mutating statement.
type RunResult struct {
	// RowsAffected is the number of rows changed by the statement.
	RowsAffected int64

	// InsertedID is the generated primary key of a single-row insert.
	// It is zero for every other statement.
	InsertedID int64
}

// Column describes one column of a table as reported by the engine.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Default is the column default expression, nil when none is declared.
	Default *string
}

// Statement is a SQL template bound to one Adapter (or one transaction).
// It holds no state between calls besides its SQL text and may be invoked
// repeatedly with different positional arguments.
type Statement interface {
	// SQL returns the canonical SQL text the statement was prepared with.
	SQL() string

	// Get returns the first matching row. The boolean is false when no row
	// matched; that case is never reported as an error.
	Get(ctx context.Context, args ...any) (Row, bool, error)

	// All returns every matching row in order. The slice is empty, not nil,
	// when nothing matched.
	All(ctx context.Context, args ...any) ([]Row, error)

	// Run executes a mutating statement.
	Run(ctx context.Context, args ...any) (RunResult, error)
}

// Querier is the statement-level surface shared by an Adapter and the
// transaction scope handed to InTx callbacks.
type Querier interface {
	// Kind reports the backend.
	Kind() Kind

	// Prepare binds a statement to sql. It never fails; errors in the SQL
	// surface when the statement is invoked.
	Prepare(sql string) Statement

	// Exec runs one or more statements with no parameters and no result.
	// It is meant for schema DDL.
	Exec(ctx context.Context, sql string) error

	// Columns describes the columns of table in declaration order. The
	// result is empty when the table does not exist.
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Adapter is a handle to one backend. One Adapter is constructed per process
// and shared by all callers until Close.
type Adapter interface {
	Querier

	// InTx runs fn inside a single engine transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(q Querier) error) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the native connection or pool. Every call made after
	// Close, including a second Close, returns ErrAdapterClosed.
	Close() error
}

// SyncStatement is a Statement whose calls complete on the calling goroutine
// without waiting on the network. Only embedded backends provide it.
type SyncStatement interface {
	SQL() string
	Get(args ...any) (Row, bool, error)
	All(args ...any) ([]Row, error)
	Run(args ...any) (RunResult, error)
}

// SyncQuerier is the context-free counterpart of Querier.
type SyncQuerier interface {
	Kind() Kind
	Prepare(sql string) SyncStatement
	Exec(sql string) error
	Columns(table string) ([]Column, error)
}

// Syncer is implemented by adapters whose operations never suspend.
// The server backend deliberately does not implement it.
type Syncer interface {
	Sync() SyncQuerier
}

// HasColumn reports whether cols contains a column named name.
func HasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Lookup returns the column named name.
func Lookup(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Unwrap strips decorators (such as instrumentation) that expose the
// adapter they wrap through an Unwrap() Adapter method.
func Unwrap(a Adapter) Adapter {
	for {
		w, ok := a.(interface{ Unwrap() Adapter })
		if !ok {
			return a
		}
		a = w.Unwrap()
	}
}
