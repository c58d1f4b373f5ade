// Package sqlite implements the unified adapter on top of the embedded,
// file-backed SQLite engine (modernc.org/sqlite, no cgo).
//
// Every pooled connection is opened with write-ahead logging, a busy timeout
// and foreign key enforcement, so concurrent readers are not blocked by an
// in-flight writer and competing writers wait instead of failing. The engine
// serializes writers itself; the adapter adds no mutex of its own.
//
// Calls are synchronous. A call refuses to start when its context is already
// done, but once started it runs to completion.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/sqltranslate"
)

const (
	driverName         = "sqlite"
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
	defaultJournalMode = "WAL"
)

// Config holds the embedded engine settings.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database pinned to a single connection.
	Path string

	// BusyTimeout is how long a writer waits for a competing writer.
	BusyTimeout time.Duration

	// JournalMode defaults to WAL. It is verified after opening.
	JournalMode string

	// MaxOpenConns caps the connection pool. Zero leaves it unlimited.
	MaxOpenConns int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.JournalMode == "" {
		c.JournalMode = defaultJournalMode
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) inMemory() bool {
	p := strings.TrimSpace(c.Path)
	return p == "" || p == memoryPath
}

// ConnString builds the driver DSN for cfg with the standard pragmas.
// If cfg.Path is already a file: URI, pragmas are appended only if absent.
func ConnString(cfg Config) string {
	cfg = cfg.withDefaults()
	busyMs := int64(cfg.BusyTimeout / time.Millisecond)

	if cfg.inMemory() {
		return fmt.Sprintf("file::memory:?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", busyMs)
	}

	path := strings.TrimSpace(cfg.Path)
	conn := path
	if !strings.HasPrefix(conn, "file:") {
		conn = "file:" + conn
	}
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	add := func(key, param string) {
		if strings.Contains(conn, key) {
			return
		}
		conn += sep + param
		sep = "&"
	}
	add("_pragma=journal_mode", fmt.Sprintf("_pragma=journal_mode(%s)", cfg.JournalMode))
	add("_pragma=busy_timeout", fmt.Sprintf("_pragma=busy_timeout(%d)", busyMs))
	add("_pragma=foreign_keys", "_pragma=foreign_keys(ON)")
	add("_time_format=", "_time_format=sqlite")
	return conn
}

// Adapter is the embedded engine implementation of adapter.Adapter.
type Adapter struct {
	db     *sql.DB
	cfg    Config
	closed atomic.Bool
	keys   adapter.KeyCache
	logger *slog.Logger
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Syncer  = (*Adapter)(nil)
)

// New opens the database file, applies the pragmas and verifies the journal
// mode. Any failure is returned as *adapter.ConnectionError.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()

	if !cfg.inMemory() && !strings.HasPrefix(cfg.Path, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, connErr(fmt.Errorf("creating database directory: %w", err))
		}
	}

	db, err := sql.Open(driverName, ConnString(cfg))
	if err != nil {
		return nil, connErr(fmt.Errorf("opening database: %w", err))
	}

	if cfg.inMemory() {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connErr(fmt.Errorf("pinging database: %w", err))
	}

	a := &Adapter{db: db, cfg: cfg, logger: cfg.Logger}

	if !cfg.inMemory() {
		mode, err := a.JournalMode(ctx)
		if err != nil {
			_ = db.Close()
			return nil, connErr(fmt.Errorf("reading journal mode: %w", err))
		}
		if !strings.EqualFold(mode, cfg.JournalMode) {
			_ = db.Close()
			return nil, connErr(fmt.Errorf("journal mode is %q, want %q", mode, cfg.JournalMode))
		}
	}

	a.logger.Debug("adapter opened", "kind", adapter.KindSQLite, "path", cfg.Path)
	return a, nil
}

func connErr(err error) error {
	return &adapter.ConnectionError{Kind: adapter.KindSQLite, Err: err}
}

// Kind returns adapter.KindSQLite.
func (a *Adapter) Kind() adapter.Kind {
	return adapter.KindSQLite
}

// Path returns the configured database path.
func (a *Adapter) Path() string {
	return a.cfg.Path
}

// DB exposes the underlying handle for tests and diagnostics.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

func (a *Adapter) root() *querier {
	return &querier{a: a, ex: a.db}
}

// Prepare binds a statement to query.
func (a *Adapter) Prepare(query string) adapter.Statement {
	return a.root().Prepare(query)
}

// Exec runs DDL or other parameterless statements.
func (a *Adapter) Exec(ctx context.Context, query string) error {
	return a.root().Exec(ctx, query)
}

// Columns describes the columns of table.
func (a *Adapter) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	return a.root().Columns(ctx, table)
}

// InTx runs fn inside one transaction.
func (a *Adapter) InTx(ctx context.Context, fn func(q adapter.Querier) error) (err error) {
	if err := a.guard(ctx); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return statementError(err, "BEGIN")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&querier{a: a, ex: tx}); err != nil {
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		err = statementError(cerr, "COMMIT")
		return err
	}
	return nil
}

// Ping checks the database handle.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.guard(ctx); err != nil {
		return err
	}
	if err := a.db.PingContext(ctx); err != nil {
		return statementError(err, "")
	}
	return nil
}

// JournalMode returns the active journal mode of a pooled connection.
func (a *Adapter) JournalMode(ctx context.Context) (string, error) {
	if a.closed.Load() {
		return "", adapter.ErrAdapterClosed
	}
	var mode string
	if err := a.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", err
	}
	return mode, nil
}

// Close closes the database handle.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return adapter.ErrAdapterClosed
	}
	a.logger.Debug("adapter closed", "kind", adapter.KindSQLite, "path", a.cfg.Path)
	return a.db.Close()
}

// guard rejects calls on a closed adapter or with a context that is
// already done.
func (a *Adapter) guard(ctx context.Context) error {
	if a.closed.Load() {
		return adapter.ErrAdapterClosed
	}
	if err := ctx.Err(); err != nil {
		return adapter.NewStatementError(adapter.KindSQLite, adapter.ClassTimeout, "", err.Error(), "", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// querier runs statements on the pool or inside one transaction.
type querier struct {
	a  *Adapter
	ex execer
}

func (q *querier) Kind() adapter.Kind {
	return adapter.KindSQLite
}

func (q *querier) Prepare(query string) adapter.Statement {
	return &statement{q: q, sql: query}
}

func (q *querier) Exec(ctx context.Context, query string) error {
	if err := q.a.guard(ctx); err != nil {
		return err
	}
	defer q.a.keys.Reset()
	if _, err := q.ex.ExecContext(context.WithoutCancel(ctx), query); err != nil {
		return statementError(err, query)
	}
	return nil
}

// native adds the generated key clause to inserts.
func (q *querier) native(ctx context.Context, query string) (string, error) {
	table := sqltranslate.InsertTarget(query)
	if table == "" || sqltranslate.HasReturning(query) {
		return query, nil
	}
	key, err := q.a.keys.Resolve(table, func() (string, error) {
		return q.primaryKey(ctx, table)
	})
	if err != nil {
		return "", err
	}
	return sqltranslate.ForDialect(query, sqltranslate.DialectSQLite, key), nil
}

func (q *querier) primaryKey(ctx context.Context, table string) (string, error) {
	query := sqltranslate.PrimaryKeyQuery(sqltranslate.DialectSQLite)
	rows, err := q.ex.QueryContext(ctx, query, table)
	if err != nil {
		return "", statementError(err, query)
	}
	defer func() { _ = rows.Close() }()

	var names, types []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return "", statementError(err, query)
		}
		names = append(names, name)
		types = append(types, typ)
	}
	if err := rows.Err(); err != nil {
		return "", statementError(err, query)
	}
	return sqltranslate.IntegerKey(names, types), nil
}

func (q *querier) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	if err := q.a.guard(ctx); err != nil {
		return nil, err
	}
	query := sqltranslate.ColumnsQuery(sqltranslate.DialectSQLite)
	rows, err := q.ex.QueryContext(context.WithoutCancel(ctx), query, table)
	if err != nil {
		return nil, statementError(err, query)
	}
	defer func() { _ = rows.Close() }()

	cols := make([]adapter.Column, 0, 8)
	for rows.Next() {
		var (
			c    adapter.Column
			dflt sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &dflt); err != nil {
			return nil, statementError(err, query)
		}
		if dflt.Valid {
			v := dflt.String
			c.Default = &v
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(err, query)
	}
	return cols, nil
}

// scanRows reads up to limit rows (all rows when limit <= 0) and closes rows.
func scanRows(rows *sql.Rows, limit int) ([]adapter.Row, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]adapter.Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(adapter.Row, len(cols))
		for i, name := range cols {
			row[name] = adapter.NormalizeValue(vals[i])
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
