// Package postgres implements the unified adapter on top of a PostgreSQL
// server reached through a pgx connection pool.
//
// Every call may suspend on the network and honors its context. Calls made
// with a context that carries no deadline are bounded by
// Config.StatementTimeout.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/sqltranslate"
)

const (
	defaultMaxConns         = 10
	defaultIdleTimeout      = 30 * time.Second
	defaultConnectTimeout   = 2 * time.Second
	defaultStatementTimeout = 30 * time.Second
)

// Config holds the pool settings.
type Config struct {
	// URL is a postgres:// connection string or a key=value DSN.
	URL string

	MaxConns         int32
	MinConns         int32
	IdleTimeout      time.Duration
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = defaultStatementTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Adapter is the server engine implementation of adapter.Adapter.
type Adapter struct {
	pool   *pgxpool.Pool
	cfg    Config
	closed atomic.Bool
	keys   adapter.KeyCache
	logger *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the pool and proves liveness by acquiring and releasing one
// connection. Any failure is returned as *adapter.ConnectionError.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, connErr(fmt.Errorf("parsing connection string: %w", err))
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnIdleTime = cfg.IdleTimeout
	pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, connErr(fmt.Errorf("creating pool: %w", err))
	}

	actx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	conn, err := pool.Acquire(actx)
	if err != nil {
		pool.Close()
		return nil, connErr(fmt.Errorf("acquiring connection: %w", err))
	}
	conn.Release()

	cfg.Logger.Debug("adapter opened",
		"kind", adapter.KindPostgres,
		"host", pcfg.ConnConfig.Host,
		"database", pcfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return &Adapter{pool: pool, cfg: cfg, logger: cfg.Logger}, nil
}

func connErr(err error) error {
	return &adapter.ConnectionError{Kind: adapter.KindPostgres, Err: err}
}

// Kind returns adapter.KindPostgres.
func (a *Adapter) Kind() adapter.Kind {
	return adapter.KindPostgres
}

// Pool exposes the underlying pool for tests and diagnostics.
func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

// Stat returns pool statistics.
func (a *Adapter) Stat() *pgxpool.Stat {
	return a.pool.Stat()
}

func (a *Adapter) root() *querier {
	return &querier{a: a, ex: a.pool}
}

// Prepare binds a statement to query.
func (a *Adapter) Prepare(query string) adapter.Statement {
	return a.root().Prepare(query)
}

// Exec runs DDL or other parameterless statements.
func (a *Adapter) Exec(ctx context.Context, query string) error {
	return a.root().Exec(ctx, query)
}

// Columns describes the columns of table in the current schema.
func (a *Adapter) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	return a.root().Columns(ctx, table)
}

// InTx runs fn inside one transaction on a single pooled connection.
func (a *Adapter) InTx(ctx context.Context, fn func(q adapter.Querier) error) (err error) {
	if err := a.guard(ctx); err != nil {
		return err
	}
	ctx, cancel := a.bound(ctx)
	defer cancel()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return statementError(err, "BEGIN")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&querier{a: a, ex: tx}); err != nil {
		return err
	}
	if cerr := tx.Commit(ctx); cerr != nil {
		err = statementError(cerr, "COMMIT")
		return err
	}
	return nil
}

// Ping checks that a pooled connection can reach the server.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.guard(ctx); err != nil {
		return err
	}
	ctx, cancel := a.bound(ctx)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		return statementError(err, "")
	}
	return nil
}

// Close closes the pool, waiting for acquired connections to be released.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return adapter.ErrAdapterClosed
	}
	a.pool.Close()
	a.logger.Debug("adapter closed", "kind", adapter.KindPostgres)
	return nil
}

func (a *Adapter) guard(ctx context.Context) error {
	if a.closed.Load() {
		return adapter.ErrAdapterClosed
	}
	if err := ctx.Err(); err != nil {
		return adapter.NewStatementError(adapter.KindPostgres, adapter.ClassTimeout, "", err.Error(), "", err)
	}
	return nil
}

// bound applies the statement timeout to contexts without a deadline.
func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cfg.StatementTimeout)
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type querier struct {
	a  *Adapter
	ex execer
}

func (q *querier) Kind() adapter.Kind {
	return adapter.KindPostgres
}

func (q *querier) Prepare(query string) adapter.Statement {
	return &statement{
		q:      q,
		sql:    query,
		native: sqltranslate.ForDialect(query, sqltranslate.DialectPostgres, ""),
	}
}

func (q *querier) Exec(ctx context.Context, query string) error {
	if err := q.a.guard(ctx); err != nil {
		return err
	}
	ctx, cancel := q.a.bound(ctx)
	defer cancel()
	defer q.a.keys.Reset()

	// With no arguments pgx uses the simple protocol, which accepts
	// several statements separated by semicolons.
	if _, err := q.ex.Exec(ctx, query); err != nil {
		return statementError(err, query)
	}
	return nil
}

// returning adds the generated key clause to an already rebound insert.
func (q *querier) returning(ctx context.Context, canonical, native string) (string, error) {
	table := sqltranslate.InsertTarget(canonical)
	if table == "" || sqltranslate.HasReturning(native) {
		return native, nil
	}
	key, err := q.a.keys.Resolve(table, func() (string, error) {
		return q.primaryKey(ctx, table)
	})
	if err != nil {
		return "", err
	}
	if key == "" {
		return native, nil
	}
	return sqltranslate.EnsureReturning(native, key), nil
}

func (q *querier) primaryKey(ctx context.Context, table string) (string, error) {
	query := sqltranslate.PrimaryKeyQuery(sqltranslate.DialectPostgres)
	rows, err := q.ex.Query(ctx, query, table)
	if err != nil {
		return "", statementError(err, query)
	}
	type keyColumn struct{ name, typ string }
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (keyColumn, error) {
		var c keyColumn
		err := row.Scan(&c.name, &c.typ)
		return c, err
	})
	if err != nil {
		return "", statementError(err, query)
	}
	names := make([]string, 0, len(cols))
	types := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.name)
		types = append(types, c.typ)
	}
	return sqltranslate.IntegerKey(names, types), nil
}

func (q *querier) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	if err := q.a.guard(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := q.a.bound(ctx)
	defer cancel()

	query := sqltranslate.ColumnsQuery(sqltranslate.DialectPostgres)
	rows, err := q.ex.Query(ctx, query, table)
	if err != nil {
		return nil, statementError(err, query)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (adapter.Column, error) {
		var c adapter.Column
		err := row.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default)
		return c, err
	})
	if err != nil {
		return nil, statementError(err, query)
	}
	return cols, nil
}
