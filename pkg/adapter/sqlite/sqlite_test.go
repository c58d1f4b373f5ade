package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/shelfdb/internal/testutil"
	"github.com/pthm/shelfdb/pkg/adapter"
)

func openTemp(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "data", "shelf.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Exec(context.Background(), `
		CREATE TABLE books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL UNIQUE,
			pages INTEGER,
			rating REAL DEFAULT 0
		)`))
	return a
}

func TestConnString(t *testing.T) {
	t.Run("file path gets pragmas", func(t *testing.T) {
		dsn := ConnString(Config{Path: "/tmp/shelf.db"})
		assert.True(t, strings.HasPrefix(dsn, "file:/tmp/shelf.db?"))
		assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
		assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")
		assert.Contains(t, dsn, "_pragma=foreign_keys(ON)")
		assert.Contains(t, dsn, "_time_format=sqlite")
	})

	t.Run("existing pragmas are kept", func(t *testing.T) {
		dsn := ConnString(Config{Path: "file:/tmp/shelf.db?_pragma=busy_timeout(100)"})
		assert.Equal(t, 1, strings.Count(dsn, "busy_timeout"))
		assert.Contains(t, dsn, "busy_timeout(100)")
	})

	t.Run("memory", func(t *testing.T) {
		dsn := ConnString(Config{Path: ":memory:"})
		assert.True(t, strings.HasPrefix(dsn, "file::memory:?"))
		assert.NotContains(t, dsn, "journal_mode")
	})
}

func TestNew_WALMode(t *testing.T) {
	a := openTemp(t)

	mode, err := a.JournalMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wal", strings.ToLower(mode))
	assert.Equal(t, adapter.KindSQLite, a.Kind())
}

func TestNew_UnreachablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := New(context.Background(), Config{Path: filepath.Join(blocker, "shelf.db")})
	require.Error(t, err)
	assert.True(t, adapter.IsConnectionErr(err))
}

func TestStatement_RunGetAll(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)

	insert := a.Prepare("INSERT INTO books (title, pages) VALUES (?, ?)")
	res, err := insert.Run(ctx, "Dune", 412)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(1), res.InsertedID)

	res, err = insert.Run(ctx, "Emma", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.InsertedID)

	row, ok, err := a.Prepare("SELECT id, title, pages, rating FROM books WHERE title = ?").Get(ctx, "Dune")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, "Dune", row["title"])
	assert.Equal(t, int64(412), row["pages"])
	assert.Equal(t, float64(0), row["rating"])

	rows, err := a.Prepare("SELECT title, pages FROM books ORDER BY id").All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1]["pages"])

	upd, err := a.Prepare("UPDATE books SET rating = ?").Run(ctx, 4.5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), upd.RowsAffected)
	assert.Zero(t, upd.InsertedID)
}

func TestStatement_AbsentAndEmpty(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)

	row, ok, err := a.Prepare("SELECT * FROM books WHERE id = ?").Get(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, row)

	rows, err := a.Prepare("SELECT * FROM books").All(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestStatement_Errors(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)

	_, err := a.Prepare("SELEC nonsense").All(ctx)
	require.Error(t, err)
	var se *adapter.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, adapter.ClassSyntax, se.Class)
	assert.Equal(t, adapter.KindSQLite, se.Kind)

	insert := a.Prepare("INSERT INTO books (title) VALUES (?)")
	_, err = insert.Run(ctx, "Dune")
	require.NoError(t, err)
	_, err = insert.Run(ctx, "Dune")
	require.Error(t, err)
	assert.True(t, adapter.IsConstraintErr(err))
}

func TestCancelledContext(t *testing.T) {
	a := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Prepare("SELECT 1").All(ctx)
	require.Error(t, err)
	assert.True(t, adapter.IsTimeoutErr(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColumns(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)

	cols, err := a.Columns(ctx, "books")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, adapter.HasColumn(cols, "rating"))

	title, ok := adapter.Lookup(cols, "title")
	require.True(t, ok)
	assert.False(t, title.Nullable)

	rating, ok := adapter.Lookup(cols, "rating")
	require.True(t, ok)
	require.NotNil(t, rating.Default)
	assert.Equal(t, "0", *rating.Default)

	missing, err := a.Columns(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)

	err := a.InTx(ctx, func(q adapter.Querier) error {
		_, err := q.Prepare("INSERT INTO books (title) VALUES (?)").Run(ctx, "Kept")
		return err
	})
	require.NoError(t, err)

	err = a.InTx(ctx, func(q adapter.Querier) error {
		if _, err := q.Prepare("INSERT INTO books (title) VALUES (?)").Run(ctx, "Dropped"); err != nil {
			return err
		}
		_, err := q.Prepare("INSERT INTO books (title) VALUES (?)").Run(ctx, "Kept")
		return err
	})
	require.Error(t, err)
	assert.True(t, adapter.IsConstraintErr(err))

	rows, err := a.Prepare("SELECT title FROM books").All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kept", rows[0]["title"])
}

func TestSync(t *testing.T) {
	a := openTemp(t)
	s := a.Sync()

	res, err := s.Prepare("INSERT INTO books (title) VALUES (?)").Run("Dune")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.InsertedID)

	row, ok, err := s.Prepare("SELECT title FROM books WHERE id = ?").Get(res.InsertedID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dune", row["title"])

	cols, err := s.Columns("books")
	require.NoError(t, err)
	assert.Len(t, cols, 4)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)

	stmt := a.Prepare("SELECT 1")
	require.NoError(t, a.Close())

	_, err = stmt.All(ctx)
	assert.ErrorIs(t, err, adapter.ErrAdapterClosed)
	assert.ErrorIs(t, a.Ping(ctx), adapter.ErrAdapterClosed)
	assert.ErrorIs(t, a.Close(), adapter.ErrAdapterClosed)
}

func TestContract(t *testing.T) {
	testutil.RunContract(t, func(t *testing.T) adapter.Adapter {
		a, err := New(context.Background(), Config{Path: testutil.SQLitePath(t)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}
