package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// Opener returns a ready adapter over an empty database. The adapter is
// closed by the suite or by the opener's own cleanup.
type Opener func(t *testing.T) adapter.Adapter

// itemsDDL is the only backend-specific SQL in the suite.
func itemsDDL(kind adapter.Kind) string {
	if kind == adapter.KindPostgres {
		return `CREATE TABLE items (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			qty BIGINT,
			price DOUBLE PRECISION DEFAULT 0
		)`
	}
	return `CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		qty INTEGER,
		price REAL DEFAULT 0
	)`
}

// stockDDL has a generated key and a unique pair, the shape callers upsert into.
func stockDDL(kind adapter.Kind) string {
	key := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if kind == adapter.KindPostgres {
		key = "id BIGSERIAL PRIMARY KEY"
	}
	return `CREATE TABLE stock (
		` + key + `,
		shelf TEXT NOT NULL,
		item TEXT NOT NULL,
		qty BIGINT NOT NULL,
		UNIQUE (shelf, item)
	)`
}

func setupItems(t *testing.T, open Opener) adapter.Adapter {
	t.Helper()
	a := open(t)
	require.NoError(t, a.Exec(context.Background(), itemsDDL(a.Kind())))
	return a
}

// RunContract checks the behavior every adapter must share. The same
// canonical SQL is used for both backends.
func RunContract(t *testing.T, open Opener) {
	t.Run("InsertReturnsGeneratedID", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		insert := a.Prepare("INSERT INTO items (name, qty) VALUES (?, ?)")
		first, err := insert.Run(ctx, "pen", 3)
		require.NoError(t, err)
		second, err := insert.Run(ctx, "ink", 1)
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.RowsAffected)
		assert.Equal(t, int64(1), first.InsertedID)
		assert.Equal(t, int64(2), second.InsertedID)

		row, ok, err := a.Prepare("SELECT name FROM items WHERE id = ?").Get(ctx, second.InsertedID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ink", row["name"])
	})

	t.Run("UpsertReturnsTouchedRow", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)
		require.NoError(t, a.Exec(ctx, stockDDL(a.Kind())))

		upsert := a.Prepare(`INSERT INTO stock (shelf, item, qty) VALUES (?, ?, ?)
			ON CONFLICT (shelf, item) DO UPDATE SET qty = excluded.qty`)
		created, err := upsert.Run(ctx, "a1", "pen", 3)
		require.NoError(t, err)
		require.NotZero(t, created.InsertedID)

		// Unrelated inserts move the engine's last inserted id elsewhere.
		insert := a.Prepare("INSERT INTO items (name) VALUES (?)")
		for i := 0; i < 5; i++ {
			_, err := insert.Run(ctx, fmt.Sprintf("other-%d", i))
			require.NoError(t, err)
		}

		updated, err := upsert.Run(ctx, "a1", "pen", 9)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.RowsAffected)
		assert.Equal(t, created.InsertedID, updated.InsertedID)

		row, ok, err := a.Prepare("SELECT qty FROM stock WHERE id = ?").Get(ctx, updated.InsertedID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(9), row["qty"])

		skipped, err := a.Prepare(`INSERT INTO stock (shelf, item, qty) VALUES (?, ?, ?)
			ON CONFLICT (shelf, item) DO NOTHING`).Run(ctx, "a1", "pen", 1)
		require.NoError(t, err)
		assert.Zero(t, skipped.RowsAffected)
		assert.Zero(t, skipped.InsertedID)
	})

	t.Run("InsertWithoutIntegerKey", func(t *testing.T) {
		ctx := context.Background()
		a := open(t)
		require.NoError(t, a.Exec(ctx, `CREATE TABLE labels (
			item TEXT NOT NULL,
			label TEXT NOT NULL,
			PRIMARY KEY (item, label)
		)`))
		require.NoError(t, a.Exec(ctx, `CREATE TABLE tags (slug TEXT PRIMARY KEY, title TEXT)`))

		res, err := a.Prepare("INSERT INTO labels (item, label) VALUES (?, ?)").Run(ctx, "pen", "blue")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.Zero(t, res.InsertedID)

		res, err = a.Prepare("INSERT INTO tags (slug, title) VALUES (?, ?)").Run(ctx, "sf", "Science fiction")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.Zero(t, res.InsertedID)
	})

	t.Run("KeyLookupFollowsSchemaChanges", func(t *testing.T) {
		ctx := context.Background()
		a := open(t)
		insert := a.Prepare("INSERT INTO late (name) VALUES (?)")

		_, err := insert.Run(ctx, "early")
		require.Error(t, err)

		require.NoError(t, a.Exec(ctx, itemsDDL(a.Kind())+`;
			ALTER TABLE items RENAME TO late`))
		res, err := insert.Run(ctx, "on time")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.InsertedID)
	})

	t.Run("GetNormalizesValues", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		_, err := a.Prepare("INSERT INTO items (name, qty, price) VALUES (?, ?, ?)").Run(ctx, "pen", 3, 1.5)
		require.NoError(t, err)
		_, err = a.Prepare("INSERT INTO items (name) VALUES (?)").Run(ctx, "cap")
		require.NoError(t, err)

		row, ok, err := a.Prepare("SELECT id, name, qty, price FROM items WHERE name = ?").Get(ctx, "pen")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), row["id"])
		assert.Equal(t, "pen", row["name"])
		assert.Equal(t, int64(3), row["qty"])
		assert.Equal(t, 1.5, row["price"])

		row, ok, err = a.Prepare("SELECT qty FROM items WHERE name = ?").Get(ctx, "cap")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, row["qty"])
	})

	t.Run("GetAbsentRow", func(t *testing.T) {
		a := setupItems(t, open)

		row, ok, err := a.Prepare("SELECT * FROM items WHERE id = ?").Get(context.Background(), 42)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, row)
	})

	t.Run("AllEmptyIsNotNil", func(t *testing.T) {
		a := setupItems(t, open)

		rows, err := a.Prepare("SELECT * FROM items").All(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("AllKeepsOrder", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		insert := a.Prepare("INSERT INTO items (name, qty) VALUES (?, ?)")
		for i, name := range []string{"c", "a", "b"} {
			_, err := insert.Run(ctx, name, i)
			require.NoError(t, err)
		}

		rows, err := a.Prepare("SELECT name FROM items WHERE qty >= ? ORDER BY name").All(ctx, 0)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "a", rows[0]["name"])
		assert.Equal(t, "c", rows[2]["name"])
	})

	t.Run("UpdateReportsRowsAffected", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		insert := a.Prepare("INSERT INTO items (name, qty) VALUES (?, ?)")
		for _, name := range []string{"a", "b", "c"} {
			_, err := insert.Run(ctx, name, 1)
			require.NoError(t, err)
		}

		res, err := a.Prepare("UPDATE items SET qty = qty + ? WHERE name <> ?").Run(ctx, 5, "b")
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.RowsAffected)
		assert.Zero(t, res.InsertedID)

		res, err = a.Prepare("DELETE FROM items WHERE name = ?").Run(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, res.RowsAffected)
	})

	t.Run("ErrorsAreClassified", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		_, err := a.Prepare("SELEC 1").All(ctx)
		var se *adapter.StatementError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, adapter.ClassSyntax, se.Class)
		assert.Equal(t, a.Kind(), se.Kind)

		insert := a.Prepare("INSERT INTO items (name) VALUES (?)")
		_, err = insert.Run(ctx, "dup")
		require.NoError(t, err)
		_, err = insert.Run(ctx, "dup")
		assert.True(t, adapter.IsConstraintErr(err), "got %v", err)
	})

	t.Run("Columns", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		cols, err := a.Columns(ctx, "items")
		require.NoError(t, err)
		require.Len(t, cols, 4)
		assert.Equal(t, "id", cols[0].Name)
		assert.Equal(t, "price", cols[3].Name)

		name, ok := adapter.Lookup(cols, "name")
		require.True(t, ok)
		assert.False(t, name.Nullable)
		qty, ok := adapter.Lookup(cols, "qty")
		require.True(t, ok)
		assert.True(t, qty.Nullable)

		none, err := a.Columns(ctx, "no_such_table")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("InTxRollsBack", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)
		boom := errors.New("boom")

		err := a.InTx(ctx, func(q adapter.Querier) error {
			if _, err := q.Prepare("INSERT INTO items (name) VALUES (?)").Run(ctx, "gone"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = a.InTx(ctx, func(q adapter.Querier) error {
			_, err := q.Prepare("INSERT INTO items (name) VALUES (?)").Run(ctx, "kept")
			return err
		})
		require.NoError(t, err)

		rows, err := a.Prepare("SELECT name FROM items").All(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "kept", rows[0]["name"])
	})

	t.Run("ConcurrentCallers", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)

		const workers, perWorker = 8, 25
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				insert := a.Prepare("INSERT INTO items (name, qty) VALUES (?, ?)")
				for i := 0; i < perWorker; i++ {
					if _, err := insert.Run(gctx, fmt.Sprintf("w%d-%d", w, i), i); err != nil {
						return err
					}
					if _, err := a.Prepare("SELECT COUNT(*) AS n FROM items").All(gctx); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		row, ok, err := a.Prepare("SELECT COUNT(*) AS n, COUNT(DISTINCT id) AS ids FROM items").Get(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(workers*perWorker), row["n"])
		assert.Equal(t, int64(workers*perWorker), row["ids"])
	})

	t.Run("CancelledContext", func(t *testing.T) {
		a := setupItems(t, open)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.Prepare("SELECT * FROM items").All(ctx)
		assert.True(t, adapter.IsTimeoutErr(err), "got %v", err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ClosedAdapter", func(t *testing.T) {
		ctx := context.Background()
		a := setupItems(t, open)
		stmt := a.Prepare("SELECT * FROM items")

		require.NoError(t, a.Close())

		_, _, err := stmt.Get(ctx)
		assert.ErrorIs(t, err, adapter.ErrAdapterClosed)
		_, err = a.Prepare("INSERT INTO items (name) VALUES (?)").Run(ctx, "late")
		assert.ErrorIs(t, err, adapter.ErrAdapterClosed)
		assert.ErrorIs(t, a.Exec(ctx, "SELECT 1"), adapter.ErrAdapterClosed)
		assert.ErrorIs(t, a.Close(), adapter.ErrAdapterClosed)
	})
}
