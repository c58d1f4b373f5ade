package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/shelfdb/internal/testutil"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/postgres"
	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
	"github.com/pthm/shelfdb/pkg/bootstrap"
	"github.com/pthm/shelfdb/pkg/migrator"
	shelfsql "github.com/pthm/shelfdb/sql"
)

type opener func(t *testing.T) adapter.Adapter

func backends() map[string]opener {
	return map[string]opener{
		"sqlite": func(t *testing.T) adapter.Adapter {
			a, err := sqlite.New(context.Background(), sqlite.Config{Path: testutil.SQLitePath(t)})
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })
			return a
		},
		"postgres": func(t *testing.T) adapter.Adapter {
			a, err := postgres.New(context.Background(), postgres.Config{URL: testutil.PostgresDSN(t)})
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })
			return a
		},
	}
}

// snapshot describes every bundled table.
func snapshot(t *testing.T, a adapter.Adapter) map[string][]adapter.Column {
	t.Helper()
	out := make(map[string][]adapter.Column, len(shelfsql.Tables))
	for _, table := range shelfsql.Tables {
		cols, err := a.Columns(context.Background(), table)
		require.NoError(t, err)
		out[table] = cols
	}
	return out
}

func TestAll_NamesAreValid(t *testing.T) {
	require.NoError(t, migrator.Validate(All()))
}

func TestStartupSequence(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := open(t)

			_, err := bootstrap.Run(ctx, a, bootstrap.Options{})
			require.NoError(t, err)

			report, err := migrator.New(a, All(), migrator.Options{}).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{
				"add_is_admin_to_users",
				"add_refresh_token_to_sessions",
				"index_books_title",
			}, report.Applied())

			users, err := a.Columns(ctx, "users")
			require.NoError(t, err)
			isAdmin, ok := adapter.Lookup(users, "is_admin")
			require.True(t, ok)
			assert.True(t, isAdmin.Nullable)
			require.NotNil(t, isAdmin.Default)
			assert.Equal(t, "0", *isAdmin.Default)

			sessions, err := a.Columns(ctx, "sessions")
			require.NoError(t, err)
			assert.True(t, adapter.HasColumn(sessions, "refresh_token"))
			assert.True(t, adapter.HasColumn(sessions, "refresh_expires_at"))

			// A restart reapplies nothing and leaves the schema as it was.
			before := snapshot(t, a)
			_, err = bootstrap.Run(ctx, a, bootstrap.Options{})
			require.NoError(t, err)
			report, err = migrator.New(a, All(), migrator.Options{}).Run(ctx)
			require.NoError(t, err)
			assert.Empty(t, report.Outcomes)
			assert.Len(t, report.Skipped, 3)
			assert.Equal(t, before, snapshot(t, a))

			// New users default to non-admin.
			res, err := a.Prepare("INSERT INTO users (email, password_hash) VALUES (?, ?)").Run(ctx, "reader@example.com", "x")
			require.NoError(t, err)
			row, ok, err := a.Prepare("SELECT is_admin FROM users WHERE id = ?").Get(ctx, res.InsertedID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(0), row["is_admin"])
		})
	}
}

func TestColumnAddedOutOfBand(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := open(t)

			_, err := bootstrap.Run(ctx, a, bootstrap.Options{})
			require.NoError(t, err)
			require.NoError(t, a.Exec(ctx, "ALTER TABLE users ADD COLUMN is_admin INTEGER DEFAULT 0"))

			report, err := migrator.New(a, All(), migrator.Options{}).Run(ctx)
			require.NoError(t, err)
			assert.Contains(t, report.Applied(), "add_is_admin_to_users")

			st, err := migrator.New(a, All(), migrator.Options{}).Status(ctx)
			require.NoError(t, err)
			assert.Empty(t, st.Pending)
		})
	}
}
