package doctor

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/shelfdb/internal/testutil"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
	"github.com/pthm/shelfdb/pkg/bootstrap"
	"github.com/pthm/shelfdb/pkg/migrations"
	"github.com/pthm/shelfdb/pkg/migrator"
)

func openSQLite(t *testing.T) adapter.Adapter {
	t.Helper()
	a, err := sqlite.New(context.Background(), sqlite.Config{Path: testutil.SQLitePath(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRun_FreshDatabase(t *testing.T) {
	ctx := context.Background()
	a := openSQLite(t)

	report, err := New(a, migrations.All()).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasErrors())

	ping, ok := report.Find("ping")
	require.True(t, ok)
	assert.Equal(t, StatusPass, ping.Status)

	journal, ok := report.Find("journal_mode")
	require.True(t, ok)
	assert.Equal(t, StatusPass, journal.Status)

	marker, ok := report.Find("marker")
	require.True(t, ok)
	assert.Equal(t, StatusFail, marker.Status)

	ledger, ok := report.Find("ledger")
	require.True(t, ok)
	assert.Equal(t, StatusWarn, ledger.Status)

	pending, ok := report.Find("pending")
	require.True(t, ok)
	assert.Equal(t, StatusWarn, pending.Status)
	assert.Contains(t, pending.Details, "add_is_admin_to_users")
}

func TestRun_HealthyDatabase(t *testing.T) {
	ctx := context.Background()
	a := openSQLite(t)

	_, err := bootstrap.Run(ctx, a, bootstrap.Options{})
	require.NoError(t, err)
	_, err = migrator.New(a, migrations.All(), migrator.Options{}).Run(ctx)
	require.NoError(t, err)

	report, err := New(a, migrations.All()).Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasErrors())
	assert.Zero(t, report.Warnings)

	var buf bytes.Buffer
	report.Print(&buf, true)
	assert.Contains(t, buf.String(), "All migrations applied")
	assert.Contains(t, buf.String(), "Summary:")
}

func TestRun_UnknownAndMissingTables(t *testing.T) {
	ctx := context.Background()
	a := openSQLite(t)
	require.NoError(t, a.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY)"))

	retired := migrator.Statements("retired", "SELECT 1")
	_, err := migrator.New(a, []migrator.Migration{retired}, migrator.Options{}).Run(ctx)
	require.NoError(t, err)

	report, err := New(a, nil).WithTables("users", []string{"users", "books"}).Run(ctx)
	require.NoError(t, err)

	tables, ok := report.Find("tables")
	require.True(t, ok)
	assert.Equal(t, StatusWarn, tables.Status)
	assert.Equal(t, "books", tables.Details)

	unknown, ok := report.Find("unknown")
	require.True(t, ok)
	assert.Equal(t, "retired", unknown.Details)
}

func TestRun_ClosedAdapter(t *testing.T) {
	a, err := sqlite.New(context.Background(), sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	report, err := New(a, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, StatusFail, report.Checks[0].Status)
}

func TestStatusSymbol(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "✗", StatusFail.Symbol())
	assert.Equal(t, "?", Status(9).Symbol())
}
