package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/shelfdb/internal/testutil"
	"github.com/pthm/shelfdb/pkg/adapter"
)

func open(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(context.Background(), Config{URL: testutil.PostgresDSN(t), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestContract(t *testing.T) {
	testutil.RunContract(t, func(t *testing.T) adapter.Adapter {
		return open(t)
	})
}

func TestNew_Unreachable(t *testing.T) {
	// Nothing listens on port 1.
	_, err := New(context.Background(), Config{
		URL:            "postgres://nobody@127.0.0.1:1/none?sslmode=disable",
		ConnectTimeout: 500 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, adapter.IsConnectionErr(err))
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://%zz"})
	require.Error(t, err)
	assert.True(t, adapter.IsConnectionErr(err))
}

func TestStatementTimeout(t *testing.T) {
	a, err := New(context.Background(), Config{
		URL:              testutil.PostgresDSN(t),
		StatementTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Prepare("SELECT pg_sleep(2)").All(context.Background())
	require.Error(t, err)
	assert.True(t, adapter.IsTimeoutErr(err), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExplicitReturning(t *testing.T) {
	ctx := context.Background()
	a := open(t)
	require.NoError(t, a.Exec(ctx, `CREATE TABLE tags (slug TEXT PRIMARY KEY, label TEXT)`))

	res, err := a.Prepare("INSERT INTO tags (slug, label) VALUES (?, ?) RETURNING slug").Run(ctx, "sf", "Science fiction")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Zero(t, res.InsertedID)
}

func TestNormalizeValue(t *testing.T) {
	var whole pgtype.Numeric
	require.NoError(t, whole.Scan("42"))
	assert.Equal(t, int64(42), normalizeValue(whole))

	var frac pgtype.Numeric
	require.NoError(t, frac.Scan("2.5"))
	assert.Equal(t, 2.5, normalizeValue(frac))

	assert.Nil(t, normalizeValue(pgtype.Numeric{}))
	assert.Equal(t, int64(7), normalizeValue(int32(7)))

	id := [16]byte{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00}
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", normalizeValue(id))
}

func TestClassify(t *testing.T) {
	tests := map[string]adapter.Class{
		"23505": adapter.ClassConstraint,
		"23503": adapter.ClassConstraint,
		"42601": adapter.ClassSyntax,
		"42P01": adapter.ClassSyntax,
		"40001": adapter.ClassBusy,
		"40P01": adapter.ClassBusy,
		"55P03": adapter.ClassBusy,
		"57014": adapter.ClassTimeout,
		"08006": adapter.ClassUnknown,
	}
	for code, want := range tests {
		assert.Equal(t, want, classify(code), code)
	}
}
