package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementError_UnwrapsOnlyContextErrors(t *testing.T) {
	timeout := NewStatementError(KindPostgres, ClassTimeout, "57014", "canceling statement", "SELECT 1", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.True(t, IsTimeoutErr(timeout))
	assert.Contains(t, timeout.Error(), "57014")

	driver := errors.New("driver detail")
	plain := NewStatementError(KindSQLite, ClassConstraint, "2067", "UNIQUE constraint failed", "INSERT", driver)
	assert.NotErrorIs(t, plain, driver)
	assert.Nil(t, errors.Unwrap(plain))
	assert.True(t, IsConstraintErr(plain))
	assert.False(t, IsTimeoutErr(plain))
}

func TestErrorHelpers(t *testing.T) {
	conn := &ConnectionError{Kind: KindPostgres, Err: errors.New("refused")}
	wrapped := fmt.Errorf("starting: %w", conn)
	assert.True(t, IsConnectionErr(wrapped))
	assert.False(t, IsStatementErr(wrapped))
	assert.Contains(t, conn.Error(), "postgres connection failed")

	closed := fmt.Errorf("get: %w", ErrAdapterClosed)
	assert.True(t, IsClosedErr(closed))
	assert.False(t, IsConstraintErr(closed))

	stmt := fmt.Errorf("run: %w", NewStatementError(KindSQLite, ClassSyntax, "", "near \"SELEC\"", "SELEC", nil))
	assert.True(t, IsStatementErr(stmt))
	assert.NotContains(t, stmt.Error(), "()")
}

func TestNormalizeValue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{int(3), int64(3)},
		{int32(-4), int64(-4)},
		{uint8(5), int64(5)},
		{float32(1.5), float64(1.5)},
		{"x", "x"},
		{true, true},
		{now, now},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeValue(tt.in), "%T", tt.in)
	}

	src := []byte("abc")
	out, ok := NormalizeValue(src).([]byte)
	require.True(t, ok)
	src[0] = 'z'
	assert.Equal(t, []byte("abc"), out, "bytes are copied")
}

func TestColumnHelpers(t *testing.T) {
	def := "0"
	cols := []Column{{Name: "id", Type: "INTEGER"}, {Name: "qty", Nullable: true, Default: &def}}

	assert.True(t, HasColumn(cols, "qty"))
	assert.False(t, HasColumn(cols, "price"))

	c, ok := Lookup(cols, "qty")
	require.True(t, ok)
	assert.Equal(t, "0", *c.Default)

	_, ok = Lookup(nil, "id")
	assert.False(t, ok)
}

type base struct{ Adapter }

type wrapper struct{ Adapter }

func (w wrapper) Unwrap() Adapter { return w.Adapter }

func TestUnwrap(t *testing.T) {
	assert.Nil(t, Unwrap(nil))

	var inner Adapter = base{}
	outer := wrapper{Adapter: wrapper{Adapter: inner}}
	assert.Equal(t, inner, Unwrap(outer))
}

func TestKind(t *testing.T) {
	assert.True(t, KindSQLite.Embedded())
	assert.False(t, KindPostgres.Embedded())
	assert.Equal(t, "postgres", KindPostgres.String())
}

func TestKeyCache(t *testing.T) {
	var c KeyCache
	calls := 0
	lookup := func() (string, error) {
		calls++
		return "id", nil
	}

	key, err := c.Resolve("books", lookup)
	require.NoError(t, err)
	assert.Equal(t, "id", key)
	_, _ = c.Resolve("books", lookup)
	assert.Equal(t, 1, calls)

	_, err = c.Resolve("broken", func() (string, error) { return "", errors.New("down") })
	require.Error(t, err)
	key, err = c.Resolve("broken", func() (string, error) { return "", nil })
	require.NoError(t, err)
	assert.Empty(t, key)

	c.Reset()
	_, _ = c.Resolve("books", lookup)
	assert.Equal(t, 2, calls)
}
