package telemetry

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
)

// captureStdout runs fn with os.Stdout redirected and returns what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	done := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()

	defer func() {
		os.Stdout = orig
	}()
	fn()
	_ = w.Close()
	return string(<-done)
}

func runOneQuery(t *testing.T) {
	t.Helper()
	inner, err := sqlite.New(context.Background(), sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = inner.Close() }()

	a := WrapAdapter(inner)
	_, err = a.Prepare("SELECT 1 AS one").All(context.Background())
	require.NoError(t, err)
}

func TestInit_StdoutDisabledWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	out := captureStdout(t, func() {
		require.NoError(t, Init(context.Background(), Config{
			Enabled:      true,
			OTLPEndpoint: "127.0.0.1:1",
			Writer:       &buf,
		}))
		runOneQuery(t)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// Nothing listens on the endpoint, so the flush may fail.
		_ = Shutdown(ctx)
	})

	assert.Empty(t, out)
	assert.Empty(t, buf.String())
}

func TestInit_StdoutExportersUseWriter(t *testing.T) {
	var buf bytes.Buffer
	out := captureStdout(t, func() {
		require.NoError(t, Init(context.Background(), Config{Enabled: true, Stdout: true, Writer: &buf}))
		assert.True(t, Enabled())
		runOneQuery(t)
		require.NoError(t, Shutdown(context.Background()))
	})

	assert.Empty(t, out)
	assert.Contains(t, buf.String(), "adapter.all")
	assert.False(t, Enabled())
}

func TestConfigWriter_DefaultsToStderr(t *testing.T) {
	assert.Equal(t, io.Writer(os.Stderr), Config{}.writer())
}
