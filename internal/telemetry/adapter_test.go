package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pthm/shelfdb/internal/testutil"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
)

type harness struct {
	a      *InstrumentedAdapter
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inner, err := sqlite.New(context.Background(), sqlite.Config{Path: testutil.SQLitePath(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return &harness{
		a:      newInstrumented(inner, tp.Tracer("test"), mp.Meter("test")),
		spans:  spans,
		reader: reader,
	}
}

func (h *harness) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestWrapAdapter_DisabledReturnsInner(t *testing.T) {
	require.NoError(t, Init(context.Background(), Config{}))
	inner, err := sqlite.New(context.Background(), sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })

	assert.Same(t, inner, WrapAdapter(inner))
}

func TestInstrumentedAdapter_RecordsCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.a.Exec(ctx, "CREATE TABLE notes (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)"))
	res, err := h.a.Prepare("INSERT INTO notes (body) VALUES (?)").Run(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.InsertedID)

	row, ok, err := h.a.Prepare("SELECT body FROM notes WHERE id = ?").Get(ctx, res.InsertedID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", row["body"])

	_, err = h.a.Prepare("SELEC broken").All(ctx)
	require.Error(t, err)

	ended := h.spans.Ended()
	require.Len(t, ended, 4)
	assert.Equal(t, "adapter.exec", ended[0].Name())
	assert.Equal(t, "adapter.run", ended[1].Name())
	assert.Equal(t, "adapter.get", ended[2].Name())
	assert.Equal(t, "adapter.all", ended[3].Name())
	assert.Equal(t, codes.Error, ended[3].Status().Code)

	assert.Equal(t, int64(4), h.sum(t, "shelfdb.adapter.operations"))
	assert.Equal(t, int64(1), h.sum(t, "shelfdb.adapter.errors"))
}

func TestInstrumentedAdapter_TxAndUnwrap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.a.InTx(ctx, func(q adapter.Querier) error {
		if err := q.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	cols, err := h.a.Columns(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, cols)

	names := make([]string, 0, 3)
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"adapter.exec", "adapter.tx", "adapter.columns"}, names)

	_, isSQLite := adapter.Unwrap(h.a).(*sqlite.Adapter)
	assert.True(t, isSQLite)
}
