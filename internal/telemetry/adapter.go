package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm/shelfdb/pkg/adapter"
)

const adapterScopeName = "github.com/pthm/shelfdb/adapter"

// instruments is shared by an InstrumentedAdapter and every querier and
// statement it hands out.
type instruments struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	system attribute.KeyValue
}

// InstrumentedAdapter wraps adapter.Adapter with OTel tracing and metrics.
// Every call gets a span and is counted in shelfdb.adapter.* metrics.
type InstrumentedAdapter struct {
	inner adapter.Adapter
	in    *instruments
}

var _ adapter.Adapter = (*InstrumentedAdapter)(nil)

// WrapAdapter returns a decorated with OTel instrumentation.
// When telemetry is disabled, a is returned as-is.
func WrapAdapter(a adapter.Adapter) adapter.Adapter {
	if !Enabled() {
		return a
	}
	return newInstrumented(a, Tracer(adapterScopeName), Meter(adapterScopeName))
}

func newInstrumented(a adapter.Adapter, tracer trace.Tracer, m metric.Meter) *InstrumentedAdapter {
	ops, _ := m.Int64Counter("shelfdb.adapter.operations",
		metric.WithDescription("Total adapter operations executed"),
	)
	dur, _ := m.Float64Histogram("shelfdb.adapter.duration",
		metric.WithDescription("Adapter operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("shelfdb.adapter.errors",
		metric.WithDescription("Total adapter operation errors"),
	)
	return &InstrumentedAdapter{
		inner: a,
		in: &instruments{
			tracer: tracer,
			ops:    ops,
			dur:    dur,
			errs:   errs,
			system: attribute.String("db.system", dbSystem(a.Kind())),
		},
	}
}

func dbSystem(k adapter.Kind) string {
	if k == adapter.KindPostgres {
		return "postgresql"
	}
	return string(k)
}

// Unwrap returns the decorated adapter.
func (s *InstrumentedAdapter) Unwrap() adapter.Adapter {
	return s.inner
}

// op starts a span and counts the named operation.
func (in *instruments) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	all := append([]attribute.KeyValue{in.system, attribute.String("db.operation", name)}, attrs...)
	ctx, span := in.tracer.Start(ctx, "adapter."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	in.ops.Add(ctx, 1, metric.WithAttributes(all[:2]...))
	return ctx, span, time.Now(), all[:2]
}

// done ends the span, records duration and optional error.
func (in *instruments) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	in.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedAdapter) Kind() adapter.Kind {
	return s.inner.Kind()
}

func (s *InstrumentedAdapter) Prepare(sql string) adapter.Statement {
	return &instrumentedStatement{inner: s.inner.Prepare(sql), in: s.in}
}

func (s *InstrumentedAdapter) Exec(ctx context.Context, sql string) error {
	return instrumentedQuerier{inner: s.inner, in: s.in}.Exec(ctx, sql)
}

func (s *InstrumentedAdapter) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	return instrumentedQuerier{inner: s.inner, in: s.in}.Columns(ctx, table)
}

func (s *InstrumentedAdapter) InTx(ctx context.Context, fn func(q adapter.Querier) error) error {
	ctx, span, t, attrs := s.in.op(ctx, "tx")
	err := s.inner.InTx(ctx, func(q adapter.Querier) error {
		return fn(instrumentedQuerier{inner: q, in: s.in})
	})
	s.in.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedAdapter) Ping(ctx context.Context) error {
	ctx, span, t, attrs := s.in.op(ctx, "ping")
	err := s.inner.Ping(ctx)
	s.in.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedAdapter) Close() error {
	return s.inner.Close()
}

type instrumentedQuerier struct {
	inner adapter.Querier
	in    *instruments
}

func (q instrumentedQuerier) Kind() adapter.Kind {
	return q.inner.Kind()
}

func (q instrumentedQuerier) Prepare(sql string) adapter.Statement {
	return &instrumentedStatement{inner: q.inner.Prepare(sql), in: q.in}
}

func (q instrumentedQuerier) Exec(ctx context.Context, sql string) error {
	ctx, span, t, attrs := q.in.op(ctx, "exec")
	err := q.inner.Exec(ctx, sql)
	q.in.done(ctx, span, t, err, attrs)
	return err
}

func (q instrumentedQuerier) Columns(ctx context.Context, table string) ([]adapter.Column, error) {
	ctx, span, t, attrs := q.in.op(ctx, "columns", attribute.String("db.sql.table", table))
	v, err := q.inner.Columns(ctx, table)
	q.in.done(ctx, span, t, err, attrs)
	return v, err
}

type instrumentedStatement struct {
	inner adapter.Statement
	in    *instruments
}

func (s *instrumentedStatement) SQL() string {
	return s.inner.SQL()
}

func (s *instrumentedStatement) Get(ctx context.Context, args ...any) (adapter.Row, bool, error) {
	ctx, span, t, attrs := s.in.op(ctx, "get", attribute.String("db.statement", s.inner.SQL()))
	row, ok, err := s.inner.Get(ctx, args...)
	span.SetAttributes(attribute.Bool("shelfdb.row.found", ok))
	s.in.done(ctx, span, t, err, attrs)
	return row, ok, err
}

func (s *instrumentedStatement) All(ctx context.Context, args ...any) ([]adapter.Row, error) {
	ctx, span, t, attrs := s.in.op(ctx, "all", attribute.String("db.statement", s.inner.SQL()))
	rows, err := s.inner.All(ctx, args...)
	span.SetAttributes(attribute.Int("shelfdb.rows", len(rows)))
	s.in.done(ctx, span, t, err, attrs)
	return rows, err
}

func (s *instrumentedStatement) Run(ctx context.Context, args ...any) (adapter.RunResult, error) {
	ctx, span, t, attrs := s.in.op(ctx, "run", attribute.String("db.statement", s.inner.SQL()))
	res, err := s.inner.Run(ctx, args...)
	span.SetAttributes(attribute.Int64("shelfdb.rows_affected", res.RowsAffected))
	s.in.done(ctx, span, t, err, attrs)
	return res, err
}
