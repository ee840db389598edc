package telemetry

import (
	"context"
	"time"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const storageScopeName = "github.com/ignatij/taskflow/storage"

// InstrumentedStore wraps storage.Store with a span, an operation counter, a
// duration histogram and an error counter per call. Transactions opened
// through Begin are instrumented too.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with instrumentation from the global
// providers. When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return NewInstrumentedStore(s, Tracer(storageScopeName), Meter(storageScopeName))
}

// NewInstrumentedStore decorates s using the given tracer and meter.
func NewInstrumentedStore(s storage.Store, tracer trace.Tracer, m metric.Meter) *InstrumentedStore {
	ops, _ := m.Int64Counter("taskflow.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("taskflow.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("taskflow.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{inner: s, tracer: tracer, ops: ops, dur: dur, errs: errs}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, name string) {
	attrs := metric.WithAttributes(attribute.String("db.operation", name))
	s.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, attrs)
	}
	span.End()
}

func (s *InstrumentedStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	ctx, span, t := s.op(ctx, "GetTask", attribute.String("taskflow.task.id", id))
	v, err := s.inner.GetTask(ctx, id)
	s.done(ctx, span, t, err, "GetTask")
	return v, err
}

func (s *InstrumentedStore) InsertTask(ctx context.Context, task models.Task) (models.Task, error) {
	ctx, span, t := s.op(ctx, "InsertTask",
		attribute.String("taskflow.task.id", task.ID),
		attribute.String("taskflow.client.id", task.ClientID),
	)
	v, err := s.inner.InsertTask(ctx, task)
	s.done(ctx, span, t, err, "InsertTask")
	return v, err
}

func (s *InstrumentedStore) SaveTask(ctx context.Context, task models.Task) (models.Task, error) {
	ctx, span, t := s.op(ctx, "SaveTask",
		attribute.String("taskflow.task.id", task.ID),
		attribute.String("taskflow.task.stage", string(task.Stage)),
		attribute.Int64("taskflow.task.version", task.Version),
	)
	v, err := s.inner.SaveTask(ctx, task)
	s.done(ctx, span, t, err, "SaveTask")
	return v, err
}

func (s *InstrumentedStore) DeleteTask(ctx context.Context, id string) error {
	ctx, span, t := s.op(ctx, "DeleteTask", attribute.String("taskflow.task.id", id))
	err := s.inner.DeleteTask(ctx, id)
	s.done(ctx, span, t, err, "DeleteTask")
	return err
}

func (s *InstrumentedStore) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]models.Task, error) {
	ctx, span, t := s.op(ctx, "ListTasks",
		attribute.String("taskflow.client.id", filter.ClientID),
		attribute.Int("taskflow.filter.stages", len(filter.Stages)),
	)
	v, err := s.inner.ListTasks(ctx, filter)
	span.SetAttributes(attribute.Int("taskflow.result.count", len(v)))
	s.done(ctx, span, t, err, "ListTasks")
	return v, err
}

func (s *InstrumentedStore) AppendHistory(ctx context.Context, e models.StatusHistoryEntry) error {
	ctx, span, t := s.op(ctx, "AppendHistory",
		attribute.String("taskflow.task.id", e.TaskID),
		attribute.String("taskflow.task.stage", string(e.ToStage)),
	)
	err := s.inner.AppendHistory(ctx, e)
	s.done(ctx, span, t, err, "AppendHistory")
	return err
}

func (s *InstrumentedStore) ListHistory(ctx context.Context, taskID string) ([]models.StatusHistoryEntry, error) {
	ctx, span, t := s.op(ctx, "ListHistory", attribute.String("taskflow.task.id", taskID))
	v, err := s.inner.ListHistory(ctx, taskID)
	s.done(ctx, span, t, err, "ListHistory")
	return v, err
}

func (s *InstrumentedStore) AppendNote(ctx context.Context, n models.Note) error {
	ctx, span, t := s.op(ctx, "AppendNote",
		attribute.String("taskflow.task.id", n.TaskID),
		attribute.String("taskflow.note.kind", string(n.Kind)),
	)
	err := s.inner.AppendNote(ctx, n)
	s.done(ctx, span, t, err, "AppendNote")
	return err
}

func (s *InstrumentedStore) ListNotes(ctx context.Context, taskID string) ([]models.Note, error) {
	ctx, span, t := s.op(ctx, "ListNotes", attribute.String("taskflow.task.id", taskID))
	v, err := s.inner.ListNotes(ctx, taskID)
	s.done(ctx, span, t, err, "ListNotes")
	return v, err
}

func (s *InstrumentedStore) Begin(ctx context.Context) (storage.Store, error) {
	ctx, span, t := s.op(ctx, "Begin")
	tx, err := s.inner.Begin(ctx)
	s.done(ctx, span, t, err, "Begin")
	if err != nil {
		return nil, err
	}
	return &InstrumentedStore{inner: tx, tracer: s.tracer, ops: s.ops, dur: s.dur, errs: s.errs}, nil
}

func (s *InstrumentedStore) Commit() error {
	ctx, span, t := s.op(context.Background(), "Commit")
	err := s.inner.Commit()
	s.done(ctx, span, t, err, "Commit")
	return err
}

func (s *InstrumentedStore) Rollback() error {
	ctx, span, t := s.op(context.Background(), "Rollback")
	err := s.inner.Rollback()
	s.done(ctx, span, t, err, "Rollback")
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
