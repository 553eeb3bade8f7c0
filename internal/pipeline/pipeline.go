// Package pipeline hosts the inference engine: it runs arrival batches
// through it and hands every line batch to the configured sinks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tubetrace-engine/internal/common/discord"
	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/common/metrics"
	"github.com/tubetrace-engine/internal/common/tracing"
	"github.com/tubetrace-engine/internal/inference"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// Batch is one line's inference output stamped for the sinks.
type Batch struct {
	ID         uuid.UUID `json:"batchId"`
	RecordedAt time.Time `json:"recordedAt"`
	inference.LineBatch
}

// Sink receives every line batch. Sinks must not retain or modify the
// batch after returning.
type Sink interface {
	Name() string
	Consume(ctx context.Context, batch Batch) error
}

// Alerter is told about each line's health after inference.
type Alerter interface {
	Check(ctx context.Context, health discord.LineHealth) (bool, error)
}

type Pipeline struct {
	engine      *inference.Engine
	logger      logger.Logger
	metrics     *metrics.Collector
	alerter     Alerter
	sinks       []Sink
	tracer      trace.Tracer
	window      time.Duration
	parallelism int
	now         func() time.Time
}

type Option func(*Pipeline)

func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

func WithAlerter(a Alerter) Option {
	return func(p *Pipeline) { p.alerter = a }
}

// WithHistoryWindow drops arrivals expected more than d before the newest
// arrival of the batch. Zero keeps everything.
func WithHistoryWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.window = d }
}

// WithParallelism bounds how many lines are inferred at once.
func WithParallelism(n int) Option {
	return func(p *Pipeline) { p.parallelism = n }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(engine *inference.Engine, log logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: engine,
		logger: log,
		tracer: tracing.Tracer("github.com/tubetrace-engine/internal/pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Engine() *inference.Engine {
	return p.engine
}

// Run infers every line present in arrivals and fans the results out.
// Sink and alert failures are logged and counted, never returned.
func (p *Pipeline) Run(ctx context.Context, arrivals []models.Arrival) ([]Batch, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.Int("arrivals.received", len(arrivals))))
	defer span.End()

	kept := Window(arrivals, p.window)
	span.SetAttributes(attribute.Int("arrivals.kept", len(kept)))

	start := time.Now()
	lines, err := p.engine.InferLines(ctx, kept, p.parallelism)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference cancelled")
		return nil, fmt.Errorf("inferring batch: %w", err)
	}
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.BatchDuration.Observe(elapsed.Seconds())
	}

	recordedAt := p.now().UTC()
	out := make([]Batch, 0, len(lines))
	for _, lb := range lines {
		b := Batch{ID: uuid.New(), RecordedAt: recordedAt, LineBatch: lb}
		p.observe(b)
		p.dispatch(ctx, b)
		out = append(out, b)
	}

	span.SetAttributes(attribute.Int("lines", len(out)))
	p.logger.Debug("Batch inferred",
		"arrivals", len(kept),
		"dropped", len(arrivals)-len(kept),
		"lines", len(out),
		"duration", elapsed)
	return out, nil
}

func (p *Pipeline) dispatch(ctx context.Context, b Batch) {
	for _, sink := range p.sinks {
		sctx, span := p.tracer.Start(ctx, "sink."+sink.Name(),
			trace.WithAttributes(
				attribute.String("line", b.LineID),
				attribute.String("batch.id", b.ID.String()),
			))
		if err := sink.Consume(sctx, b); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if p.metrics != nil {
				p.metrics.SinkFailed(sink.Name())
			}
			p.logger.Error("Sink failed",
				"sink", sink.Name(),
				"line", b.LineID,
				"batch_id", b.ID.String(),
				"error", err)
		}
		span.End()
	}

	if p.alerter == nil {
		return
	}
	health := discord.LineHealth{
		LineID:   b.LineID,
		Arrivals: b.Summary.Arrivals,
		Unknown:  b.Summary.Unknown,
		Vehicles: b.Summary.Vehicles,
	}
	sent, err := p.alerter.Check(ctx, health)
	if err != nil {
		p.logger.Warn("Failed to send alert", "line", b.LineID, "error", err)
		return
	}
	if sent && p.metrics != nil {
		p.metrics.AlertsSent.WithLabelValues(b.LineID).Inc()
	}
}

func (p *Pipeline) observe(b Batch) {
	if p.metrics == nil {
		return
	}
	m := p.metrics
	m.Arrivals.WithLabelValues(b.LineID).Add(float64(len(b.Results)))
	for _, r := range b.Results {
		m.Resolutions.WithLabelValues(b.LineID, r.Reason).Inc()
	}
	for source, n := range b.Summary.Sources {
		m.DurationSources.WithLabelValues(b.LineID, string(source)).Add(float64(n))
	}
	m.Vehicles.WithLabelValues(b.LineID).Set(float64(b.Summary.Vehicles))
	m.UnknownRatio.WithLabelValues(b.LineID).Set(b.Summary.UnknownRatio())
}

// Window keeps arrivals expected no earlier than window before the newest
// parseable arrival. Unparseable records are kept so the engine can report
// them; a non-positive window keeps everything.
func Window(arrivals []models.Arrival, window time.Duration) []models.Arrival {
	if window <= 0 {
		return arrivals
	}

	var newest time.Time
	for _, a := range arrivals {
		if t, err := a.ExpectedAt(); err == nil && t.After(newest) {
			newest = t
		}
	}
	if newest.IsZero() {
		return arrivals
	}

	cutoff := newest.Add(-window)
	out := make([]models.Arrival, 0, len(arrivals))
	for _, a := range arrivals {
		if t, err := a.ExpectedAt(); err == nil && t.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	return out
}
