// Package recorder writes inference output to Postgres in the background.
// The tables are an output log only; nothing in the engine reads them.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/tubetrace-engine/internal/common/db"
	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/pipeline"
	"github.com/tubetrace-engine/pkg/tube/models"
)

var (
	// ErrQueueFull is returned by Consume when the write queue cannot take
	// another batch.
	ErrQueueFull = errors.New("recorder queue full")
	// ErrNotRunning is returned by Consume before Start and after Stop.
	ErrNotRunning = errors.New("recorder is not running")
)

// Metrics receives write outcomes. *metrics.Collector satisfies it.
type Metrics interface {
	SinkWritten(sink string)
	SinkFailed(sink string)
	SinkDroppedInc(sink string)
}

const (
	sinkName     = "recorder"
	flushTimeout = 10 * time.Second
)

type Recorder struct {
	db      *db.DB
	logger  logger.Logger
	metrics Metrics
	queue   chan pipeline.Batch

	// prepare and store default to the Postgres schema bootstrap and the
	// transactional writer.
	prepare func(ctx context.Context) error
	store   func(ctx context.Context, b pipeline.Batch) error

	mu        sync.Mutex
	isRunning bool
	quit      chan struct{}
	done      chan struct{}
}

func New(database *db.DB, log logger.Logger, m Metrics, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	r := &Recorder{
		db:      database,
		logger:  log.With("component", sinkName),
		metrics: m,
		queue:   make(chan pipeline.Batch, bufferSize),
	}
	r.prepare = func(ctx context.Context) error { return r.db.EnsureSchema(ctx) }
	r.store = r.write
	return r
}

func (r *Recorder) Name() string { return sinkName }

// Consume queues b for writing without blocking. Batches accepted here are
// written before Stop returns.
func (r *Recorder) Consume(_ context.Context, b pipeline.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRunning {
		if r.metrics != nil {
			r.metrics.SinkDroppedInc(sinkName)
		}
		return fmt.Errorf("%w: dropping batch %s for %s", ErrNotRunning, b.ID, b.LineID)
	}

	select {
	case r.queue <- b:
		return nil
	default:
		if r.metrics != nil {
			r.metrics.SinkDroppedInc(sinkName)
		}
		return fmt.Errorf("%w: dropping batch %s for %s", ErrQueueFull, b.ID, b.LineID)
	}
}

// Start creates the schema and launches the writer goroutine. The writer
// keeps running until Stop; cancelling ctx does not end it.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("recorder is already running")
	}

	if err := r.prepare(ctx); err != nil {
		return fmt.Errorf("preparing schema: %w", err)
	}

	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.isRunning = true

	go r.run(context.WithoutCancel(ctx), r.quit, r.done)

	r.logger.Info("Recorder started", "buffer", cap(r.queue))
	return nil
}

// Stop refuses new batches, writes everything already queued and waits
// for the writer to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	close(r.quit)
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("Recorder stopped")
}

func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

func (r *Recorder) run(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-quit:
			r.flush(ctx)
			return
		case b := <-r.queue:
			r.handle(ctx, b)
		}
	}
}

// flush writes whatever is still queued with a bounded deadline.
func (r *Recorder) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	for {
		select {
		case b := <-r.queue:
			r.handle(ctx, b)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, b pipeline.Batch) {
	start := time.Now()
	if err := r.store(ctx, b); err != nil {
		if r.metrics != nil {
			r.metrics.SinkFailed(sinkName)
		}
		r.logger.Error("Failed to record batch",
			"batch_id", b.ID.String(),
			"line", b.LineID,
			"error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.SinkWritten(sinkName)
	}
	r.logger.Debug("Recorded batch",
		"batch_id", b.ID.String(),
		"line", b.LineID,
		"predictions", len(b.Results),
		"duration", time.Since(start))
}

// write stores one line batch and its snapshot in a single transaction.
func (r *Recorder) write(ctx context.Context, b pipeline.Batch) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if len(b.Results) > 0 {
		if err := copyPredictions(ctx, tx, b); err != nil {
			return err
		}
	}

	s := b.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO line_snapshots
			(batch_id, line_id, arrivals, vehicles, movements, resolved, terminal, unknown, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID.String(), b.LineID, s.Arrivals, s.Vehicles, b.Movements, s.Resolved, s.Terminal, s.Unknown, b.RecordedAt)
	if err != nil {
		return fmt.Errorf("inserting line snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func copyPredictions(ctx context.Context, tx *sql.Tx, b pipeline.Batch) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(db.PredictionsTable,
		"batch_id", "line_id", "station", "vehicle_id", "destination", "next_station",
		"duration_seconds", "duration_text", "duration_source", "reason", "recorded_at"))
	if err != nil {
		return fmt.Errorf("preparing predictions copy: %w", err)
	}
	defer stmt.Close()

	for _, row := range predictionRows(b) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("copying prediction: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flushing predictions copy: %w", err)
	}
	return nil
}

// predictionRows flattens b into COPY rows, in column order.
func predictionRows(b pipeline.Batch) [][]interface{} {
	rows := make([][]interface{}, 0, len(b.Results))
	for _, res := range b.Results {
		var seconds sql.NullInt32
		if res.Duration.Source != models.SourceNone && res.Duration.Source != "" {
			seconds = sql.NullInt32{Int32: int32(res.Duration.Value / time.Second), Valid: true}
		}
		source := res.Duration.Source
		if source == "" {
			source = models.SourceNone
		}
		rows = append(rows, []interface{}{
			b.ID.String(),
			b.LineID,
			res.Station,
			res.VehicleID,
			res.Destination,
			string(res.NextStation),
			seconds,
			res.Duration.String(),
			string(source),
			res.Reason,
			b.RecordedAt,
		})
	}
	return rows
}
