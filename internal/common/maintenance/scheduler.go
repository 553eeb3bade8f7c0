package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tubetrace-engine/internal/common/db"
	"github.com/tubetrace-engine/internal/common/logger"
)

// DeletionMetrics receives deleted row counts. *metrics.Collector satisfies it.
type DeletionMetrics interface {
	RowsDeleted(table string, n int64)
}

// CleanupScheduler handles periodic maintenance tasks
type CleanupScheduler struct {
	maintenance *Maintenance
	logger      logger.Logger
	metrics     DeletionMetrics
	config      SchedulerConfig
	now         func() time.Time
	isRunning   bool
	lastRun     time.Time
	mu          sync.RWMutex
	cancelFn    context.CancelFunc
}

// SchedulerConfig contains configuration for the cleanup scheduler
type SchedulerConfig struct {
	Interval     time.Duration // How often to prune
	Retention    time.Duration // How long recorded rows are kept
	BatchSize    int           // Rows per delete statement
	InitialDelay time.Duration // Wait before the first run
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     time.Hour,
		Retention:    7 * 24 * time.Hour,
		BatchSize:    5000,
		InitialDelay: time.Minute,
	}
}

// NewCleanupScheduler creates a new cleanup scheduler
func NewCleanupScheduler(database *db.DB, logger logger.Logger, m DeletionMetrics, config SchedulerConfig) *CleanupScheduler {
	return &CleanupScheduler{
		maintenance: New(database, logger),
		logger:      logger,
		metrics:     m,
		config:      config,
		now:         time.Now,
	}
}

// Start begins the cleanup scheduling
func (s *CleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cleanup scheduler is already running")
	}
	if s.config.Interval <= 0 || s.config.Retention <= 0 {
		return fmt.Errorf("cleanup interval and retention must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.isRunning = true

	s.logger.Info("Starting cleanup scheduler",
		"interval", s.config.Interval,
		"retention", s.config.Retention,
		"batch_size", s.config.BatchSize)

	go s.cleanupLoop(ctx)

	return nil
}

// Stop stops the cleanup scheduler
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.logger.Info("Stopping cleanup scheduler")

	if s.cancelFn != nil {
		s.cancelFn()
	}

	s.isRunning = false
	s.logger.Info("Cleanup scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *CleanupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *CleanupScheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	initialDelay := time.NewTimer(s.config.InitialDelay)
	defer initialDelay.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup loop stopping")
			return

		case <-initialDelay.C:
			s.performCleanup(ctx)

		case <-ticker.C:
			s.performCleanup(ctx)
		}
	}
}

// Cutoff is the oldest recorded_at kept at now.
func (s *CleanupScheduler) Cutoff(now time.Time) time.Time {
	return now.Add(-s.config.Retention).UTC()
}

func (s *CleanupScheduler) performCleanup(ctx context.Context) []CleanupResult {
	start := s.now()
	results := s.maintenance.CleanupRecorded(ctx, s.Cutoff(start), s.config.BatchSize)

	var deleted int64
	for _, r := range results {
		deleted += r.RecordsDeleted
		if s.metrics != nil && r.RecordsDeleted > 0 {
			s.metrics.RowsDeleted(string(r.Table), r.RecordsDeleted)
		}
	}

	s.mu.Lock()
	s.lastRun = start
	s.mu.Unlock()

	s.logger.Info("Recorded data cleanup completed",
		"records_deleted", deleted,
		"duration", s.now().Sub(start))
	return results
}

// TriggerCleanup runs one cleanup immediately (for manual use)
func (s *CleanupScheduler) TriggerCleanup(ctx context.Context) error {
	s.logger.Info("Manual cleanup triggered")
	for _, r := range s.performCleanup(ctx) {
		if !r.Success {
			return fmt.Errorf("cleaning %s: %s", r.Table, r.Error)
		}
	}
	return nil
}

// GetStatus returns the current status of the cleanup scheduler
func (s *CleanupScheduler) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]interface{}{
		"is_running": s.isRunning,
		"interval":   s.config.Interval.String(),
		"retention":  s.config.Retention.String(),
		"batch_size": s.config.BatchSize,
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.UTC().Format(time.RFC3339)
	}
	return status
}
