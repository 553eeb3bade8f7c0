package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tubetrace-engine/internal/common/db"
	"github.com/tubetrace-engine/internal/common/logger"
)

// RecordedTable names a table the recorder writes to.
type RecordedTable string

const (
	Predictions   RecordedTable = RecordedTable(db.PredictionsTable)
	LineSnapshots RecordedTable = RecordedTable(db.LineSnapshotsTable)
)

// idColumn returns the primary key column of t, or "" for an unknown table.
func (t RecordedTable) idColumn() string {
	switch t {
	case Predictions:
		return "prediction_id"
	case LineSnapshots:
		return "snapshot_id"
	default:
		return ""
	}
}

// CleanupResult represents the result of a cleanup operation
type CleanupResult struct {
	Table          RecordedTable
	Cutoff         time.Time
	Batches        int
	RecordsDeleted int64
	Success        bool
	Error          string
}

// Maintenance handles database cleanup and maintenance operations
type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

// New creates a new Maintenance instance
func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:     database,
		logger: logger,
	}
}

// PruneBefore deletes rows of table recorded before cutoff, batchSize rows
// per statement, so long-running deletes never hold a large lock.
func (m *Maintenance) PruneBefore(ctx context.Context, table RecordedTable, cutoff time.Time, batchSize int) CleanupResult {
	result := CleanupResult{Table: table, Cutoff: cutoff}

	idColumn := table.idColumn()
	if idColumn == "" {
		result.Error = fmt.Sprintf("unknown table %q", table)
		return result
	}
	if batchSize <= 0 {
		result.Error = fmt.Sprintf("batch size must be positive, got %d", batchSize)
		return result
	}

	selectIDs := fmt.Sprintf(`SELECT %s FROM %s WHERE recorded_at < $1 ORDER BY %s LIMIT $2`, idColumn, table, idColumn)
	deleteIDs := fmt.Sprintf(`DELETE FROM %s WHERE %s = ANY($1)`, table, idColumn)

	for {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result
		}

		ids, err := m.oldIDs(ctx, selectIDs, cutoff, batchSize)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if len(ids) == 0 {
			break
		}

		res, err := m.db.DB().ExecContext(ctx, deleteIDs, pq.Array(ids))
		if err != nil {
			result.Error = fmt.Sprintf("deleting from %s: %v", table, err)
			return result
		}
		n, err := res.RowsAffected()
		if err != nil {
			result.Error = fmt.Sprintf("getting rows affected: %v", err)
			return result
		}

		result.Batches++
		result.RecordsDeleted += n
		m.logger.Debug("Processed batch",
			"table", table,
			"batch", result.Batches,
			"records_deleted", n)

		if len(ids) < batchSize {
			break
		}
	}

	result.Success = true
	m.logger.Info("Completed cleanup for table",
		"table", table,
		"cutoff", cutoff,
		"total_records_deleted", result.RecordsDeleted,
		"total_batches", result.Batches)
	return result
}

func (m *Maintenance) oldIDs(ctx context.Context, query string, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := m.db.DB().QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting expired rows: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired rows: %w", err)
	}
	return ids, nil
}

// CleanupRecorded prunes every recorded table independently, so one failing
// table does not stop the others.
func (m *Maintenance) CleanupRecorded(ctx context.Context, cutoff time.Time, batchSize int) []CleanupResult {
	m.logger.Info("Starting cleanup of recorded predictions",
		"cutoff", cutoff,
		"batch_size", batchSize)

	results := make([]CleanupResult, 0, 2)
	for _, table := range []RecordedTable{Predictions, LineSnapshots} {
		r := m.PruneBefore(ctx, table, cutoff, batchSize)
		if !r.Success {
			m.logger.Error("Failed to clean up table", "table", table, "error", r.Error)
		}
		results = append(results, r)
	}
	return results
}
