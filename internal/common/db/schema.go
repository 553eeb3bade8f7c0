package db

import (
	"context"
	"fmt"
)

// Tables written by the recorder. Neither is read back by the engine.
const (
	PredictionsTable   = "predictions"
	LineSnapshotsTable = "line_snapshots"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS predictions (
		prediction_id    BIGSERIAL PRIMARY KEY,
		batch_id         UUID        NOT NULL,
		line_id          TEXT        NOT NULL,
		station          TEXT        NOT NULL,
		vehicle_id       TEXT        NOT NULL,
		destination      TEXT        NOT NULL,
		next_station     TEXT        NOT NULL,
		duration_seconds INTEGER,
		duration_text    TEXT        NOT NULL,
		duration_source  TEXT        NOT NULL,
		reason           TEXT        NOT NULL,
		recorded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS predictions_recorded_at_idx ON predictions (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS predictions_line_idx ON predictions (line_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS line_snapshots (
		snapshot_id  BIGSERIAL PRIMARY KEY,
		batch_id     UUID        NOT NULL,
		line_id      TEXT        NOT NULL,
		arrivals     INTEGER     NOT NULL,
		vehicles     INTEGER     NOT NULL,
		movements    INTEGER     NOT NULL,
		resolved     INTEGER     NOT NULL,
		terminal     INTEGER     NOT NULL,
		unknown      INTEGER     NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS line_snapshots_recorded_at_idx ON line_snapshots (recorded_at)`,
}

// EnsureSchema creates the recorder tables when they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}

	db.logger.Info("Database schema ready", "tables", []string{PredictionsTable, LineSnapshotsTable})
	return nil
}
