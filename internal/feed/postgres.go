package feed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresFeed persists the violation feed to a PostgreSQL database.
// It implements the Recorder interface.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresFeed creates a PostgresFeed backed by the given connection pool.
func NewPostgresFeed(pool *pgxpool.Pool, logger *zap.Logger) *PostgresFeed {
	return &PostgresFeed{pool: pool, logger: logger}
}

// Add implements Recorder.
func (f *PostgresFeed) Add(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, err := f.pool.Exec(ctx,
		`INSERT INTO violations (id, seq, task_id, agent_id, severity, invariant, message, event_index, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Sequence, rec.TaskID, rec.AgentID,
		rec.Severity, rec.Invariant, rec.Message, rec.EventIndex, rec.DetectedAt,
	); err != nil {
		return fmt.Errorf("insert violation record: %w", err)
	}
	f.logger.Debug("violation recorded",
		zap.String("invariant", rec.Invariant),
		zap.String("severity", rec.Severity),
		zap.String("task_id", rec.TaskID),
	)
	return nil
}

// List implements Recorder.
func (f *PostgresFeed) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := f.pool.Query(ctx,
		`SELECT id, seq, task_id, agent_id, severity, invariant, message, event_index, detected_at
		 FROM violations ORDER BY detected_at DESC, seq DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(
			&rec.ID, &rec.Sequence, &rec.TaskID, &rec.AgentID,
			&rec.Severity, &rec.Invariant, &rec.Message, &rec.EventIndex, &rec.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan violation row: %w", err)
		}
		rec.DetectedAt = rec.DetectedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count implements Recorder.
func (f *PostgresFeed) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := f.pool.QueryRow(ctx, "SELECT COUNT(*) FROM violations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}
