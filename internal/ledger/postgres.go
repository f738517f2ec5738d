package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all processes writing to the same chain.
const advisoryLockKey = int64(7_731_200_917)

// PostgresStore persists the event chain to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection
// pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Init writes the genesis event when the events table is empty. Safe to call
// on every boot; an existing chain is left untouched.
func (s *PostgresStore) Init(ctx context.Context, anchors map[string]string) error {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return fmt.Errorf("%w: count events: %v", ErrStorage, err)
	}
	if n > 0 {
		return nil
	}

	genesis, err := seal(GenesisDraft(anchors, time.Now()), 1, ZeroHash)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}
	if err := s.insert(ctx, s.pool, genesis); err != nil {
		return err
	}
	s.logger.Info("genesis event written", zap.String("hash", genesis.Hash))
	return nil
}

// Append implements Store.
// It acquires a PostgreSQL advisory lock, reads the chain tail, seals the
// new event, and inserts it, all within a single transaction.
func (s *PostgresStore) Append(ctx context.Context, draft *Draft) (*Event, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ErrStorage, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("%w: acquire advisory lock: %v", ErrStorage, err)
	}

	var prevSeq uint64
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1",
	).Scan(&prevSeq, &prevHash); err != nil {
		return nil, fmt.Errorf("%w: read chain tail: %v", ErrStorage, err)
	}

	event, err := seal(draft, prevSeq+1, prevHash)
	if err != nil {
		return nil, fmt.Errorf("seal event: %w", err)
	}
	if err := s.insert(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit append: %v", ErrStorage, err)
	}

	s.logger.Debug("event appended",
		zap.Uint64("seq", event.Sequence),
		zap.String("kind", string(event.Kind)),
		zap.String("task_id", event.TaskID),
	)
	return event, nil
}

// execer is satisfied by both pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insert(ctx context.Context, db execer, e *Event) error {
	if _, err := db.Exec(ctx,
		`INSERT INTO events (seq, task_id, agent_id, event_type, ts, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Sequence, e.TaskID, e.AgentID, string(e.Kind),
		e.Timestamp, e.Payload, e.PrevHash, e.Hash,
	); err != nil {
		return fmt.Errorf("%w: insert event: %v", ErrStorage, err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, seq uint64) (*Event, error) {
	event, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT seq, task_id, agent_id, event_type, ts, payload, prev_hash, hash
		 FROM events WHERE seq = $1`, seq,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sequence %d out of range", seq)
		}
		return nil, fmt.Errorf("%w: get event %d: %v", ErrStorage, seq, err)
	}
	return event, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count events: %v", ErrStorage, err)
	}
	return n, nil
}

// Range implements Store. Rows are streamed in sequence order, so the walk
// stays O(1) in memory regardless of chain length.
func (s *PostgresStore) Range(ctx context.Context, from uint64, fn func(*Event) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, task_id, agent_id, event_type, ts, payload, prev_hash, hash
		 FROM events WHERE seq >= $1 ORDER BY seq ASC`, from,
	)
	if err != nil {
		return fmt.Errorf("%w: query events: %v", ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("%w: scan event row: %v", ErrStorage, err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate events: %v", ErrStorage, err)
	}
	return nil
}

// Verify implements Store. It streams all rows ordered by seq and validates
// the hash chain. O(n) in chain length; reserved for boot time and explicit
// audits, not per-tick scans.
func (s *PostgresStore) Verify(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{Valid: true}
	var prev *Event
	err := s.Range(ctx, 1, func(curr *Event) error {
		report.Checked++
		if !verifyStep(prev, curr) {
			report.Valid = false
			report.FirstBroken = curr.Sequence
			return errChainBroken
		}
		prev = curr
		return nil
	})
	if err != nil && !errors.Is(err, errChainBroken) {
		return nil, err
	}
	return report, nil
}

// errChainBroken stops the Range walk early once the first broken link is
// found; it never escapes Verify.
var errChainBroken = errors.New("chain broken")

// Root implements Store.
func (s *PostgresStore) Root(ctx context.Context) (string, error) {
	var hash string
	if err := s.pool.QueryRow(ctx,
		"SELECT hash FROM events ORDER BY seq DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("%w: get chain root: %v", ErrStorage, err)
	}
	return hash, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	e := &Event{}
	var kind string
	if err := row.Scan(
		&e.Sequence, &e.TaskID, &e.AgentID, &kind,
		&e.Timestamp, &e.Payload, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.Kind = EventKind(kind)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
