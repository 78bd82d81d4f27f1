package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewpilot/pkg/models"
)

// PostgresStatusStore keeps status entries in the same pool River runs on.
// The transition guard lives in the UPDATE predicate so concurrent writers
// cannot move a terminal entry.
type PostgresStatusStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

const statusSchema = `
CREATE TABLE IF NOT EXISTS review_request_status (
	request_id         TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	result             JSONB,
	error              TEXT,
	processing_time_ms BIGINT,
	expires_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_request_status_expires_idx
	ON review_request_status (expires_at);
`

func NewPostgresStatusStore(ctx context.Context, pool *pgxpool.Pool, ttl time.Duration) (*PostgresStatusStore, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if _, err := pool.Exec(ctx, statusSchema); err != nil {
		return nil, fmt.Errorf("failed to create status table: %w", err)
	}
	return &PostgresStatusStore{pool: pool, ttl: ttl}, nil
}

func (s *PostgresStatusStore) MarkPending(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO review_request_status (request_id, status, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO NOTHING`,
		requestID, string(models.StatePending), time.Now().Add(s.ttl))
	return err
}

func (s *PostgresStatusStore) MarkProcessing(ctx context.Context, requestID string) error {
	return s.transition(ctx, requestID, StatusEntry{State: models.StateProcessing})
}

func (s *PostgresStatusStore) MarkCompleted(ctx context.Context, requestID string, result models.ReviewResult, elapsed time.Duration) error {
	return s.transition(ctx, requestID, StatusEntry{
		State:            models.StateCompleted,
		Result:           &result,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
}

func (s *PostgresStatusStore) MarkFailed(ctx context.Context, requestID string, message string, elapsed time.Duration) error {
	return s.transition(ctx, requestID, StatusEntry{
		State:            models.StateFailed,
		Error:            message,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
}

func (s *PostgresStatusStore) transition(ctx context.Context, requestID string, next StatusEntry) error {
	var resultJSON []byte
	if next.Result != nil {
		var err error
		resultJSON, err = json.Marshal(next.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	// allowed predecessors per target state; an absent row also accepts the
	// write (worker outran the PENDING insert)
	predecessors := map[models.RequestState][]string{
		models.StateProcessing: {string(models.StatePending)},
		models.StateCompleted:  {string(models.StatePending), string(models.StateProcessing)},
		models.StateFailed:     {string(models.StatePending), string(models.StateProcessing)},
	}[next.State]

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO review_request_status (request_id, status, result, error, processing_time_ms, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO UPDATE
		SET status = EXCLUDED.status,
		    result = EXCLUDED.result,
		    error = EXCLUDED.error,
		    processing_time_ms = EXCLUDED.processing_time_ms,
		    expires_at = EXCLUDED.expires_at
		WHERE review_request_status.status = ANY($7)
		   OR review_request_status.expires_at < now()`,
		requestID, string(next.State), resultJSON, nullable(next.Error),
		next.ProcessingTimeMs, time.Now().Add(s.ttl), predecessors)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request %s is already terminal", ErrIllegalTransition, requestID)
	}
	return nil
}

func (s *PostgresStatusStore) Get(ctx context.Context, requestID string) (StatusEntry, bool, error) {
	var (
		entry      StatusEntry
		resultJSON []byte
		errText    *string
		elapsed    *int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT status, result, error, processing_time_ms
		FROM review_request_status
		WHERE request_id = $1 AND expires_at >= now()`, requestID)
	if err := row.Scan(&entry.State, &resultJSON, &errText, &elapsed); err != nil {
		if err == pgx.ErrNoRows {
			return StatusEntry{}, false, nil
		}
		return StatusEntry{}, false, err
	}

	entry.RequestID = requestID
	if len(resultJSON) > 0 {
		var result models.ReviewResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return StatusEntry{}, false, fmt.Errorf("failed to decode stored result: %w", err)
		}
		entry.Result = &result
	}
	if errText != nil {
		entry.Error = *errText
	}
	if elapsed != nil {
		entry.ProcessingTimeMs = *elapsed
	}
	return entry, true, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
