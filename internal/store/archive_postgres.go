package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/reviewpilot/pkg/models"
)

// PostgresReviewArchive persists completed reviews through database/sql.
// Unlike status entries, archived issues have no TTL.
type PostgresReviewArchive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS review_issues (
	issue_id       TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL,
	repository     TEXT NOT NULL,
	change_request TEXT NOT NULL,
	issue          JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_issues_request_idx ON review_issues (request_id);
`

// OpenPostgresReviewArchive connects with the pq driver and ensures the
// archive table exists.
func OpenPostgresReviewArchive(ctx context.Context, dsn string) (*PostgresReviewArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach archive database: %w", err)
	}
	archive := &PostgresReviewArchive{db: db}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive table: %w", err)
	}
	return archive, nil
}

func (a *PostgresReviewArchive) Close() error {
	return a.db.Close()
}

func (a *PostgresReviewArchive) SaveReview(ctx context.Context, request models.AsyncRequest, result models.ReviewResult) ([]string, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_issues (issue_id, request_id, repository, change_request, issue, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(result.Issues))
	now := time.Now().UTC()
	for _, issue := range result.Issues {
		encoded, err := json.Marshal(issue)
		if err != nil {
			return nil, fmt.Errorf("failed to encode issue: %w", err)
		}
		id := uuid.NewString()
		if _, err := stmt.ExecContext(ctx, id, request.RequestID,
			request.Repository.DisplayName(), request.ChangeRequest.String(), encoded, now); err != nil {
			return nil, fmt.Errorf("failed to archive issue: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *PostgresReviewArchive) GetIssue(ctx context.Context, issueID string) (ArchivedIssue, bool, error) {
	var (
		archived ArchivedIssue
		encoded  []byte
	)
	row := a.db.QueryRowContext(ctx, `
		SELECT issue_id, request_id, repository, change_request, issue, created_at
		FROM review_issues WHERE issue_id = $1`, issueID)
	err := row.Scan(&archived.IssueID, &archived.RequestID, &archived.Repository,
		&archived.ChangeRequest, &encoded, &archived.CreatedAt)
	if err == sql.ErrNoRows {
		return ArchivedIssue{}, false, nil
	}
	if err != nil {
		return ArchivedIssue{}, false, err
	}
	if err := json.Unmarshal(encoded, &archived.Issue); err != nil {
		return ArchivedIssue{}, false, fmt.Errorf("failed to decode archived issue: %w", err)
	}
	return archived, true, nil
}
