package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewpilot/pkg/models"
)

// ArchivedIssue is one persisted review finding, addressable by its own id
// through the issue lookup endpoint.
type ArchivedIssue struct {
	IssueID       string       `json:"issue_id"`
	RequestID     string       `json:"request_id"`
	Repository    string       `json:"repository"`
	ChangeRequest string       `json:"change_request"`
	Issue         models.Issue `json:"issue"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ReviewArchive persists completed reviews so individual findings remain
// addressable after the status entry's TTL lapses.
type ReviewArchive interface {
	// SaveReview stores the result's issues under fresh issue ids and
	// returns them in issue order.
	SaveReview(ctx context.Context, request models.AsyncRequest, result models.ReviewResult) ([]string, error)

	// GetIssue returns an archived issue and whether it exists.
	GetIssue(ctx context.Context, issueID string) (ArchivedIssue, bool, error)
}

// MemoryReviewArchive is the in-process ReviewArchive.
type MemoryReviewArchive struct {
	mu     sync.RWMutex
	issues map[string]ArchivedIssue
}

func NewMemoryReviewArchive() *MemoryReviewArchive {
	return &MemoryReviewArchive{issues: make(map[string]ArchivedIssue)}
}

func (a *MemoryReviewArchive) SaveReview(_ context.Context, request models.AsyncRequest, result models.ReviewResult) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(result.Issues))
	now := time.Now().UTC()
	for _, issue := range result.Issues {
		id := uuid.NewString()
		a.issues[id] = ArchivedIssue{
			IssueID:       id,
			RequestID:     request.RequestID,
			Repository:    request.Repository.DisplayName(),
			ChangeRequest: request.ChangeRequest.String(),
			Issue:         issue,
			CreatedAt:     now,
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *MemoryReviewArchive) GetIssue(_ context.Context, issueID string) (ArchivedIssue, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	issue, ok := a.issues[issueID]
	return issue, ok, nil
}
