package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/pkg/models"
)

func testRequest(t *testing.T) models.AsyncRequest {
	t.Helper()
	repo, err := models.GitHubRepository("acme", "widgets")
	require.NoError(t, err)
	cr, err := models.PullRequest(7)
	require.NoError(t, err)
	return models.NewAsyncRequest(repo, cr, models.ModeDiff)
}

func TestStatusLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStatusStore(time.Hour)

	require.NoError(t, s.MarkPending(ctx, "req-1"))
	entry, ok, err := s.Get(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StatePending, entry.State)

	require.NoError(t, s.MarkProcessing(ctx, "req-1"))
	result := models.ReviewResult{Summary: "looks fine"}
	require.NoError(t, s.MarkCompleted(ctx, "req-1", result, 250*time.Millisecond))

	entry, ok, err = s.Get(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StateCompleted, entry.State)
	require.Equal(t, "looks fine", entry.Result.Summary)
	require.Equal(t, int64(250), entry.ProcessingTimeMs)
}

func TestStatusTerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStatusStore(time.Hour)

	require.NoError(t, s.MarkPending(ctx, "done"))
	require.NoError(t, s.MarkCompleted(ctx, "done", models.ReviewResult{}, time.Second))
	require.ErrorIs(t, s.MarkProcessing(ctx, "done"), ErrIllegalTransition)
	require.ErrorIs(t, s.MarkFailed(ctx, "done", "nope", time.Second), ErrIllegalTransition)

	require.NoError(t, s.MarkPending(ctx, "dead"))
	require.NoError(t, s.MarkFailed(ctx, "dead", "llm unreachable", time.Second))
	require.ErrorIs(t, s.MarkCompleted(ctx, "dead", models.ReviewResult{}, time.Second), ErrIllegalTransition)

	entry, ok, err := s.Get(ctx, "dead")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StateFailed, entry.State)
	require.Equal(t, "llm unreachable", entry.Error)
}

func TestStatusPendingIsNoOpOnExistingEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStatusStore(time.Hour)

	// worker can outrun the submitter's PENDING write
	require.NoError(t, s.MarkProcessing(ctx, "racy"))
	require.NoError(t, s.MarkPending(ctx, "racy"))

	entry, ok, err := s.Get(ctx, "racy")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StateProcessing, entry.State)
}

func TestStatusExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStatusStore(10 * time.Millisecond)

	require.NoError(t, s.MarkPending(ctx, "short"))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatusEntryFields(t *testing.T) {
	t.Parallel()

	result := models.ReviewResult{Summary: "ok"}
	entry := StatusEntry{
		RequestID:        "req-9",
		State:            models.StateCompleted,
		Result:           &result,
		ProcessingTimeMs: 1200,
	}

	fields, err := entry.Fields()
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", fields["status"])
	require.Equal(t, "1200", fields["processingTimeMs"])
	require.Contains(t, fields["result"], `"summary":"ok"`)
	require.NotContains(t, fields, "error")
}

func TestIdempotencyReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryIdempotencyStore(time.Hour)

	id, replay, err := s.Remember(ctx, "delivery-1", "req-a")
	require.NoError(t, err)
	require.False(t, replay)
	require.Equal(t, "req-a", id)

	id, replay, err = s.Remember(ctx, "delivery-1", "req-b")
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, "req-a", id)

	id, replay, err = s.Remember(ctx, "delivery-2", "req-b")
	require.NoError(t, err)
	require.False(t, replay)
	require.Equal(t, "req-b", id)
}

func TestIdempotencyExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryIdempotencyStore(10 * time.Millisecond)

	_, replay, err := s.Remember(ctx, "delivery", "req-a")
	require.NoError(t, err)
	require.False(t, replay)

	time.Sleep(30 * time.Millisecond)

	id, replay, err := s.Remember(ctx, "delivery", "req-b")
	require.NoError(t, err)
	require.False(t, replay)
	require.Equal(t, "req-b", id)
}

func TestReviewArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archive := NewMemoryReviewArchive()
	request := testRequest(t)

	result := models.ReviewResult{
		Issues: []models.Issue{
			{File: "main.go", StartLine: 12, Severity: models.SeverityMajor, Title: "unchecked error"},
			{File: "main.go", StartLine: 40, Severity: models.SeverityMinor, Title: "shadowed variable"},
		},
	}

	ids, err := archive.SaveReview(ctx, request, result)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	issue, ok, err := archive.GetIssue(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "unchecked error", issue.Issue.Title)
	require.Equal(t, request.RequestID, issue.RequestID)
	require.Equal(t, "acme/widgets", issue.Repository)

	_, ok, err = archive.GetIssue(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
