package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewMode selects the pipeline a request is dispatched to.
type ReviewMode string

const (
	ModeDiff    ReviewMode = "DIFF"
	ModeAgentic ReviewMode = "AGENTIC"
)

// CoerceReviewMode maps arbitrary client input onto a mode. Matching is
// case-insensitive and anything unrecognised, including the empty string,
// falls back to DIFF.
func CoerceReviewMode(s string) ReviewMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AGENTIC":
		return ModeAgentic
	default:
		return ModeDiff
	}
}

// AsyncRequest is the unit written to a dispatch stream. RequestID is the
// handle clients poll the status store with.
type AsyncRequest struct {
	RequestID     string          `json:"request_id"`
	Provider      ProviderID      `json:"provider"`
	Repository    RepositoryID    `json:"repository"`
	ChangeRequest ChangeRequestID `json:"change_request"`
	Mode          ReviewMode      `json:"mode"`
	TriggerSource string          `json:"trigger_source,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// NewAsyncRequest mints a request with a fresh uuid and submission time.
func NewAsyncRequest(repo RepositoryID, cr ChangeRequestID, mode ReviewMode) AsyncRequest {
	return AsyncRequest{
		RequestID:     uuid.NewString(),
		Provider:      repo.Provider,
		Repository:    repo,
		ChangeRequest: cr,
		Mode:          mode,
		SubmittedAt:   time.Now().UTC(),
	}
}

// WithTrigger returns a copy carrying the trigger source annotation.
func (r AsyncRequest) WithTrigger(source string) AsyncRequest {
	r.TriggerSource = source
	return r
}

// RequestState is the lifecycle position of an async request.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateProcessing RequestState = "PROCESSING"
	StateCompleted  RequestState = "COMPLETED"
	StateFailed     RequestState = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo enforces the forward-only state machine
// PENDING → PROCESSING → COMPLETED|FAILED.
func (s RequestState) CanTransitionTo(next RequestState) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next == StateCompleted || next == StateFailed
	case StateProcessing:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}
