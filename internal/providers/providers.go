// Package providers holds the SCM adapter contract and its GitHub and GitLab
// implementations. Adapters translate between the provider-neutral review
// domain and each host's REST API, including the position math for inline
// diff comments.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewpilot/pkg/models"
)

// ChangeRequestMeta is the metadata an adapter returns alongside a diff.
// The three SHAs form the position reference inline comments anchor against.
type ChangeRequestMeta struct {
	ID           models.ChangeRequestID `json:"id"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Author       string                 `json:"author"`
	State        string                 `json:"state"`
	SourceBranch string                 `json:"source_branch"`
	TargetBranch string                 `json:"target_branch"`
	Labels       []string               `json:"labels,omitempty"`
	BaseSHA      string                 `json:"base_sha"`
	HeadSHA      string                 `json:"head_sha"`
	StartSHA     string                 `json:"start_sha,omitempty"`
	WebURL       string                 `json:"web_url,omitempty"`
	Commits      []Commit               `json:"commits,omitempty"`
}

// DiffBundle is everything GetDiff learns about a change request.
type DiffBundle struct {
	Document models.DiffDocument
	Raw      string
	Meta     ChangeRequestMeta
}

// ChangeRequestSummary is one row of an open change-request listing.
type ChangeRequestSummary struct {
	ID           models.ChangeRequestID `json:"id"`
	Title        string                 `json:"title"`
	Author       string                 `json:"author"`
	State        string                 `json:"state"`
	SourceBranch string                 `json:"source_branch"`
	TargetBranch string                 `json:"target_branch"`
	WebURL       string                 `json:"web_url,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Repository is plain host-side repository metadata.
type Repository struct {
	ID            models.RepositoryID `json:"id"`
	Description   string              `json:"description,omitempty"`
	DefaultBranch string              `json:"default_branch"`
	WebURL        string              `json:"web_url,omitempty"`
	Private       bool                `json:"private"`
}

// Commit is one entry of a commit listing.
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	Author     string    `json:"author"`
	AuthoredAt time.Time `json:"authored_at"`
}

// FindingError records one finding whose inline comment could not be
// posted. Finding-level failures never abort the batch.
type FindingError struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Title string `json:"title"`
	Err   error  `json:"-"`
}

// PublishReport summarises one PublishReview call.
type PublishReport struct {
	InlineComments   int            `json:"inline_comments"`
	FallbackFindings int            `json:"fallback_findings"`
	Errors           []FindingError `json:"errors,omitempty"`
}

// Client is the operation set every SCM adapter implements. One client per
// provider, safe for concurrent use; all calls take a context and suspend on
// network I/O only.
type Client interface {
	Provider() models.ProviderID

	// GetDiff fetches the unified diff and change-request metadata.
	GetDiff(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (*DiffBundle, error)

	// PublishReview validates each finding against the current diff, posts
	// anchored findings as inline comments in issue order, and collects the
	// rest into a single fallback summary comment.
	PublishReview(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, result models.ReviewResult) (*PublishReport, error)

	// PublishSummaryComment posts one top-level comment.
	PublishSummaryComment(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, body string) error

	IsChangeRequestOpen(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (bool, error)

	GetRepository(ctx context.Context, repo models.RepositoryID) (*Repository, error)
	GetAllRepositories(ctx context.Context) ([]Repository, error)
	GetOpenChangeRequests(ctx context.Context, repo models.RepositoryID) ([]ChangeRequestSummary, error)

	// GetFileContent returns the full file at the repository default branch.
	GetFileContent(ctx context.Context, repo models.RepositoryID, path string) (string, error)

	GetCommitsFor(ctx context.Context, repo models.RepositoryID, path string, maxResults int) ([]Commit, error)
	GetCommitsSince(ctx context.Context, repo models.RepositoryID, path string, since time.Time, maxResults int) ([]Commit, error)
}

// Registry resolves the adapter for a provider.
type Registry map[models.ProviderID]Client

// For returns the client registered for provider.
func (r Registry) For(provider models.ProviderID) (Client, error) {
	client, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("no SCM client configured for provider %q", provider)
	}
	return client, nil
}

// ErrorKind classifies an SCM failure.
type ErrorKind string

const (
	KindAuth        ErrorKind = "AUTH"
	KindNotFound    ErrorKind = "NOT_FOUND"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindMalformed   ErrorKind = "MALFORMED"
	KindTransport   ErrorKind = "TRANSPORT"
)

// Error is the typed failure every adapter operation surfaces.
type Error struct {
	Kind     ErrorKind
	Provider models.ProviderID
	Op       string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// classifyStatus maps an HTTP status to an error kind. 401 and 403 both mean
// the token is no good for the operation.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status >= 400 && status < 500:
		return KindMalformed
	default:
		return KindTransport
	}
}
