// Package gitlab implements the SCM adapter for GitLab merge requests.
//
// The official client handles construction, project discovery, raw files and
// commit listings; merge-request reads and discussion posting go through a
// custom HTTP client so we control the exact endpoints and the position
// parameters inline comments depend on.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/pkg/models"
)

const defaultBaseURL = "https://gitlab.com"

// Client talks to one GitLab instance. Safe for concurrent use.
type Client struct {
	glab    *gogitlab.Client
	rest    *providers.RESTClient
	apiBase string
	token   string
}

// New builds a client for the instance at baseURL (empty means gitlab.com)
// authenticating with a personal or project access token.
func New(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	glab, err := gogitlab.NewClient(token, gogitlab.WithBaseURL(baseURL+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("failed to construct gitlab client: %w", err)
	}

	c := &Client{
		glab:    glab,
		apiBase: baseURL + "/api/v4",
		token:   token,
	}
	c.rest = providers.NewRESTClient(models.ProviderGitLab, func(_ context.Context, req *http.Request) error {
		req.Header.Set("PRIVATE-TOKEN", c.token)
		return nil
	})
	return c, nil
}

func (c *Client) Provider() models.ProviderID {
	return models.ProviderGitLab
}

// projectRef validates the repository variant and returns the URL-safe
// project reference: a numeric id or a path with slashes escaped to %2F.
func projectRef(repo models.RepositoryID) (string, error) {
	if repo.Provider != models.ProviderGitLab || repo.Project == "" {
		return "", fmt.Errorf("repository %q is not a GitLab project id", repo.DisplayName())
	}
	return url.PathEscape(repo.Project), nil
}

type mergeRequestResponse struct {
	IID         int    `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	Author      struct {
		Username string `json:"username"`
	} `json:"author"`
	Labels       []string  `json:"labels"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	WebURL       string    `json:"web_url"`
	UpdatedAt    time.Time `json:"updated_at"`
	DiffRefs     struct {
		BaseSHA  string `json:"base_sha"`
		HeadSHA  string `json:"head_sha"`
		StartSHA string `json:"start_sha"`
	} `json:"diff_refs"`
}

type changeEntry struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

type changesResponse struct {
	mergeRequestResponse
	Changes []changeEntry `json:"changes"`
}

type mrCommitResponse struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetDiff fetches the merge request with its changes and commits, stitches
// the per-file diffs back into one unified document, and records the
// diff_refs SHAs inline comments will position against.
func (c *Client) GetDiff(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (*providers.DiffBundle, error) {
	ref, err := projectRef(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "GetDiff", Cause: err}
	}

	var changes changesResponse
	changesURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/changes", c.apiBase, ref, cr.Number)
	if err := c.rest.GetJSON(ctx, "GetDiff", changesURL, &changes); err != nil {
		return nil, err
	}

	var commits []mrCommitResponse
	commitsURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/commits", c.apiBase, ref, cr.Number)
	if err := c.rest.GetJSON(ctx, "GetDiff", commitsURL, &commits); err != nil {
		return nil, err
	}

	raw := stitchUnifiedDiff(changes)
	doc, err := diff.Parse(raw)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "GetDiff", Cause: err}
	}

	meta := providers.ChangeRequestMeta{
		ID:           cr,
		Title:        changes.Title,
		Description:  changes.Description,
		Author:       changes.Author.Username,
		State:        changes.State,
		SourceBranch: changes.SourceBranch,
		TargetBranch: changes.TargetBranch,
		Labels:       changes.Labels,
		BaseSHA:      changes.DiffRefs.BaseSHA,
		HeadSHA:      changes.DiffRefs.HeadSHA,
		StartSHA:     changes.DiffRefs.StartSHA,
		WebURL:       changes.WebURL,
	}
	for _, commit := range commits {
		meta.Commits = append(meta.Commits, providers.Commit{
			SHA:        commit.ID,
			Message:    commit.Message,
			Author:     commit.AuthorName,
			AuthoredAt: commit.CreatedAt,
		})
	}

	log.Debug().
		Str("project", repo.DisplayName()).
		Str("mr", cr.String()).
		Int("files", len(doc.Modifications)).
		Msg("Fetched merge request diff")

	return &providers.DiffBundle{Document: doc, Raw: raw, Meta: meta}, nil
}

// stitchUnifiedDiff rebuilds a git-style unified diff from GitLab's per-file
// change entries, so one parser serves both providers.
func stitchUnifiedDiff(changes changesResponse) string {
	var b strings.Builder
	for _, change := range changes.Changes {
		oldLabel := "a/" + change.OldPath
		newLabel := "b/" + change.NewPath
		if change.NewFile {
			oldLabel = models.DevNull
		}
		if change.DeletedFile {
			newLabel = models.DevNull
		}
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", change.OldPath, change.NewPath)
		fmt.Fprintf(&b, "--- %s\n", oldLabel)
		fmt.Fprintf(&b, "+++ %s\n", newLabel)
		b.WriteString(change.Diff)
		if !strings.HasSuffix(change.Diff, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (c *Client) IsChangeRequestOpen(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (bool, error) {
	ref, err := projectRef(repo)
	if err != nil {
		return false, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "IsChangeRequestOpen", Cause: err}
	}
	var mr mergeRequestResponse
	mrURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d", c.apiBase, ref, cr.Number)
	if err := c.rest.GetJSON(ctx, "IsChangeRequestOpen", mrURL, &mr); err != nil {
		return false, err
	}
	return mr.State == "opened", nil
}

func (c *Client) GetRepository(ctx context.Context, repo models.RepositoryID) (*providers.Repository, error) {
	if repo.Provider != models.ProviderGitLab || repo.Project == "" {
		return nil, &providers.Error{
			Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "GetRepository",
			Cause: fmt.Errorf("repository %q is not a GitLab project id", repo.DisplayName()),
		}
	}
	project, _, err := c.glab.Projects.GetProject(repo.Project, nil, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapClientError("GetRepository", err)
	}
	converted := convertProject(project)
	return &converted, nil
}

func (c *Client) GetAllRepositories(ctx context.Context) ([]providers.Repository, error) {
	projects, _, err := c.glab.Projects.ListProjects(&gogitlab.ListProjectsOptions{
		Membership:  gogitlab.Ptr(true),
		ListOptions: gogitlab.ListOptions{PerPage: 100},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapClientError("GetAllRepositories", err)
	}

	out := make([]providers.Repository, 0, len(projects))
	for _, project := range projects {
		out = append(out, convertProject(project))
	}
	return out, nil
}

func (c *Client) GetOpenChangeRequests(ctx context.Context, repo models.RepositoryID) ([]providers.ChangeRequestSummary, error) {
	ref, err := projectRef(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "GetOpenChangeRequests", Cause: err}
	}
	var mrs []mergeRequestResponse
	listURL := fmt.Sprintf("%s/projects/%s/merge_requests?state=opened&per_page=100", c.apiBase, ref)
	if err := c.rest.GetJSON(ctx, "GetOpenChangeRequests", listURL, &mrs); err != nil {
		return nil, err
	}

	out := make([]providers.ChangeRequestSummary, 0, len(mrs))
	for _, mr := range mrs {
		id, err := models.MergeRequest(mr.IID)
		if err != nil {
			continue
		}
		out = append(out, providers.ChangeRequestSummary{
			ID:           id,
			Title:        mr.Title,
			Author:       mr.Author.Username,
			State:        mr.State,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			WebURL:       mr.WebURL,
			UpdatedAt:    mr.UpdatedAt,
		})
	}
	return out, nil
}

// GetFileContent reads path at the project default branch.
func (c *Client) GetFileContent(ctx context.Context, repo models.RepositoryID, path string) (string, error) {
	project, err := c.GetRepository(ctx, repo)
	if err != nil {
		return "", err
	}
	raw, _, err := c.glab.RepositoryFiles.GetRawFile(repo.Project, path, &gogitlab.GetRawFileOptions{
		Ref: gogitlab.Ptr(project.DefaultBranch),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return "", wrapClientError("GetFileContent", err)
	}
	return string(raw), nil
}

func (c *Client) GetCommitsFor(ctx context.Context, repo models.RepositoryID, path string, maxResults int) ([]providers.Commit, error) {
	return c.listCommits(ctx, "GetCommitsFor", repo, path, time.Time{}, maxResults)
}

func (c *Client) GetCommitsSince(ctx context.Context, repo models.RepositoryID, path string, since time.Time, maxResults int) ([]providers.Commit, error) {
	return c.listCommits(ctx, "GetCommitsSince", repo, path, since, maxResults)
}

func (c *Client) listCommits(ctx context.Context, op string, repo models.RepositoryID, path string, since time.Time, maxResults int) ([]providers.Commit, error) {
	if repo.Provider != models.ProviderGitLab || repo.Project == "" {
		return nil, &providers.Error{
			Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: op,
			Cause: fmt.Errorf("repository %q is not a GitLab project id", repo.DisplayName()),
		}
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}

	opts := &gogitlab.ListCommitsOptions{
		ListOptions: gogitlab.ListOptions{PerPage: int64(maxResults)},
	}
	if path != "" {
		opts.Path = gogitlab.Ptr(path)
	}
	if !since.IsZero() {
		opts.Since = gogitlab.Ptr(since.UTC())
	}

	commits, _, err := c.glab.Commits.ListCommits(repo.Project, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapClientError(op, err)
	}

	out := make([]providers.Commit, 0, len(commits))
	for _, commit := range commits {
		converted := providers.Commit{
			SHA:     commit.ID,
			Message: commit.Message,
			Author:  commit.AuthorName,
		}
		if commit.AuthoredDate != nil {
			converted.AuthoredAt = *commit.AuthoredDate
		}
		out = append(out, converted)
	}
	return out, nil
}

func convertProject(project *gogitlab.Project) providers.Repository {
	return providers.Repository{
		ID: models.RepositoryID{
			Provider: models.ProviderGitLab,
			Project:  project.PathWithNamespace,
		},
		Description:   project.Description,
		DefaultBranch: project.DefaultBranch,
		WebURL:        project.WebURL,
		Private:       project.Visibility == gogitlab.PrivateVisibility,
	}
}

// wrapClientError classifies failures coming out of the official client.
func wrapClientError(op string, err error) error {
	kind := providers.KindTransport
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		kind = providers.KindAuth
	case strings.Contains(msg, "404"):
		kind = providers.KindNotFound
	case strings.Contains(msg, "429"):
		kind = providers.KindRateLimited
	}
	return &providers.Error{Kind: kind, Provider: models.ProviderGitLab, Op: op, Cause: err}
}
