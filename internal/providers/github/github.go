// Package github implements the SCM adapter for GitHub pull requests over
// the REST v3 API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/pkg/models"
)

const defaultBaseURL = "https://api.github.com"

// Client talks to one GitHub instance. Safe for concurrent use.
type Client struct {
	rest    *providers.RESTClient
	baseURL string
	tokens  TokenSource
}

// New builds a client against baseURL (empty means github.com) authenticating
// with tokens: a static PAT or an App installation token source.
func New(baseURL string, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{baseURL: baseURL, tokens: tokens}
	c.rest = providers.NewRESTClient(models.ProviderGitHub, c.authenticate)
	return c
}

func (c *Client) authenticate(ctx context.Context, req *http.Request) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain GitHub token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/vnd.github+json")
	}
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return nil
}

func (c *Client) Provider() models.ProviderID {
	return models.ProviderGitHub
}

// repoPath validates the repository variant and returns "owner/repo".
func repoPath(repo models.RepositoryID) (string, error) {
	if repo.Provider != models.ProviderGitHub || repo.Owner == "" || repo.Name == "" {
		return "", fmt.Errorf("repository %q is not a GitHub owner/repo id", repo.DisplayName())
	}
	return url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name), nil
}

type pullResponse struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Head struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"base"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

type commitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// GetDiff fetches the pull request metadata, its raw unified diff, and its
// commits, then parses the diff into a document.
func (c *Client) GetDiff(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (*providers.DiffBundle, error) {
	path, err := repoPath(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "GetDiff", Cause: err}
	}
	pullURL := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, path, cr.Number)

	var pull pullResponse
	if err := c.rest.GetJSON(ctx, "GetDiff", pullURL, &pull); err != nil {
		return nil, err
	}

	raw, _, err := c.rest.Do(ctx, "GetDiff", http.MethodGet, pullURL, nil, "application/vnd.github.v3.diff")
	if err != nil {
		return nil, err
	}

	var commits []commitResponse
	if err := c.rest.GetJSON(ctx, "GetDiff", pullURL+"/commits?per_page=100", &commits); err != nil {
		return nil, err
	}

	doc, err := diff.Parse(string(raw))
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "GetDiff", Cause: err}
	}

	meta := providers.ChangeRequestMeta{
		ID:           cr,
		Title:        pull.Title,
		Description:  pull.Body,
		Author:       pull.User.Login,
		State:        pull.State,
		SourceBranch: pull.Head.Ref,
		TargetBranch: pull.Base.Ref,
		BaseSHA:      pull.Base.SHA,
		HeadSHA:      pull.Head.SHA,
		WebURL:       pull.HTMLURL,
	}
	for _, l := range pull.Labels {
		meta.Labels = append(meta.Labels, l.Name)
	}
	for _, commit := range commits {
		meta.Commits = append(meta.Commits, convertCommit(commit))
	}

	log.Debug().
		Str("repo", repo.DisplayName()).
		Str("pr", cr.String()).
		Int("files", len(doc.Modifications)).
		Msg("Fetched pull request diff")

	return &providers.DiffBundle{Document: doc, Raw: string(raw), Meta: meta}, nil
}

func (c *Client) IsChangeRequestOpen(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID) (bool, error) {
	path, err := repoPath(repo)
	if err != nil {
		return false, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "IsChangeRequestOpen", Cause: err}
	}
	var pull pullResponse
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, path, cr.Number)
	if err := c.rest.GetJSON(ctx, "IsChangeRequestOpen", url, &pull); err != nil {
		return false, err
	}
	return pull.State == "open", nil
}

type repoResponse struct {
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (c *Client) GetRepository(ctx context.Context, repo models.RepositoryID) (*providers.Repository, error) {
	path, err := repoPath(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "GetRepository", Cause: err}
	}
	var r repoResponse
	if err := c.rest.GetJSON(ctx, "GetRepository", fmt.Sprintf("%s/repos/%s", c.baseURL, path), &r); err != nil {
		return nil, err
	}
	converted := convertRepo(r)
	return &converted, nil
}

func (c *Client) GetAllRepositories(ctx context.Context) ([]providers.Repository, error) {
	var raw []repoResponse
	if err := c.rest.GetJSON(ctx, "GetAllRepositories", c.baseURL+"/user/repos?per_page=100", &raw); err != nil {
		return nil, err
	}
	out := make([]providers.Repository, 0, len(raw))
	for _, r := range raw {
		out = append(out, convertRepo(r))
	}
	return out, nil
}

func (c *Client) GetOpenChangeRequests(ctx context.Context, repo models.RepositoryID) ([]providers.ChangeRequestSummary, error) {
	path, err := repoPath(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "GetOpenChangeRequests", Cause: err}
	}
	var pulls []pullResponse
	url := fmt.Sprintf("%s/repos/%s/pulls?state=open&per_page=100", c.baseURL, path)
	if err := c.rest.GetJSON(ctx, "GetOpenChangeRequests", url, &pulls); err != nil {
		return nil, err
	}

	out := make([]providers.ChangeRequestSummary, 0, len(pulls))
	for _, pull := range pulls {
		id, err := models.PullRequest(pull.Number)
		if err != nil {
			continue
		}
		out = append(out, providers.ChangeRequestSummary{
			ID:           id,
			Title:        pull.Title,
			Author:       pull.User.Login,
			State:        pull.State,
			SourceBranch: pull.Head.Ref,
			TargetBranch: pull.Base.Ref,
			WebURL:       pull.HTMLURL,
			UpdatedAt:    pull.UpdatedAt,
		})
	}
	return out, nil
}

// GetFileContent reads path at the repository default branch.
func (c *Client) GetFileContent(ctx context.Context, repo models.RepositoryID, path string) (string, error) {
	repoSegment, err := repoPath(repo)
	if err != nil {
		return "", &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "GetFileContent", Cause: err}
	}
	// without a ref parameter the contents API serves the default branch
	url := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, repoSegment, escapePath(path))
	body, _, err := c.rest.Do(ctx, "GetFileContent", http.MethodGet, url, nil, "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) GetCommitsFor(ctx context.Context, repo models.RepositoryID, path string, maxResults int) ([]providers.Commit, error) {
	return c.listCommits(ctx, "GetCommitsFor", repo, path, time.Time{}, maxResults)
}

func (c *Client) GetCommitsSince(ctx context.Context, repo models.RepositoryID, path string, since time.Time, maxResults int) ([]providers.Commit, error) {
	return c.listCommits(ctx, "GetCommitsSince", repo, path, since, maxResults)
}

func (c *Client) listCommits(ctx context.Context, op string, repo models.RepositoryID, path string, since time.Time, maxResults int) ([]providers.Commit, error) {
	repoSegment, err := repoPath(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: op, Cause: err}
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}

	query := url.Values{}
	query.Set("per_page", fmt.Sprintf("%d", maxResults))
	if path != "" {
		query.Set("path", path)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	var raw []commitResponse
	commitsURL := fmt.Sprintf("%s/repos/%s/commits?%s", c.baseURL, repoSegment, query.Encode())
	if err := c.rest.GetJSON(ctx, op, commitsURL, &raw); err != nil {
		return nil, err
	}

	out := make([]providers.Commit, 0, len(raw))
	for _, commit := range raw {
		out = append(out, convertCommit(commit))
	}
	return out, nil
}

func convertRepo(r repoResponse) providers.Repository {
	return providers.Repository{
		ID: models.RepositoryID{
			Provider: models.ProviderGitHub,
			Owner:    r.Owner.Login,
			Name:     r.Name,
		},
		Description:   r.Description,
		DefaultBranch: r.DefaultBranch,
		WebURL:        r.HTMLURL,
		Private:       r.Private,
	}
}

func convertCommit(c commitResponse) providers.Commit {
	authoredAt, _ := time.Parse(time.RFC3339, c.Commit.Author.Date)
	return providers.Commit{
		SHA:        c.SHA,
		Message:    c.Commit.Message,
		Author:     c.Commit.Author.Name,
		AuthoredAt: authoredAt,
	}
}

// escapePath escapes each segment of a repository file path, keeping the
// slashes that separate directories.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
