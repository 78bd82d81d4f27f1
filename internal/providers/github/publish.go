package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/pkg/models"
)

// PublishReview splits the findings against the current diff, posts each
// anchored finding as a pull-request review comment on the RIGHT side of the
// head commit, and collects the rest into one fallback summary comment.
// Finding-level failures are recorded and never abort the batch.
func (c *Client) PublishReview(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, result models.ReviewResult) (*providers.PublishReport, error) {
	bundle, err := c.GetDiff(ctx, repo, cr)
	if err != nil {
		return nil, err
	}

	path, err := repoPath(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "PublishReview", Cause: err}
	}
	commentsURL := fmt.Sprintf("%s/repos/%s/pulls/%d/comments", c.baseURL, path, cr.Number)

	split := diff.Split(bundle.Document, result)
	report := &providers.PublishReport{}

	for _, issue := range split.Anchored.Issues {
		payload := map[string]any{
			"body":      providers.FormatIssueComment(issue, providers.SuggestionGitHub),
			"commit_id": bundle.Meta.HeadSHA,
			"path":      issue.File,
			"line":      issue.StartLine,
			"side":      "RIGHT",
		}
		if err := c.rest.PostJSON(ctx, "PublishReview", commentsURL, payload, nil); err != nil {
			log.Warn().Err(err).Str("file", issue.File).Int("line", issue.StartLine).Msg("Inline comment failed")
			report.Errors = append(report.Errors, providers.FindingError{
				File: issue.File, Line: issue.StartLine, Title: issue.Title, Err: err,
			})
			continue
		}
		report.InlineComments++
	}

	for _, note := range split.Anchored.Notes {
		payload := map[string]any{
			"body":      providers.FormatNoteComment(note),
			"commit_id": bundle.Meta.HeadSHA,
			"path":      note.File,
			"line":      note.Line,
			"side":      "RIGHT",
		}
		if err := c.rest.PostJSON(ctx, "PublishReview", commentsURL, payload, nil); err != nil {
			log.Warn().Err(err).Str("file", note.File).Int("line", note.Line).Msg("Inline note failed")
			report.Errors = append(report.Errors, providers.FindingError{
				File: note.File, Line: note.Line, Title: note.Text, Err: err,
			})
			continue
		}
		report.InlineComments++
	}

	report.FallbackFindings = len(split.Orphaned.Issues) + len(split.Orphaned.Notes)
	if fallback := providers.FormatFallbackComment(split.Orphaned); fallback != "" {
		if err := c.PublishSummaryComment(ctx, repo, cr, fallback); err != nil {
			return report, err
		}
	}

	log.Info().
		Str("repo", repo.DisplayName()).
		Str("pr", cr.String()).
		Int("inline", report.InlineComments).
		Int("fallback", report.FallbackFindings).
		Int("errors", len(report.Errors)).
		Msg("Published review to GitHub")
	return report, nil
}

// PublishSummaryComment posts one top-level conversation comment.
func (c *Client) PublishSummaryComment(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, body string) error {
	path, err := repoPath(repo)
	if err != nil {
		return &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitHub, Op: "PublishSummaryComment", Cause: err}
	}
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, path, cr.Number)
	_, _, err = c.rest.Do(ctx, "PublishSummaryComment", http.MethodPost, url, map[string]string{"body": body}, "")
	return err
}
