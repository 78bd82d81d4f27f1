package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/pkg/models"
)

// PublishReview splits the findings against the current diff, posts each
// anchored finding as a positioned discussion thread, and collects the rest
// into one fallback summary note. Finding-level failures are recorded and
// never abort the batch.
func (c *Client) PublishReview(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, result models.ReviewResult) (*providers.PublishReport, error) {
	bundle, err := c.GetDiff(ctx, repo, cr)
	if err != nil {
		return nil, err
	}

	ref, err := projectRef(repo)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "PublishReview", Cause: err}
	}
	discussionsURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/discussions", c.apiBase, ref, cr.Number)

	split := diff.Split(bundle.Document, result)
	report := &providers.PublishReport{}

	for _, issue := range split.Anchored.Issues {
		body := providers.FormatIssueComment(issue, providers.SuggestionGitLab)
		if err := c.postDiscussion(ctx, discussionsURL, body, bundle.Meta, issue.File, issue.StartLine); err != nil {
			log.Warn().Err(err).Str("file", issue.File).Int("line", issue.StartLine).Msg("Inline comment failed")
			report.Errors = append(report.Errors, providers.FindingError{
				File: issue.File, Line: issue.StartLine, Title: issue.Title, Err: err,
			})
			continue
		}
		report.InlineComments++
	}

	for _, note := range split.Anchored.Notes {
		body := providers.FormatNoteComment(note)
		if err := c.postDiscussion(ctx, discussionsURL, body, bundle.Meta, note.File, note.Line); err != nil {
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
		Str("project", repo.DisplayName()).
		Str("mr", cr.String()).
		Int("inline", report.InlineComments).
		Int("fallback", report.FallbackFindings).
		Int("errors", len(report.Errors)).
		Msg("Published review to GitLab")
	return report, nil
}

// postDiscussion creates one positioned discussion thread. The position
// carries the three diff_refs SHAs and the post-image line; old_path mirrors
// new_path, which holds for everything except comments on renamed files'
// context lines.
func (c *Client) postDiscussion(ctx context.Context, url, body string, meta providers.ChangeRequestMeta, file string, line int) error {
	file = strings.TrimPrefix(file, "/")
	payload := map[string]any{
		"body": body,
		"position": map[string]any{
			"position_type": "text",
			"base_sha":      meta.BaseSHA,
			"head_sha":      meta.HeadSHA,
			"start_sha":     meta.StartSHA,
			"old_path":      file,
			"new_path":      file,
			"new_line":      line,
		},
	}
	return c.rest.PostJSON(ctx, "PublishReview", url, payload, nil)
}

// PublishSummaryComment posts one top-level note on the merge request.
func (c *Client) PublishSummaryComment(ctx context.Context, repo models.RepositoryID, cr models.ChangeRequestID, body string) error {
	ref, err := projectRef(repo)
	if err != nil {
		return &providers.Error{Kind: providers.KindMalformed, Provider: models.ProviderGitLab, Op: "PublishSummaryComment", Cause: err}
	}
	url := fmt.Sprintf("%s/projects/%s/merge_requests/%d/notes", c.apiBase, ref, cr.Number)
	_, _, err = c.rest.Do(ctx, "PublishSummaryComment", http.MethodPost, url, map[string]string{"body": body}, "")
	return err
}
