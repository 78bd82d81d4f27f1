package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/pkg/models"
)

func conf(v float64) *float64 { return &v }

func TestFormatIssueCommentBlocking(t *testing.T) {
	t.Parallel()

	body := FormatIssueComment(models.Issue{
		File:       "main.go",
		StartLine:  12,
		Severity:   models.SeverityCritical,
		Title:      "nil pointer dereference",
		Suggestion: "guard the receiver before use",
	}, SuggestionGitHub)

	require.Contains(t, body, "issue (blocking), critical: nil pointer dereference")
	require.Contains(t, body, "**Recommendation:** guard the receiver before use")
	require.NotContains(t, body, "```suggestion")
}

func TestFormatIssueCommentNonBlocking(t *testing.T) {
	t.Parallel()

	body := FormatIssueComment(models.Issue{
		Severity: models.SeverityMinor,
		Title:    "prefer early return",
	}, SuggestionGitHub)
	require.Contains(t, body, "issue (non-blocking), minor: prefer early return")
}

func TestFormatIssueCommentSuggestionBlocks(t *testing.T) {
	t.Parallel()

	issue := models.Issue{
		Severity:     models.SeverityMajor,
		Title:        "off by one",
		SuggestedFix: "for i := 0; i < n; i++ {",
		Confidence:   conf(0.9),
	}

	github := FormatIssueComment(issue, SuggestionGitHub)
	require.Contains(t, github, "```suggestion\nfor i := 0; i < n; i++ {\n```")

	gitlab := FormatIssueComment(issue, SuggestionGitLab)
	require.Contains(t, gitlab, "```suggestion:-0+0\nfor i := 0; i < n; i++ {\n```")
}

func TestFormatIssueCommentLowConfidenceSkipsSuggestion(t *testing.T) {
	t.Parallel()

	issue := models.Issue{
		Severity:     models.SeverityMajor,
		Title:        "off by one",
		SuggestedFix: "x",
		Confidence:   conf(0.6),
	}
	require.NotContains(t, FormatIssueComment(issue, SuggestionGitHub), "```suggestion")

	// no confidence at all also skips: the fix is untrusted
	issue.Confidence = nil
	require.NotContains(t, FormatIssueComment(issue, SuggestionGitHub), "```suggestion")
}

func TestFormatFallbackComment(t *testing.T) {
	t.Parallel()

	orphaned := models.ReviewResult{
		Issues: []models.Issue{
			{File: "file.java", StartLine: 9, Severity: models.SeverityWarning, Title: "dead code", Suggestion: "remove it"},
		},
		Notes: []models.Note{
			{File: "util.java", Line: 3, Text: "consider a doc comment"},
		},
	}

	body := FormatFallbackComment(orphaned)
	require.Contains(t, body, "## Additional Review Findings")
	require.Contains(t, body, "**file.java:9** (warning): dead code")
	require.Contains(t, body, "Recommendation: remove it")
	require.Contains(t, body, "util.java:3 (note): consider a doc comment")
}

func TestFormatFallbackCommentEmpty(t *testing.T) {
	t.Parallel()
	require.Empty(t, FormatFallbackComment(models.ReviewResult{}))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]ErrorKind{
		401: KindAuth,
		403: KindAuth,
		404: KindNotFound,
		429: KindRateLimited,
		422: KindMalformed,
		500: KindTransport,
		503: KindTransport,
	}
	for status, want := range cases {
		require.Equal(t, want, classifyStatus(status), "status %d", status)
	}
}
