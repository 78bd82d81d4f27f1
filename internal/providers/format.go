package providers

import (
	"fmt"
	"strings"

	"github.com/reviewpilot/pkg/models"
)

// suggestionConfidence is the floor above which a suggested fix is trusted
// enough to render as an applicable suggestion block.
const suggestionConfidence = 0.7

// SuggestionStyle selects the provider dialect for applicable suggestions.
type SuggestionStyle int

const (
	// SuggestionGitHub renders the native ```suggestion fenced block.
	SuggestionGitHub SuggestionStyle = iota
	// SuggestionGitLab renders ```suggestion:-A+B with an explicit line span.
	SuggestionGitLab
)

// FormatIssueComment renders the inline comment body for one issue.
//
// Header: issue (blocking|non-blocking), <severity>: <title>
// Blocking when severity is critical or major.
func FormatIssueComment(issue models.Issue, style SuggestionStyle) string {
	kind := "non-blocking"
	if issue.Blocking() {
		kind = "blocking"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "issue (%s), %s: %s\n", kind, strings.ToLower(string(issue.Severity)), issue.Title)

	if issue.Suggestion != "" {
		fmt.Fprintf(&b, "\n**Recommendation:** %s\n", issue.Suggestion)
	}

	if issue.SuggestedFix != "" && issue.Confidence != nil && *issue.Confidence >= suggestionConfidence {
		b.WriteString("\n")
		b.WriteString(formatSuggestionBlock(issue.SuggestedFix, style))
	}
	return b.String()
}

// formatSuggestionBlock wraps a replacement snippet in the provider's
// applicable-suggestion fence. The GitLab span replaces only the anchored
// line; the fix text itself says what goes in its place.
func formatSuggestionBlock(fix string, style SuggestionStyle) string {
	fix = strings.TrimRight(fix, "\n")
	switch style {
	case SuggestionGitLab:
		return "```suggestion:-0+0\n" + fix + "\n```\n"
	default:
		return "```suggestion\n" + fix + "\n```\n"
	}
}

// FormatNoteComment renders the inline comment body for a non-blocking note.
func FormatNoteComment(note models.Note) string {
	return "note: " + note.Text
}

// FormatFallbackComment collects the findings that did not anchor to the
// diff into one markdown summary.
func FormatFallbackComment(orphaned models.ReviewResult) string {
	if len(orphaned.Issues) == 0 && len(orphaned.Notes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Additional Review Findings\n\n")
	b.WriteString("The following findings reference lines outside the visible diff:\n\n")

	for _, issue := range orphaned.Issues {
		fmt.Fprintf(&b, "- **%s:%d** (%s): %s\n", issue.File, issue.StartLine, strings.ToLower(string(issue.Severity)), issue.Title)
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, "  - Recommendation: %s\n", issue.Suggestion)
		}
	}
	for _, note := range orphaned.Notes {
		fmt.Fprintf(&b, "- %s:%d (note): %s\n", note.File, note.Line, note.Text)
	}
	return b.String()
}
