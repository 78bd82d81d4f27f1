package review

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/pkg/models"
)

// systemPrompt pins the model to the JSON contract the accumulator expects.
const systemPrompt = `You are a senior code reviewer. Respond with exactly one JSON object and nothing else: no markdown fences, no prose before or after.

Schema:
{
  "summary": "<one-paragraph review summary>",
  "issues": [
    {
      "file": "<post-image file path from the diff>",
      "start_line": <line number in the new revision>,
      "severity": "<critical|major|minor|info|warning|error|blocker|low|high|medium|suggestion>",
      "title": "<one-line problem statement>",
      "suggestion": "<how to fix it>",
      "confidence": <0.0-1.0>,
      "suggested_fix": "<replacement source line(s), only when you are sure>"
    }
  ],
  "non_blocking_notes": [
    {"file": "<path>", "line": <line>, "text": "<observation>"}
  ]
}

Only report issues on lines marked NEW in the change tables. Use the NEW column for start_line.`

var diffPromptTemplate = prompts.NewPromptTemplate(
	`Review the following change request.

Repository: {{.repository}}
Change request: {{.change_request}}
Title: {{.title}}
{{.description}}
Changed files:
{{.changes}}`,
	[]string{"repository", "change_request", "title", "description", "changes"},
)

var agenticPromptTemplate = prompts.NewPromptTemplate(
	`Perform a deep review of the following change request. Beyond line-level defects, reason about the change as a whole: cross-file consistency, security posture, and error handling.

Repository: {{.repository}}
Change request: {{.change_request}}
Title: {{.title}}
{{.description}}
Automated secret scan:
{{.scan_report}}
Changed files:
{{.changes}}`,
	[]string{"repository", "change_request", "title", "description", "scan_report", "changes"},
)

// PromptMeta carries the change-request context a prompt embeds.
type PromptMeta struct {
	Repository    string
	ChangeRequest string
	Title         string
	Description   string
}

// BuildDiffPrompt renders the standard review request for a diff.
func BuildDiffPrompt(meta PromptMeta, doc models.DiffDocument) (llm.Request, error) {
	text, err := diffPromptTemplate.Format(map[string]any{
		"repository":     meta.Repository,
		"change_request": meta.ChangeRequest,
		"title":          meta.Title,
		"description":    descriptionSection(meta.Description),
		"changes":        FormatChanges(doc),
	})
	if err != nil {
		return llm.Request{}, fmt.Errorf("failed to render review prompt: %w", err)
	}
	return llm.Request{System: systemPrompt, Prompt: text}, nil
}

// BuildAgenticPrompt renders the deep-review request, folding in the secret
// scan so the model can anchor SECURITY findings.
func BuildAgenticPrompt(meta PromptMeta, doc models.DiffDocument, scanReport string) (llm.Request, error) {
	if strings.TrimSpace(scanReport) == "" {
		scanReport = "no secrets detected"
	}
	text, err := agenticPromptTemplate.Format(map[string]any{
		"repository":     meta.Repository,
		"change_request": meta.ChangeRequest,
		"title":          meta.Title,
		"description":    descriptionSection(meta.Description),
		"scan_report":    scanReport,
		"changes":        FormatChanges(doc),
	})
	if err != nil {
		return llm.Request{}, fmt.Errorf("failed to render agentic prompt: %w", err)
	}
	return llm.Request{System: systemPrompt, Prompt: text}, nil
}

func descriptionSection(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	return "Description:\n" + desc + "\n"
}

// FormatChanges renders every modification with NEW-line numbering so the
// model reports positions the line validator will accept.
func FormatChanges(doc models.DiffDocument) string {
	var b strings.Builder
	for _, mod := range doc.Modifications {
		b.WriteString("### File: " + mod.NewPath + "\n")
		switch {
		case mod.IsCreate():
			b.WriteString("(new file)\n")
		case mod.IsDelete():
			b.WriteString("(deleted, previously " + mod.OldPath + ")\n")
		case mod.IsRename():
			b.WriteString("(renamed from " + mod.OldPath + ")\n")
		}
		for _, hunk := range mod.Hunks {
			b.WriteString(formatHunk(hunk))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatHunk renders a hunk as an OLD | NEW | CONTENT table. Line numbers in
// the NEW column are post-image positions; removals carry none.
func formatHunk(hunk models.DiffHunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount)
	b.WriteString("OLD | NEW | CONTENT\n")
	b.WriteString("----|-----|--------\n")

	oldLine := hunk.OldStart
	newLine := hunk.NewStart
	for _, raw := range hunk.Lines {
		prefix := " "
		content := raw
		if len(raw) > 0 && (raw[0] == '+' || raw[0] == '-' || raw[0] == ' ') {
			prefix = raw[:1]
			content = raw[1:]
		}

		switch prefix {
		case "+":
			fmt.Fprintf(&b, "    | %3d | +%s\n", newLine, content)
			newLine++
		case "-":
			fmt.Fprintf(&b, "%3d |     | -%s\n", oldLine, content)
			oldLine++
		default:
			fmt.Fprintf(&b, "%3d | %3d |  %s\n", oldLine, newLine, content)
			oldLine++
			newLine++
		}
	}
	return b.String()
}
