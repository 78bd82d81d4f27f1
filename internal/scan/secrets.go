package scan

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"

	"github.com/reviewpilot/pkg/models"
)

// Finding is one detected secret, located in post-image coordinates so it
// can be anchored like any other review finding.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Redacted    string `json:"redacted"`
}

// Scanner detects leaked credentials in added lines of a diff.
type Scanner interface {
	ScanDiff(doc models.DiffDocument) ([]Finding, error)
}

// SecretScanner runs the gitleaks default ruleset over the added lines of
// each modification.
type SecretScanner struct {
	detector *detect.Detector
}

func NewSecretScanner() (*SecretScanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks ruleset: %w", err)
	}
	return &SecretScanner{detector: detector}, nil
}

// ScanDiff reconstructs each file's added content with its post-image line
// numbering and hands it to the detector. Context and removed lines are
// replaced by blanks so reported line numbers stay post-image positions.
func (s *SecretScanner) ScanDiff(doc models.DiffDocument) ([]Finding, error) {
	var findings []Finding
	for _, mod := range doc.Modifications {
		if mod.IsDelete() {
			continue
		}

		fragment, added := addedImage(mod)
		if added == 0 {
			continue
		}

		for _, hit := range s.detector.Detect(detect.Fragment{
			Raw:      fragment,
			FilePath: mod.NewPath,
		}) {
			findings = append(findings, fromReport(hit, mod.NewPath))
		}
	}

	if len(findings) > 0 {
		log.Warn().Int("count", len(findings)).Msg("Secret scan found leaked credentials")
	}
	return findings, nil
}

// addedImage renders a sparse post-image of mod: added lines at their
// post-image positions, everything else blank. Returns the text and the
// count of added lines.
func addedImage(mod models.FileModification) (string, int) {
	lines := make(map[int]string)
	maxLine := 0
	added := 0

	for _, hunk := range mod.Hunks {
		n := hunk.NewStart
		for _, raw := range hunk.Lines {
			switch {
			case strings.HasPrefix(raw, "-"):
				// old image only
			case strings.HasPrefix(raw, "+"):
				lines[n] = raw[1:]
				added++
				if n > maxLine {
					maxLine = n
				}
				n++
			default:
				n++
			}
		}
	}

	if added == 0 {
		return "", 0
	}

	var b strings.Builder
	for i := 1; i <= maxLine; i++ {
		b.WriteString(lines[i])
		b.WriteByte('\n')
	}
	return b.String(), added
}

func fromReport(hit report.Finding, file string) Finding {
	line := hit.StartLine
	if line < 1 {
		line = 1
	}
	return Finding{
		RuleID:      hit.RuleID,
		Description: hit.Description,
		File:        file,
		Line:        line,
		Redacted:    redact(hit.Secret),
	}
}

// redact keeps just enough of the secret to recognise it in the source.
func redact(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", 8) + secret[len(secret)-2:]
}

// Report renders findings for embedding in a prompt or fallback comment.
func Report(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s (%s) at %s:%d, value %s\n", f.Description, f.RuleID, f.File, f.Line, f.Redacted)
	}
	return b.String()
}

// MergeIssues folds scan findings into a review result so they travel the
// same path as model findings. A finding is skipped when the result already
// carries an issue anchored at the same file and line.
func MergeIssues(result models.ReviewResult, findings []Finding) models.ReviewResult {
	if len(findings) == 0 {
		return result
	}

	seen := make(map[string]struct{}, len(result.Issues))
	for _, issue := range result.Issues {
		seen[fmt.Sprintf("%s:%d", issue.File, issue.StartLine)] = struct{}{}
	}

	merged := result.Issues
	for _, issue := range AsIssues(findings) {
		key := fmt.Sprintf("%s:%d", issue.File, issue.StartLine)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, issue)
	}
	return result.WithIssues(merged)
}

// AsIssues converts scan findings into review issues so they flow through
// the same placement router as model findings.
func AsIssues(findings []Finding) []models.Issue {
	issues := make([]models.Issue, 0, len(findings))
	for _, f := range findings {
		issues = append(issues, models.Issue{
			File:       f.File,
			StartLine:  f.Line,
			Severity:   models.SeverityCritical,
			Title:      fmt.Sprintf("Possible leaked secret: %s", f.Description),
			Suggestion: "Remove the credential from the change and rotate it.",
			Source:     "secret-scan",
		})
	}
	return issues
}
