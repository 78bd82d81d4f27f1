package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/reviewpilot/pkg/models"
)

// ErrInvalidInput is returned when a result is requested from an accumulator
// that never saw any content.
var ErrInvalidInput = errors.New("review stream produced no content")

// NonJsonResponseError means no JSON object could be pulled out of the
// concatenated stream, repaired or otherwise.
type NonJsonResponseError struct {
	Preview string
}

func (e *NonJsonResponseError) Error() string {
	return fmt.Sprintf("no JSON object in model output (is the model configured for structured responses?): %s", e.Preview)
}

// JsonValidationError names the field that failed schema validation.
type JsonValidationError struct {
	Field  string
	Reason string
}

func (e *JsonValidationError) Error() string {
	return fmt.Sprintf("review payload rejected: field %q %s", e.Field, e.Reason)
}

// AccumulatorOptions tune the post-parse filters.
type AccumulatorOptions struct {
	// ConfidenceThreshold drops issues whose confidence is present and
	// below it. Issues without a confidence always survive. Zero keeps
	// everything; a negative value selects the default.
	ConfidenceThreshold float64
	// MaxIssuesPerFile caps issues per file after sorting by priority
	// ascending, then confidence descending.
	MaxIssuesPerFile int
}

func DefaultAccumulatorOptions() AccumulatorOptions {
	return AccumulatorOptions{
		ConfidenceThreshold: 0.5,
		MaxIssuesPerFile:    10,
	}
}

// Accumulator folds streamed chunks into one ReviewResult. Add may be called
// from the streaming goroutine while Result is awaited elsewhere; folding is
// a pure function of the concatenated buffer, so the same chunk sequence
// always produces the same result no matter how it was split.
type Accumulator struct {
	opts AccumulatorOptions

	mu     sync.Mutex
	buf    strings.Builder
	chunks int
}

func NewAccumulator(opts AccumulatorOptions) *Accumulator {
	if opts.ConfidenceThreshold < 0 {
		opts.ConfidenceThreshold = DefaultAccumulatorOptions().ConfidenceThreshold
	}
	if opts.MaxIssuesPerFile <= 0 {
		opts.MaxIssuesPerFile = DefaultAccumulatorOptions().MaxIssuesPerFile
	}
	return &Accumulator{opts: opts}
}

// Add appends one chunk's payload.
func (a *Accumulator) Add(chunk models.ReviewChunk) {
	a.AddContent(chunk.Content)
}

// AddContent appends raw delta text.
func (a *Accumulator) AddContent(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.WriteString(content)
	a.chunks++
}

// Chunks reports how many fragments have been folded in.
func (a *Accumulator) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}

// Result extracts, repairs, validates, and filters the accumulated payload.
func (a *Accumulator) Result() (models.ReviewResult, error) {
	a.mu.Lock()
	raw := a.buf.String()
	a.mu.Unlock()

	if strings.TrimSpace(raw) == "" {
		return models.ReviewResult{}, ErrInvalidInput
	}

	candidate := extractLargestObject(raw)
	if candidate == "" {
		// a cut-off stream can leave an unbalanced object; the repair
		// library knows how to close it
		stripped := stripCodeFences(strings.TrimSpace(raw))
		if strings.HasPrefix(stripped, "{") {
			if repaired, err := jsonrepair.JSONRepair(stripped); err == nil {
				candidate = repaired
			}
		}
	}
	if candidate == "" {
		return models.ReviewResult{}, &NonJsonResponseError{Preview: preview(raw)}
	}

	candidate = stripCodeFences(candidate)
	if !json.Valid([]byte(candidate)) {
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			return models.ReviewResult{}, &JsonValidationError{Field: "json", Reason: "is not parseable: " + err.Error()}
		}
		candidate = repaired
	}

	var result models.ReviewResult
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return models.ReviewResult{}, &JsonValidationError{Field: typeErr.Field, Reason: "has wrong type, want " + typeErr.Type.String()}
		}
		return models.ReviewResult{}, &JsonValidationError{Field: "json", Reason: "failed to decode: " + err.Error()}
	}

	if err := validateSchema(&result); err != nil {
		return models.ReviewResult{}, err
	}

	result.Issues = a.filterIssues(result.Issues)
	result.RawResponse = raw
	return result, nil
}

func validateSchema(result *models.ReviewResult) error {
	for i := range result.Issues {
		issue := &result.Issues[i]
		if issue.File == "" {
			return &JsonValidationError{Field: "file", Reason: "is required on every issue"}
		}
		if issue.StartLine < 1 {
			return &JsonValidationError{Field: "start_line", Reason: "must be >= 1"}
		}
		if !models.KnownSeverity(string(issue.Severity)) {
			return &JsonValidationError{Field: "severity", Reason: fmt.Sprintf("has unrecognised value %q", issue.Severity)}
		}
		issue.Severity = models.Severity(strings.ToLower(string(issue.Severity)))
		if issue.Confidence != nil && (*issue.Confidence < 0 || *issue.Confidence > 1) {
			return &JsonValidationError{Field: "confidence", Reason: "must be within [0,1]"}
		}
	}
	for _, note := range result.Notes {
		if note.File == "" {
			return &JsonValidationError{Field: "file", Reason: "is required on every note"}
		}
		if note.Line < 1 {
			return &JsonValidationError{Field: "line", Reason: "must be >= 1"}
		}
	}
	return nil
}

// filterIssues applies the confidence threshold then the per-file cap,
// keeping files in first-appearance order.
func (a *Accumulator) filterIssues(issues []models.Issue) []models.Issue {
	var kept []models.Issue
	for _, issue := range issues {
		if issue.Confidence != nil && *issue.Confidence < a.opts.ConfidenceThreshold {
			continue
		}
		kept = append(kept, issue)
	}

	var fileOrder []string
	perFile := make(map[string][]models.Issue)
	for _, issue := range kept {
		if _, seen := perFile[issue.File]; !seen {
			fileOrder = append(fileOrder, issue.File)
		}
		perFile[issue.File] = append(perFile[issue.File], issue)
	}

	var out []models.Issue
	for _, file := range fileOrder {
		group := perFile[file]
		models.SortIssues(group)
		if len(group) > a.opts.MaxIssuesPerFile {
			group = group[:a.opts.MaxIssuesPerFile]
		}
		out = append(out, group...)
	}
	return out
}

// extractLargestObject returns the largest balanced top-level {...} in s,
// tracking strings and escapes so braces inside values don't count. Quotes
// outside any object are prose and ignored.
func extractLargestObject(s string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if candidate := s[start : i+1]; len(candidate) > len(best) {
					best = candidate
				}
			}
		}
	}
	return best
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
