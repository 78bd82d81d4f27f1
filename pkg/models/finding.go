package models

import (
	"sort"
	"strings"
)

// Severity is the reviewer-facing severity label on an issue. The set is
// fixed; anything else fails schema validation in the accumulator.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeverityInfo       Severity = "info"
	SeverityWarning    Severity = "warning"
	SeverityError      Severity = "error"
	SeverityBlocker    Severity = "blocker"
	SeverityLow        Severity = "low"
	SeverityHigh       Severity = "high"
	SeverityMedium     Severity = "medium"
	SeveritySuggestion Severity = "suggestion"
)

var knownSeverities = map[Severity]struct{}{
	SeverityCritical: {}, SeverityMajor: {}, SeverityMinor: {},
	SeverityInfo: {}, SeverityWarning: {}, SeverityError: {},
	SeverityBlocker: {}, SeverityLow: {}, SeverityHigh: {},
	SeverityMedium: {}, SeveritySuggestion: {},
}

// KnownSeverity reports whether s (case-insensitive) is in the recognised set.
func KnownSeverity(s string) bool {
	_, ok := knownSeverities[Severity(strings.ToLower(s))]
	return ok
}

// Priority buckets severities for ordering and capping. Lower ordinal means
// more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// PriorityFor maps any severity string, including empty or unrecognised
// ones, to exactly one priority. The mapping is case-insensitive and total.
func PriorityFor(severity string) Priority {
	switch Severity(strings.ToLower(strings.TrimSpace(severity))) {
	case SeverityCritical, SeverityBlocker:
		return PriorityCritical
	case SeverityError, SeverityHigh:
		return PriorityHigh
	case SeverityInfo, SeverityLow, SeveritySuggestion:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Issue is a single review finding anchored to a file and post-image line.
// Confidence is optional; nil means the model gave none. SuggestedFix, when
// present and confident enough, becomes a provider suggestion block.
type Issue struct {
	File         string   `json:"file"`
	StartLine    int      `json:"start_line"`
	Severity     Severity `json:"severity"`
	Title        string   `json:"title"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// Priority returns the issue's priority bucket.
func (i Issue) Priority() Priority {
	return PriorityFor(string(i.Severity))
}

// Blocking reports whether the issue blocks the change request.
func (i Issue) Blocking() bool {
	switch Severity(strings.ToLower(string(i.Severity))) {
	case SeverityCritical, SeverityMajor:
		return true
	default:
		return false
	}
}

// ConfidenceOr returns the issue confidence, or def when absent.
func (i Issue) ConfidenceOr(def float64) float64 {
	if i.Confidence == nil {
		return def
	}
	return *i.Confidence
}

// WithConfidence returns a copy with the confidence set.
func (i Issue) WithConfidence(c float64) Issue {
	i.Confidence = &c
	return i
}

// Note is a non-blocking observation tied to a file and line.
type Note struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ReviewResult is the accumulated output of one review run.
type ReviewResult struct {
	Summary     string  `json:"summary"`
	Issues      []Issue `json:"issues"`
	Notes       []Note  `json:"non_blocking_notes"`
	LLMProvider string  `json:"llm_provider,omitempty"`
	LLMModel    string  `json:"llm_model,omitempty"`
	RawResponse string  `json:"raw_llm_response,omitempty"`
}

// WithIssues returns a copy holding the given issues.
func (r ReviewResult) WithIssues(issues []Issue) ReviewResult {
	r.Issues = issues
	return r
}

// WithNotes returns a copy holding the given notes.
func (r ReviewResult) WithNotes(notes []Note) ReviewResult {
	r.Notes = notes
	return r
}

// IssuesForFile filters issues by post-image path.
func (r ReviewResult) IssuesForFile(path string) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.File == path {
			out = append(out, is)
		}
	}
	return out
}

// IssuesWithSeverity filters issues by severity, case-insensitively.
func (r ReviewResult) IssuesWithSeverity(s Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if strings.EqualFold(string(is.Severity), string(s)) {
			out = append(out, is)
		}
	}
	return out
}

// PartitionByPriority splits the issues into the four priority buckets.
func (r ReviewResult) PartitionByPriority() map[Priority][]Issue {
	out := make(map[Priority][]Issue, 4)
	for _, is := range r.Issues {
		p := is.Priority()
		out[p] = append(out[p], is)
	}
	return out
}

// SortIssues orders issues by priority ordinal ascending, then confidence
// descending, keeping the relative order of equals stable.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		pa, pb := issues[a].Priority(), issues[b].Priority()
		if pa != pb {
			return pa < pb
		}
		return issues[a].ConfidenceOr(0) > issues[b].ConfidenceOr(0)
	})
}

// FindingStats aggregates a result for reporting.
type FindingStats struct {
	BySeverity        map[Severity]int `json:"by_severity"`
	BySource          map[string]int   `json:"by_source"`
	Duplicates        int              `json:"duplicates"`
	OverallConfidence float64          `json:"overall_confidence"`
	HasCritical       bool             `json:"has_critical"`
}

// Stats computes aggregate counts over the result's issues. Duplicates are
// issues sharing file, line, and title with an earlier one. HasCritical is
// set when any issue maps to the CRITICAL priority or is security-titled.
func (r ReviewResult) Stats() FindingStats {
	stats := FindingStats{
		BySeverity: make(map[Severity]int),
		BySource:   make(map[string]int),
	}
	seen := make(map[string]struct{}, len(r.Issues))
	var confSum float64
	var confN int
	for _, is := range r.Issues {
		stats.BySeverity[Severity(strings.ToLower(string(is.Severity)))]++
		source := is.Source
		if source == "" {
			source = "llm"
		}
		stats.BySource[source]++

		key := is.File + "\x00" + is.Title + "\x00" + strings.ToLower(string(is.Severity))
		if _, dup := seen[key]; dup {
			stats.Duplicates++
		} else {
			seen[key] = struct{}{}
		}

		if is.Confidence != nil {
			confSum += *is.Confidence
			confN++
		}
		if is.Priority() == PriorityCritical || strings.Contains(strings.ToLower(is.Title), "security") {
			stats.HasCritical = true
		}
	}
	if confN > 0 {
		stats.OverallConfidence = confSum / float64(confN)
	}
	return stats
}
