package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityForIsTotal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		severity string
		want     Priority
	}{
		{"critical", PriorityCritical},
		{"blocker", PriorityCritical},
		{"CRITICAL", PriorityCritical},
		{"error", PriorityHigh},
		{"High", PriorityHigh},
		{"warning", PriorityMedium},
		{"medium", PriorityMedium},
		{"", PriorityMedium},
		{"super-critical", PriorityMedium},
		{"major", PriorityMedium},
		{"minor", PriorityMedium},
		{"info", PriorityLow},
		{"low", PriorityLow},
		{"suggestion", PriorityLow},
	}

	for _, tc := range cases {
		t.Run("severity="+tc.severity, func(t *testing.T) {
			require.Equal(t, tc.want, PriorityFor(tc.severity))
		})
	}
}

func TestIssueBlocking(t *testing.T) {
	t.Parallel()

	require.True(t, Issue{Severity: SeverityCritical}.Blocking())
	require.True(t, Issue{Severity: SeverityMajor}.Blocking())
	require.True(t, Issue{Severity: "Major"}.Blocking())
	require.False(t, Issue{Severity: SeverityBlocker}.Blocking())
	require.False(t, Issue{Severity: SeverityWarning}.Blocking())
	require.False(t, Issue{Severity: ""}.Blocking())
}

func TestSortIssuesPriorityThenConfidence(t *testing.T) {
	t.Parallel()

	lo, mid, hi := 0.2, 0.5, 0.9
	issues := []Issue{
		{Title: "a", Severity: SeverityInfo, Confidence: &hi},
		{Title: "b", Severity: SeverityCritical, Confidence: &lo},
		{Title: "c", Severity: SeverityError, Confidence: &mid},
		{Title: "d", Severity: SeverityCritical, Confidence: &hi},
		{Title: "e", Severity: SeverityError},
	}

	SortIssues(issues)

	var order []string
	for _, is := range issues {
		order = append(order, is.Title)
	}
	// critical before high before low; within a bucket higher confidence
	// first, missing confidence treated as zero.
	require.Equal(t, []string{"d", "b", "c", "e", "a"}, order)
}

func TestReviewResultStats(t *testing.T) {
	t.Parallel()

	c8, c4 := 0.8, 0.4
	result := ReviewResult{
		Issues: []Issue{
			{File: "a.go", Title: "nil deref", Severity: SeverityCritical, Confidence: &c8},
			{File: "a.go", Title: "nil deref", Severity: SeverityCritical, Confidence: &c4},
			{File: "b.go", Title: "possible security hole", Severity: SeverityWarning, Source: "secret-scan"},
		},
	}

	stats := result.Stats()
	require.Equal(t, 2, stats.BySeverity[SeverityCritical])
	require.Equal(t, 1, stats.BySeverity[SeverityWarning])
	require.Equal(t, 2, stats.BySource["llm"])
	require.Equal(t, 1, stats.BySource["secret-scan"])
	require.Equal(t, 1, stats.Duplicates)
	require.InDelta(t, 0.6, stats.OverallConfidence, 1e-9)
	require.True(t, stats.HasCritical)
}

func TestReviewResultQueries(t *testing.T) {
	t.Parallel()

	result := ReviewResult{
		Issues: []Issue{
			{File: "a.go", Severity: SeverityHigh, Title: "one"},
			{File: "b.go", Severity: SeverityLow, Title: "two"},
			{File: "a.go", Severity: "HIGH", Title: "three"},
		},
	}

	require.Len(t, result.IssuesForFile("a.go"), 2)
	require.Len(t, result.IssuesWithSeverity(SeverityHigh), 2)

	parts := result.PartitionByPriority()
	require.Len(t, parts[PriorityHigh], 2)
	require.Len(t, parts[PriorityLow], 1)

	// with-copy must not touch the receiver
	copied := result.WithIssues(nil)
	require.Len(t, result.Issues, 3)
	require.Nil(t, copied.Issues)
}

func TestKnownSeverity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"critical", "major", "minor", "info", "warning", "error", "blocker", "low", "high", "medium", "suggestion", "Critical"} {
		require.True(t, KnownSeverity(s), s)
	}
	require.False(t, KnownSeverity("super-critical"))
	require.False(t, KnownSeverity(""))
}
