package review

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/pkg/models"
)

const fencedPayload = "```json\n" + `{
  "summary": "Two problems, one nit.",
  "issues": [
    {"file": "main.go", "start_line": 11, "severity": "major", "title": "nil deref", "suggestion": "guard it", "confidence": 0.9},
    {"file": "main.go", "start_line": 12, "severity": "info", "title": "naming", "suggestion": "rename", "confidence": 0.8}
  ],
  "non_blocking_notes": [
    {"file": "main.go", "line": 10, "text": "consider a table test"}
  ]
}` + "\n```"

func feed(acc *Accumulator, payload string, step int) {
	for i := 0; i < len(payload); i += step {
		end := i + step
		if end > len(payload) {
			end = len(payload)
		}
		acc.AddContent(payload[i:end])
	}
}

func TestAccumulatorFencedPayload(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	feed(acc, fencedPayload, 7)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Equal(t, "Two problems, one nit.", result.Summary)
	require.Len(t, result.Issues, 2)
	require.Len(t, result.Notes, 1)
	require.Equal(t, models.SeverityMajor, result.Issues[0].Severity)
}

func TestAccumulatorChunkingInvariance(t *testing.T) {
	t.Parallel()

	byChar := NewAccumulator(DefaultAccumulatorOptions())
	feed(byChar, fencedPayload, 1)
	whole := NewAccumulator(DefaultAccumulatorOptions())
	whole.AddContent(fencedPayload)

	a, err := byChar.Result()
	require.NoError(t, err)
	b, err := whole.Result()
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("results differ by chunking (-bychar +whole):\n%s", diff)
	}

	// folding is pure: asking twice gives the same answer
	again, err := byChar.Result()
	require.NoError(t, err)
	if diff := cmp.Diff(a, again); diff != "" {
		t.Fatalf("repeated folding changed the result:\n%s", diff)
	}
}

func TestAccumulatorEmptyInput(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	_, err := acc.Result()
	require.ErrorIs(t, err, ErrInvalidInput)

	acc.AddContent("   \n\t ")
	_, err = acc.Result()
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccumulatorProseOnly(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent("I could not find anything wrong with this change.")

	_, err := acc.Result()
	var nonJSON *NonJsonResponseError
	require.ErrorAs(t, err, &nonJSON)
}

func TestAccumulatorUnknownSeverity(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"s","issues":[{"file":"a.go","start_line":3,"severity":"super-critical","title":"t"}],"non_blocking_notes":[]}`)

	_, err := acc.Result()
	var invalid *JsonValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "severity", invalid.Field)
	require.Contains(t, err.Error(), "severity")
}

func TestAccumulatorWrongFieldType(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"s","issues":"not a list","non_blocking_notes":[]}`)

	_, err := acc.Result()
	var invalid *JsonValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "issues", invalid.Field)
}

func TestAccumulatorSurroundingProse(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent("Here is my review:\n")
	acc.AddContent(`{"summary":"clean","issues":[],"non_blocking_notes":[]}`)
	acc.AddContent("\nLet me know if you need more detail.")

	result, err := acc.Result()
	require.NoError(t, err)
	require.Equal(t, "clean", result.Summary)
}

func TestAccumulatorRepairsTrailingComma(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"fixable","issues":[],"non_blocking_notes":[],}`)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Equal(t, "fixable", result.Summary)
}

func TestAccumulatorTruncatedStream(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"cut off mid stream", "issues": [`)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Equal(t, "cut off mid stream", result.Summary)
	require.Empty(t, result.Issues)
}

func TestAccumulatorConfidenceFilter(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"s","issues":[
		{"file":"a.go","start_line":1,"severity":"major","title":"sure","confidence":0.9},
		{"file":"a.go","start_line":2,"severity":"major","title":"unsure","confidence":0.3},
		{"file":"a.go","start_line":3,"severity":"major","title":"no confidence"}
	],"non_blocking_notes":[]}`)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)
	for _, issue := range result.Issues {
		require.NotEqual(t, "unsure", issue.Title)
	}
}

func TestAccumulatorZeroThresholdKeepsLowConfidence(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(AccumulatorOptions{ConfidenceThreshold: 0, MaxIssuesPerFile: 10})
	acc.AddContent(`{"summary":"s","issues":[{"file":"a.go","start_line":1,"severity":"major","title":"unsure","confidence":0.05}],"non_blocking_notes":[]}`)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)

	// negative selects the default, zero is honoured as "keep everything"
	require.Equal(t, 0.5, NewAccumulator(AccumulatorOptions{ConfidenceThreshold: -1}).opts.ConfidenceThreshold)
	require.Equal(t, 0.0, NewAccumulator(AccumulatorOptions{ConfidenceThreshold: 0}).opts.ConfidenceThreshold)
}

func TestAccumulatorPerFileCap(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(AccumulatorOptions{ConfidenceThreshold: 0.5, MaxIssuesPerFile: 2})
	acc.AddContent(`{"summary":"s","issues":[
		{"file":"a.go","start_line":1,"severity":"info","title":"low prio","confidence":0.9},
		{"file":"a.go","start_line":2,"severity":"critical","title":"top","confidence":0.7},
		{"file":"a.go","start_line":3,"severity":"error","title":"second","confidence":0.8},
		{"file":"b.go","start_line":4,"severity":"minor","title":"other file","confidence":0.9}
	],"non_blocking_notes":[]}`)

	result, err := acc.Result()
	require.NoError(t, err)

	var aTitles []string
	for _, issue := range result.IssuesForFile("a.go") {
		aTitles = append(aTitles, issue.Title)
	}
	require.Equal(t, []string{"top", "second"}, aTitles)
	require.Len(t, result.IssuesForFile("b.go"), 1)
}

func TestAccumulatorNormalisesSeverityCase(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"s","issues":[{"file":"a.go","start_line":1,"severity":"CRITICAL","title":"t"}],"non_blocking_notes":[]}`)

	result, err := acc.Result()
	require.NoError(t, err)
	require.Equal(t, models.SeverityCritical, result.Issues[0].Severity)
}

func TestAccumulatorRejectsBadLines(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(DefaultAccumulatorOptions())
	acc.AddContent(`{"summary":"s","issues":[{"file":"a.go","start_line":0,"severity":"major","title":"t"}],"non_blocking_notes":[]}`)
	_, err := acc.Result()
	var invalid *JsonValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "start_line", invalid.Field)

	acc2 := NewAccumulator(DefaultAccumulatorOptions())
	acc2.AddContent(`{"summary":"s","issues":[],"non_blocking_notes":[{"file":"a.go","line":0,"text":"t"}]}`)
	_, err = acc2.Result()
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "line", invalid.Field)
}
