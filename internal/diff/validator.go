package diff

import (
	"strings"

	"github.com/reviewpilot/pkg/models"
)

// LineIndex maps each post-image file path to the set of line numbers a
// review comment can anchor to. Only lines present in the new revision
// qualify: additions and context. Deleted lines have no post-image number.
type LineIndex map[string]map[int]bool

// BuildLineIndex walks every hunk once. The counter starts at the hunk's
// NewStart and increments on added and context lines only; removal lines
// belong to the old image and are skipped.
func BuildLineIndex(doc models.DiffDocument) LineIndex {
	idx := make(LineIndex, len(doc.Modifications))
	for _, mod := range doc.Modifications {
		if mod.IsDelete() {
			continue
		}
		lines, ok := idx[mod.NewPath]
		if !ok {
			lines = make(map[int]bool)
			idx[mod.NewPath] = lines
		}
		for _, hunk := range mod.Hunks {
			n := hunk.NewStart
			for _, raw := range hunk.Lines {
				switch {
				case strings.HasPrefix(raw, "-"):
					// old image only
				case strings.HasPrefix(raw, "+"):
					lines[n] = true
					n++
				default:
					// context, including blank and unrecognised lines
					lines[n] = true
					n++
				}
			}
		}
	}
	return idx
}

// Anchors reports whether file:line is a commentable post-image position.
func (idx LineIndex) Anchors(file string, line int) bool {
	lines, ok := idx[file]
	if !ok {
		return false
	}
	return lines[line]
}

// SplitResult partitions one review into the findings that anchor to the
// diff and the ones that do not. Both halves carry the original summary and
// provenance so either can stand alone.
type SplitResult struct {
	Anchored models.ReviewResult
	Orphaned models.ReviewResult
}

// Split routes every issue and note of result by anchor validity. It never
// fails: a finding against an unknown file or an old-image line simply lands
// in Orphaned.
func Split(doc models.DiffDocument, result models.ReviewResult) SplitResult {
	idx := BuildLineIndex(doc)

	var anchored, orphaned []models.Issue
	for _, issue := range result.Issues {
		if idx.Anchors(issue.File, issue.StartLine) {
			anchored = append(anchored, issue)
		} else {
			orphaned = append(orphaned, issue)
		}
	}

	var anchoredNotes, orphanedNotes []models.Note
	for _, note := range result.Notes {
		if idx.Anchors(note.File, note.Line) {
			anchoredNotes = append(anchoredNotes, note)
		} else {
			orphanedNotes = append(orphanedNotes, note)
		}
	}

	return SplitResult{
		Anchored: result.WithIssues(anchored).WithNotes(anchoredNotes),
		Orphaned: result.WithIssues(orphaned).WithNotes(orphanedNotes),
	}
}
