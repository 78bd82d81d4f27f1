package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reviewpilot/pkg/models"
)

// ParseError marks structurally unrecoverable diff input, e.g. a hunk header
// arriving before any file header. Everything else is tolerated.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diff parse error at line %d: %s", e.Line, e.Msg)
}

// Counts are optional in hunk headers; "@@ -1 +1 @@" means one line each.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

var (
	renameFromRe = regexp.MustCompile(`^rename from (.+)$`)
	renameToRe   = regexp.MustCompile(`^rename to (.+)$`)
	binaryRe     = regexp.MustCompile(`^Binary files (.+) and (.+) differ$`)
)

// Parse converts git-style unified diff text into a DiffDocument. It accepts
// diffs with or without the "diff --git" preamble, treats missing hunk counts
// as 1, skips "\ No newline at end of file" markers, and keeps unknown lines
// inside a hunk as context.
func Parse(text string) (models.DiffDocument, error) {
	var doc models.DiffDocument

	lines := strings.Split(text, "\n")
	// a trailing newline yields one phantom empty element
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var (
		cur  *models.FileModification
		hunk *models.DiffHunk
	)

	flushHunk := func() {
		if hunk != nil && cur != nil {
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if cur == nil {
			return
		}
		// file paths stay unique within a document; a re-appearing path
		// merges into the earlier modification
		for i := range doc.Modifications {
			if doc.Modifications[i].NewPath == cur.NewPath {
				doc.Modifications[i].Hunks = append(doc.Modifications[i].Hunks, cur.Hunks...)
				cur = nil
				return
			}
		}
		doc.Modifications = append(doc.Modifications, *cur)
		cur = nil
	}

	for i, line := range lines {
		lineNo := i + 1

		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			oldPath, newPath := parseGitHeader(line)
			cur = &models.FileModification{OldPath: oldPath, NewPath: newPath}

		case strings.HasPrefix(line, "--- ") && hunk == nil:
			if cur == nil {
				cur = &models.FileModification{}
			}
			cur.OldPath = parsePathLabel(line[4:])

		case strings.HasPrefix(line, "+++ ") && hunk == nil:
			if cur == nil {
				cur = &models.FileModification{}
			}
			cur.NewPath = parsePathLabel(line[4:])

		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				// inside a hunk an odd @@ line is context-safe
				if hunk != nil {
					hunk.Lines = append(hunk.Lines, line)
				}
				continue
			}
			if cur == nil {
				return models.DiffDocument{}, &ParseError{Line: lineNo, Msg: "hunk header before any file header"}
			}
			flushHunk()
			hunk = &models.DiffHunk{
				OldStart: atoiDefault(m[1], 0),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewCount: atoiDefault(m[4], 1),
			}

		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"

		case renameFromRe.MatchString(line) && hunk == nil:
			if cur != nil {
				cur.OldPath = renameFromRe.FindStringSubmatch(line)[1]
			}

		case renameToRe.MatchString(line) && hunk == nil:
			if cur != nil {
				cur.NewPath = renameToRe.FindStringSubmatch(line)[1]
			}

		case binaryRe.MatchString(line) && hunk == nil:
			if cur != nil {
				m := binaryRe.FindStringSubmatch(line)
				cur.OldPath = parsePathLabel(m[1])
				cur.NewPath = parsePathLabel(m[2])
			}

		default:
			if hunk != nil {
				hunk.Lines = append(hunk.Lines, line)
				continue
			}
			// between the file header and the first hunk git emits mode,
			// index and similarity lines; all ignorable
		}
	}

	flushFile()
	return doc, nil
}

// parseGitHeader pulls the a/ and b/ paths out of a "diff --git" line. Used
// as a fallback for diffs whose ---/+++ labels never arrive (pure renames,
// binary files).
func parseGitHeader(line string) (oldPath, newPath string) {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.SplitN(rest, " b/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimPrefix(parts[0], "a/"), parts[1]
}

// parsePathLabel normalises a ---/+++ label: strips the a/ or b/ prefix and
// any trailing tab-separated timestamp, keeping /dev/null untouched.
func parsePathLabel(label string) string {
	label = strings.TrimSpace(label)
	if tab := strings.IndexByte(label, '\t'); tab >= 0 {
		label = label[:tab]
	}
	if label == models.DevNull {
		return label
	}
	if strings.HasPrefix(label, "a/") || strings.HasPrefix(label, "b/") {
		return label[2:]
	}
	return label
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
