package models

import "strings"

// DevNull is the path git uses for the missing side of a created or deleted
// file.
const DevNull = "/dev/null"

// DiffHunk is a single change block from a unified diff. Lines keep their
// raw prefix character (+, -, or space) so line classification stays
// derivable. NewStart is the 1-based post-image line number where the hunk
// begins, which is the only anchor inline comments accept.
type DiffHunk struct {
	OldStart int      `json:"old_start"`
	OldCount int      `json:"old_count"`
	NewStart int      `json:"new_start"`
	NewCount int      `json:"new_count"`
	Lines    []string `json:"lines"`
}

// Added reports the number of added lines in the hunk.
func (h DiffHunk) Added() int {
	n := 0
	for _, l := range h.Lines {
		if strings.HasPrefix(l, "+") {
			n++
		}
	}
	return n
}

// Deleted reports the number of deleted lines in the hunk.
func (h DiffHunk) Deleted() int {
	n := 0
	for _, l := range h.Lines {
		if strings.HasPrefix(l, "-") {
			n++
		}
	}
	return n
}

// FileModification is one file's worth of changes. Renames carry distinct
// old and new paths; deletions have NewPath == DevNull.
type FileModification struct {
	OldPath string     `json:"old_path"`
	NewPath string     `json:"new_path"`
	Hunks   []DiffHunk `json:"hunks"`
}

// IsRename reports whether the modification moves the file.
func (f FileModification) IsRename() bool {
	return f.OldPath != f.NewPath && f.OldPath != DevNull && f.NewPath != DevNull
}

// IsDelete reports whether the file was removed.
func (f FileModification) IsDelete() bool {
	return f.NewPath == DevNull
}

// IsCreate reports whether the file is new.
func (f FileModification) IsCreate() bool {
	return f.OldPath == DevNull
}

// DiffDocument is the parsed form of one unified diff, in file order.
type DiffDocument struct {
	Modifications []FileModification `json:"modifications"`
}

// Modification looks a file up by its post-image path.
func (d DiffDocument) Modification(newPath string) (FileModification, bool) {
	for _, m := range d.Modifications {
		if m.NewPath == newPath {
			return m, true
		}
	}
	return FileModification{}, false
}

// Files lists the post-image paths in appearance order.
func (d DiffDocument) Files() []string {
	out := make([]string, 0, len(d.Modifications))
	for _, m := range d.Modifications {
		out = append(out, m.NewPath)
	}
	return out
}
