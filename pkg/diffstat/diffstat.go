// Package diffstat computes changed-line counts for the gate evaluator's
// diff-budget gate (C10): a zero-context unified diff per tracked file, or
// a full line count for an untracked new file. Grounded on the teacher's
// own pkg/touch.buildUnifiedDiff, which reaches for the same
// pmezard/go-difflib unified-diff builder.
package diffstat

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// FileInput is one changed file's before/after state.
type FileInput struct {
	Path     string
	Original string // empty for a new, untracked file
	Current  string
	IsNew    bool
}

// FileStat is one file's contribution to the diff budget.
type FileStat struct {
	Path         string
	ChangedLines int
	IsNew        bool
}

// Summary aggregates every changed file's stats for the diff-budget gate.
type Summary struct {
	Files              []FileStat
	ChangedFileCount   int
	TotalChangedLines  int
}

// Compute builds a Summary across every changed file: untracked new files
// count every line as changed; tracked files are diffed with zero context
// so only the actually-changed lines count, matching the teacher's own
// unified-diff-based change accounting.
func Compute(files []FileInput) Summary {
	summary := Summary{ChangedFileCount: len(files)}
	for _, f := range files {
		var n int
		if f.IsNew {
			n = countLines(f.Current)
		} else {
			n = changedLineCount(f.Original, f.Current)
		}
		summary.Files = append(summary.Files, FileStat{Path: f.Path, ChangedLines: n, IsNew: f.IsNew})
		summary.TotalChangedLines += n
	}
	return summary
}

// changedLineCount diffs original against current with zero lines of
// context and counts the '+'/'-' lines in the hunks, excluding the
// '---'/'+++' file headers.
func changedLineCount(original, current string) int {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(current),
		FromFile: "a",
		ToFile:   "b",
		Context:  0,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return 0
	}

	count := 0
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			continue
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			count++
		}
	}
	return count
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + boolToInt(!strings.HasSuffix(content, "\n"))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PerFileExceeded reports the paths whose own changed-line count exceeds
// maxPerFile.
func (s Summary) PerFileExceeded(maxPerFile int) []string {
	var out []string
	for _, f := range s.Files {
		if f.ChangedLines > maxPerFile {
			out = append(out, f.Path)
		}
	}
	return out
}
