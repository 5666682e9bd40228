// Package editapply turns a set of search/replace edit operations returned
// by the edit synthesizer into a new file content, with the same
// disambiguation and fallback behavior an LLM-authored old_string anchor
// needs to be usable in practice: exact match, CRLF/LF normalization,
// whitespace-trim tolerance, and closest-to-target-line disambiguation when
// an anchor is not unique.
package editapply

import (
	"fmt"
	"strings"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
)

// Op is a single search/replace edit: old_string must match the target
// content; new_string replaces it. An empty OldString is only valid against
// empty content (new-file creation).
type Op struct {
	OldString string
	NewString string
}

// matchRange is the outcome of searching content for a needle.
type matchRange struct {
	kind  matchKind
	start int
	end   int
	count int
}

type matchKind int

const (
	matchNone matchKind = iota
	matchOne
	matchMany
)

// Validate rejects edits whose old_string could never identify a real
// location: placeholder ellipses, or anchors made up entirely of
// delimiter/whitespace characters. Both are near-certain signs the model
// summarized the code instead of copying it verbatim.
func Validate(edits []Op, contentLabel string) error {
	for i, edit := range edits {
		if looksLikePlaceholder(edit.OldString) {
			return harnesserrors.New(harnesserrors.ErrCodeEditInvalid,
				fmt.Sprintf("edit %d: old_string contains placeholder ellipsis in %s; copy exact code, do not use `...` or `…`", i+1, contentLabel)).
				WithContext("edit_index", i+1)
		}
		if isDelimiterOnly(edit.OldString) {
			return harnesserrors.New(harnesserrors.ErrCodeEditInvalid,
				fmt.Sprintf("edit %d: old_string is too generic in %s (delimiter-only); use a larger unique anchor with nearby code context", i+1, contentLabel)).
				WithContext("edit_index", i+1)
		}
	}
	return nil
}

// Apply runs edits against content in order, returning the resulting
// content. targetLine, when > 0, is used to disambiguate an old_string that
// matches more than once: the occurrence strictly closest to targetLine
// wins; a tie leaves the edit ambiguous.
func Apply(content string, edits []Op, targetLine int) (string, error) {
	out := content
	for i, edit := range edits {
		next, err := applyOne(out, edit, targetLine)
		if err != nil {
			return "", wrapEditErr(i, err)
		}
		out = next
	}
	return out, nil
}

func wrapEditErr(index int, err error) error {
	if he, ok := err.(*harnesserrors.Error); ok {
		he.Context["edit_index"] = index + 1
		return he
	}
	return err
}

func applyOne(content string, edit Op, targetLine int) (string, error) {
	if edit.OldString == "" {
		if content == "" {
			return edit.NewString, nil
		}
		return "", harnesserrors.New(harnesserrors.ErrCodeEditInvalid,
			"old_string is empty for non-empty content; provide more context")
	}

	if result, ok, err := tryApply(content, edit.OldString, edit.NewString, targetLine); err != nil {
		return "", err
	} else if ok {
		return result, nil
	}

	// CRLF fallback: the file uses CRLF but the model emitted LF-only anchors.
	if strings.Contains(edit.OldString, "\n") && strings.Contains(content, "\r\n") {
		crlfOld := strings.ReplaceAll(edit.OldString, "\n", "\r\n")
		crlfNew := strings.ReplaceAll(edit.NewString, "\n", "\r\n")
		if result, ok, err := tryApply(content, crlfOld, crlfNew, targetLine); err != nil {
			return "", err
		} else if ok {
			return result, nil
		}
	}

	// Whitespace-trim fallback: tolerate boundary whitespace mismatches if a
	// unique trimmed anchor exists.
	trimmed := strings.TrimSpace(edit.OldString)
	if trimmed != "" && trimmed != edit.OldString {
		if result, ok, err := tryApply(content, trimmed, edit.NewString, targetLine); err != nil {
			return "", err
		} else if ok {
			return result, nil
		}
	}

	hint := targetAnchorHintForNotFound(content, targetLine)
	return "", harnesserrors.New(harnesserrors.ErrCodeEditNotFound,
		fmt.Sprintf("old_string not found in content; searched for: %q%s", truncateForError(edit.OldString), hint))
}

// tryApply attempts a single needle against content, resolving ambiguity
// against targetLine. ok is false (with nil error) when the needle simply
// isn't present, signaling the caller to try the next fallback.
func tryApply(content, needle, replacement string, targetLine int) (string, bool, error) {
	mr := findMatches(content, needle)
	switch mr.kind {
	case matchNone:
		return "", false, nil
	case matchOne:
		return content[:mr.start] + replacement + content[mr.end:], true, nil
	default:
		if start, end, ok := resolveAmbiguousNearTarget(content, needle, targetLine); ok {
			return content[:start] + replacement + content[end:], true, nil
		}
		contexts := matchContextsForError(content, needle, 2)
		hint := targetLineDisambiguationHint(content, needle, targetLine)
		return "", false, harnesserrors.New(harnesserrors.ErrCodeEditAmbiguous,
			fmt.Sprintf("old_string matches %d times (must be unique); need more context; searched for: %q%s%s",
				mr.count, truncateForError(needle), contexts, hint))
	}
}

func findMatches(content, needle string) matchRange {
	var starts []int
	idx := 0
	for {
		i := strings.Index(content[idx:], needle)
		if i < 0 {
			break
		}
		starts = append(starts, idx+i)
		idx = idx + i + len(needle)
	}
	switch len(starts) {
	case 0:
		return matchRange{kind: matchNone}
	case 1:
		return matchRange{kind: matchOne, start: starts[0], end: starts[0] + len(needle)}
	default:
		return matchRange{kind: matchMany, count: len(starts)}
	}
}

// resolveAmbiguousNearTarget picks the occurrence of needle whose containing
// line is strictly closer to targetLine than every other occurrence. Ties
// are left unresolved.
func resolveAmbiguousNearTarget(content, needle string, targetLine int) (int, int, bool) {
	if targetLine <= 0 {
		return 0, 0, false
	}
	type cand struct{ start, end, dist int }
	var cands []cand
	idx := 0
	for {
		i := strings.Index(content[idx:], needle)
		if i < 0 {
			break
		}
		start := idx + i
		line := byteOffsetToLine(content, start)
		cands = append(cands, cand{start: start, end: start + len(needle), dist: absDiff(line, targetLine)})
		idx = start + len(needle)
	}
	if len(cands) < 2 {
		return 0, 0, false
	}
	best := cands[0]
	second := cand{dist: int(^uint(0) >> 1)}
	for _, c := range cands[1:] {
		if c.dist < best.dist {
			second = best
			best = c
		} else if c.dist < second.dist {
			second = c
		}
	}
	if best.dist < second.dist {
		return best.start, best.end, true
	}
	return 0, 0, false
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func byteOffsetToLine(content string, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	return strings.Count(content[:offset], "\n") + 1
}

// looksLikePlaceholder reports whether old_string contains an ellipsis used
// as a stand-in for real code, while tolerating legitimate spread/rest
// syntax like `...args` by requiring the ellipsis to sit outside any
// identifier run.
func looksLikePlaceholder(oldString string) bool {
	text := strings.TrimSpace(oldString)
	if text == "" {
		return false
	}
	runes := []rune(text)
	n := len(runes)
	for i := 0; i < n; {
		var start, end int
		isPlaceholder := false
		if i+2 < n && runes[i] == '.' && runes[i+1] == '.' && runes[i+2] == '.' {
			start, end, isPlaceholder = i, i+3, true
		} else if runes[i] == '…' {
			start, end, isPlaceholder = i, i+1, true
		}
		if !isPlaceholder {
			i++
			continue
		}
		prevIsIdent := start > 0 && isIdentChar(runes[start-1])
		nextIsIdent := end < n && isIdentChar(runes[end])
		if !prevIsIdent && !nextIsIdent {
			return true
		}
		i = end
	}
	return false
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '$'
}

// isDelimiterOnly rejects ultra-generic anchors made entirely of bracket,
// punctuation, or whitespace characters (e.g. "}" or "};"), which are
// almost always ambiguous and lead to non-deterministic edits.
func isDelimiterOnly(oldString string) bool {
	text := strings.TrimSpace(oldString)
	if text == "" {
		return false
	}
	for _, r := range text {
		switch r {
		case '{', '}', '(', ')', '[', ']', '<', '>', ';', ',', ':':
			continue
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		return false
	}
	return true
}

func truncateForError(s string) string {
	const maxRunes = 100
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + " [truncated]"
}

// NormalizeTrailingNewline reconciles the generated content's trailing
// newline convention with the original file's, so edits that happen to add
// or drop a final newline don't show up as spurious diff noise. New files
// are returned unchanged.
func NormalizeTrailingNewline(original, content string, isNewFile bool) string {
	if isNewFile {
		return content
	}
	originalEndsNewline := strings.HasSuffix(original, "\n")
	if originalEndsNewline {
		if strings.HasSuffix(content, "\n") {
			return content
		}
		if strings.HasSuffix(original, "\r\n") {
			return content + "\r\n"
		}
		return content + "\n"
	}
	for strings.HasSuffix(content, "\n") {
		if strings.HasSuffix(content, "\r\n") {
			content = content[:len(content)-2]
		} else {
			content = content[:len(content)-1]
		}
	}
	return content
}
