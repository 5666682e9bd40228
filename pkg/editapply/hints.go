package editapply

import (
	"fmt"
	"strings"
)

// matchContextsForError renders a small numbered excerpt around each of the
// first maxMatches occurrences of needle, so an error message gives the
// caller enough to pick a unique anchor without re-sending the whole file.
func matchContextsForError(content, needle string, maxMatches int) string {
	if maxMatches <= 0 || needle == "" {
		return ""
	}
	var starts []int
	idx := 0
	for len(starts) < maxMatches {
		i := strings.Index(content[idx:], needle)
		if i < 0 {
			break
		}
		starts = append(starts, idx+i)
		idx = idx + i + len(needle)
	}
	if len(starts) == 0 {
		return ""
	}

	var out strings.Builder
	out.WriteString("\n\nMatch contexts (first occurrences):")
	for i, start := range starts {
		line := byteOffsetToLine(content, start)
		snippet := snippetAroundLineNumbered(content, line, 2, 3)
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		fmt.Fprintf(&out, "\n- Match %d around line %d:\n%s", i+1, line, snippet)
	}
	return out.String()
}

// targetLineDisambiguationHint explains, for an ambiguous anchor, which
// occurrence is closest to targetLine and offers a unique anchor around it.
func targetLineDisambiguationHint(content, needle string, targetLine int) string {
	if targetLine <= 0 {
		return ""
	}
	var lines []int
	idx := 0
	for {
		i := strings.Index(content[idx:], needle)
		if i < 0 {
			break
		}
		start := idx + i
		lines = append(lines, byteOffsetToLine(content, start))
		idx = start + len(needle)
		if len(lines) >= 64 {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	closest := lines[0]
	for _, l := range lines[1:] {
		if absDiff(l, targetLine) < absDiff(closest, targetLine) {
			closest = l
		}
	}

	out := fmt.Sprintf("\nClosest match to target line %d is around line %d. Use that occurrence and include nearby lines in old_string.", targetLine, closest)
	if anchor, ok := suggestUniqueAnchorNearLine(content, closest); ok {
		out += "\n\nSuggested unique old_string anchor near the target:\n```\n" + anchor + "\n```"
	}
	return out
}

// targetAnchorHintForNotFound offers a unique anchor near targetLine when an
// old_string could not be found at all.
func targetAnchorHintForNotFound(content string, targetLine int) string {
	if targetLine <= 0 {
		return ""
	}
	if anchor, ok := suggestUniqueAnchorNearLine(content, targetLine); ok {
		return fmt.Sprintf("\n\nSuggested unique old_string anchor near target line %d:\n```\n%s\n```", targetLine, anchor)
	}
	snippet := snippetAroundLineForError(content, targetLine, 2)
	if strings.TrimSpace(snippet) == "" {
		return ""
	}
	return fmt.Sprintf("\n\nTarget vicinity around line %d (copy a verbatim old_string from here):\n```\n%s\n```", targetLine, snippet)
}

// suggestUniqueAnchorNearLine expands the context window around line until
// the resulting snippet appears exactly once in content, capping at 10 lines
// of context each direction.
func suggestUniqueAnchorNearLine(content string, line int) (string, bool) {
	for context := 1; context <= 10; context++ {
		snippet := snippetAroundLineForError(content, line, context)
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		if appearsExactlyOnce(content, snippet) {
			return snippet, true
		}
	}
	return "", false
}

func appearsExactlyOnce(content, needle string) bool {
	if needle == "" {
		return false
	}
	first := strings.Index(content, needle)
	if first < 0 {
		return false
	}
	return strings.Index(content[first+len(needle):], needle) < 0
}

func snippetAroundLineForError(content string, line, contextLines int) string {
	if line <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return ""
	}
	idx := line - 1
	if idx >= len(lines) {
		return ""
	}
	start := idx - contextLines
	if start < 0 {
		start = 0
	}
	end := idx + contextLines + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func snippetAroundLineNumbered(content string, line, before, after int) string {
	if line <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return ""
	}
	idx := line - 1
	if idx >= len(lines) {
		return ""
	}
	start := idx - before
	if start < 0 {
		start = 0
	}
	end := idx + after + 1
	if end > len(lines) {
		end = len(lines)
	}

	var out strings.Builder
	for offset, l := range lines[start:end] {
		ln := start + offset + 1
		fmt.Fprintf(&out, "%4d| %s\n", ln, l)
	}

	const maxSnippetChars = 700
	result := out.String()
	if len(result) > maxSnippetChars {
		return result[:maxSnippetChars]
	}
	return result
}
