package promptbuild

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultSingleFileCharBudget bounds a single-file generation prompt.
	DefaultSingleFileCharBudget = 20_000
	// DefaultMultiFileCharBudget is shared across every cited file in a
	// multi-file generation prompt, evenly partitioned and clamped per file.
	DefaultMultiFileCharBudget = 60_000
	// MinPerFileCharBudget and MaxPerFileCharBudget clamp each file's share
	// of DefaultMultiFileCharBudget once partitioned.
	MinPerFileCharBudget = 1
	MaxPerFileCharBudget = 20_000

	// excerptNotice is emitted whenever a file is sent as an excerpt instead
	// of in full, so the model knows old_string must be unique within the
	// excerpt's surrounding context, not just within what it can see.
	excerptNotice = "IMPORTANT: only an excerpt of this file is shown below. " +
		"Use exact-anchor search/replace edits. Make old_string unique by " +
		"including enough surrounding context; do not assume the excerpt " +
		"is the entire file."

	// pythonGuardrail is appended to plans that touch .py files.
	pythonGuardrail = "Python guardrails: import every module you reference; " +
		"do not change return codes or exit values unless the fix requires it; " +
		"keep the diff minimal."
)

var (
	excerptEncoder     *tiktoken.Tiktoken
	excerptEncoderOnce sync.Once
	excerptEncoderErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	excerptEncoderOnce.Do(func() {
		excerptEncoder, excerptEncoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return excerptEncoder, excerptEncoderErr
}

// CountTokens counts text's tokens via tiktoken, falling back to a
// characters-per-token estimate if the encoder is unavailable.
func CountTokens(text string) int {
	enc, err := encoder()
	if err != nil {
		return estimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return len(text) / 4
}

// PartitionCharBudget splits total evenly across n files, clamping each
// share to [MinPerFileCharBudget, MaxPerFileCharBudget].
func PartitionCharBudget(total, n int) int {
	if n <= 0 {
		return 0
	}
	share := total / n
	if share < MinPerFileCharBudget {
		share = MinPerFileCharBudget
	}
	if share > MaxPerFileCharBudget {
		share = MaxPerFileCharBudget
	}
	return share
}

// Excerpt is a bounded view of a file ready to drop into a prompt.
type Excerpt struct {
	Content    string
	Truncated  bool
	AnchorLine int
	Notice     string
}

// BuildExcerpt returns the whole file when it fits within maxChars, else a
// bounded excerpt centered on the chosen anchor line carrying the
// excerpt-shown notice.
func BuildExcerpt(path, content string, evidenceLine, suggestionLine int, hintTokens []string, maxChars int) Excerpt {
	if len(content) <= maxChars {
		return Excerpt{Content: content, AnchorLine: ChooseAnchorLine(content, evidenceLine, suggestionLine, hintTokens)}
	}

	anchor := ChooseAnchorLine(content, evidenceLine, suggestionLine, hintTokens)
	excerpt, ok := truncateContentAroundLine(content, anchor, maxChars)
	if !ok {
		excerpt = truncateContent(content, maxChars)
	}
	return Excerpt{Content: excerpt, Truncated: true, AnchorLine: anchor, Notice: excerptNotice}
}

// truncateContent keeps the head and tail halves of content, dropping the
// middle, for callers with no particular line to center on.
func truncateContent(content string, maxChars int) string {
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	half := maxChars / 2
	head := string(runes[:half])
	tail := string(runes[len(runes)-half:])
	return fmt.Sprintf("%s\n\n... [truncated] ...\n\n%s", head, tail)
}

// truncateContentAroundLine binary-searches for the widest symmetric window
// of lines around line (1-based) whose joined text still fits maxChars. It
// reports ok=false when even the single target line can't be centered
// (e.g. line out of range).
func truncateContentAroundLine(content string, line, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return "", false
	}
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return "", false
	}

	target := line - 1
	if target < 0 {
		target = 0
	}
	if target >= len(lines) {
		return "", false
	}

	maxRadius := target
	if tail := len(lines) - 1 - target; tail > maxRadius {
		maxRadius = tail
	}

	bestStart, bestEnd, found := 0, 0, false
	lo, hi := 0, maxRadius
	for lo <= hi {
		mid := (lo + hi) / 2
		start := target - mid
		if start < 0 {
			start = 0
		}
		end := target + mid
		if end > len(lines)-1 {
			end = len(lines) - 1
		}
		snippet := strings.Join(lines[start:end+1], "\n")
		if len([]rune(snippet)) <= maxChars {
			bestStart, bestEnd, found = start, end, true
			lo = mid + 1
		} else if mid == 0 {
			break
		} else {
			hi = mid - 1
		}
	}

	if found {
		return strings.Join(lines[bestStart:bestEnd+1], "\n"), true
	}
	return truncateLineToChars(lines[target], maxChars), true
}

func truncateLineToChars(line string, maxChars int) string {
	runes := []rune(line)
	if len(runes) <= maxChars {
		return line
	}
	return string(runes[:maxChars])
}

// IsPythonFile reports whether path should carry the Python guardrail
// paragraph when included in a plan.
func IsPythonFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".py")
}

// PythonGuardrail returns the guardrail paragraph for Python-touching plans.
func PythonGuardrail() string {
	return pythonGuardrail
}
