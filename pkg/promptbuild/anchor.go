// Package promptbuild chooses a bounded excerpt of a file to hand to the
// model instead of the whole file: an anchor line to center on, and a
// character-budgeted window around it. Anchor selection and hint-token
// scoring mirror the teacher's fix-preview anchor chooser. Excerpt budgets
// are counted in characters; CountTokens gives tiktoken-go token counts,
// with a character-estimate fallback, for reporting token usage.
package promptbuild

import (
	"strings"
	"unicode"
)

// ChooseAnchorLine picks the 1-based line to center an excerpt on.
// Preference order: evidenceLine if it's a valid line in content, else
// suggestionLine if valid, else the best-scoring line against hintTokens,
// else the first declaration-looking line, else line 1.
func ChooseAnchorLine(content string, evidenceLine, suggestionLine int, hintTokens []string) int {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return 1
	}

	if isValidLine(lines, evidenceLine) {
		return evidenceLine
	}
	if isValidLine(lines, suggestionLine) {
		return suggestionLine
	}

	if len(hintTokens) > 0 {
		if best, ok := findBestLineForTokens(lines, hintTokens); ok {
			return best
		}
	}

	if line, ok := findFirstDeclarationLine(lines); ok {
		return line
	}

	return 1
}

func isValidLine(lines []string, line int) bool {
	return line >= 1 && line <= len(lines)
}

// findBestLineForTokens scores every line's ±1 window against hintTokens and
// returns the best-scoring line, preferring declaration-looking lines on a
// tie. Returns ok=false when no line scores above zero.
func findBestLineForTokens(lines []string, hintTokens []string) (int, bool) {
	bestLine := 0
	bestScore := 0
	bestIsAnchor := false

	for i := range lines {
		line := i + 1
		score := scoreLineWindow(lines, line, hintTokens)
		if score == 0 {
			continue
		}
		anchor := isAnchorLine(lines[i])
		if score > bestScore || (score == bestScore && anchor && !bestIsAnchor) {
			bestLine = line
			bestScore = score
			bestIsAnchor = anchor
		}
	}
	if bestLine == 0 {
		return 0, false
	}
	return bestLine, true
}

// scoreLineWindow counts how many hint tokens appear as substrings anywhere
// in the ±1-line window around line (1-based).
func scoreLineWindow(lines []string, line int, hintTokens []string) int {
	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return 0
	}
	start := idx - 1
	if start < 0 {
		start = 0
	}
	end := idx + 1
	if end >= len(lines) {
		end = len(lines) - 1
	}

	window := strings.ToLower(strings.Join(lines[start:end+1], "\n"))
	score := 0
	for _, tok := range hintTokens {
		if tok == "" {
			continue
		}
		if strings.Contains(window, tok) {
			score++
		}
	}
	return score
}

// declarationPrefixes are trimmed-line prefixes that look like a top-level
// declaration worth anchoring on, spanning the languages the harness touches
// (Go, Rust, and the scripting/markup languages quick-check repair sees).
var declarationPrefixes = []string{
	"func ", "type ",
	"fn ", "async fn ", "pub fn ", "pub async fn ", "impl ", "struct ", "enum ", "trait ",
	"def ", "class ",
	"function ", "export function ", "export default function ", "export class ", "interface ",
}

func isAnchorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range declarationPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func findFirstDeclarationLine(lines []string) (int, bool) {
	for i, line := range lines {
		if isAnchorLine(line) {
			return i + 1, true
		}
	}
	return 0, false
}

// ExtractHintTokens derives normalized scoring tokens from a suggestion's
// free text: backtick-quoted spans, raw identifier runs, and the filename
// stem/parent-directory segments of any cited path. Tokens are lowercased,
// deduplicated preserving first-seen order, and filtered through
// normalizeHintTokens (length >= 3, common-word stoplist).
func ExtractHintTokens(detail, summary, path string, extras ...string) []string {
	var raw []string
	raw = append(raw, extractBacktickTokens(detail)...)
	raw = append(raw, extractBacktickTokens(summary)...)
	raw = append(raw, extractIdentifierTokens(detail)...)
	raw = append(raw, extractIdentifierTokens(summary)...)
	for _, e := range extras {
		raw = append(raw, extractBacktickTokens(e)...)
		raw = append(raw, extractIdentifierTokens(e)...)
	}
	raw = append(raw, extractPathTokens(path)...)
	return normalizeHintTokens(raw)
}

func normalizeHintTokens(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, tok := range raw {
		lower := strings.ToLower(strings.TrimSpace(tok))
		if len(lower) < 3 {
			continue
		}
		if isStopword(lower) {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}

func extractBacktickTokens(text string) []string {
	var out []string
	for {
		start := strings.IndexByte(text, '`')
		if start < 0 {
			break
		}
		rest := text[start+1:]
		end := strings.IndexByte(rest, '`')
		if end < 0 {
			break
		}
		out = append(out, rest[:end])
		text = rest[end+1:]
	}
	return out
}

func extractIdentifierTokens(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func extractPathTokens(path string) []string {
	if path == "" {
		return nil
	}
	clean := strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(clean, "/")
	var out []string
	if len(parts) > 0 {
		stem := parts[len(parts)-1]
		if dot := strings.LastIndexByte(stem, '.'); dot > 0 {
			stem = stem[:dot]
		}
		out = append(out, strings.FieldsFunc(stem, isPathSeparatorRune)...)
	}
	if len(parts) > 1 {
		out = append(out, parts[len(parts)-2])
	}
	return out
}

func isPathSeparatorRune(r rune) bool {
	return r == '-' || r == '_' || r == '.'
}

var stopwords = map[string]bool{}

func init() {
	for _, w := range []string{
		"the", "and", "for", "that", "this", "with", "from", "have", "has",
		"not", "are", "was", "were", "been", "being", "but", "can", "could",
		"did", "does", "doing", "down", "each", "few", "had", "has", "her",
		"here", "hers", "herself", "him", "himself", "his", "how", "into",
		"its", "itself", "just", "more", "most", "off", "once", "only",
		"other", "our", "ours", "out", "over", "own", "same", "should",
		"some", "such", "than", "then", "there", "these", "they", "those",
		"through", "too", "under", "until", "very", "what", "when", "where",
		"which", "while", "who", "whom", "why", "will", "would", "you",
		"your", "yours", "yourself", "about", "above", "after", "again",
		"against", "all", "any", "because", "before", "being", "below",
		"between", "both", "during", "function", "return", "value", "error",
		"line", "file", "code", "also", "like", "need", "make", "made",
		"used", "using", "call", "called",
	} {
		stopwords[w] = true
	}
}

func isStopword(lower string) bool {
	return stopwords[lower]
}
