package quickcheck

import (
	"regexp"
	"strconv"
	"strings"
)

// sourceExtensions are the file extensions the location parsers accept;
// anything else is assumed to be noise (timestamps, URLs) rather than a
// real source reference.
var sourceExtensions = map[string]bool{
	"ts": true, "tsx": true, "js": true, "jsx": true, "mjs": true, "cjs": true,
	"rs": true, "go": true, "py": true,
}

// Location is an extracted (file, line, column) reference from a tool's
// diagnostic output, with the message fragment that followed it.
type Location struct {
	File    string
	Line    int
	Column  int
	Message string
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

func hasSourceExtension(path string) bool {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return false
	}
	return sourceExtensions[strings.ToLower(path[dot+1:])]
}

// tscErrorRe matches `path(line,col): error TS####: message` (tsc's
// default reporter format).
var tscErrorRe = regexp.MustCompile(`^\s*([^\s:(][^():]*)\((\d+),(\d+)\):\s*error\s*TS\d+:\s*(.+)$`)

func parseTscErrorLine(raw string) (Location, bool) {
	m := tscErrorRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	if !hasSourceExtension(m[1]) {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return Location{File: strings.TrimPrefix(m[1], "./"), Line: line, Column: col, Message: m[4]}, true
}

// pathLineColRe matches a bare `[./]path:line:col` with no trailing
// message on the same line — the shape Next.js emits on one line before a
// separate "Type error: ..." line.
var pathLineColRe = regexp.MustCompile(`^\s*(?:\./)?([^\s:]+?\.[A-Za-z0-9]+):(\d+):(\d+)\s*$`)

func parsePathLineCol(raw string) (Location, bool) {
	m := pathLineColRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	if !hasSourceExtension(m[1]) {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return Location{File: m[1], Line: line, Column: col}, true
}

// colonErrorRe matches `[-->] [./]path:line:col: message`, the shape
// Next.js and several other tools report.
var colonErrorRe = regexp.MustCompile(`^\s*(?:-->\s*)?(?:\./)?([^\s:]+?\.[A-Za-z0-9]+):(\d+):(\d+):\s*(.+)$`)

func parseColonErrorLineWithMessage(raw string) (Location, bool) {
	m := colonErrorRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	if !hasSourceExtension(m[1]) {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return Location{File: m[1], Line: line, Column: col, Message: m[4]}, true
}

// subtaskPrefixRe matches a pnpm/yarn workspace-script stream prefix, e.g.
// ". test:lint: " before the line it's annotating.
var subtaskPrefixRe = regexp.MustCompile(`^\. ([A-Za-z0-9:_-]+): (.*)$`)

// stripQuickCheckSubtaskPrefix removes a leading package-manager subtask
// label (". test:lint: <rest>") so the remaining parsers see the bare
// tool-output line underneath.
func stripQuickCheckSubtaskPrefix(raw string) string {
	if m := subtaskPrefixRe.FindStringSubmatch(raw); m != nil {
		return m[2]
	}
	return raw
}

// bracketedPathRe matches Prettier's `[warn] path/to/file.ts` reporter
// format.
var bracketedPathRe = regexp.MustCompile(`^\s*\[(warn|error)\]\s+([^\s]+?\.[A-Za-z0-9]+)\b`)

func parseBracketedPathLine(raw string) (Location, bool) {
	stripped := stripQuickCheckSubtaskPrefix(raw)
	m := bracketedPathRe.FindStringSubmatch(stripped)
	if m == nil {
		return Location{}, false
	}
	return Location{File: m[2]}, true
}

var pythonCompileallErrorRe = regexp.MustCompile(`^\s*\*{3}\s*Error compiling\s+'([^']+?\.py)'`)

func parsePythonCompileallErrorLine(raw string) (Location, bool) {
	if !strings.Contains(raw, "Error compiling") {
		return Location{}, false
	}
	m := pythonCompileallErrorRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	return Location{File: m[1]}, true
}

var pythonFileLineRe = regexp.MustCompile(`^\s*File\s+"([^"]+?\.py)"\s*,\s*line\s*(\d+)\b`)

func parsePythonFileLine(raw string) (Location, bool) {
	if !strings.HasPrefix(strings.TrimSpace(raw), "File ") {
		return Location{}, false
	}
	m := pythonFileLineRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[2])
	return Location{File: m[1], Line: line}, true
}

var eslintDetailRe = regexp.MustCompile(`^\s*(\d+):(\d+)\s+(?:error|warning)\b`)

func parseESLintDetailLine(raw string) (Location, bool) {
	stripped := stripQuickCheckSubtaskPrefix(raw)
	m := eslintDetailRe.FindStringSubmatch(stripped)
	if m == nil {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	return Location{Line: line, Column: col}, true
}

func parseRustErrorHeaderLine(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "error") {
		return trimmed, true
	}
	return "", false
}

var rustLocationRe = regexp.MustCompile(`^\s*-->\s*([^\s:]+?\.[A-Za-z0-9]+):(\d+):(\d+)`)

func parseRustLocationLine(raw string) (Location, bool) {
	m := rustLocationRe.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	if !strings.EqualFold(m[1][strings.LastIndexByte(m[1], '.')+1:], "rs") {
		return Location{}, false
	}
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return Location{File: m[1], Line: line, Column: col}, true
}

// signalWords score a line's likelihood of being the one worth surfacing
// to a repair prompt, used by pickLine when none of the structured
// parsers above matched anything.
var highSignalWords = []string{
	"fail", "npm err!", "yarn err!", "err!", "exit code",
	"assertionerror", "typeerror", "referenceerror", "syntaxerror", "panic", "fatal",
}
var mediumSignalWords = []string{"error", "failed", "cannot "}
var progressWords = []string{"updating ", "checking ", "compiling ", "finished ", "downloading ", "locking "}
var passingWords = []string{"✔", "✓", "pass ", "passed ", "0 errors", "0 failed", "no errors"}
var wrapperWords = []string{"command failed", "elifecycle"}

func scoreLine(lower string) (score int, highSignal bool) {
	for _, w := range progressWords {
		if strings.Contains(lower, w) {
			score -= 2
		}
	}
	for _, w := range passingWords {
		if strings.Contains(lower, w) {
			score -= 4
		}
	}
	for _, w := range wrapperWords {
		if strings.Contains(lower, w) {
			score -= 3
		}
	}
	for _, w := range highSignalWords {
		if strings.Contains(lower, w) {
			score += 10
			highSignal = true
		}
	}
	for _, w := range mediumSignalWords {
		if strings.Contains(lower, w) {
			score += 5
		}
	}
	return score, highSignal
}

// pickLine is the scored fallback line-picker used when no structured
// parser recognized anything in the output: it favors high-signal error
// lines over passing-looking or tool-progress noise, stopping early on the
// first clearly decisive line.
func pickLine(lines []string) (string, bool) {
	best := ""
	bestScore := -1 << 30
	found := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		score, highSignal := scoreLine(lower)
		isWrapper := false
		for _, w := range wrapperWords {
			if strings.Contains(lower, w) {
				isWrapper = true
			}
		}
		isPassing := false
		for _, w := range passingWords {
			if strings.Contains(lower, w) {
				isPassing = true
			}
		}
		if score > bestScore {
			bestScore = score
			best = trimmed
			found = true
		}
		if highSignal && !isPassing && !isWrapper {
			return trimmed, true
		}
	}
	return best, found
}

const maxSummaryChars = 260

// SummarizeFailure condenses a quick-check outcome's captured stdout and
// stderr into the single most useful line (or pair of lines) for a
// developer or a repair prompt, the way the teacher's quick-check failure
// summarizer cascades through tool-specific parsers before falling back to
// a scored generic line-picker.
func SummarizeFailure(stderrText, stdoutText string) string {
	stderrLines := splitClean(stderrText)
	stdoutLines := splitClean(stdoutText)

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		for _, line := range lines {
			if loc, ok := parseTscErrorLine(line); ok {
				return formatLoc(loc, line)
			}
		}
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		for i, line := range lines {
			if loc, ok := parsePathLineCol(line); ok && isJSOrTS(loc.File) {
				if i+1 < len(lines) && strings.Contains(lines[i+1], "Type error:") {
					return loc.File + ":" + itoa(loc.Line) + ":" + itoa(loc.Column) + ": " + strings.TrimSpace(lines[i+1])
				}
			}
		}
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		for _, line := range lines {
			if loc, ok := parseColonErrorLineWithMessage(line); ok {
				return formatLoc(loc, line)
			}
		}
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		var pendingHeader string
		for _, line := range lines {
			if header, ok := parseRustErrorHeaderLine(line); ok {
				pendingHeader = header
				continue
			}
			if loc, ok := parseRustLocationLine(line); ok {
				msg := pendingHeader
				if msg == "" {
					msg = line
				}
				return loc.File + ":" + itoa(loc.Line) + ":" + itoa(loc.Column) + ": " + msg
			}
		}
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		for _, line := range lines {
			if loc, ok := parseBracketedPathLine(line); ok {
				return loc.File + ": " + strings.TrimSpace(line)
			}
		}
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		for _, line := range lines {
			if loc, ok := parsePythonCompileallErrorLine(line); ok {
				return loc.File + ": " + strings.TrimSpace(line)
			}
			if loc, ok := parsePythonFileLine(line); ok {
				return loc.File + ":" + itoa(loc.Line) + ": " + strings.TrimSpace(line)
			}
		}
	}

	if special, ok := specialCaseSummary(stderrLines, stdoutLines); ok {
		return special
	}

	for _, lines := range [][]string{stderrLines, stdoutLines} {
		if line, ok := pickLine(lines); ok {
			return truncateSummary(line)
		}
	}
	return "quick check failed with no parseable output"
}

func isJSOrTS(path string) bool {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return false
	}
	switch strings.ToLower(path[dot+1:]) {
	case "ts", "tsx", "js", "jsx", "mjs", "cjs":
		return true
	}
	return false
}

// specialCaseSummary checks for a handful of known failure shapes that
// don't fit the (file, line, col) pattern but are worth surfacing
// verbatim: coverage threshold misses, package-size-limit overruns, and
// bare ESLint/tsc error summary lines.
func specialCaseSummary(stderrLines, stdoutLines []string) (string, bool) {
	needles := []string{
		"coverage for lines",
		"package size limit has exceeded",
	}
	for _, lines := range [][]string{stderrLines, stdoutLines} {
		var matches []string
		for _, line := range lines {
			lower := strings.ToLower(line)
			for _, n := range needles {
				if strings.Contains(lower, n) {
					matches = append(matches, strings.TrimSpace(line))
				}
			}
			if (eslintDetailRe.MatchString(stripQuickCheckSubtaskPrefix(line)) || tscErrorRe.MatchString(line)) && len(matches) == 0 {
				matches = append(matches, strings.TrimSpace(line))
			}
		}
		if len(matches) > 0 {
			return truncateSummary(strings.Join(matches, " | ")), true
		}
	}
	return "", false
}

func truncateSummary(s string) string {
	if len(s) <= maxSummaryChars {
		return s
	}
	return s[:maxSummaryChars] + "..."
}

func formatLoc(loc Location, raw string) string {
	if loc.Line == 0 && loc.Column == 0 {
		return strings.TrimSpace(raw)
	}
	return loc.File + ":" + itoa(loc.Line) + ":" + itoa(loc.Column) + ": " + strings.TrimSpace(loc.Message)
}

func splitClean(s string) []string {
	s = stripANSI(s)
	return strings.Split(s, "\n")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

var digitRunRe = regexp.MustCompile(`\d+`)
var whitespaceRunRe = regexp.MustCompile(`\s+`)

// Fingerprint normalizes a failure summary for no-progress detection across
// repair-loop iterations: digit runs collapse to a single '#' (so line
// numbers that shift by one don't look like a different failure),
// whitespace runs collapse to a single space, and case is flattened.
func Fingerprint(summary string) string {
	s := digitRunRe.ReplaceAllString(summary, "#")
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// RepairHint returns a short, known-failure-shape-specific nudge to add to
// a repair prompt, when the summary matches one of a handful of patterns
// worth calling out explicitly. ok is false when nothing matched, in which
// case the repair path relies on the generic guidance already given
// elsewhere.
func RepairHint(summary string) (string, bool) {
	lower := strings.ToLower(summary)
	if strings.Contains(lower, "error[e0277]") && strings.Contains(lower, "`?` operator can only be used") {
		return "The `?` operator can only be used in a function that returns Result or Option. " +
			"Either remove the `?` and handle the error explicitly, or change the function's return type.", true
	}
	return "", false
}
