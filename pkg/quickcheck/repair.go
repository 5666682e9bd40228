package quickcheck

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/sandbox"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/synth"
)

// TargetFile chooses the file a quick-check repair attempt should edit:
// the first extracted error location that falls within allowedScope, or
// (when relaxedScope is set) any changed file; failing that, the sole
// changed file if there is exactly one.
func TargetFile(summary string, changedFiles []string, allowedScope []string, relaxedScope bool) (string, bool) {
	inScope := func(path string) bool {
		for _, p := range allowedScope {
			if p == path {
				return true
			}
		}
		return false
	}

	for _, loc := range extractAllLocations(summary) {
		if inScope(loc) {
			return loc, true
		}
	}
	if relaxedScope {
		for _, loc := range extractAllLocations(summary) {
			for _, c := range changedFiles {
				if c == loc {
					return loc, true
				}
			}
		}
	}
	if len(changedFiles) == 1 {
		return changedFiles[0], true
	}
	return "", false
}

// extractAllLocations runs every location parser against summary's lines,
// in the cascade's priority order, and returns every file path found.
func extractAllLocations(summary string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, line := range splitClean(summary) {
		if loc, ok := parseTscErrorLine(line); ok {
			add(loc.File)
		}
		if loc, ok := parseColonErrorLineWithMessage(line); ok {
			add(loc.File)
		}
		if loc, ok := parsePathLineCol(line); ok {
			add(loc.File)
		}
		if loc, ok := parseRustLocationLine(line); ok {
			add(loc.File)
		}
		if loc, ok := parseBracketedPathLine(line); ok {
			add(loc.File)
		}
		if loc, ok := parsePythonCompileallErrorLine(line); ok {
			add(loc.File)
		}
		if loc, ok := parsePythonFileLine(line); ok {
			add(loc.File)
		}
	}
	return out
}

// looksLikePrettierFailure reports whether a summary names prettier (or
// looks like its check-mode diff output), letting the repair loop try the
// deterministic `prettier --write` fast-path before spending LLM tokens.
func looksLikePrettierFailure(summary string) bool {
	lower := strings.ToLower(summary)
	return strings.Contains(lower, "prettier") || strings.Contains(lower, "code style issues")
}

// looksESLintFixable reports whether an ESLint finding says it's
// "potentially fixable with --fix", letting the repair loop try
// `eslint --fix` before spending LLM tokens.
func looksESLintFixable(summary string) bool {
	return strings.Contains(strings.ToLower(summary), "potentially fixable with --fix")
}

// FastPathCommand returns the deterministic repair command to try before
// calling the edit synthesizer, or ok=false when no known fast path
// applies to this failure summary.
func FastPathCommand(summary, target string) (string, bool) {
	switch {
	case looksLikePrettierFailure(summary):
		return "npx prettier --write " + target, true
	case looksESLintFixable(summary):
		return "npx eslint --fix " + target, true
	}
	return "", false
}

// RepairRoundResult is one pass of the quick-check repair loop.
type RepairRoundResult struct {
	Outcome         Outcome
	UsedFastPath    bool
	FastPathCommand string
	Synthesized     *synth.AppliedFix
	Stopped         bool
	StopReason      string
}

// RepairParams bundles everything one repair round needs.
type RepairParams struct {
	Sandbox      *sandbox.Sandbox
	Suggestion   suggestion.Suggestion
	Preview      suggestion.FixPreview
	Synthesizer  *synth.Synthesizer
	Model        string
	TimeoutMs    int64
	RelaxedScope bool

	PreviousFingerprint string
}

// Round runs one quick-check repair iteration: it re-runs the quick
// check, and if it's still failing, tries the deterministic fast path
// first and falls back to the edit synthesizer against the file the
// failure points at. The caller is responsible for looping up to
// config.HarnessConfig.MaxAutoQuickCheckFixLoops and re-invoking Round
// with the previous round's fingerprint until either a pass or a
// no-progress stop.
func Round(ctx context.Context, p RepairParams) (*RepairRoundResult, error) {
	outcome := Run(ctx, p.Sandbox, p.TimeoutMs)
	if outcome.Status != Failed {
		return &RepairRoundResult{Outcome: outcome}, nil
	}

	summary := SummarizeFailure(outcome.StderrTail, outcome.StdoutTail)
	fp := Fingerprint(summary)
	if p.PreviousFingerprint != "" && fp == p.PreviousFingerprint {
		return &RepairRoundResult{
			Outcome:    outcome,
			Stopped:    true,
			StopReason: "quick_check_repair_stopped_no_progress",
		}, nil
	}

	changed, err := p.Sandbox.ModifiedFiles()
	if err != nil {
		return nil, err
	}

	target, ok := TargetFile(summary, changed, p.Suggestion.AllowedScope(), p.RelaxedScope)
	if !ok {
		return &RepairRoundResult{
			Outcome:    outcome,
			Stopped:    true,
			StopReason: "quick_check_repair_no_target_file",
		}, nil
	}

	if cmd, ok := FastPathCommand(summary, target); ok {
		runCmd := p.Sandbox.ShellCommand(ctx, cmd)
		_ = runCmd.Run() // best-effort; re-running the quick check is the real signal
		return &RepairRoundResult{Outcome: outcome, UsedFastPath: true, FastPathCommand: cmd}, nil
	}

	abs, err := p.Sandbox.ResolveRepoPathAllowNew(target)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, harnesserrors.New(harnesserrors.ErrCodeQuickCheckFailed,
			"quick check repair could not read target file "+target).WithContext("cause", err.Error())
	}

	preview := p.Preview.WithModifier(repairModifierText(summary, target))
	fixed, err := p.Synthesizer.GenerateSingleFile(ctx, synth.SingleFileParams{
		Suggestion: p.Suggestion,
		Preview:    preview,
		File:       synth.FileInput{Path: target, Content: string(content)},
		Model:      p.Model,
		TimeoutMs:  p.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(fixed.NewContent), 0o644); err != nil {
		return nil, harnesserrors.New(harnesserrors.ErrCodeQuickCheckFailed,
			"quick check repair could not write target file "+target).WithContext("cause", err.Error())
	}

	return &RepairRoundResult{Outcome: outcome, Synthesized: fixed}, nil
}

// repairModifierText builds the feedback paragraph threaded into the fix
// preview for a quick-check repair attempt: the failure summary and, when
// one applies, a known-failure-shape hint, followed by a fix instruction. It
// includes no excerpt of the command output and no snippet of the target
// file.
func repairModifierText(summary, target string) string {
	var b strings.Builder
	b.WriteString("The quick check failed after the previous edit:\n")
	b.WriteString(summary)
	b.WriteString("\n")
	if hint, ok := RepairHint(summary); ok {
		b.WriteString("\nHint: ")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	b.WriteString("\nFix the issue above in " + filepath.ToSlash(target) + " with a minimal, targeted change. ")
	b.WriteString("Do not introduce new imports or dependencies unless strictly required.\n")
	return b.String()
}
