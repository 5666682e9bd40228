// Package gates implements the gate evaluator (C10): the deterministic
// checks run against the sandbox's final state and the generated change
// description before a candidate is allowed through — scope, non-empty
// diff, diff budget, syntax, binary-write safety, plain-language
// description, and the quick-check result. Grounded on the teacher's own
// validation-before-apply checks in fix.rs, generalized into the spec's
// named gate table.
package gates

import (
	"strings"
	"unicode/utf8"

	"github.com/cosmoslabs/applyharness/pkg/config"
	"github.com/cosmoslabs/applyharness/pkg/diffstat"
	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/quickcheck"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/syntaxcheck"
)

// ChangedFile is one file's final state for gate evaluation.
type ChangedFile struct {
	Path     string
	Original string // empty when IsNew
	Current  string
	IsNew    bool
	Deleted  bool
}

// Params bundles everything the gate evaluator needs for one attempt.
type Params struct {
	Suggestion  suggestion.Suggestion
	Description string
	Files       []ChangedFile
	QuickCheck  quickcheck.Outcome
	Cfg         config.HarnessConfig
}

// Report is the full gate table's result for one attempt: every gate's
// pass/fail plus, on failure, the first violated gate's error.
type Report struct {
	ScopeOK         bool
	NonEmptyDiffOK  bool
	DiffBudgetOK    bool
	SyntaxOK        bool
	BinaryWriteOK   bool
	PlainLanguageOK bool
	QuickCheckOK    bool

	OutOfScopeFiles  []string
	SyntaxViolations []string
	BinaryViolations []string
	DiffSummary      diffstat.Summary
}

// Passed reports whether every gate in the table passed.
func (r Report) Passed() bool {
	return r.ScopeOK && r.NonEmptyDiffOK && r.DiffBudgetOK && r.SyntaxOK &&
		r.BinaryWriteOK && r.PlainLanguageOK && r.QuickCheckOK
}

// bannedBinaryExtensions are file extensions the binary-write gate refuses
// outright, regardless of content.
var bannedBinaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "ico": true,
	"woff": true, "woff2": true, "ttf": true, "otf": true, "eot": true,
	"zip": true, "tar": true, "gz": true, "7z": true, "rar": true,
	"exe": true, "dll": true, "so": true, "dylib": true, "bin": true,
	"pdf": true, "mp3": true, "mp4": true, "mov": true, "wasm": true,
}

// technicalMarkers are the code-shaped substrings the plain-language gate
// tolerates up to a small count before concluding the description leaked
// implementation jargon instead of describing the outcome.
var technicalMarkers = []string{
	"fn ", "impl ", "pub ", "src/", "::", "line ", "panic", "unwrap(", "serde", "trait ",
}

// Evaluate runs every gate and returns the combined report.
func Evaluate(p Params) Report {
	var r Report

	r.OutOfScopeFiles = outOfScopeFiles(p.Suggestion, p.Files)
	r.ScopeOK = len(r.OutOfScopeFiles) == 0

	r.NonEmptyDiffOK = len(p.Files) > 0

	diffInputs := make([]diffstat.FileInput, 0, len(p.Files))
	for _, f := range p.Files {
		diffInputs = append(diffInputs, diffstat.FileInput{
			Path: f.Path, Original: f.Original, Current: f.Current, IsNew: f.IsNew,
		})
	}
	r.DiffSummary = diffstat.Compute(diffInputs)
	r.DiffBudgetOK = r.DiffSummary.ChangedFileCount <= p.Cfg.MaxChangedFiles &&
		r.DiffSummary.TotalChangedLines <= p.Cfg.MaxTotalChangedLines &&
		len(r.DiffSummary.PerFileExceeded(p.Cfg.MaxChangedLinesPerFile)) == 0

	r.SyntaxViolations = syntaxViolations(p.Files)
	r.SyntaxOK = len(r.SyntaxViolations) == 0

	r.BinaryViolations = binaryViolations(p.Files)
	r.BinaryWriteOK = len(r.BinaryViolations) == 0

	r.PlainLanguageOK = isPlainLanguage(p.Description)

	r.QuickCheckOK = p.QuickCheck.Status == quickcheck.Passed ||
		(p.QuickCheck.Status == quickcheck.Unavailable && !p.Cfg.RequireQuickCheckDetectable)

	return r
}

func outOfScopeFiles(s suggestion.Suggestion, files []ChangedFile) []string {
	var out []string
	for _, f := range files {
		if !s.InScope(f.Path) {
			out = append(out, f.Path)
		}
	}
	return out
}

func syntaxViolations(files []ChangedFile) []string {
	var out []string
	for _, f := range files {
		if f.Deleted {
			continue
		}
		result := syntaxcheck.Check(f.Path, f.Current)
		if !result.OK() {
			out = append(out, f.Path+": "+result.Err.Error())
		}
	}
	return out
}

func binaryViolations(files []ChangedFile) []string {
	var out []string
	for _, f := range files {
		if f.Deleted {
			continue
		}
		if bannedBinaryExtensions[extOf(f.Path)] {
			out = append(out, f.Path+": banned binary extension")
			continue
		}
		if strings.ContainsRune(f.Current, 0) {
			out = append(out, f.Path+": contains a NUL byte")
			continue
		}
		if !utf8.ValidString(f.Current) {
			out = append(out, f.Path+": not valid UTF-8")
		}
	}
	return out
}

func extOf(path string) string {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return ""
	}
	return strings.ToLower(path[dot+1:])
}

// isPlainLanguage checks the gate's description-quality rules: at least 5
// words, 24-280 characters after whitespace collapse, and no more than 2
// of the code-shaped technical markers.
func isPlainLanguage(description string) bool {
	collapsed := strings.Join(strings.Fields(description), " ")
	if len(collapsed) < 24 || len(collapsed) > 280 {
		return false
	}
	if len(strings.Fields(collapsed)) < 5 {
		return false
	}

	lower := strings.ToLower(collapsed)
	markers := 0
	for _, m := range technicalMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	return markers <= 2
}

// AsError returns the error for the first gate the report failed, in the
// table's declared order, or nil if every gate passed.
func (r Report) AsError() error {
	switch {
	case !r.ScopeOK:
		return harnesserrors.New(harnesserrors.ErrCodeGateScopeViolation,
			"changed file(s) outside the suggestion's allowed scope: "+strings.Join(r.OutOfScopeFiles, ", "))
	case !r.NonEmptyDiffOK:
		return harnesserrors.New(harnesserrors.ErrCodeGateNonEmptyDiff, "no files were changed")
	case !r.DiffBudgetOK:
		return harnesserrors.New(harnesserrors.ErrCodeGateDiffBudget,
			"change exceeds the configured diff budget").
			WithContext("changed_files", r.DiffSummary.ChangedFileCount).
			WithContext("total_changed_lines", r.DiffSummary.TotalChangedLines)
	case !r.SyntaxOK:
		return harnesserrors.New(harnesserrors.ErrCodeGateSyntaxViolation,
			"syntax check failed: "+strings.Join(r.SyntaxViolations, "; "))
	case !r.BinaryWriteOK:
		return harnesserrors.New(harnesserrors.ErrCodeGateBinaryWrite,
			"binary-write safety check failed: "+strings.Join(r.BinaryViolations, "; "))
	case !r.PlainLanguageOK:
		return harnesserrors.New(harnesserrors.ErrCodeGatePlainLanguage,
			"change description does not read as plain language")
	case !r.QuickCheckOK:
		return harnesserrors.New(harnesserrors.ErrCodeQuickCheckFailed, "quick check did not pass")
	default:
		return nil
	}
}
