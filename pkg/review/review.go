// Package review implements the adversarial review gate (C9): an LLM
// reviewer reads the candidate diff looking for problems the
// implementation step missed, the harness repairs whatever it flags as
// blocking by calling back into pkg/synth, and — when configured — a
// second, different-model review gives an independent pass/fail before the
// change is allowed through. Grounded on the teacher's review-after-
// generate step in fix.rs, generalized from a single-pass sanity check
// into the spec's multi-round repair loop.
package review

import (
	"context"
	"fmt"
	"sort"
	"strings"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
	"github.com/cosmoslabs/applyharness/pkg/model"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/synth"
)

// FileContent is one changed file's original and current text, as shown
// to the reviewer.
type FileContent struct {
	Path     string
	Original string
	Current  string
}

// Finding is one issue the reviewer raised against the candidate diff.
type Finding struct {
	File        string `json:"file"`
	Line        int    `json:"line,omitempty"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Recommended string `json:"recommended,omitempty"`
}

// Result is one review call's full output.
type Result struct {
	Summary  string
	Findings []Finding
	Usage    *model.Usage
}

// Params configures a review gate run.
type Params struct {
	Suggestion                      suggestion.Suggestion
	Preview                         suggestion.FixPreview
	Description                     string
	Files                           []FileContent
	Gateway                         *llmgateway.Gateway
	Synthesizer                     *synth.Synthesizer
	ReviewModel                     string
	SecondOpinionModel              string
	BlockingSeverities              []string
	MaxRepairRounds                 int
	RequireIndependentSecondOpinion bool
	QuickCheckAlreadyPassed         bool
	IsRustRepo                      bool
	TimeoutMs                       int64
}

// Outcome is the review gate's final verdict for one attempt.
type Outcome struct {
	Passed            bool
	Rounds            int
	ResidualFindings  []Finding
	UnfixableInReview bool
	Usage             model.Usage

	// Files holds each file's content after the last repair round, or the
	// input files when no repair round ran. The caller must persist these back
	// to the sandbox itself; Run never touches disk.
	Files []FileContent
}

// Run drives the full review gate: an initial review, up to
// params.MaxRepairRounds repair-and-re-review iterations against blocking
// findings, and an independent second-opinion pass when configured.
func Run(ctx context.Context, p Params) (*Outcome, error) {
	review, err := callReview(ctx, p, 0, nil)
	if err != nil {
		return nil, err
	}
	var usage model.Usage
	accumulate(&usage, review.Usage)

	blocking := blockingFindings(review.Findings, p.BlockingSeverities, p.QuickCheckAlreadyPassed, p.IsRustRepo)
	if len(blocking) > 6 {
		return &Outcome{
			Rounds:            0,
			ResidualFindings:  blocking,
			UnfixableInReview: true,
			Usage:             usage,
			Files:             p.Files,
		}, nil
	}

	files := p.Files
	var fixedTitles []string
	rounds := 0
	for len(blocking) > 0 && rounds < p.MaxRepairRounds {
		rounds++
		files, err = repairRound(ctx, p, blocking, files)
		if err != nil {
			return nil, err
		}
		for _, f := range blocking {
			fixedTitles = append(fixedTitles, f.Title)
		}

		review, err = callReview(ctx, withFiles(p, files), rounds, fixedTitles)
		if err != nil {
			return nil, err
		}
		accumulate(&usage, review.Usage)
		blocking = blockingFindings(review.Findings, p.BlockingSeverities, p.QuickCheckAlreadyPassed, p.IsRustRepo)
	}

	if len(blocking) > 0 {
		return &Outcome{Rounds: rounds, ResidualFindings: blocking, Usage: usage, Files: files}, nil
	}

	if p.RequireIndependentSecondOpinion && p.SecondOpinionModel != "" && p.SecondOpinionModel != p.ReviewModel {
		second, err := callReview(ctx, withModel(withFiles(p, files), p.SecondOpinionModel), rounds+1, fixedTitles)
		if err != nil {
			return nil, err
		}
		accumulate(&usage, second.Usage)
		residual := blockingFindings(second.Findings, p.BlockingSeverities, p.QuickCheckAlreadyPassed, p.IsRustRepo)
		if len(residual) > 0 {
			return &Outcome{Rounds: rounds, ResidualFindings: residual, Usage: usage, Files: files}, nil
		}
	}

	return &Outcome{Passed: true, Rounds: rounds, Usage: usage, Files: files}, nil
}

func withFiles(p Params, files []FileContent) Params {
	p.Files = files
	return p
}

func withModel(p Params, modelID string) Params {
	p.ReviewModel = modelID
	return p
}

func accumulate(total *model.Usage, u *model.Usage) {
	if u == nil {
		return
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

// rustMissingImportFalsePositive is the title substring set the spec asks
// us to discount once cargo check has already proven the code compiles:
// a reviewer flagging a missing import or undefined symbol against code
// the Rust compiler just accepted is a false positive.
var rustMissingImportFalsePositive = []string{
	"missing import",
	"undefined symbol",
	"unresolved name",
}

func blockingFindings(findings []Finding, blockingSeverities []string, quickCheckPassed, isRustRepo bool) []Finding {
	allowed := make(map[string]bool, len(blockingSeverities))
	for _, s := range blockingSeverities {
		allowed[strings.ToLower(s)] = true
	}

	var out []Finding
	for _, f := range findings {
		if !allowed[strings.ToLower(f.Severity)] {
			continue
		}
		if isRustRepo && quickCheckPassed && looksLikeFalsePositive(f.Title) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func looksLikeFalsePositive(title string) bool {
	lower := strings.ToLower(title)
	for _, needle := range rustMissingImportFalsePositive {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// repairRound groups blocking findings by file and repairs each file
// through the edit synthesizer, feeding the findings verbatim into the fix
// preview's feedback.
func repairRound(ctx context.Context, p Params, blocking []Finding, files []FileContent) ([]FileContent, error) {
	byFile := map[string][]Finding{}
	var order []string
	for _, f := range blocking {
		if _, ok := byFile[f.File]; !ok {
			order = append(order, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f)
	}
	sort.Strings(order)

	byPath := map[string]FileContent{}
	for _, f := range files {
		byPath[f.Path] = f
	}

	out := make([]FileContent, len(files))
	copy(out, files)
	indexOf := map[string]int{}
	for i, f := range out {
		indexOf[f.Path] = i
	}

	for _, path := range order {
		cur, ok := byPath[path]
		if !ok {
			continue
		}
		preview := p.Preview.WithModifier(reviewRepairModifier(byFile[path]))
		fixed, err := p.Synthesizer.GenerateSingleFile(ctx, synth.SingleFileParams{
			Suggestion: p.Suggestion,
			Preview:    preview,
			File:       synth.FileInput{Path: path, Content: cur.Current},
			Model:      p.ReviewModel,
			TimeoutMs:  p.TimeoutMs,
		})
		if err != nil {
			return nil, err
		}
		if idx, ok := indexOf[path]; ok {
			out[idx].Current = fixed.NewContent
		}
	}
	return out, nil
}

func reviewRepairModifier(findings []Finding) string {
	var b strings.Builder
	b.WriteString("An adversarial reviewer flagged the following blocking issues with the previous attempt:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s/%s] %s: %s", f.Severity, f.Category, f.Title, f.Description)
		if f.Line > 0 {
			fmt.Fprintf(&b, " (near line %d)", f.Line)
		}
		if f.Recommended != "" {
			fmt.Fprintf(&b, "\n  Recommended: %s", f.Recommended)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAddress every issue above with a minimal, targeted change.\n")
	return b.String()
}

// AsError turns a non-passing Outcome into the error the orchestrator
// surfaces: ErrCodeReviewUnfixable when the initial review alone already
// exceeded the blocking-finding cutoff, ErrCodeReviewFailed when repair
// rounds left residual blocking findings.
func (o *Outcome) AsError() error {
	if o.Passed {
		return nil
	}
	titles := make([]string, 0, len(o.ResidualFindings))
	for _, f := range o.ResidualFindings {
		titles = append(titles, f.Title)
	}
	summary := strings.Join(titles, "; ")

	if o.UnfixableInReview {
		return harnesserrors.New(harnesserrors.ErrCodeReviewUnfixable,
			fmt.Sprintf("review found %d blocking findings on the first pass, exceeding the repair cutoff", len(o.ResidualFindings))).
			WithContext("findings", summary)
	}
	return harnesserrors.New(harnesserrors.ErrCodeReviewFailed,
		fmt.Sprintf("%d blocking review finding(s) remained after %d repair round(s)", len(o.ResidualFindings), o.Rounds)).
		WithContext("findings", summary)
}
