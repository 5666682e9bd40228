package harness

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cosmoslabs/applyharness/pkg/config"
	"github.com/cosmoslabs/applyharness/pkg/diagnostics"
	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/gates"
	"github.com/cosmoslabs/applyharness/pkg/harness/budget"
	"github.com/cosmoslabs/applyharness/pkg/logging"
	"github.com/cosmoslabs/applyharness/pkg/model"
	"github.com/cosmoslabs/applyharness/pkg/promptbuild"
	"github.com/cosmoslabs/applyharness/pkg/quickcheck"
	"github.com/cosmoslabs/applyharness/pkg/review"
	"github.com/cosmoslabs/applyharness/pkg/sandbox"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/synth"
	"github.com/cosmoslabs/applyharness/pkg/telemetry"
	"github.com/cosmoslabs/applyharness/pkg/transparency"
)

// attemptParams bundles one attempt's fixed inputs: the suggestion and
// preview (already carrying any prior-attempt feedback as a modifier), the
// run's policy, the shared budget controller, and this attempt's own
// time/cost slice of the run's remaining budget.
type attemptParams struct {
	repoRoot     string
	suggestion   suggestion.Suggestion
	preview      suggestion.FixPreview
	cfg          config.HarnessConfig
	globalBudget *budget.Controller
	capMs        int64
	capCostUSD   float64
	attemptIndex int
	runID        string
}

// fileSeed is one scope file's state as read at attempt start, before any
// edit — the baseline gates.ChangedFile.Original is diffed against.
type fileSeed struct {
	content string
	isNew   bool
}

// attemptState is the mutable context one runAttempt call threads through
// its phase methods, mirroring the teacher's Executor holding per-task
// state across its own phase-wrapper methods.
type attemptState struct {
	o   *Orchestrator
	ctx context.Context
	p   attemptParams

	sb        *sandbox.Sandbox
	originals map[string]fileSeed

	diag        diagnostics.AttemptDiagnostics
	description string

	qcOutcome      quickcheck.Outcome
	qcAutoFixLoops int

	startedAt time.Time
}

// runAttempt drives one full attempt: sandbox setup, the optional baseline
// quick-check fail-fast, generation (with Smart escalation on an
// anchor-class error), the gate table (with a bounded in-attempt syntax
// repair loop), the quick-check repair loop, the adversarial review gate,
// a second gate pass over the reviewed state, one more quick-check repair
// pass, and a final gate re-evaluation plus plain-language check. Returns
// the attempt's diagnostics and, only when it passed, the files to apply.
func (o *Orchestrator) runAttempt(ctx context.Context, p attemptParams) (diagnostics.AttemptDiagnostics, []AppliedFile, error) {
	st := &attemptState{o: o, ctx: ctx, p: p, startedAt: time.Now()}
	st.diag.AttemptIndex = p.attemptIndex
	// Gate evaluation needs a QuickCheckOK value before the quick check has
	// actually run; treat it as passing so the gate table's ordering isn't
	// disturbed until the real outcome is known.
	st.qcOutcome = quickcheck.Outcome{Status: quickcheck.Passed}

	defer func() {
		st.diag.ElapsedMs = time.Since(st.startedAt).Milliseconds()
		outcome := "failed"
		if st.diag.Passed {
			outcome = "passed"
		}
		telemetry.RecordAttempt(outcome, time.Since(st.startedAt).Seconds())
	}()

	// (a) budget guard
	if !p.globalBudget.GuardBeforeLLMCall() {
		st.fail(harnesserrors.ErrCodeBudgetExceeded, "budget",
			"the run's overall budget was exhausted before this attempt could start", "stop")
		return st.diag, nil, nil
	}

	sb, err := sandbox.New(ctx, p.repoRoot)
	if err != nil {
		return st.diag, nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxCreate, "create attempt sandbox")
	}
	defer sb.Close()
	st.sb = sb

	if err := st.loadScopeFiles(); err != nil {
		return st.diag, nil, err
	}

	// (b) optional pre-edit baseline quick-check fail-fast
	if p.cfg.EnableQuickCheckBaseline {
		if stop := st.runBaselineFailFast(); stop {
			return st.diag, nil, nil
		}
	}

	// (c) attempt budget guard before spending on generation
	if !p.globalBudget.GuardBeforeLLMCall() {
		st.fail(harnesserrors.ErrCodeBudgetExceeded, "budget", "budget exhausted before generation", "stop")
		return st.diag, nil, nil
	}

	// (d) + (e) generation, escalating to the Smart model once on an
	// anchor-class error
	if err := st.runGeneration(); err != nil {
		st.fail(harnesserrors.ErrCodeGenerationFailed, "generation", err.Error(), "retry_next_attempt")
		return st.diag, nil, nil
	}

	// (f) + (g) + (h): scope/diff/non-empty/syntax gates, with a bounded
	// in-attempt syntax repair loop, early-exiting on any deterministic
	// gate failure
	if !st.runGates(true) {
		return st.diag, nil, nil
	}

	// (i) pre-review quick-check + repair loop
	if !st.runQuickCheckLoop() {
		return st.diag, nil, nil
	}

	// (j) review gate
	reviewOutcome, err := st.runReview()
	if err != nil {
		st.fail(harnesserrors.ErrCodeReviewFailed, "review", err.Error(), "retry_next_attempt")
		return st.diag, nil, nil
	}
	if !reviewOutcome.Passed {
		st.recordReviewFailure(reviewOutcome)
		return st.diag, nil, nil
	}

	// (k) binary-write + post-review syntax gates (no further syntax
	// repair at this point — review already ran its own repair rounds)
	if !st.runGates(false) {
		return st.diag, nil, nil
	}

	// (l) post-review quick-check + repair + one extra review re-run
	if !st.runPostReviewQuickCheckAndReview() {
		return st.diag, nil, nil
	}

	// (m) + (n) final scope/diff/non-empty re-evaluation plus the
	// plain-language gate, against the final sandbox state
	if !st.runGates(false) {
		return st.diag, nil, nil
	}

	// (o) collect the passing file contents
	files, err := st.collectAppliedFiles()
	if err != nil {
		st.fail(harnesserrors.ErrCodeStorageRead, "collect", err.Error(), "retry_next_attempt")
		return st.diag, nil, nil
	}
	st.diag.Passed = true
	return st.diag, files, nil
}

func (st *attemptState) loadScopeFiles() error {
	st.originals = map[string]fileSeed{}
	audit := transparency.NewContextAudit()
	for _, path := range st.p.suggestion.AllowedScope() {
		abs, err := st.sb.ResolveRepoPathAllowNew(path)
		if err != nil {
			return harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxScope, "resolve scope file "+path)
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				st.originals[path] = fileSeed{isNew: true}
				continue
			}
			return harnesserrors.Wrap(err, harnesserrors.ErrCodeStorageRead, "read scope file "+path)
		}
		st.originals[path] = fileSeed{content: string(content)}
		audit.AddWithBytes(path, promptbuild.CountTokens(content), len(content))
	}
	st.o.logEvent(logging.CategoryOrchestrator, st.p.attemptIndex, "scope_loaded",
		fmt.Sprintf("loaded %d scope file(s), %d tokens total", len(audit.Sources()), audit.TotalTokens()),
		map[string]any{"sources": audit.Sources()})
	return nil
}

// runBaselineFailFast runs the quick check once before any edit. When it
// already fails and the failure's extracted location falls within the
// suggestion's in-scope files (by path equality — the same rule
// suggestion.InScope uses), the repository is broken independently of this
// suggestion and there is no point spending an attempt budget on it.
func (st *attemptState) runBaselineFailFast() bool {
	if st.p.cfg.QuickChecksMode == config.QuickChecksDisabled {
		return false
	}
	outcome := quickcheck.Run(st.ctx, st.sb, st.p.cfg.QuickCheckTimeoutMs)
	if outcome.Status != quickcheck.Failed {
		return false
	}

	summary := quickcheck.SummarizeFailure(outcome.StderrTail, outcome.StdoutTail)
	target, ok := quickcheck.TargetFile(summary, nil, st.p.suggestion.AllowedScope(), false)
	if !ok || !st.p.suggestion.InScope(target) {
		return false
	}

	st.diag.QuickCheckStatus = string(quickcheck.Failed)
	st.diag.QuickCheckCommand = outcome.Command
	st.diag.QuickCheckFailureSummary = summary
	st.fail(harnesserrors.ErrCodeQuickCheckFailed, "baseline_quick_check",
		"the repository's quick check already fails on an in-scope file before any edit: "+summary,
		"fix_baseline_before_retrying")
	return true
}

// runGeneration dispatches single-file or multi-file generation depending
// on whether the suggestion names additional files.
func (st *attemptState) runGeneration() error {
	if len(st.p.suggestion.AdditionalFiles) == 0 {
		return st.runSingleFileGeneration()
	}
	return st.runMultiFileGeneration()
}

func (st *attemptState) runSingleFileGeneration() error {
	seed := st.originals[st.p.suggestion.File]
	fixed, err := st.generateWithEscalation("generation", st.p.suggestion.File, seed.content, seed.isNew, st.p.preview)
	if err != nil {
		return err
	}
	st.description = fixed.Description
	return st.writeFile(st.p.suggestion.File, fixed.NewContent)
}

func (st *attemptState) runMultiFileGeneration() error {
	s := st.p.suggestion
	paths := s.AllowedScope()
	files := make([]synth.FileInput, 0, len(paths))
	for _, path := range paths {
		seed := st.originals[path]
		files = append(files, synth.FileInput{Path: path, Content: seed.content, IsNew: seed.isNew})
	}

	if !st.p.globalBudget.GuardBeforeLLMCall() {
		return harnesserrors.New(harnesserrors.ErrCodeBudgetExceeded, "budget exhausted before multi-file generation")
	}
	timeoutMs := st.attemptTimeoutMs()

	result, err := st.o.synth.GenerateMultiFile(st.ctx, synth.MultiFileParams{
		Suggestion: s,
		Preview:    st.p.preview,
		Files:      files,
		Model:      st.o.speedModel,
		TimeoutMs:  timeoutMs,
	})
	if err != nil {
		st.recordUsage("generation", st.o.speedModel, timeoutMs, nil, false, 0, err)
		if !isAnchorClassError(err) || st.p.cfg.MaxSmartEscalationsPerAttempt <= 0 || st.o.smartModel == "" {
			return err
		}
		result, err = st.o.synth.GenerateMultiFile(st.ctx, synth.MultiFileParams{
			Suggestion: s,
			Preview:    st.p.preview,
			Files:      files,
			Model:      st.o.smartModel,
			TimeoutMs:  timeoutMs,
		})
		if err != nil {
			st.recordUsage("generation_escalated", st.o.smartModel, timeoutMs, nil, false, 0, err)
			return err
		}
		st.recordUsage("generation_escalated", st.o.smartModel, timeoutMs, result.Usage, result.SchemaFallbackUsed, len(result.SpeedFailover), nil)
	} else {
		st.recordUsage("generation", st.o.speedModel, timeoutMs, result.Usage, result.SchemaFallbackUsed, len(result.SpeedFailover), nil)
	}

	st.description = result.Description
	for _, fe := range result.FileEdits {
		if err := st.writeFile(fe.Path, fe.NewContent); err != nil {
			return err
		}
	}
	return nil
}

// generateWithEscalation runs one single-file generation call, retrying
// once against the Smart model when the first call failed with an
// anchor-class error (an edit that could not be located or was ambiguous)
// and the run's config still permits a Smart escalation this attempt.
// pkg/synth never sets AppliedFix.EscalationReason itself — the
// orchestrator is the only caller that knows a retry happened on a
// different model, so it stamps the reason here.
func (st *attemptState) generateWithEscalation(kind, path, content string, isNew bool, preview suggestion.FixPreview) (*synth.AppliedFix, error) {
	fixed, err := st.synthesizeFile(kind, path, content, isNew, preview, st.o.speedModel)
	if err == nil {
		return fixed, nil
	}
	if !isAnchorClassError(err) || st.p.cfg.MaxSmartEscalationsPerAttempt <= 0 || st.o.smartModel == "" {
		return nil, err
	}

	escalated, escErr := st.synthesizeFile(kind+"_escalated", path, content, isNew, preview, st.o.smartModel)
	if escErr != nil {
		return nil, escErr
	}
	escalated.EscalationReason = "apply_anchor_not_found"
	return escalated, nil
}

// isAnchorClassError reports whether err looks like the edit synthesizer
// could not locate (or uniquely locate) its target text, the class of
// failure a Smart-model retry is meant to recover from.
func isAnchorClassError(err error) bool {
	msg := strings.ToLower(err.Error())
	needles := []string{"not found", "must be unique", "matches", "delimiter-only", "placeholder", "ellipsis", "ambiguous"}
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func (st *attemptState) attemptTimeoutMs() int64 {
	timeout := st.p.globalBudget.TimeoutMsForNextLLMCall()
	if st.p.capMs > 0 && timeout > st.p.capMs {
		timeout = st.p.capMs
	}
	return timeout
}

func (st *attemptState) synthesizeFile(kind, path, content string, isNew bool, preview suggestion.FixPreview, modelID string) (*synth.AppliedFix, error) {
	if !st.p.globalBudget.GuardBeforeLLMCall() {
		return nil, harnesserrors.New(harnesserrors.ErrCodeBudgetExceeded, "budget exhausted before "+kind)
	}
	timeoutMs := st.attemptTimeoutMs()

	fixed, err := st.o.synth.GenerateSingleFile(st.ctx, synth.SingleFileParams{
		Suggestion: st.p.suggestion,
		Preview:    preview,
		File:       synth.FileInput{Path: path, Content: content, IsNew: isNew},
		Model:      modelID,
		TimeoutMs:  timeoutMs,
	})
	if err != nil {
		st.recordUsage(kind, modelID, timeoutMs, nil, false, 0, err)
		return nil, err
	}
	st.recordUsage(kind, modelID, timeoutMs, fixed.Usage, fixed.SchemaFallbackUsed, len(fixed.SpeedFailover), nil)
	return fixed, nil
}

func (st *attemptState) recordUsage(kind, modelID string, timeoutMs int64, usage *model.Usage, schemaFallback bool, failoverCount int, callErr error) {
	rec := diagnostics.LLMCallRecord{
		Kind:               kind,
		Model:              modelID,
		TimeoutMs:          timeoutMs,
		SchemaFallbackUsed: schemaFallback,
		SpeedFailoverCount: failoverCount,
	}
	if callErr != nil {
		rec.Error = truncate(callErr.Error(), 500)
	}
	st.diag.LLMCalls = append(st.diag.LLMCalls, rec)
	telemetry.RecordLLMCall(kind, modelID)

	if usage == nil {
		return
	}
	cost := 0.0
	if st.o.costCalc != nil {
		if c, err := st.o.costCalc.CalculateCostFromTokens(modelID, usage.PromptTokens, usage.CompletionTokens); err == nil {
			cost = c
		}
	}
	st.diag.CostUSD += cost
	st.p.globalBudget.Record(budget.Usage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, CostUSD: cost})
	st.o.costLedger.Record(transparency.CostEntry{
		Model: modelID,
		Tokens: transparency.TokenUsage{
			Input:  usage.PromptTokens,
			Output: usage.CompletionTokens,
		},
		Cost:         cost,
		InvocationID: st.p.runID,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (st *attemptState) writeFile(path, content string) error {
	abs, err := st.sb.ResolveRepoPathAllowNew(path)
	if err != nil {
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxScope, "resolve write target "+path)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeStorageWrite, "write "+path)
	}
	return nil
}

// buildChangedFiles reads every modified file's final sandbox content and
// pairs it with the original content captured at attempt start, for gate
// evaluation.
func (st *attemptState) buildChangedFiles() ([]gates.ChangedFile, error) {
	paths, err := st.sb.ModifiedFiles()
	if err != nil {
		return nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxScope, "list modified files")
	}

	out := make([]gates.ChangedFile, 0, len(paths))
	for _, path := range paths {
		seed, hadOriginal := st.originals[path]
		abs, err := st.sb.ResolveRepoPathAllowNew(path)
		if err != nil {
			return nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxScope, "resolve changed file "+path)
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				out = append(out, gates.ChangedFile{Path: path, Original: seed.content, Deleted: true})
				continue
			}
			return nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeStorageRead, "read changed file "+path)
		}

		cf := gates.ChangedFile{Path: path, Current: string(content)}
		if hadOriginal {
			cf.Original = seed.content
			cf.IsNew = seed.isNew
		} else {
			cf.IsNew = true
		}
		out = append(out, cf)
	}
	return out, nil
}

func (st *attemptState) evaluateGates() (gates.Report, error) {
	files, err := st.buildChangedFiles()
	if err != nil {
		return gates.Report{}, err
	}
	return gates.Evaluate(gates.Params{
		Suggestion:  st.p.suggestion,
		Description: st.description,
		Files:       files,
		QuickCheck:  st.qcOutcome,
		Cfg:         st.p.cfg,
	}), nil
}

// runGates evaluates the full gate table once. When allowSyntaxRepair is
// set, the scope, non-empty-diff and diff-budget gates pass and the syntax
// gate fails, it repairs the first violating
// file and re-evaluates, up to config.MaxAutoSyntaxFixLoops rounds, before
// giving up.
func (st *attemptState) runGates(allowSyntaxRepair bool) bool {
	for round := 0; ; round++ {
		report, err := st.evaluateGates()
		if err != nil {
			st.failInternal(err)
			return false
		}

		if report.Passed() {
			return true
		}
		if !allowSyntaxRepair || !onlySyntaxFailing(report) || round >= st.p.cfg.MaxAutoSyntaxFixLoops {
			st.recordGateFailure(report)
			return false
		}
		if err := st.repairOneSyntaxViolation(report); err != nil {
			st.failInternal(err)
			return false
		}
	}
}

func onlySyntaxFailing(r gates.Report) bool {
	return r.ScopeOK && r.NonEmptyDiffOK && r.DiffBudgetOK && !r.SyntaxOK
}

func (st *attemptState) recordGateFailure(r gates.Report) {
	err := r.AsError()
	if err == nil {
		return
	}
	code := harnesserrors.GetCode(err)
	st.fail(code, "gate", err.Error(), defaultActionForCode(code))
}

func (st *attemptState) repairOneSyntaxViolation(report gates.Report) error {
	if len(report.SyntaxViolations) == 0 {
		return nil
	}
	violation := report.SyntaxViolations[0]
	path := violation
	if idx := strings.Index(violation, ": "); idx >= 0 {
		path = violation[:idx]
	}

	abs, err := st.sb.ResolveRepoPathAllowNew(path)
	if err != nil {
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeSandboxScope, "resolve syntax-violating file "+path)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeStorageRead, "read syntax-violating file "+path)
	}

	preview := st.p.preview.WithModifier("The previous edit left " + path + " with invalid syntax: " + violation +
		"\nFix the syntax error with a minimal, targeted change; do not touch anything else.")
	fixed, err := st.synthesizeFile("syntax_repair", path, string(content), false, preview, st.o.speedModel)
	if err != nil {
		return err
	}
	return st.writeFile(path, fixed.NewContent)
}

// runQuickCheckLoop runs the pre-review quick check, repairing and
// re-running up to config.MaxAutoQuickCheckFixLoops times while progress is
// being made (a repeated failure fingerprint stops the loop early).
func (st *attemptState) runQuickCheckLoop() bool {
	if st.p.cfg.QuickChecksMode == config.QuickChecksDisabled {
		st.qcOutcome = quickcheck.Outcome{Status: quickcheck.Passed}
		return true
	}

	var lastFingerprint string
	for round := 0; ; round++ {
		if round > 0 && !st.p.globalBudget.GuardBeforeIndependentReview() {
			st.diag.QuickCheckFailureSummary = quickcheck.SummarizeFailure(st.qcOutcome.StderrTail, st.qcOutcome.StdoutTail)
			break
		}

		result, err := quickcheck.Round(st.ctx, quickcheck.RepairParams{
			Sandbox:             st.sb,
			Suggestion:          st.p.suggestion,
			Preview:             st.p.preview,
			Synthesizer:         st.o.synth,
			Model:               st.o.speedModel,
			TimeoutMs:           st.p.cfg.QuickCheckTimeoutMs,
			RelaxedScope:        !st.p.cfg.QuickCheckFixRequiresInScopeError,
			PreviousFingerprint: lastFingerprint,
		})
		if err != nil {
			st.fail(harnesserrors.ErrCodeQuickCheckFailed, "quick_check", err.Error(), "retry_next_attempt")
			return false
		}

		st.qcOutcome = result.Outcome
		if result.Synthesized != nil {
			st.recordUsage("quick_check_repair", st.o.speedModel, st.p.cfg.QuickCheckTimeoutMs,
				result.Synthesized.Usage, result.Synthesized.SchemaFallbackUsed, len(result.Synthesized.SpeedFailover), nil)
		}

		if result.Outcome.Status != quickcheck.Failed {
			break
		}
		if result.Stopped {
			st.diag.QuickCheckFailureSummary = quickcheck.SummarizeFailure(result.Outcome.StderrTail, result.Outcome.StdoutTail)
			break
		}

		st.qcAutoFixLoops++
		lastFingerprint = quickcheck.Fingerprint(quickcheck.SummarizeFailure(result.Outcome.StderrTail, result.Outcome.StdoutTail))
		if st.qcAutoFixLoops >= st.p.cfg.MaxAutoQuickCheckFixLoops {
			st.diag.QuickCheckFailureSummary = quickcheck.SummarizeFailure(result.Outcome.StderrTail, result.Outcome.StdoutTail)
			break
		}
	}

	st.diag.QuickCheckStatus = string(st.qcOutcome.Status)
	st.diag.QuickCheckCommand = st.qcOutcome.Command
	st.diag.QuickCheckAutoFixLoops = st.qcAutoFixLoops
	telemetry.RecordQuickCheckOutcome(st.diag.QuickCheckStatus)

	if err := quickcheck.RequireDetectable(st.qcOutcome, st.p.cfg.RequireQuickCheckDetectable); err != nil {
		code := harnesserrors.GetCode(err)
		st.fail(code, "quick_check", err.Error(), defaultActionForCode(code))
		return false
	}
	if st.qcOutcome.Status == quickcheck.Failed {
		if st.diag.QuickCheckFailureSummary == "" {
			st.diag.QuickCheckFailureSummary = quickcheck.SummarizeFailure(st.qcOutcome.StderrTail, st.qcOutcome.StdoutTail)
		}
		st.fail(harnesserrors.ErrCodeQuickCheckFailed, "quick_check",
			"quick check failed: "+st.diag.QuickCheckFailureSummary, "retry_next_attempt")
		return false
	}
	return true
}

// runPostReviewQuickCheckAndReview re-runs the quick check once against the
// post-review sandbox state (review repairs may have touched files the
// quick check cares about); on a fresh failure it repairs and re-reviews
// once more before giving up.
func (st *attemptState) runPostReviewQuickCheckAndReview() bool {
	if st.p.cfg.QuickChecksMode == config.QuickChecksDisabled {
		return true
	}
	if !st.p.globalBudget.GuardBeforeLLMCall() {
		return true // nothing left to spend on a repair pass; leave prior outcome standing
	}

	result, err := quickcheck.Round(st.ctx, quickcheck.RepairParams{
		Sandbox:             st.sb,
		Suggestion:          st.p.suggestion,
		Preview:             st.p.preview,
		Synthesizer:         st.o.synth,
		Model:               st.o.speedModel,
		TimeoutMs:           st.p.cfg.QuickCheckTimeoutMs,
		RelaxedScope:        !st.p.cfg.QuickCheckFixRequiresInScopeError,
		PreviousFingerprint: quickcheck.Fingerprint(st.diag.QuickCheckFailureSummary),
	})
	if err != nil {
		st.fail(harnesserrors.ErrCodeQuickCheckFailed, "quick_check", err.Error(), "retry_next_attempt")
		return false
	}
	st.qcOutcome = result.Outcome
	if result.Synthesized != nil {
		st.recordUsage("post_review_quick_check_repair", st.o.speedModel, st.p.cfg.QuickCheckTimeoutMs,
			result.Synthesized.Usage, result.Synthesized.SchemaFallbackUsed, len(result.Synthesized.SpeedFailover), nil)
	}
	st.diag.QuickCheckStatus = string(st.qcOutcome.Status)
	st.diag.QuickCheckCommand = st.qcOutcome.Command
	telemetry.RecordQuickCheckOutcome(st.diag.QuickCheckStatus)

	if st.qcOutcome.Status != quickcheck.Failed {
		return true
	}
	if result.Synthesized == nil {
		// Nothing changed (fast path or no target); no point re-reviewing.
		st.diag.QuickCheckFailureSummary = quickcheck.SummarizeFailure(result.Outcome.StderrTail, result.Outcome.StdoutTail)
		st.fail(harnesserrors.ErrCodeQuickCheckFailed, "quick_check",
			"quick check failed after review: "+st.diag.QuickCheckFailureSummary, "retry_next_attempt")
		return false
	}

	// The repair touched a file review already approved; give review one
	// more look before accepting or rejecting the attempt.
	reviewOutcome, err := st.runReview()
	if err != nil {
		st.fail(harnesserrors.ErrCodeReviewFailed, "review", err.Error(), "retry_next_attempt")
		return false
	}
	if !reviewOutcome.Passed {
		st.recordReviewFailure(reviewOutcome)
		return false
	}
	return true
}

func (st *attemptState) runReview() (*review.Outcome, error) {
	files, err := st.reviewFileContents()
	if err != nil {
		return nil, err
	}

	reviewModel := st.o.speedModel
	if st.p.cfg.AdversarialReviewModel == config.ReviewModelSmart {
		reviewModel = st.o.smartModel
	}

	if !st.p.globalBudget.GuardBeforeLLMCall() {
		return nil, harnesserrors.New(harnesserrors.ErrCodeBudgetExceeded, "budget exhausted before review")
	}
	timeoutMs := st.attemptTimeoutMs()

	outcome, err := review.Run(st.ctx, review.Params{
		Suggestion:                      st.p.suggestion,
		Preview:                         st.p.preview,
		Description:                     st.description,
		Files:                           files,
		Gateway:                         st.o.gateway,
		Synthesizer:                     st.o.synth,
		ReviewModel:                     reviewModel,
		SecondOpinionModel:              st.o.secondOpinionModel,
		BlockingSeverities:              st.p.cfg.ReviewBlockingSeverities,
		MaxRepairRounds:                 st.p.cfg.MaxAutoReviewFixLoops,
		RequireIndependentSecondOpinion: st.p.cfg.RequireIndependentReviewOnPass,
		QuickCheckAlreadyPassed:         st.qcOutcome.Status == quickcheck.Passed,
		IsRustRepo:                      strings.Contains(st.qcOutcome.Command, "cargo check"),
		TimeoutMs:                       timeoutMs,
	})
	if err != nil {
		st.recordUsage("review", reviewModel, timeoutMs, nil, false, 0, err)
		return nil, err
	}
	st.recordUsage("review", reviewModel, timeoutMs, &outcome.Usage, false, 0, nil)
	st.diag.ReviewIterations += outcome.Rounds + 1

	if err := st.applyReviewFiles(outcome.Files); err != nil {
		return nil, err
	}
	return outcome, nil
}

// reviewFileContents builds the review package's FileContent slice from the
// current sandbox state, for every file the sandbox reports as modified
// (deleted files are skipped).
func (st *attemptState) reviewFileContents() ([]review.FileContent, error) {
	changed, err := st.buildChangedFiles()
	if err != nil {
		return nil, err
	}
	out := make([]review.FileContent, 0, len(changed))
	for _, c := range changed {
		if c.Deleted {
			continue
		}
		out = append(out, review.FileContent{Path: c.Path, Original: c.Original, Current: c.Current})
	}
	return out, nil
}

// applyReviewFiles writes back whatever content review.Run ended up with
// for every file it repaired; review.Run operates purely in memory and
// never touches the sandbox itself.
func (st *attemptState) applyReviewFiles(files []review.FileContent) error {
	for _, f := range files {
		if err := st.writeFile(f.Path, f.Current); err != nil {
			return err
		}
	}
	return nil
}

func (st *attemptState) recordReviewFailure(o *review.Outcome) {
	titles := make([]string, 0, len(o.ResidualFindings))
	categories := make([]string, 0, len(o.ResidualFindings))
	for _, f := range o.ResidualFindings {
		titles = append(titles, f.Title)
		categories = append(categories, f.Category)
	}
	st.diag.BlockingFindingsRemaining = len(o.ResidualFindings)
	st.diag.BlockingTitlesRemaining = titles
	st.diag.BlockingCategoriesRemaining = categories
	telemetry.RecordReviewBlockingFindings(len(o.ResidualFindings))

	if err := o.AsError(); err != nil {
		code := harnesserrors.GetCode(err)
		st.fail(code, "review", err.Error(), defaultActionForCode(code))
	}
}

// collectAppliedFiles reads the final sandbox content for every scope file
// actually touched this attempt, for the caller to persist into the real
// repository.
func (st *attemptState) collectAppliedFiles() ([]AppliedFile, error) {
	changed, err := st.buildChangedFiles()
	if err != nil {
		return nil, err
	}
	out := make([]AppliedFile, 0, len(changed))
	for _, c := range changed {
		if c.Deleted {
			continue
		}
		out = append(out, AppliedFile{Path: c.Path, Summary: st.description, Content: c.Current})
	}
	return out, nil
}

func (st *attemptState) fail(code harnesserrors.ErrorCode, gate, message, action string) {
	st.diag.FailReasons = append(st.diag.FailReasons, diagnostics.FailReason{
		Message: message,
		Gate:    gate,
		Code:    string(code),
		Action:  action,
	})
	st.o.logEvent(logCategoryForGate(gate), st.p.attemptIndex, "attempt_fail_reason", message,
		map[string]any{"gate": gate, "code": string(code), "action": action})
}

// logCategoryForGate maps a fail reason's gate label to the logging
// category its subsystem owns.
func logCategoryForGate(gate string) logging.Category {
	switch gate {
	case "budget":
		return logging.CategoryBudget
	case "baseline_quick_check", "quick_check":
		return logging.CategoryQuickCheck
	case "review":
		return logging.CategoryReview
	case "gate":
		return logging.CategoryGate
	case "generation":
		return logging.CategoryEdit
	default:
		return logging.CategoryOrchestrator
	}
}

func (st *attemptState) failInternal(err error) {
	code := harnesserrors.GetCode(err)
	if code == "" {
		code = harnesserrors.ErrCodeInternal
	}
	st.fail(code, "", err.Error(), "retry_next_attempt")
}

// defaultActionForCode maps a structured error code to the default
// human-facing remediation action recorded alongside every fail reason.
func defaultActionForCode(code harnesserrors.ErrorCode) string {
	switch code {
	case harnesserrors.ErrCodeBudgetExceeded:
		return "stop"
	case harnesserrors.ErrCodeGateScopeViolation, harnesserrors.ErrCodeGateDiffBudget, harnesserrors.ErrCodeGateNonEmptyDiff:
		return "retry_next_attempt_with_tighter_scope"
	case harnesserrors.ErrCodeGateSyntaxViolation, harnesserrors.ErrCodeGateBinaryWrite:
		return "retry_next_attempt"
	case harnesserrors.ErrCodeGatePlainLanguage:
		return "rewrite_description"
	case harnesserrors.ErrCodeQuickCheckUnavailable:
		return "review_repo_toolchain"
	case harnesserrors.ErrCodeQuickCheckFailed:
		return "retry_next_attempt"
	case harnesserrors.ErrCodeReviewFailed, harnesserrors.ErrCodeReviewUnfixable:
		return "retry_next_attempt_or_escalate_to_human"
	default:
		return "retry_next_attempt"
	}
}
