package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/cosmoslabs/applyharness/pkg/config"
	"github.com/cosmoslabs/applyharness/pkg/diagnostics"
	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/harness/budget"
	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
	"github.com/cosmoslabs/applyharness/pkg/logging"
	"github.com/cosmoslabs/applyharness/pkg/quickcheck"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/synth"
	"github.com/cosmoslabs/applyharness/pkg/telemetry"
	"github.com/cosmoslabs/applyharness/pkg/transparency"
)

// Orchestrator drives one validated suggestion through the full attempt
// loop: generation, the deterministic gate table, the quick-check
// runner/repairer, and the adversarial review gate, threading feedback
// across attempts until one passes or the run's budget is exhausted.
// Structured the way the teacher's pkg/orchestrator.Executor and
// pkg/agent.Runtime drive their own bounded iteration loops — a small
// constructor, a handful of setters for optional collaborators, and one
// wide entrypoint method.
type Orchestrator struct {
	gateway            *llmgateway.Gateway
	synth              *synth.Synthesizer
	costCalc           CostCalculator
	speedModel         string
	smartModel         string
	secondOpinionModel string

	progress   ProgressReporter
	report     ReportWriter
	telemetry  TelemetryAppender
	logger     *logging.Logger
	hub        *telemetry.Hub
	costLedger *transparency.CostLedger
}

// New builds an Orchestrator over an already-constructed gateway. speedModel
// drives every ordinary generation/repair call; smartModel is used for the
// bounded Smart-escalation retry on an anchor-class generation error and,
// when the config selects the Smart review model, for the review gate.
func New(gateway *llmgateway.Gateway, costCalc CostCalculator, speedModel, smartModel string) *Orchestrator {
	return &Orchestrator{
		gateway:    gateway,
		synth:      synth.New(gateway),
		costCalc:   costCalc,
		speedModel: speedModel,
		smartModel: smartModel,
		costLedger: transparency.NewCostLedger(),
	}
}

// CostSummary returns a transparency snapshot of every priced LLM call made
// across every run this Orchestrator has driven since construction.
func (o *Orchestrator) CostSummary() transparency.CostSummary { return o.costLedger.Summary() }

// SetProgressReporter attaches the human-readable progress sink. Nil (the
// default) silences progress entirely.
func (o *Orchestrator) SetProgressReporter(p ProgressReporter) { o.progress = p }

// SetReportWriter attaches the JSON run-report writer.
func (o *Orchestrator) SetReportWriter(w ReportWriter) { o.report = w }

// SetTelemetryAppender attaches the per-repo telemetry log appender.
func (o *Orchestrator) SetTelemetryAppender(t TelemetryAppender) { o.telemetry = t }

// SetLogger attaches structured logging for the run.
func (o *Orchestrator) SetLogger(l *logging.Logger) { o.logger = l }

// SetSecondOpinionModel sets the model used for the mandatory independent
// second review pass, when config.HarnessConfig.RequireIndependentReviewOnPass
// is set.
func (o *Orchestrator) SetSecondOpinionModel(modelID string) { o.secondOpinionModel = modelID }

// SetTelemetryHub attaches the event hub a live backend-diagnostics
// collector (pkg/diagnostics.Collector) can subscribe to. Nil (the default)
// publishes nothing; the attempt loop still runs identically either way.
func (o *Orchestrator) SetTelemetryHub(hub *telemetry.Hub) { o.hub = hub }

func (o *Orchestrator) progressf(format string, args ...any) {
	if o.progress == nil {
		return
	}
	o.progress.SendProgress(fmt.Sprintf(format, args...))
}

func (o *Orchestrator) logEvent(category logging.Category, attemptIndex int, eventType, message string, details map[string]any) {
	if o.logger == nil {
		return
	}
	_ = o.logger.Info(category, attemptIndex, eventType, message, details)
}

func (o *Orchestrator) publish(eventType telemetry.EventType, runID string, data map[string]any) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(telemetry.Event{
		Type:   eventType,
		TaskID: runID,
		Data:   data,
	})
}

// RunParams bundles one run's inputs.
type RunParams struct {
	RepoRoot   string
	Suggestion suggestion.Suggestion
	Preview    suggestion.FixPreview
	Config     config.HarnessConfig
}

// RunResult is the attempt loop's final outcome, handed to the caller for
// its own apply-or-discard decision and eventual Finalize call.
type RunResult struct {
	Passed      bool
	Files       []AppliedFile
	Diagnostics diagnostics.RunDiagnostics
}

// ImplementValidatedSuggestion runs the outer attempt loop for one already-
// validated suggestion: up to config.MaxAttempts attempts, each bounded by
// its own slice of the run's overall time/cost budget, each attempt's
// failure feeding deduplicated feedback into the next attempt's fix
// preview. A fingerprint-repeat quick-check failure across two consecutive
// attempts stops the loop early; reduced confidence (any attempt reporting
// an Unavailable quick check) optionally discards an otherwise-passing run
// per config.FailOnReducedConfidence.
func (o *Orchestrator) ImplementValidatedSuggestion(ctx context.Context, p RunParams) (*RunResult, error) {
	repoRoot, err := filepath.Abs(p.RepoRoot)
	if err != nil {
		return nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeInvalidInput, "resolve repo root")
	}
	if p.Suggestion.ValidationState != suggestion.ValidationValidated {
		return nil, harnesserrors.New(harnesserrors.ErrCodeInvalidInput,
			"suggestion must be validated before the harness will implement it")
	}
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, harnesserrors.Wrap(err, harnesserrors.ErrCodeConfigInvalid, "invalid harness config")
	}

	runID := ulid.Make().String()
	o.progressf("starting run %s for suggestion %s (%s)", runID, p.Suggestion.ID, p.Suggestion.Summary)
	o.publish(telemetry.EventTaskStarted, runID, map[string]any{
		"suggestion_id": p.Suggestion.ID,
		"summary":       p.Suggestion.Summary,
	})
	o.logEvent(logging.CategoryOrchestrator, 0, "run_started", "starting run "+runID, map[string]any{"suggestion_id": p.Suggestion.ID})

	globalBudget := budget.New(cfg)
	attemptWeights := budget.AttemptWeights(cfg.MaxAttempts)

	var (
		attempts          []diagnostics.AttemptDiagnostics
		feedback          []string
		reducedConfidence bool
		lastQCFingerprint string
		winningFiles      []AppliedFile
		passed            bool
	)

	for i := 1; i <= cfg.MaxAttempts; i++ {
		if globalBudget.Exhausted() || !globalBudget.GuardBeforeLLMCall() {
			o.progressf("run %s: budget exhausted before attempt %d, stopping", runID, i)
			break
		}

		slice := globalBudget.PartitionAttempt(attemptWeights, i)

		previewForAttempt := p.Preview
		if len(feedback) > 0 {
			previewForAttempt = previewForAttempt.WithModifier(formatFeedback(feedback))
		}

		o.progressf("run %s: starting attempt %d/%d", runID, i, cfg.MaxAttempts)
		o.publish(telemetry.EventBuilderStarted, runID, map[string]any{"attempt": i})

		diag, files, attemptErr := o.runAttempt(ctx, attemptParams{
			repoRoot:     repoRoot,
			suggestion:   p.Suggestion,
			preview:      previewForAttempt,
			cfg:          cfg,
			globalBudget: globalBudget,
			capMs:        slice.TimeMs,
			capCostUSD:   slice.CostUSD,
			attemptIndex: i,
			runID:        runID,
		})
		if attemptErr != nil {
			diag = diagnostics.AttemptDiagnostics{
				AttemptIndex: i,
				FailReasons: []diagnostics.FailReason{{
					Message: attemptErr.Error(),
					Code:    string(harnesserrors.GetCode(attemptErr)),
					Action:  "retry_next_attempt",
				}},
			}
		}
		attempts = append(attempts, diag)
		globalBudget.Record(budget.Usage{CostUSD: diag.CostUSD})

		if diag.QuickCheckStatus == string(quickcheck.Unavailable) {
			reducedConfidence = true
		}

		if diag.Passed {
			passed = true
			winningFiles = files
			o.progressf("run %s: attempt %d passed", runID, i)
			o.publish(telemetry.EventBuilderCompleted, runID, map[string]any{"attempt": i})
			break
		}

		o.progressf("run %s: attempt %d failed (%d fail reason(s))", runID, i, len(diag.FailReasons))
		o.publish(telemetry.EventBuilderFailed, runID, map[string]any{
			"attempt":           i,
			"fail_reason_count": len(diag.FailReasons),
		})
		feedback = buildNextFeedback(diag)

		fp := quickcheck.Fingerprint(diag.QuickCheckFailureSummary)
		if fp != "" {
			if lastQCFingerprint != "" && fp == lastQCFingerprint {
				feedback = append(feedback,
					fmt.Sprintf("The previous quick-check failure repeated the same fingerprint (%s). Use a different in-scope repair approach.", fp))
				attempts[len(attempts)-1].Notes = append(attempts[len(attempts)-1].Notes, "fingerprint repeated; stopping outer loop")
				break
			}
			lastQCFingerprint = fp
		}
	}

	if passed && reducedConfidence && cfg.FailOnReducedConfidence {
		o.progressf("run %s: discarding a passing result because quick checks were unavailable during at least one attempt", runID)
		passed = false
		winningFiles = nil
	}

	run := buildRunDiagnostics(runID, p.Suggestion, cfg, attempts, passed, reducedConfidence)
	run.Model = o.speedModel

	if passed {
		o.publish(telemetry.EventTaskCompleted, runID, map[string]any{"attempt_count": len(attempts)})
		o.logEvent(logging.CategoryOrchestrator, 0, "run_passed", "run completed successfully", map[string]any{"attempt_count": len(attempts)})
	} else {
		o.publish(telemetry.EventTaskFailed, runID, map[string]any{"attempt_count": len(attempts)})
		o.logEvent(logging.CategoryOrchestrator, 0, "run_failed", "run exhausted its attempts without passing", map[string]any{"attempt_count": len(attempts)})
	}

	if o.report != nil {
		if path, writeErr := o.report.WriteReport(run); writeErr == nil {
			run.ReportPath = path
		}
	}

	return &RunResult{Passed: passed, Files: winningFiles, Diagnostics: run}, nil
}

// Finalize records what the caller did with a completed run's result —
// applied the winning attempt's files, rolled them back, or never reached
// finalization at all — rewrites the JSON run report, and appends the
// run's telemetry row.
func (o *Orchestrator) Finalize(run diagnostics.RunDiagnostics, status diagnostics.FinalizationStatus, detail string, mutationOnFailure bool) diagnostics.RunDiagnostics {
	run.Finalization = diagnostics.Finalization{
		Status:            status,
		Detail:            detail,
		MutationOnFailure: mutationOnFailure,
	}
	if o.report != nil {
		if path, err := o.report.WriteReport(run); err == nil {
			run.ReportPath = path
		}
	}
	if o.telemetry != nil {
		_ = o.telemetry.Append(run)
	}
	return run
}

// buildNextFeedback turns one failed attempt's diagnostics into the
// deduplicated, order-preserving feedback lines threaded into the next
// attempt's fix preview: every normalized fail-reason message (the
// quick-check message replaced by its parsed failure summary when one is
// available), plus up to four remaining blocking review-finding titles
// joined into a single line.
func buildNextFeedback(diag diagnostics.AttemptDiagnostics) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, fr := range diag.FailReasons {
		msg := fr.Message
		if fr.Code == string(harnesserrors.ErrCodeQuickCheckFailed) && diag.QuickCheckFailureSummary != "" {
			msg = diag.QuickCheckFailureSummary
		}
		add(msg)
	}

	if n := len(diag.BlockingTitlesRemaining); n > 0 {
		titles := diag.BlockingTitlesRemaining
		if n > 4 {
			titles = titles[:4]
		}
		add("Blocking findings remained: " + strings.Join(titles, "; "))
	}

	return out
}

func formatFeedback(feedback []string) string {
	var b strings.Builder
	b.WriteString("Harness feedback from the previous attempt:\n")
	for _, f := range feedback {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return b.String()
}

func buildRunDiagnostics(runID string, s suggestion.Suggestion, cfg config.HarnessConfig, attempts []diagnostics.AttemptDiagnostics, passed, reducedConfidence bool) diagnostics.RunDiagnostics {
	var totalMs int64
	var totalCost float64
	for _, a := range attempts {
		totalMs += a.ElapsedMs
		totalCost += a.CostUSD
	}

	var topLevel []diagnostics.FailReason
	if !passed && len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		topLevel = last.FailReasons
		if len(topLevel) > 3 {
			topLevel = topLevel[:3]
		}
	}

	return diagnostics.RunDiagnostics{
		RunID:               runID,
		SuggestionID:        s.ID,
		SuggestionSummary:   s.Summary,
		Strict:              cfg.RunContext == "lab",
		Passed:              passed,
		Attempts:            attempts,
		TotalElapsedMs:      totalMs,
		TotalCostUSD:        totalCost,
		ReducedConfidence:   reducedConfidence,
		TopLevelFailReasons: topLevel,
	}
}
