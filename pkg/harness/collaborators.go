// Package harness implements the harness orchestrator (C11): the attempt
// loop that drives a validated suggestion through generation, the gate
// evaluator, the quick-check runner/repairer, and the review gate, threads
// feedback across attempts, and hands the caller a finalization hook.
// Structured the way the teacher's pkg/orchestrator.Executor drives its
// own bounded task loop — small phase methods, a shared mutable attempt
// context, and a handful of terminal bookkeeping calls — generalized from
// a build/verify/review task pipeline to this domain's
// generate/gate/quick-check/review pipeline.
package harness

import "github.com/cosmoslabs/applyharness/pkg/diagnostics"

// CostCalculator turns a model's token usage into a dollar figure, the
// same conversion pkg/cost.Tracker's CostCalculator performs for session
// spend — the orchestrator uses it to fold every LLM call's usage into
// the budget controller's running cost total.
type CostCalculator interface {
	CalculateCostFromTokens(modelID string, promptTokens, completionTokens int) (float64, error)
}

// ProgressReporter receives one human-readable line per notable step of
// the attempt loop. Mirrors the teacher's workflow.SendProgress callback
// (pkg/orchestrator/executor.go's Executor.sendProgress); nil is a valid,
// silent reporter.
type ProgressReporter interface {
	SendProgress(message string)
}

// ReportWriter persists a run's diagnostics to the JSON run report at
// <repo>/.cosmos/apply_harness/<run_id>.json, returning the path written.
// Implemented by pkg/diagnostics.JSONReportWriter; nil is valid and
// simply skips persistence.
type ReportWriter interface {
	WriteReport(run diagnostics.RunDiagnostics) (path string, err error)
}

// TelemetryAppender appends one compact row to the per-repo telemetry log
// once a run reaches finalization. Implemented by pkg/telemetry.Log; nil
// is valid and simply skips the append.
type TelemetryAppender interface {
	Append(run diagnostics.RunDiagnostics) error
}

// AppliedFile is one file the orchestrator is handing back to the caller
// on a passing run: the caller is responsible for writing Content to Path
// in the real repository.
type AppliedFile struct {
	Path    string
	Summary string
	Content string
}
