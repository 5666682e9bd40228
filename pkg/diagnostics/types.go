// Package diagnostics defines the attempt- and run-level diagnostics
// records the orchestrator (C11) accumulates and, once a run completes,
// serializes to the per-repo JSON run report and telemetry log. The data
// model mirrors spec.md §3 field-for-field; the JSON report writer is in
// report.go and the telemetry-row projection is in pkg/telemetry.
package diagnostics

// FailReason is one structured record of why an attempt (or the whole run)
// failed: both the user-facing message and the gate/code/action triple the
// caller needs to route retries or report to a human.
type FailReason struct {
	Message string `json:"message"`
	Gate    string `json:"gate,omitempty"`
	Code    string `json:"code"`
	Action  string `json:"action,omitempty"`
}

// LLMCallRecord is one structured-output call's bookkeeping, folded into
// an attempt's diagnostics for audit purposes.
type LLMCallRecord struct {
	Kind               string `json:"kind"`
	Model              string `json:"model"`
	TimeoutMs          int64  `json:"timeout_ms"`
	SchemaFallbackUsed bool   `json:"schema_fallback_used,omitempty"`
	SpeedFailoverCount int    `json:"speed_failover_count,omitempty"`
	Error              string `json:"error,omitempty"`
}

// GateSnapshot records one gate's pass/fail state at the point it was
// evaluated, so a failed attempt's report shows which gates had already
// cleared.
type GateSnapshot struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// AttemptDiagnostics is one attempt's full record, mutable while the
// attempt runs and frozen once the orchestrator returns from it.
type AttemptDiagnostics struct {
	AttemptIndex int  `json:"attempt_index"`
	Passed       bool `json:"passed"`

	FailReasons    []FailReason   `json:"fail_reasons,omitempty"`
	GateSnapshots  []GateSnapshot `json:"gate_snapshots,omitempty"`
	ChangedFiles   []string       `json:"changed_files,omitempty"`
	ChangedLines   map[string]int `json:"changed_lines,omitempty"`

	QuickCheckStatus       string `json:"quick_check_status,omitempty"`
	QuickCheckCommand      string `json:"quick_check_command,omitempty"`
	QuickCheckAutoFixLoops int    `json:"quick_check_auto_fix_loops,omitempty"`
	QuickCheckFailureSummary string `json:"quick_check_failure_summary,omitempty"`

	ReviewIterations        int      `json:"review_iterations,omitempty"`
	BlockingFindingsRemaining int    `json:"blocking_findings_remaining,omitempty"`
	BlockingTitlesRemaining []string `json:"blocking_titles_remaining,omitempty"`
	BlockingCategoriesRemaining []string `json:"blocking_categories_remaining,omitempty"`

	ElapsedMs int64   `json:"elapsed_ms"`
	CostUSD   float64 `json:"cost_usd"`

	LLMCalls []LLMCallRecord `json:"llm_calls,omitempty"`
	Notes    []string        `json:"notes,omitempty"`
}

// FinalizationStatus classifies how the run ended from the caller's point
// of view, after the orchestrator's own attempt loop has returned.
type FinalizationStatus string

const (
	FinalizationApplied             FinalizationStatus = "applied"
	FinalizationRolledBack          FinalizationStatus = "rolled_back"
	FinalizationFailedBeforeFinalize FinalizationStatus = "failed_before_finalize"
)

// Finalization records what happened after the attempt loop returned: did
// the caller commit the winning attempt's files, roll them back, or never
// reach finalization at all — and, on failure, whether any sandbox
// mutation leaked into the real repository.
type Finalization struct {
	Status           FinalizationStatus `json:"status"`
	Detail           string             `json:"detail,omitempty"`
	MutationOnFailure bool              `json:"mutation_on_failure"`
}

// RunDiagnostics aggregates every attempt plus the run-level outcome. It is
// written to <repo>/.cosmos/apply_harness/<run_id>.json once after the
// attempt loop returns, and rewritten once more by the caller once
// Finalization is known.
type RunDiagnostics struct {
	RunID             string               `json:"run_id"`
	SuggestionID      string               `json:"suggestion_id"`
	SuggestionSummary string               `json:"suggestion_summary"`
	Model             string               `json:"model"`
	Strict            bool                 `json:"strict"`
	Passed            bool                 `json:"passed"`
	Attempts          []AttemptDiagnostics `json:"attempts"`
	TotalElapsedMs    int64                `json:"total_elapsed_ms"`
	TotalCostUSD      float64              `json:"total_cost_usd"`
	ReducedConfidence bool                 `json:"reduced_confidence"`
	TopLevelFailReasons []FailReason       `json:"top_level_fail_reasons,omitempty"`
	ReportPath        string               `json:"report_path,omitempty"`
	Finalization      Finalization         `json:"finalization"`
}
