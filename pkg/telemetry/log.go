package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cosmoslabs/applyharness/pkg/diagnostics"
)

// LogSchemaVersion is the current telemetry row schema. Bump it, and only
// it, when a field is added or removed from Row.
const LogSchemaVersion = 4

// logDir is the per-repo directory the telemetry log lives under, a sibling
// of the JSON run-report directory.
const logDir = ".cosmos/apply_harness"

// logFile is the telemetry log's filename within logDir.
const logFile = "telemetry.jsonl"

// Row is one compact, append-only record of a finished run — the harness
// orchestrator's per-run summary, not the full diagnostics.RunDiagnostics
// payload the JSON report carries.
type Row struct {
	SchemaVersion int64  `json:"schema_version"`
	Timestamp     string `json:"timestamp"`
	RunID         string `json:"run_id"`
	SuggestionID  string `json:"suggestion_id"`
	Passed        bool   `json:"passed"`
	AttemptCount  int    `json:"attempt_count"`
	TotalMs       int64  `json:"total_ms"`
	TotalCostUSD  float64 `json:"total_cost_usd"`

	ChangedFileCount  int      `json:"changed_file_count"`
	QuickCheckStatus  string   `json:"quick_check_status"`
	FailReasons       []string `json:"fail_reasons,omitempty"`
	ReportPath        string   `json:"report_path,omitempty"`
	FinalizationStatus string  `json:"finalization_status"`
	MutationOnFailure bool     `json:"mutation_on_failure"`
	RunContext        string   `json:"run_context"`

	IndependentReviewExecuted       bool `json:"independent_review_executed"`
	SchemaFallbackCount             int  `json:"schema_fallback_count"`
	SmartEscalationCount            int  `json:"smart_escalation_count"`
	BaselineQuickCheckFailfastCount int  `json:"baseline_quick_check_failfast_count"`
}

// RowFromRunDiagnostics projects a full run record down to its telemetry
// row, deriving the per-run counters by scanning the attempts rather than
// storing them redundantly on diagnostics.RunDiagnostics itself.
func RowFromRunDiagnostics(run diagnostics.RunDiagnostics) Row {
	row := Row{
		SchemaVersion:      LogSchemaVersion,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		RunID:              run.RunID,
		SuggestionID:       run.SuggestionID,
		Passed:             run.Passed,
		AttemptCount:       len(run.Attempts),
		TotalMs:            run.TotalElapsedMs,
		TotalCostUSD:       run.TotalCostUSD,
		ReportPath:         run.ReportPath,
		FinalizationStatus: string(run.Finalization.Status),
		MutationOnFailure:  run.Finalization.MutationOnFailure,
		RunContext:         runContextLabel(run.Strict),
	}

	var changed map[string]bool
	var lastQuickCheckStatus string
	for _, a := range run.Attempts {
		if a.QuickCheckStatus != "" {
			lastQuickCheckStatus = a.QuickCheckStatus
		}
		for _, f := range a.ChangedFiles {
			if changed == nil {
				changed = map[string]bool{}
			}
			changed[f] = true
		}
		for _, fr := range a.FailReasons {
			row.FailReasons = append(row.FailReasons, fr.Message)
			if fr.Gate == "baseline_quick_check" {
				row.BaselineQuickCheckFailfastCount++
			}
		}
		for _, call := range a.LLMCalls {
			if call.SchemaFallbackUsed {
				row.SchemaFallbackCount++
			}
			if strings.Contains(call.Kind, "escalated") {
				row.SmartEscalationCount++
			}
			if strings.Contains(call.Kind, "independent") {
				row.IndependentReviewExecuted = true
			}
		}
		if a.ReviewIterations > 1 {
			row.IndependentReviewExecuted = true
		}
	}
	row.ChangedFileCount = len(changed)
	row.QuickCheckStatus = lastQuickCheckStatus
	if len(row.FailReasons) > 3 {
		row.FailReasons = row.FailReasons[:3]
	}

	return row
}

func runContextLabel(strict bool) string {
	if strict {
		return "lab"
	}
	return "interactive"
}

// Log implements pkg/harness.TelemetryAppender: it appends one Row per
// finished run to a per-repo JSONL file, the way the teacher's
// storage.BatchWriter serializes concurrent writes behind a single mutex —
// simplified here to an unbatched, synchronous append, since a telemetry row
// is written at most once per run rather than once per message.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog builds a telemetry log appender rooted at the given repository
// path.
func NewLog(repoRoot string) *Log {
	return &Log{path: filepath.Join(repoRoot, filepath.FromSlash(logDir), logFile)}
}

// Append derives run's telemetry row and appends it as one JSON line.
func (l *Log) Append(run diagnostics.RunDiagnostics) error {
	row := RowFromRunDiagnostics(run)
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("telemetry: marshal row: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("telemetry: create log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("telemetry: append row: %w", err)
	}
	return nil
}
