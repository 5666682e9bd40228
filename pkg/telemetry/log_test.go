package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cosmoslabs/applyharness/pkg/diagnostics"
)

func TestRowFromRunDiagnostics_DerivesCountersFromAttempts(t *testing.T) {
	run := diagnostics.RunDiagnostics{
		RunID:        "run-1",
		SuggestionID: "sugg-1",
		Passed:       true,
		Strict:       true,
		Attempts: []diagnostics.AttemptDiagnostics{
			{
				ChangedFiles:     []string{"a.go", "b.go"},
				QuickCheckStatus: "passed",
				ReviewIterations: 2,
				FailReasons: []diagnostics.FailReason{
					{Message: "baseline broke", Gate: "baseline_quick_check"},
				},
				LLMCalls: []diagnostics.LLMCallRecord{
					{Kind: "generation_escalated", SchemaFallbackUsed: true},
					{Kind: "review_independent"},
				},
			},
		},
		Finalization: diagnostics.Finalization{Status: diagnostics.FinalizationApplied},
	}

	row := RowFromRunDiagnostics(run)

	if row.SchemaVersion != LogSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", row.SchemaVersion, LogSchemaVersion)
	}
	if row.RunContext != "lab" {
		t.Errorf("RunContext = %q, want %q", row.RunContext, "lab")
	}
	if row.ChangedFileCount != 2 {
		t.Errorf("ChangedFileCount = %d, want 2", row.ChangedFileCount)
	}
	if row.BaselineQuickCheckFailfastCount != 1 {
		t.Errorf("BaselineQuickCheckFailfastCount = %d, want 1", row.BaselineQuickCheckFailfastCount)
	}
	if row.SchemaFallbackCount != 1 {
		t.Errorf("SchemaFallbackCount = %d, want 1", row.SchemaFallbackCount)
	}
	if row.SmartEscalationCount != 1 {
		t.Errorf("SmartEscalationCount = %d, want 1", row.SmartEscalationCount)
	}
	if !row.IndependentReviewExecuted {
		t.Error("expected IndependentReviewExecuted to be true from ReviewIterations > 1")
	}
	if row.Timestamp == "" {
		t.Error("expected a non-empty timestamp")
	}
}

func TestLog_AppendWritesOneJSONLineAndCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir)

	if err := l.Append(diagnostics.RunDiagnostics{RunID: "run-a"}); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := l.Append(diagnostics.RunDiagnostics{RunID: "run-b"}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	path := filepath.Join(dir, ".cosmos", "apply_harness", "telemetry.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open telemetry log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 appended lines, got %d: %v", len(lines), lines)
	}

	var first Row
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.RunID != "run-a" {
		t.Errorf("first line run id = %q, want run-a", first.RunID)
	}
}
