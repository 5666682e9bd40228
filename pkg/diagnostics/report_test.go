package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONReportWriter_WritesIndentedJSONUnderReportDir(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONReportWriter(dir)

	run := RunDiagnostics{RunID: "run-1", SuggestionID: "sugg-1", Passed: true}
	path, err := w.WriteReport(run)
	if err != nil {
		t.Fatalf("WriteReport returned an error: %v", err)
	}

	wantPath := filepath.Join(dir, ".cosmos", "apply_harness", "run-1.json")
	if path != wantPath {
		t.Fatalf("path = %q, want %q", path, wantPath)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written report: %v", err)
	}
	var got RunDiagnostics
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal written report: %v", err)
	}
	if got.RunID != "run-1" || !got.Passed {
		t.Fatalf("round-tripped report mismatched: %+v", got)
	}
}

func TestJSONReportWriter_OverwritesOnSecondWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONReportWriter(dir)

	if _, err := w.WriteReport(RunDiagnostics{RunID: "run-2", Passed: false}); err != nil {
		t.Fatalf("first WriteReport: %v", err)
	}
	path, err := w.WriteReport(RunDiagnostics{RunID: "run-2", Passed: true})
	if err != nil {
		t.Fatalf("second WriteReport: %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten report: %v", err)
	}
	var got RunDiagnostics
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal rewritten report: %v", err)
	}
	if !got.Passed {
		t.Fatal("expected the second write to overwrite the first with Passed=true")
	}
}

func TestJSONReportWriter_RejectsEmptyRunID(t *testing.T) {
	w := NewJSONReportWriter(t.TempDir())
	if _, err := w.WriteReport(RunDiagnostics{}); err == nil {
		t.Fatal("expected an error for a run with no run id")
	}
}
