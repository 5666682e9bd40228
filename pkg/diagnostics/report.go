package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReportDir is the per-repo directory the JSON run report is written under,
// relative to the repo root.
const ReportDir = ".cosmos/apply_harness"

// JSONReportWriter implements pkg/harness.ReportWriter: it serializes a run's
// diagnostics to <repo>/.cosmos/apply_harness/<run_id>.json, creating the
// report directory on first use. The orchestrator calls WriteReport once
// after the attempt loop returns and once more after Finalize, so the same
// file is simply overwritten the second time.
type JSONReportWriter struct {
	repoRoot string
}

// NewJSONReportWriter builds a writer rooted at the given repository path.
func NewJSONReportWriter(repoRoot string) *JSONReportWriter {
	return &JSONReportWriter{repoRoot: repoRoot}
}

// WriteReport marshals run as indented JSON and writes it to the per-run
// report path, returning the path written.
func (w *JSONReportWriter) WriteReport(run RunDiagnostics) (string, error) {
	if run.RunID == "" {
		return "", fmt.Errorf("diagnostics: cannot write a report with an empty run id")
	}

	dir := filepath.Join(w.repoRoot, filepath.FromSlash(ReportDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("diagnostics: create report directory: %w", err)
	}

	path := filepath.Join(dir, run.RunID+".json")
	body, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("diagnostics: marshal run report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("diagnostics: write run report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("diagnostics: finalize run report: %w", err)
	}

	return path, nil
}
