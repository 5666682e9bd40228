package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/cosmoslabs/applyharness/pkg/config"
	"github.com/cosmoslabs/applyharness/pkg/diagnostics"
	"github.com/cosmoslabs/applyharness/pkg/harness"
	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
	"github.com/cosmoslabs/applyharness/pkg/logging"
	"github.com/cosmoslabs/applyharness/pkg/model"
	"github.com/cosmoslabs/applyharness/pkg/telemetry"
)

// runOptions bundles the flags main.go parses into the shape run() needs.
type runOptions struct {
	repoRoot       string
	suggestionPath string
	profile        string
	configPath     string
	modelConfigPath string
	speedModel     string
	smartModel     string
	quiet          bool
}

// stdoutProgress implements pkg/harness.ProgressReporter by printing one
// line per step to stderr, so stdout stays free for the run's final JSON
// summary.
type stdoutProgress struct{ quiet bool }

func (p stdoutProgress) SendProgress(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(os.Stderr, "applyharness:", message)
}

// runSummary is what run() prints to stdout on completion: enough for a
// calling script to decide what happened without re-parsing the full
// diagnostics report.
type runSummary struct {
	RunID      string `json:"run_id"`
	Passed     bool   `json:"passed"`
	Applied    bool   `json:"applied"`
	ReportPath string `json:"report_path,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func run(ctx context.Context, opts runOptions) (runSummary, error) {
	var summary runSummary

	repoRoot, err := filepath.Abs(opts.repoRoot)
	if err != nil {
		return summary, withExitCode(fmt.Errorf("resolve repo root: %w", err), exitCodeUsage)
	}

	in, err := loadRunInput(opts.suggestionPath)
	if err != nil {
		return summary, withExitCode(err, exitCodeUsage)
	}

	harnessCfg, err := loadHarnessConfig(opts.profile, opts.configPath)
	if err != nil {
		return summary, withExitCode(err, exitCodeConfigLoad)
	}
	if err := harnessCfg.Validate(); err != nil {
		return summary, withExitCode(fmt.Errorf("invalid harness config: %w", err), exitCodeConfigLoad)
	}

	modelCfg, err := config.LoadModelConfig(opts.modelConfigPath)
	if err != nil {
		return summary, withExitCode(err, exitCodeConfigLoad)
	}

	mgr, err := model.NewManager(modelCfg)
	if err != nil {
		return summary, withExitCode(fmt.Errorf("build model manager: %w", err), exitCodeModelInit)
	}
	if err := mgr.Initialize(); err != nil {
		return summary, withExitCode(fmt.Errorf("initialize model manager: %w", err), exitCodeModelInit)
	}

	speedModel := opts.speedModel
	if speedModel == "" {
		speedModel = mgr.GetExecutionModel()
	}
	smartModel := opts.smartModel
	if smartModel == "" {
		smartModel = mgr.GetReviewModel()
	}

	gateway := llmgateway.New(mgr)
	orch := harness.New(gateway, mgr, speedModel, smartModel)
	orch.SetProgressReporter(stdoutProgress{quiet: opts.quiet})
	orch.SetReportWriter(diagnostics.NewJSONReportWriter(repoRoot))
	orch.SetTelemetryAppender(telemetry.NewLog(repoRoot))

	hub := telemetry.NewHub()
	orch.SetTelemetryHub(hub)
	collector := diagnostics.NewCollector()
	collector.Subscribe(hub)
	defer collector.Close()
	if !opts.quiet {
		defer func() { fmt.Fprintln(os.Stderr, collector.Dump()) }()
	}

	cliRunID := ulid.Make().String()
	if logger, err := logging.NewLogger(repoRoot, cliRunID); err != nil {
		log.Printf("applyharness: logging disabled: %v", err)
	} else {
		orch.SetLogger(logger)
	}

	result, err := orch.ImplementValidatedSuggestion(ctx, harness.RunParams{
		RepoRoot:   repoRoot,
		Suggestion: in.Suggestion,
		Preview:    in.FixPreview,
		Config:     harnessCfg,
	})
	if err != nil {
		return summary, withExitCode(fmt.Errorf("run suggestion %s: %w", in.Suggestion.ID, err), exitCodeRunFailed)
	}

	summary.RunID = result.Diagnostics.RunID
	summary.Passed = result.Passed

	if !result.Passed {
		final := orch.Finalize(result.Diagnostics, diagnostics.FinalizationRolledBack, "no attempt passed; nothing applied", false)
		summary.ReportPath = final.ReportPath
		return summary, nil
	}

	if err := applyFiles(repoRoot, result.Files); err != nil {
		final := orch.Finalize(result.Diagnostics, diagnostics.FinalizationRolledBack, err.Error(), true)
		summary.ReportPath = final.ReportPath
		summary.Detail = err.Error()
		return summary, withExitCode(fmt.Errorf("apply winning attempt: %w", err), exitCodeApplyFailed)
	}

	final := orch.Finalize(result.Diagnostics, diagnostics.FinalizationApplied, "applied to working tree", false)
	summary.Applied = true
	summary.ReportPath = final.ReportPath
	return summary, nil
}

// applyFiles writes every winning attempt file to its path in the real
// repository, not the sandbox copy the orchestrator generated it in.
func applyFiles(repoRoot string, files []harness.AppliedFile) error {
	for _, f := range files {
		abs := filepath.Join(repoRoot, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(abs, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

func loadHarnessConfig(profile, overridePath string) (config.HarnessConfig, error) {
	var base config.HarnessConfig
	switch profile {
	case "", "interactive":
		base = config.Interactive()
	case "lab":
		base = config.Lab()
	default:
		return config.HarnessConfig{}, fmt.Errorf("unknown profile %q (want \"interactive\" or \"lab\")", profile)
	}

	if overridePath == "" {
		return base, nil
	}
	return config.Load(overridePath, base)
}
