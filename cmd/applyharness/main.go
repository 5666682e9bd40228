// Command applyharness drives one validated improvement suggestion through
// the implementation harness's attempt loop and, on a passing run, writes
// the winning attempt's files into the target repository.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set via ldflags during build.
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	var (
		repoRoot        string
		suggestionPath  string
		profile         string
		configPath      string
		modelConfigPath string
		speedModel      string
		smartModel      string
		quiet           bool
		showVersion     bool
	)

	flag.StringVar(&repoRoot, "repo", ".", "path to the repository the suggestion applies to")
	flag.StringVar(&suggestionPath, "suggestion", "", "path to a JSON file with {\"suggestion\": ..., \"fix_preview\": ...}")
	flag.StringVar(&profile, "profile", "interactive", "harness policy profile: interactive or lab")
	flag.StringVar(&configPath, "config", "", "optional YAML file overriding the selected profile's harness policy")
	flag.StringVar(&modelConfigPath, "model-config", "", "optional YAML file configuring model providers and routing")
	flag.StringVar(&speedModel, "speed-model", "", "override the execution model (defaults to the model config's execution tier)")
	flag.StringVar(&smartModel, "smart-model", "", "override the smart-escalation/review model (defaults to the model config's review tier)")
	flag.BoolVar(&quiet, "quiet", false, "suppress progress lines on stderr")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("applyharness %s (commit %s, built %s)\n", version, commit, buildDate)
		return 0
	}

	if suggestionPath == "" {
		fmt.Fprintln(os.Stderr, "applyharness: -suggestion is required")
		flag.Usage()
		return exitCodeUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, runOptions{
		repoRoot:        repoRoot,
		suggestionPath:  suggestionPath,
		profile:         profile,
		configPath:      configPath,
		modelConfigPath: modelConfigPath,
		speedModel:      speedModel,
		smartModel:      smartModel,
		quiet:           quiet,
	})

	if encodeErr := json.NewEncoder(os.Stdout).Encode(summary); encodeErr != nil && err == nil {
		err = fmt.Errorf("encode run summary: %w", encodeErr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "applyharness:", err)
		return exitCodeForError(err)
	}
	return 0
}
