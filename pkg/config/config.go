// Package config defines the implementation harness's per-run policy and
// loads it from YAML, following the same Default*-constant-plus-struct-tag
// convention the rest of the toolchain uses for configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default policy values, exported for documentation and validation.
const (
	DefaultMaxAttempts                  = 3
	DefaultMaxTotalMs                   = 180_000
	DefaultMaxTotalCostUSD              = 0.75
	DefaultMaxSmartEscalationsPerAttempt = 1
	DefaultReserveIndependentReviewMs     = 20_000
	DefaultReserveIndependentReviewCostUSD = 0.05
	DefaultMaxAutoReviewFixLoops         = 3
	DefaultMaxAutoQuickCheckFixLoops     = 3
	DefaultMaxAutoSyntaxFixLoops         = 2
	DefaultMaxChangedFiles               = 6
	DefaultMaxTotalChangedLines          = 400
	DefaultMaxChangedLinesPerFile        = 200
	DefaultQuickCheckTimeoutMs           = 120_000

	// CostOverrunTolerance absorbs provider-side usage-accounting jitter
	// when comparing accumulated cost against the budget ceiling.
	CostOverrunTolerance = 0.00025
)

// QuickChecksMode controls whether the quick-check runner participates at
// all in a given profile.
type QuickChecksMode string

const (
	QuickChecksStrictAuto QuickChecksMode = "strict_auto"
	QuickChecksDisabled   QuickChecksMode = "disabled"
)

// ReviewModel selects which model tier runs the adversarial review call.
type ReviewModel string

const (
	ReviewModelSpeed ReviewModel = "speed"
	ReviewModelSmart ReviewModel = "smart"
)

// HarnessConfig is the per-run policy consumed by the orchestrator (C11)
// and every component it drives. Two canonical profiles are provided by
// Interactive() and Lab(); callers may further override individual fields.
type HarnessConfig struct {
	MaxAttempts                    int     `yaml:"max_attempts"`
	MaxTotalMs                     int64   `yaml:"max_total_ms"`
	MaxTotalCostUSD                float64 `yaml:"max_total_cost_usd"`
	MaxSmartEscalationsPerAttempt  int     `yaml:"max_smart_escalations_per_attempt"`
	ReserveIndependentReviewMs     int64   `yaml:"reserve_independent_review_ms"`
	ReserveIndependentReviewCostUSD float64 `yaml:"reserve_independent_review_cost_usd"`

	EnableQuickCheckBaseline bool `yaml:"enable_quick_check_baseline"`

	MaxAutoReviewFixLoops     int `yaml:"max_auto_review_fix_loops"`
	MaxAutoQuickCheckFixLoops int `yaml:"max_auto_quick_check_fix_loops"`
	MaxAutoSyntaxFixLoops     int `yaml:"max_auto_syntax_fix_loops"`

	QuickChecksMode         QuickChecksMode `yaml:"quick_checks_mode"`
	ReviewBlockingSeverities []string       `yaml:"review_blocking_severities"`

	MaxChangedFiles        int `yaml:"max_changed_files"`
	MaxTotalChangedLines   int `yaml:"max_total_changed_lines"`
	MaxChangedLinesPerFile int `yaml:"max_changed_lines_per_file"`

	QuickCheckTimeoutMs             int64 `yaml:"quick_check_timeout_ms"`
	RequireQuickCheckDetectable     bool  `yaml:"require_quick_check_detectable"`
	FailOnReducedConfidence         bool  `yaml:"fail_on_reduced_confidence"`
	QuickCheckFixRequiresInScopeError bool `yaml:"quick_check_fix_requires_in_scope_error"`

	RequireIndependentReviewOnPass bool        `yaml:"require_independent_review_on_pass"`
	AdversarialReviewModel         ReviewModel `yaml:"adversarial_review_model"`

	// RunContext labels telemetry rows (interactive vs lab) and is not
	// itself a tunable — it is set by whichever profile constructor built
	// this config.
	RunContext string `yaml:"-"`
}

// Interactive returns the interactive_strict profile: a bounded budget
// with mandatory independent review, meant for a human waiting on the
// result.
func Interactive() HarnessConfig {
	return HarnessConfig{
		MaxAttempts:                     DefaultMaxAttempts,
		MaxTotalMs:                      DefaultMaxTotalMs,
		MaxTotalCostUSD:                 DefaultMaxTotalCostUSD,
		MaxSmartEscalationsPerAttempt:   DefaultMaxSmartEscalationsPerAttempt,
		ReserveIndependentReviewMs:      DefaultReserveIndependentReviewMs,
		ReserveIndependentReviewCostUSD: DefaultReserveIndependentReviewCostUSD,
		EnableQuickCheckBaseline:        true,
		MaxAutoReviewFixLoops:           DefaultMaxAutoReviewFixLoops,
		MaxAutoQuickCheckFixLoops:       DefaultMaxAutoQuickCheckFixLoops,
		MaxAutoSyntaxFixLoops:           DefaultMaxAutoSyntaxFixLoops,
		QuickChecksMode:                 QuickChecksStrictAuto,
		ReviewBlockingSeverities:        []string{"critical", "warning"},
		MaxChangedFiles:                 DefaultMaxChangedFiles,
		MaxTotalChangedLines:            DefaultMaxTotalChangedLines,
		MaxChangedLinesPerFile:          DefaultMaxChangedLinesPerFile,
		QuickCheckTimeoutMs:             DefaultQuickCheckTimeoutMs,
		RequireQuickCheckDetectable:     false,
		FailOnReducedConfidence:         true,
		QuickCheckFixRequiresInScopeError: true,
		RequireIndependentReviewOnPass: true,
		AdversarialReviewModel:         ReviewModelSmart,
		RunContext:                     "interactive",
	}
}

// Lab returns the lab_strict profile: a wider repair budget for
// unattended batch runs, where quick checks must be detectable (a run
// over a repo with no recognizable toolchain is treated as
// misconfiguration rather than silently skipped).
func Lab() HarnessConfig {
	cfg := Interactive()
	cfg.MaxAttempts = 5
	cfg.MaxTotalMs = 600_000
	cfg.MaxTotalCostUSD = 2.00
	cfg.MaxAutoReviewFixLoops = 5
	cfg.MaxAutoQuickCheckFixLoops = 5
	cfg.RequireQuickCheckDetectable = true
	cfg.AdversarialReviewModel = ReviewModelSpeed
	cfg.RunContext = "lab"
	return cfg
}

// Load reads a HarnessConfig from a YAML file, starting from the given
// base profile and overriding only the fields present in the file.
func Load(path string, base HarnessConfig) (HarnessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read harness config %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse harness config %s: %w", path, err)
	}
	if cfg.RunContext == "" {
		cfg.RunContext = base.RunContext
	}
	return cfg, nil
}

// Validate checks internal consistency of the policy, returning a
// descriptive error for the first violation found.
func (c HarnessConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MaxTotalMs <= 0 {
		return fmt.Errorf("max_total_ms must be > 0, got %d", c.MaxTotalMs)
	}
	if c.MaxTotalCostUSD <= 0 {
		return fmt.Errorf("max_total_cost_usd must be > 0, got %f", c.MaxTotalCostUSD)
	}
	if c.MaxChangedFiles < 1 {
		return fmt.Errorf("max_changed_files must be >= 1, got %d", c.MaxChangedFiles)
	}
	if len(c.ReviewBlockingSeverities) == 0 {
		return fmt.Errorf("review_blocking_severities must not be empty")
	}
	return nil
}
