package gates

import (
	"testing"

	"github.com/cosmoslabs/applyharness/pkg/config"
	"github.com/cosmoslabs/applyharness/pkg/quickcheck"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
)

func baseCfg() config.HarnessConfig {
	return config.Interactive()
}

func baseSuggestion() suggestion.Suggestion {
	return suggestion.Suggestion{ID: "s1", File: "pkg/foo/foo.go"}
}

func TestEvaluate_AllGatesPass(t *testing.T) {
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Original: "package foo\n\nfunc A() int { return 1 }\n",
				Current: "package foo\n\nfunc A() int { return 2 }\n"},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if !r.Passed() {
		t.Fatalf("expected all gates to pass, got %+v", r)
	}
}

func TestEvaluate_ScopeViolation(t *testing.T) {
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/other/bar.go", Current: "package other\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if r.ScopeOK || r.Passed() {
		t.Fatal("expected a scope violation")
	}
	if r.AsError() == nil {
		t.Fatal("expected AsError() to be non-nil")
	}
}

func TestEvaluate_NonEmptyDiff(t *testing.T) {
	p := Params{
		Suggestion: baseSuggestion(),
		Files:      nil,
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if r.NonEmptyDiffOK {
		t.Fatal("expected non-empty-diff gate to fail with no changed files")
	}
}

func TestEvaluate_DiffBudgetExceeded(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxTotalChangedLines = 1
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Current: "line1\nline2\nline3\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        cfg,
	}
	r := Evaluate(p)
	if r.DiffBudgetOK {
		t.Fatal("expected diff budget gate to fail")
	}
}

func TestEvaluate_SyntaxViolation(t *testing.T) {
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Current: "package foo\n\nfunc A( {\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if r.SyntaxOK {
		t.Fatal("expected a syntax violation")
	}
}

func TestEvaluate_BinaryWriteViolation(t *testing.T) {
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/image.png", Current: "not really a png", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if r.BinaryWriteOK {
		t.Fatal("expected a binary-write violation for a banned extension")
	}
}

func TestEvaluate_PlainLanguageTooTechnical(t *testing.T) {
	p := Params{
		Suggestion: baseSuggestion(),
		Description: "fn apply() calls pub impl Foo { line 12 } src/foo.rs::bar panic unwrap(",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Current: "package foo\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Passed},
		Cfg:        baseCfg(),
	}
	r := Evaluate(p)
	if r.PlainLanguageOK {
		t.Fatal("expected the plain-language gate to fail on a jargon-heavy description")
	}
}

func TestEvaluate_QuickCheckUnavailableFailsWhenRequired(t *testing.T) {
	cfg := baseCfg()
	cfg.RequireQuickCheckDetectable = true
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Current: "package foo\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Unavailable},
		Cfg:        cfg,
	}
	r := Evaluate(p)
	if r.QuickCheckOK {
		t.Fatal("expected quick-check gate to fail when detection is required but unavailable")
	}
}

func TestEvaluate_QuickCheckUnavailablePassesWhenNotRequired(t *testing.T) {
	cfg := baseCfg()
	cfg.RequireQuickCheckDetectable = false
	p := Params{
		Suggestion:  baseSuggestion(),
		Description: "Fix the off by one error so the loop includes the final element.",
		Files: []ChangedFile{
			{Path: "pkg/foo/foo.go", Current: "package foo\n", IsNew: true},
		},
		QuickCheck: quickcheck.Outcome{Status: quickcheck.Unavailable},
		Cfg:        cfg,
	}
	r := Evaluate(p)
	if !r.QuickCheckOK {
		t.Fatal("expected quick-check gate to pass when detection isn't required")
	}
}
