package review

import (
	"context"
	"errors"
	"testing"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
	"github.com/cosmoslabs/applyharness/pkg/model"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
	"github.com/cosmoslabs/applyharness/pkg/synth"
)

type stubCompleter struct {
	responses []string
	calls     int
}

func (s *stubCompleter) ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	if s.calls >= len(s.responses) {
		return nil, errors.New("stub: exhausted responses")
	}
	text := s.responses[s.calls]
	s.calls++
	return &model.ChatResponse{
		Choices: []model.Choice{{Message: model.Message{Role: "assistant", Content: text}}},
	}, nil
}

func baseParams(gw *llmgateway.Gateway, sx *synth.Synthesizer, files []FileContent) Params {
	return Params{
		Suggestion:         suggestion.Suggestion{ID: "s1", File: "a.go"},
		Preview:            suggestion.FixPreview{Title: "fix", Outcome: "works"},
		Description:        "fixes the bug",
		Files:              files,
		Gateway:            gw,
		Synthesizer:        sx,
		ReviewModel:        "speed-model",
		BlockingSeverities: []string{"critical", "warning"},
		MaxRepairRounds:    2,
		TimeoutMs:          10_000,
	}
}

func TestBlockingFindings_FiltersBySeverity(t *testing.T) {
	findings := []Finding{
		{Title: "a", Severity: "critical"},
		{Title: "b", Severity: "info"},
	}
	got := blockingFindings(findings, []string{"critical"}, false, false)
	if len(got) != 1 || got[0].Title != "a" {
		t.Fatalf("got %+v", got)
	}
}

func TestBlockingFindings_DropsRustFalsePositiveWhenQuickCheckPassed(t *testing.T) {
	findings := []Finding{
		{Title: "missing import for foo", Severity: "critical"},
		{Title: "off-by-one bug", Severity: "critical"},
	}
	got := blockingFindings(findings, []string{"critical"}, true, true)
	if len(got) != 1 || got[0].Title != "off-by-one bug" {
		t.Fatalf("got %+v", got)
	}
}

func TestBlockingFindings_KeepsFalsePositiveShapeWhenNotRust(t *testing.T) {
	findings := []Finding{{Title: "missing import for foo", Severity: "critical"}}
	got := blockingFindings(findings, []string{"critical"}, true, false)
	if len(got) != 1 {
		t.Fatalf("expected the finding kept for a non-Rust repo, got %+v", got)
	}
}

func TestRun_PassesWithNoBlockingFindings(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"summary":"looks good","findings":[]}`,
	}}
	gw := llmgateway.New(stub)
	sx := synth.New(gw)

	outcome, err := Run(context.Background(), baseParams(gw, sx, []FileContent{
		{Path: "a.go", Original: "func A() {}\n", Current: "func A() { return }\n"},
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Passed {
		t.Fatalf("expected Passed=true, got %+v", outcome)
	}
}

func TestRun_RepairsBlockingFindingThenPasses(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"summary":"found an issue","findings":[{"file":"a.go","severity":"critical","category":"correctness","title":"unchecked error","description":"err is ignored"}]}`,
		`{"description":"checks error","modified_areas":["A"],"edits":[{"old_string":"func A() { return }","new_string":"func A() { return nil }"}]}`,
		`{"summary":"resolved","findings":[]}`,
	}}
	gw := llmgateway.New(stub)
	sx := synth.New(gw)

	outcome, err := Run(context.Background(), baseParams(gw, sx, []FileContent{
		{Path: "a.go", Original: "func A() {}\n", Current: "func A() { return }\n"},
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Passed {
		t.Fatalf("expected Passed=true after repair, got %+v", outcome)
	}
	if outcome.Rounds != 1 {
		t.Fatalf("Rounds = %d, want 1", outcome.Rounds)
	}
}

func TestRun_UnfixableWhenTooManyBlockingFindingsUpfront(t *testing.T) {
	findings := `[`
	for i := 0; i < 7; i++ {
		if i > 0 {
			findings += ","
		}
		findings += `{"file":"a.go","severity":"critical","category":"c","title":"issue","description":"d"}`
	}
	findings += `]`
	stub := &stubCompleter{responses: []string{
		`{"summary":"many problems","findings":` + findings + `}`,
	}}
	gw := llmgateway.New(stub)
	sx := synth.New(gw)

	outcome, err := Run(context.Background(), baseParams(gw, sx, []FileContent{
		{Path: "a.go", Original: "", Current: ""},
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.UnfixableInReview {
		t.Fatal("expected UnfixableInReview=true")
	}
	if outcome.AsError() == nil {
		t.Fatal("expected AsError() to return a non-nil error")
	}
	if harnesserrors.GetCode(outcome.AsError()) != harnesserrors.ErrCodeReviewUnfixable {
		t.Fatalf("expected ErrCodeReviewUnfixable, got %v", outcome.AsError())
	}
}

func TestOutcome_AsError_NilWhenPassed(t *testing.T) {
	o := &Outcome{Passed: true}
	if err := o.AsError(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
