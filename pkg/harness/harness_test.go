package harness

import (
	"context"
	"errors"
	"testing"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/model"
)

// stubCompleter is a minimal llmgateway.ChatCompleter that returns queued
// responses per model, the same pattern pkg/llmgateway's own tests use.
type stubCompleter struct {
	responses map[string][]stubResult
}

type stubResult struct {
	text string
	err  error
}

func (s *stubCompleter) ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	queue := s.responses[req.Model]
	if len(queue) == 0 {
		return nil, errors.New("stub: no queued response for model " + req.Model)
	}
	next := queue[0]
	s.responses[req.Model] = queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &model.ChatResponse{
		Choices: []model.Choice{{Message: model.Message{Role: "assistant", Content: next.text}}},
		Usage:   model.Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

func TestIsAnchorClassError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"old_string not found in file", true},
		{"old_string must be unique, matches 3 locations", true},
		{"ambiguous replacement target", true},
		{"network connection refused", false},
		{"", false},
	}
	for _, c := range cases {
		var err error
		if c.msg != "" {
			err = errors.New(c.msg)
		} else {
			continue
		}
		if got := isAnchorClassError(err); got != c.want {
			t.Errorf("isAnchorClassError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestDefaultActionForCode(t *testing.T) {
	cases := []struct {
		code harnesserrors.ErrorCode
		want string
	}{
		{harnesserrors.ErrCodeBudgetExceeded, "stop"},
		{harnesserrors.ErrCodeGateScopeViolation, "retry_next_attempt_with_tighter_scope"},
		{harnesserrors.ErrCodeGateSyntaxViolation, "retry_next_attempt"},
		{harnesserrors.ErrCodeGatePlainLanguage, "rewrite_description"},
		{harnesserrors.ErrCodeQuickCheckUnavailable, "review_repo_toolchain"},
		{harnesserrors.ErrCodeReviewUnfixable, "retry_next_attempt_or_escalate_to_human"},
		{harnesserrors.ErrorCode("something_else"), "retry_next_attempt"},
	}
	for _, c := range cases {
		if got := defaultActionForCode(c.code); got != c.want {
			t.Errorf("defaultActionForCode(%s) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate should not shorten a string under the limit, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("truncate(%q, 5) = %q, want %q", "hello world", got, "hello")
	}
}
