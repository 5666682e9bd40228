package llmgateway

import (
	"context"
	"errors"
	"testing"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/model"
)

type stubCompleter struct {
	// responses and errs are consumed in order per call to ChatCompletion,
	// keyed by the model requested.
	calls     []model.ChatRequest
	responses map[string][]stubResult
}

type stubResult struct {
	resp *model.ChatResponse
	err  error
}

func (s *stubCompleter) ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	s.calls = append(s.calls, req)
	queue := s.responses[req.Model]
	if len(queue) == 0 {
		return nil, errors.New("stub: no queued response for model " + req.Model)
	}
	next := queue[0]
	s.responses[req.Model] = queue[1:]
	return next.resp, next.err
}

func textResponse(text string) *model.ChatResponse {
	return &model.ChatResponse{
		Choices: []model.Choice{
			{Message: model.Message{Role: "assistant", Content: text}},
		},
		Usage: model.Usage{},
	}
}

type answer struct {
	Value string `json:"value"`
}

func TestStructuredCall_SuccessNoFallback(t *testing.T) {
	stub := &stubCompleter{responses: map[string][]stubResult{
		"fast-model": {{resp: textResponse(`{"value":"ok"}`)}},
	}}
	gw := New(stub)

	result, err := StructuredCall[answer](context.Background(), gw, StructuredParams{
		System:     "be helpful",
		User:       "say ok",
		Model:      "fast-model",
		SchemaName: "answer",
		Schema:     map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("StructuredCall() error = %v", err)
	}
	if result.Value.Value != "ok" {
		t.Fatalf("Value.Value = %q, want %q", result.Value.Value, "ok")
	}
	if result.SchemaFallbackUsed || result.ContextLimitRetried {
		t.Fatalf("unexpected fallback flags: %+v", result)
	}
	if result.ModelUsed != "fast-model" {
		t.Fatalf("ModelUsed = %q, want fast-model", result.ModelUsed)
	}
	if len(stub.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(stub.calls))
	}
}

func TestStructuredCall_ContextLimitRetriesWithShorterUser(t *testing.T) {
	stub := &stubCompleter{responses: map[string][]stubResult{
		"fast-model": {
			{err: errors.New("Error: prompt exceeds maximum context length for this model")},
			{resp: textResponse(`{"value":"trimmed"}`)},
		},
	}}
	gw := New(stub)

	result, err := StructuredCall[answer](context.Background(), gw, StructuredParams{
		System:      "be helpful",
		User:        "a very long prompt",
		ShorterUser: "a short prompt",
		Model:       "fast-model",
		SchemaName:  "answer",
		Schema:      map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("StructuredCall() error = %v", err)
	}
	if !result.ContextLimitRetried {
		t.Fatalf("expected ContextLimitRetried=true, got %+v", result)
	}
	if result.Value.Value != "trimmed" {
		t.Fatalf("Value.Value = %q, want trimmed", result.Value.Value)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(stub.calls))
	}
	if stub.calls[1].Messages[1].Content != "a short prompt" {
		t.Fatalf("second call did not use ShorterUser: %+v", stub.calls[1])
	}
}

func TestStructuredCall_SchemaRejectionFallsBackToPlainJSON(t *testing.T) {
	stub := &stubCompleter{responses: map[string][]stubResult{
		"fast-model": {
			{err: errors.New("400: the model does not support response_format json_schema")},
			{resp: textResponse(`{"value":"plain"}`)},
		},
	}}
	gw := New(stub)

	result, err := StructuredCall[answer](context.Background(), gw, StructuredParams{
		System:     "be helpful",
		User:       "say something",
		Model:      "fast-model",
		SchemaName: "answer",
		Schema:     map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("StructuredCall() error = %v", err)
	}
	if !result.SchemaFallbackUsed {
		t.Fatalf("expected SchemaFallbackUsed=true, got %+v", result)
	}
	if result.Value.Value != "plain" {
		t.Fatalf("Value.Value = %q, want plain", result.Value.Value)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(stub.calls))
	}
	if stub.calls[1].ResponseFormat != nil {
		t.Fatalf("fallback call should not set ResponseFormat: %+v", stub.calls[1].ResponseFormat)
	}
}

func TestStructuredCall_SpeedFailoverAcrossTransientErrors(t *testing.T) {
	stub := &stubCompleter{responses: map[string][]stubResult{
		"primary":   {{err: errors.New("502 bad gateway")}},
		"secondary": {{resp: textResponse(`{"value":"from-secondary"}`)}},
	}}
	gw := New(stub)

	result, err := StructuredCall[answer](context.Background(), gw, StructuredParams{
		System:              "be helpful",
		User:                "say ok",
		Model:               "primary",
		SpeedFailoverModels: []string{"secondary"},
		SchemaName:          "answer",
		Schema:              map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("StructuredCall() error = %v", err)
	}
	if result.ModelUsed != "secondary" {
		t.Fatalf("ModelUsed = %q, want secondary", result.ModelUsed)
	}
	if len(result.SpeedFailover) != 1 || result.SpeedFailover[0].Model != "primary" {
		t.Fatalf("SpeedFailover = %+v, want one entry for primary", result.SpeedFailover)
	}
}

func TestStructuredCall_NonTransientErrorSkipsFailover(t *testing.T) {
	stub := &stubCompleter{responses: map[string][]stubResult{
		"primary": {{err: errors.New("401 unauthorized: invalid api key")}},
	}}
	gw := New(stub)

	_, err := StructuredCall[answer](context.Background(), gw, StructuredParams{
		System:              "be helpful",
		User:                "say ok",
		Model:               "primary",
		SpeedFailoverModels: []string{"secondary"},
		SchemaName:          "answer",
		Schema:              map[string]any{"type": "object"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeModelAuth {
		t.Fatalf("GetCode(err) = %v, want ErrCodeModelAuth", harnesserrors.GetCode(err))
	}
	if len(stub.calls) != 1 {
		t.Fatalf("expected no failover call, got %d calls", len(stub.calls))
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name      string
		msg       string
		wantCode  harnesserrors.ErrorCode
		retryable bool
	}{
		{"context limit", "maximum context length exceeded for this request", harnesserrors.ErrCodeModelContextLimit, true},
		{"rate limit", "429 too many requests, rate limit hit", harnesserrors.ErrCodeModelRateLimit, true},
		{"timeout", "context deadline exceeded", harnesserrors.ErrCodeModelTimeout, true},
		{"auth", "401 unauthorized, invalid api key", harnesserrors.ErrCodeModelAuth, false},
		{"schema", "model rejected response_format json_schema", harnesserrors.ErrCodeModelSchemaInvalid, true},
		{"default", "connection reset by peer", harnesserrors.ErrCodeModelAPIError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(errors.New(tc.msg))
			if harnesserrors.GetCode(got) != tc.wantCode {
				t.Fatalf("GetCode() = %v, want %v", harnesserrors.GetCode(got), tc.wantCode)
			}
			if harnesserrors.IsRetryable(got) != tc.retryable {
				t.Fatalf("IsRetryable() = %v, want %v", harnesserrors.IsRetryable(got), tc.retryable)
			}
		})
	}
}

func TestDecodeStructured_StripsJSONFences(t *testing.T) {
	resp := textResponse("```json\n{\"value\":\"fenced\"}\n```")
	var out answer
	if err := decodeStructured(resp, &out); err != nil {
		t.Fatalf("decodeStructured() error = %v", err)
	}
	if out.Value != "fenced" {
		t.Fatalf("out.Value = %q, want fenced", out.Value)
	}
}

func TestDecodeStructured_InvalidJSONIsSchemaInvalid(t *testing.T) {
	resp := textResponse("not json at all")
	var out answer
	err := decodeStructured(resp, &out)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeModelSchemaInvalid {
		t.Fatalf("GetCode(err) = %v, want ErrCodeModelSchemaInvalid", harnesserrors.GetCode(err))
	}
}
