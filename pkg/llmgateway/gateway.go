// Package llmgateway wraps pkg/model.Manager with the structured-output,
// failover, and prompt-cache conventions the implementation harness needs
// on top of a raw chat completion: JSON-schema-constrained responses,
// speed-tier failover across alternate providers, and graceful fallback
// when a provider rejects the schema or the prompt is too long.
package llmgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/model"
)

// ChatCompleter is the subset of model.Manager's behavior a Gateway needs.
// *model.Manager satisfies it directly; tests substitute a stub.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// Gateway routes structured calls through a ChatCompleter, tracking a
// per-model circuit breaker the way pkg/model.Client tracks one per
// provider, so a model that's currently failing is skipped rather than
// retried into the ground.
type Gateway struct {
	manager  ChatCompleter
	breakers map[string]*model.CircuitBreaker
}

// New builds a Gateway over an initialized model.Manager (or any other
// ChatCompleter).
func New(manager ChatCompleter) *Gateway {
	return &Gateway{
		manager:  manager,
		breakers: make(map[string]*model.CircuitBreaker),
	}
}

func (g *Gateway) breakerFor(modelID string) *model.CircuitBreaker {
	if cb, ok := g.breakers[modelID]; ok {
		return cb
	}
	cb := model.DefaultCircuitBreaker()
	g.breakers[modelID] = cb
	return cb
}

// StructuredParams configures a single structured_call.
type StructuredParams struct {
	System            string
	User              string
	Model             string
	SchemaName        string
	Schema            map[string]any
	MaxTokens         int
	TimeoutMs         int64
	// SpeedFailoverModels, when non-empty, are tried in order if Model times
	// out or fails with a transient error.
	SpeedFailoverModels []string
	// PromptCache, when set, is attached to every request this call issues
	// so the provider-level prompt cache can be exercised; the gateway does
	// not check the model's tier.
	PromptCache *model.PromptCache
	// ShorterUser, when set, is retried automatically if the full prompt is
	// rejected for exceeding the model's context window.
	ShorterUser string
}

// SpeedFailoverAttempt records one provider tried during speed-tier
// failover, for diagnostics surfaced back to the caller.
type SpeedFailoverAttempt struct {
	Model string
	Err   string
}

// StructuredResponse[T] is the deserialized payload plus the diagnostics the
// orchestrator needs to decide whether to retry or escalate.
type StructuredResponse[T any] struct {
	Value               T
	Usage               *model.Usage
	SpeedFailover       []SpeedFailoverAttempt
	SchemaFallbackUsed  bool
	ContextLimitRetried bool
	ModelUsed           string
}

// StructuredCall performs a structured, schema-constrained chat completion,
// deserializing the model's JSON response into T. It applies, in order:
// speed-tier failover across params.SpeedFailoverModels, a context-limit
// retry with params.ShorterUser, and a schema-rejection fallback to plain
// JSON (schema instructions folded into the prompt instead of
// response_format).
func StructuredCall[T any](ctx context.Context, g *Gateway, params StructuredParams) (*StructuredResponse[T], error) {
	candidates := append([]string{params.Model}, params.SpeedFailoverModels...)

	var failover []SpeedFailoverAttempt
	var lastErr error

	for i, modelID := range candidates {
		result, err := g.callOne(ctx, modelID, params)
		if err == nil {
			var value T
			if parseErr := decodeStructured(result.resp, &value); parseErr != nil {
				lastErr = parseErr
				if i < len(candidates)-1 {
					failover = append(failover, SpeedFailoverAttempt{Model: modelID, Err: parseErr.Error()})
					continue
				}
				return nil, parseErr
			}
			return &StructuredResponse[T]{
				Value:               value,
				Usage:               &result.resp.Usage,
				SpeedFailover:       failover,
				SchemaFallbackUsed:  result.schemaFallbackUsed,
				ContextLimitRetried: result.contextLimitRetried,
				ModelUsed:           modelID,
			}, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if i < len(candidates)-1 {
			failover = append(failover, SpeedFailoverAttempt{Model: modelID, Err: err.Error()})
			continue
		}
	}

	return nil, lastErr
}

// callResult carries a successful response plus which fallback paths (if
// any) were needed to get it.
type callResult struct {
	resp                *model.ChatResponse
	schemaFallbackUsed  bool
	contextLimitRetried bool
}

// callOne issues a single chat completion attempt against modelID, applying
// the context-limit retry and schema-rejection fallback for that one model.
func (g *Gateway) callOne(ctx context.Context, modelID string, params StructuredParams) (*callResult, error) {
	req := buildRequest(modelID, params, params.User, true)

	cb := g.breakerFor(modelID)
	var resp *model.ChatResponse
	callErr := cb.Call(func() error {
		var err error
		resp, err = g.doCall(ctx, req, params.TimeoutMs)
		return err
	})

	if callErr == nil {
		return &callResult{resp: resp}, nil
	}

	if isContextLimitErr(callErr) && params.ShorterUser != "" {
		shortReq := buildRequest(modelID, params, params.ShorterUser, true)
		var shortResp *model.ChatResponse
		shortErr := cb.Call(func() error {
			var err error
			shortResp, err = g.doCall(ctx, shortReq, params.TimeoutMs)
			return err
		})
		if shortErr == nil {
			return &callResult{resp: shortResp, contextLimitRetried: true}, nil
		}
		callErr = shortErr
	}

	if isSchemaRejectedErr(callErr) {
		plainReq := buildRequest(modelID, params, params.User, false)
		var plainResp *model.ChatResponse
		plainErr := cb.Call(func() error {
			var err error
			plainResp, err = g.doCall(ctx, plainReq, params.TimeoutMs)
			return err
		})
		if plainErr == nil {
			return &callResult{resp: plainResp, schemaFallbackUsed: true}, nil
		}
		callErr = plainErr
	}

	return nil, callErr
}

func buildRequest(modelID string, params StructuredParams, userContent string, withSchema bool) model.ChatRequest {
	system := params.System
	if !withSchema && params.Schema != nil {
		system = system + "\n\n" + plainJSONInstruction(params.SchemaName, params.Schema)
	}

	req := model.ChatRequest{
		Model: modelID,
		Messages: []model.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userContent},
		},
		MaxTokens:   params.MaxTokens,
		PromptCache: params.PromptCache,
	}
	if withSchema && params.Schema != nil {
		req.ResponseFormat = &model.ResponseFormat{
			Type: "json_schema",
			JSONSchema: model.JSONSchemaSpec{
				Name:   params.SchemaName,
				Strict: true,
				Schema: params.Schema,
			},
		}
	}
	return req
}

func plainJSONInstruction(schemaName string, schema map[string]any) string {
	encoded, _ := json.Marshal(schema)
	return fmt.Sprintf("Respond with a single JSON object named %q matching this JSON schema exactly, with no surrounding prose or markdown fences:\n%s", schemaName, string(encoded))
}

func (g *Gateway) doCall(ctx context.Context, req model.ChatRequest, timeoutMs int64) (*model.ChatResponse, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := g.manager.ChatCompletion(callCtx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, harnesserrors.New(harnesserrors.ErrCodeModelEmptyResponse, "model returned no choices")
	}
	return resp, nil
}

func decodeStructured[T any](resp *model.ChatResponse, out *T) error {
	text, extractErr := model.ExtractTextContent(resp.Choices[0].Message.Content)
	if extractErr != nil {
		return harnesserrors.New(harnesserrors.ErrCodeModelEmptyResponse, "could not extract text content from response")
	}
	text = stripJSONFences(text)
	if decodeErr := json.Unmarshal([]byte(text), out); decodeErr != nil {
		return harnesserrors.Wrap(decodeErr, harnesserrors.ErrCodeModelSchemaInvalid, "response did not match the expected schema")
	}
	return nil
}

func stripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	return text
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context") && (strings.Contains(msg, "length") || strings.Contains(msg, "too long") || strings.Contains(msg, "maximum")):
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelContextLimit, "prompt exceeded the model's context window").WithRetryable(true)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelRateLimit, "model provider rate limited the request").WithRetryable(true)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelTimeout, "model call timed out").WithRetryable(true)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "403"):
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelAuth, "model provider rejected credentials")
	case strings.Contains(msg, "response_format") || strings.Contains(msg, "json_schema") || strings.Contains(msg, "schema"):
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelSchemaInvalid, "model provider rejected the response schema").WithRetryable(true)
	default:
		return harnesserrors.Wrap(err, harnesserrors.ErrCodeModelAPIError, "model call failed").WithRetryable(true)
	}
}

func isTransient(err error) bool {
	var he *harnesserrors.Error
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

func isContextLimitErr(err error) bool {
	return harnesserrors.GetCode(err) == harnesserrors.ErrCodeModelContextLimit
}

func isSchemaRejectedErr(err error) bool {
	return harnesserrors.GetCode(err) == harnesserrors.ErrCodeModelSchemaInvalid
}
