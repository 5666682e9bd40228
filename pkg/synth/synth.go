// Package synth turns a validated suggestion and fix preview into applied
// file edits: it prompts a model for search/replace edits, validates and
// applies them via pkg/editapply, and retries with escalating context and
// repair guidance when an attempt fails. The retry loop, its front-loaded
// time slicing, and its repair-guidance templating are grounded on the
// teacher's edit-generation pipeline, generalized from a single hardcoded
// fix flow to any validated suggestion the harness is driving.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/cosmoslabs/applyharness/pkg/editapply"
	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
	"github.com/cosmoslabs/applyharness/pkg/model"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
)

const (
	// MaxAttempts bounds how many times the synthesizer will ask the model
	// for edits before giving up on a single file (or file group).
	MaxAttempts = 5

	// minSliceMs is the smallest time slice any attempt after the first is
	// ever allocated, however small the overall timeout is.
	minSliceMs = int64(1_200)

	// firstAttemptShare is the fraction of the total timeout front-loaded
	// onto the first attempt: it carries the full prompt and the best shot
	// at a clean pass, so it gets the most room before the retry attempts
	// (which are usually smaller, excerpt-guided repairs) split the rest.
	firstAttemptShare = 2.0 / 3.0
)

// AllocateAttemptTimeSlices splits a single attempt's overall timeout across
// slots generation retries. The first slot gets firstAttemptShare of the
// budget; the remainder is split evenly across the rest, with any leftover
// millisecond from integer division handed out one at a time starting from
// slot 1. When the total can't give every slot at least minSliceMs, every
// millisecond collapses into slot 0 and the rest are starved to 0 rather
// than handed a budget too small to make a real LLM call with.
func AllocateAttemptTimeSlices(totalMs int64, slots int) []int64 {
	if slots <= 0 {
		return nil
	}
	if slots == 1 || totalMs <= 0 {
		out := make([]int64, slots)
		out[0] = totalMs
		return out
	}

	remainderSlots := int64(slots - 1)
	if totalMs < int64(slots)*minSliceMs {
		out := make([]int64, slots)
		out[0] = totalMs
		return out
	}

	first := int64(float64(totalMs) * firstAttemptShare)
	if first < minSliceMs {
		first = minSliceMs
	}
	remaining := totalMs - first
	if remaining < remainderSlots*minSliceMs {
		first = totalMs - remainderSlots*minSliceMs
		remaining = remainderSlots * minSliceMs
	}

	each := remaining / remainderSlots
	leftover := remaining % remainderSlots

	out := make([]int64, slots)
	out[0] = first
	for i := 1; i < slots; i++ {
		out[i] = each
		if leftover > 0 {
			out[i]++
			leftover--
		}
	}
	return out
}

// FileInput is one file the synthesizer is editing: its current content, or
// empty content with IsNew set when the edit is expected to create it.
type FileInput struct {
	Path    string
	Content string
	IsNew   bool
}

// AppliedFix is the result of a successful single-file generation: the new
// content plus the diagnostics the orchestrator folds into its attempt
// report.
type AppliedFix struct {
	Description         string
	NewContent          string
	ModifiedAreas       []string
	Attempts            int
	PreferredFullPrompt bool
	Usage               *model.Usage
	SpeedFailover       []llmgateway.SpeedFailoverAttempt
	SchemaFallbackUsed  bool
	ContextLimitRetried bool
	EscalationReason    string
}

// FileEdit is one file's share of a multi-file fix.
type FileEdit struct {
	Path          string
	NewContent    string
	ModifiedAreas []string
}

// MultiFileAppliedFix is the result of a successful multi-file generation.
type MultiFileAppliedFix struct {
	Description         string
	FileEdits           []FileEdit
	Attempts            int
	PreferredFullPrompt bool
	Usage               *model.Usage
	SpeedFailover       []llmgateway.SpeedFailoverAttempt
	SchemaFallbackUsed  bool
	ContextLimitRetried bool
	EscalationReason    string
}

// Synthesizer generates edits for a validated suggestion over a gateway.
type Synthesizer struct {
	gateway *llmgateway.Gateway
}

// New builds a Synthesizer over an already-constructed gateway.
func New(gateway *llmgateway.Gateway) *Synthesizer {
	return &Synthesizer{gateway: gateway}
}

// SingleFileParams configures a single-file generation.
type SingleFileParams struct {
	Suggestion          suggestion.Suggestion
	Preview             suggestion.FixPreview
	File                FileInput
	Model               string
	SpeedFailoverModels []string
	PromptCache         *model.PromptCache
	// TimeoutMs is this whole generation's overall budget; it is divided
	// across attempts by AllocateAttemptTimeSlices.
	TimeoutMs int64
}

// MultiFileParams configures a multi-file generation.
type MultiFileParams struct {
	Suggestion          suggestion.Suggestion
	Preview             suggestion.FixPreview
	Files               []FileInput
	Model               string
	SpeedFailoverModels []string
	PromptCache         *model.PromptCache
	TimeoutMs           int64
}

// editOpJSON mirrors the teacher's EditOp wire shape.
type editOpJSON struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// fixResponseJSON mirrors the teacher's single-file FixResponse wire shape.
type fixResponseJSON struct {
	Description   string       `json:"description,omitempty"`
	ModifiedAreas []string     `json:"modified_areas"`
	Edits         []editOpJSON `json:"edits"`
}

// fileEditsJSON mirrors the teacher's per-file edit group for multi-file
// generation.
type fileEditsJSON struct {
	File  string       `json:"file"`
	Edits []editOpJSON `json:"edits"`
}

// multiFileFixResponseJSON mirrors the teacher's MultiFileFixResponse wire
// shape.
type multiFileFixResponseJSON struct {
	Description string          `json:"description,omitempty"`
	FileEdits   []fileEditsJSON `json:"file_edits"`
}

func fixResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Brief description of what was changed",
			},
			"modified_areas": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Short labels for the areas of the file that were touched",
			},
			"edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"old_string": map[string]any{"type": "string", "description": "Exact text to find (must match exactly once)"},
						"new_string": map[string]any{"type": "string", "description": "Replacement text"},
					},
					"required":             []string{"old_string", "new_string"},
					"additionalProperties": false,
				},
				"description": "Search/replace edit operations",
			},
		},
		"required":             []string{"modified_areas", "edits"},
		"additionalProperties": false,
	}
}

func multiFileFixResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Brief description of what was changed across files",
			},
			"file_edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"file": map[string]any{"type": "string", "description": "Path to the file being edited"},
						"edits": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"old_string": map[string]any{"type": "string"},
									"new_string": map[string]any{"type": "string"},
								},
								"required":             []string{"old_string", "new_string"},
								"additionalProperties": false,
							},
						},
					},
					"required":             []string{"file", "edits"},
					"additionalProperties": false,
				},
				"description": "Edits grouped by file",
			},
		},
		"required":             []string{"file_edits"},
		"additionalProperties": false,
	}
}

func toOps(edits []editOpJSON) []editapply.Op {
	out := make([]editapply.Op, len(edits))
	for i, e := range edits {
		out[i] = editapply.Op{OldString: e.OldString, NewString: e.NewString}
	}
	return out
}

// GenerateSingleFile runs the attempt loop for one file: up to MaxAttempts
// tries, escalating from an excerpt prompt to the full file after the first
// retryable apply failure, injecting repair guidance on every retry.
func (s *Synthesizer) GenerateSingleFile(ctx context.Context, p SingleFileParams) (*AppliedFix, error) {
	slices := AllocateAttemptTimeSlices(p.TimeoutMs, MaxAttempts)

	preferFullPrompt := false
	var lastErr error
	var lastNote string
	var accumUsage model.Usage
	var accumFailover []llmgateway.SpeedFailoverAttempt
	var schemaFallbackUsed, contextLimitRetried bool

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		system, user := buildSingleFileSystemAndUser(p, preferFullPrompt, lastNote)

		result, err := llmgateway.StructuredCall[fixResponseJSON](ctx, s.gateway, llmgateway.StructuredParams{
			System:      system,
			User:        user,
			Model:       p.Model,
			SchemaName:  "fix_response",
			Schema:      fixResponseSchema(),
			TimeoutMs:           slices[attempt-1],
			SpeedFailoverModels: p.SpeedFailoverModels,
			PromptCache:         p.PromptCache,
		})
		if err != nil {
			lastErr = err
			lastNote = err.Error()
			if isRetryableApplyOrGenerationErr(err) {
				preferFullPrompt = true
			}
			continue
		}

		accumUsage.PromptTokens += result.Usage.PromptTokens
		accumUsage.CompletionTokens += result.Usage.CompletionTokens
		accumUsage.TotalTokens += result.Usage.TotalTokens
		accumFailover = append(accumFailover, result.SpeedFailover...)
		schemaFallbackUsed = schemaFallbackUsed || result.SchemaFallbackUsed
		contextLimitRetried = contextLimitRetried || result.ContextLimitRetried

		if len(result.Value.Edits) == 0 {
			lastErr = harnesserrors.New(harnesserrors.ErrCodeGenerationFailed, "model returned no edits")
			lastNote = lastErr.Error()
			preferFullPrompt = true
			continue
		}

		if err := editapply.Validate(toOps(result.Value.Edits), p.File.Path); err != nil {
			lastErr = err
			lastNote = formatRepairGuidance(err, p.File.Path)
			preferFullPrompt = true
			continue
		}

		newContent, err := editapply.Apply(p.File.Content, toOps(result.Value.Edits), p.Suggestion.TargetLine)
		if err != nil {
			lastErr = err
			lastNote = formatRepairGuidance(err, p.File.Path)
			if isRetryableApplyErr(err) {
				preferFullPrompt = true
			}
			continue
		}

		newContent = editapply.NormalizeTrailingNewline(p.File.Content, newContent, p.File.IsNew)
		if strings.TrimSpace(newContent) == "" {
			lastErr = harnesserrors.New(harnesserrors.ErrCodeGenerationFailed, "generated content is empty")
			lastNote = lastErr.Error()
			preferFullPrompt = true
			continue
		}

		return &AppliedFix{
			Description:         result.Value.Description,
			NewContent:          newContent,
			ModifiedAreas:       result.Value.ModifiedAreas,
			Attempts:            attempt,
			PreferredFullPrompt: preferFullPrompt,
			Usage:               &accumUsage,
			SpeedFailover:       accumFailover,
			SchemaFallbackUsed:  schemaFallbackUsed,
			ContextLimitRetried: contextLimitRetried,
		}, nil
	}

	return nil, fmt.Errorf("edit generation exhausted %d attempts: %w", MaxAttempts, lastErr)
}

// GenerateMultiFile runs the same attempt loop as GenerateSingleFile, but
// the model proposes edits grouped per file; every referenced file must be
// in scope (a path the suggestion named), and each file's edits apply and
// normalize independently.
func (s *Synthesizer) GenerateMultiFile(ctx context.Context, p MultiFileParams) (*MultiFileAppliedFix, error) {
	slices := AllocateAttemptTimeSlices(p.TimeoutMs, MaxAttempts)
	byPath := make(map[string]FileInput, len(p.Files))
	for _, f := range p.Files {
		byPath[f.Path] = f
	}

	preferFullPrompt := false
	var lastErr error
	var lastNote string
	var accumUsage model.Usage
	var accumFailover []llmgateway.SpeedFailoverAttempt
	var schemaFallbackUsed, contextLimitRetried bool

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		system, user := buildMultiFileSystemAndUser(p, preferFullPrompt, lastNote)

		result, err := llmgateway.StructuredCall[multiFileFixResponseJSON](ctx, s.gateway, llmgateway.StructuredParams{
			System:      system,
			User:        user,
			Model:       p.Model,
			SchemaName:  "multi_file_fix_response",
			Schema:      multiFileFixResponseSchema(),
			TimeoutMs:           slices[attempt-1],
			SpeedFailoverModels: p.SpeedFailoverModels,
			PromptCache:         p.PromptCache,
		})
		if err != nil {
			lastErr = err
			lastNote = err.Error()
			if isRetryableApplyOrGenerationErr(err) {
				preferFullPrompt = true
			}
			continue
		}

		accumUsage.PromptTokens += result.Usage.PromptTokens
		accumUsage.CompletionTokens += result.Usage.CompletionTokens
		accumUsage.TotalTokens += result.Usage.TotalTokens
		accumFailover = append(accumFailover, result.SpeedFailover...)
		schemaFallbackUsed = schemaFallbackUsed || result.SchemaFallbackUsed
		contextLimitRetried = contextLimitRetried || result.ContextLimitRetried

		if len(result.Value.FileEdits) == 0 {
			lastErr = harnesserrors.New(harnesserrors.ErrCodeGenerationFailed, "model returned no file edits")
			lastNote = lastErr.Error()
			preferFullPrompt = true
			continue
		}

		fileEdits, applyErr := applyMultiFile(byPath, result.Value.FileEdits, p.Suggestion)
		if applyErr != nil {
			lastErr = applyErr
			lastNote = formatRepairGuidance(applyErr, "the edited files")
			if isRetryableApplyErr(applyErr) {
				preferFullPrompt = true
			}
			continue
		}

		return &MultiFileAppliedFix{
			Description:         result.Value.Description,
			FileEdits:            fileEdits,
			Attempts:            attempt,
			PreferredFullPrompt: preferFullPrompt,
			Usage:               &accumUsage,
			SpeedFailover:       accumFailover,
			SchemaFallbackUsed:  schemaFallbackUsed,
			ContextLimitRetried: contextLimitRetried,
		}, nil
	}

	return nil, fmt.Errorf("multi-file edit generation exhausted %d attempts: %w", MaxAttempts, lastErr)
}

func applyMultiFile(byPath map[string]FileInput, groups []fileEditsJSON, s suggestion.Suggestion) ([]FileEdit, error) {
	out := make([]FileEdit, 0, len(groups))
	for _, g := range groups {
		file, ok := byPath[g.File]
		if !ok {
			return nil, harnesserrors.New(harnesserrors.ErrCodeGateScopeViolation,
				fmt.Sprintf("model referenced %q, which is not one of the files in scope", g.File)).
				WithContext("file", g.File)
		}
		if err := editapply.Validate(toOps(g.Edits), g.File); err != nil {
			return nil, err
		}
		newContent, err := editapply.Apply(file.Content, toOps(g.Edits), s.TargetLine)
		if err != nil {
			return nil, err
		}
		newContent = editapply.NormalizeTrailingNewline(file.Content, newContent, file.IsNew)
		if strings.TrimSpace(newContent) == "" {
			return nil, harnesserrors.New(harnesserrors.ErrCodeGenerationFailed,
				fmt.Sprintf("generated content for %q is empty", g.File))
		}
		out = append(out, FileEdit{Path: g.File, NewContent: newContent})
	}
	return out, nil
}
