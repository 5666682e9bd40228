package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/cosmoslabs/applyharness/pkg/llmgateway"
)

const reviewSystemPrompt = "You are a skeptical senior engineer performing an adversarial code review of a " +
	"proposed change. Look for correctness bugs, security issues, broken invariants, and anything the change " +
	"description doesn't actually accomplish. Do not nitpick style. Respond only with the requested structured JSON."

type findingJSON struct {
	File        string `json:"file"`
	Line        int    `json:"line,omitempty"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Recommended string `json:"recommended,omitempty"`
}

type reviewResponseJSON struct {
	Summary  string        `json:"summary"`
	Findings []findingJSON `json:"findings"`
}

func reviewResponseSchema() map[string]any {
	findingSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file":        map[string]any{"type": "string"},
			"line":        map[string]any{"type": "integer"},
			"severity":    map[string]any{"type": "string"},
			"category":    map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"recommended": map[string]any{"type": "string"},
		},
		"required": []string{"file", "severity", "category", "title", "description"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"findings": map[string]any{
				"type":  "array",
				"items": findingSchema,
			},
		},
		"required": []string{"summary", "findings"},
	}
}

// callReview builds and sends one review call: iteration is this round's
// number (0 for the first pass), fixedTitles names findings addressed by a
// prior repair round so the reviewer knows not to re-flag them if still
// imperfect but improved.
func callReview(ctx context.Context, p Params, iteration int, fixedTitles []string) (*Result, error) {
	system, user := buildReviewPrompt(p, iteration, fixedTitles)

	resp, err := llmgateway.StructuredCall[reviewResponseJSON](ctx, p.Gateway, llmgateway.StructuredParams{
		System:     system,
		User:       user,
		Model:      p.ReviewModel,
		SchemaName: "review_response",
		Schema:     reviewResponseSchema(),
		TimeoutMs:  p.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}

	findings := make([]Finding, len(resp.Value.Findings))
	for i, f := range resp.Value.Findings {
		findings[i] = Finding(f)
	}
	return &Result{Summary: resp.Value.Summary, Findings: findings, Usage: resp.Usage}, nil
}

func buildReviewPrompt(p Params, iteration int, fixedTitles []string) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Change description: %s\n", p.Description)
	fmt.Fprintf(&b, "Intended outcome: %s\n", p.Preview.Outcome)
	if iteration > 0 {
		fmt.Fprintf(&b, "\nThis is review iteration %d. ", iteration)
		if len(fixedTitles) > 0 {
			fmt.Fprintf(&b, "The following previously-raised issues should have been addressed: %s\n",
				strings.Join(fixedTitles, "; "))
		}
	}

	b.WriteString("\nFiles in this change:\n")
	for _, f := range p.Files {
		fmt.Fprintf(&b, "\n--- %s (original) ---\n%s\n--- %s (current) ---\n%s\n", f.Path, f.Original, f.Path, f.Current)
	}

	b.WriteString("\nReview the current version of each file against the change description. " +
		"Report every correctness, security, or broken-invariant issue as a finding with a severity " +
		"(critical/warning/info), a category, and a concrete recommendation.\n")
	return reviewSystemPrompt, b.String()
}
