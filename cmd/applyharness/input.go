package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cosmoslabs/applyharness/pkg/suggestion"
)

// runInput is the on-disk shape the harness reads to start a run: the
// validated suggestion and the fix preview generated for it upstream.
// Both types are already JSON-tagged for exactly this purpose.
type runInput struct {
	Suggestion suggestion.Suggestion `json:"suggestion"`
	FixPreview suggestion.FixPreview `json:"fix_preview"`
}

func loadRunInput(path string) (runInput, error) {
	var in runInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("read suggestion input %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse suggestion input %s: %w", path, err)
	}
	if in.Suggestion.ValidationState != suggestion.ValidationValidated {
		return in, fmt.Errorf("suggestion %s has validation_state %q, want %q",
			in.Suggestion.ID, in.Suggestion.ValidationState, suggestion.ValidationValidated)
	}
	return in, nil
}
