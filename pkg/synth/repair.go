package synth

import (
	"strings"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
)

// isRetryableApplyErr reports whether err is an edit-apply failure worth
// escalating to the full, unexcerpted file on the next attempt: the anchor
// wasn't found or was ambiguous, which an excerpt's missing surrounding
// context could plausibly explain.
func isRetryableApplyErr(err error) bool {
	switch harnesserrors.GetCode(err) {
	case harnesserrors.ErrCodeEditNotFound, harnesserrors.ErrCodeEditAmbiguous:
		return true
	}
	return false
}

// isRetryableApplyOrGenerationErr additionally covers a model call that
// failed outright (bad JSON, model-side error) or returned no edits at all:
// these aren't excerpt-shape failures, but giving the next attempt the full
// file anyway costs nothing and occasionally recovers a model that
// hallucinated an anchor because the excerpt cut off mid-function.
func isRetryableApplyOrGenerationErr(err error) bool {
	if isRetryableApplyErr(err) {
		return true
	}
	switch harnesserrors.GetCode(err) {
	case harnesserrors.ErrCodeGenerationFailed, harnesserrors.ErrCodeModelSchemaInvalid:
		return true
	}
	return false
}

// formatRepairGuidance turns a failed attempt's error into the guidance
// block shown on the next attempt: a short classification-specific nudge
// plus the truncated error text, so the model sees exactly what it got
// wrong instead of retrying blind.
func formatRepairGuidance(err error, contextLabel string) string {
	var b strings.Builder
	b.WriteString("The previous attempt failed to apply. ")

	switch classifyApplyFailure(err) {
	case placeholderAnchor:
		b.WriteString("Your old_string contained a placeholder ellipsis (`...` or `…`). " +
			"Copy the exact text from " + contextLabel + " instead of summarizing it.\n")
	case delimiterOnlyAnchor:
		b.WriteString("Your old_string was too generic (just delimiters like `}` or `;`). " +
			"Include enough surrounding code that the anchor is unique.\n")
	case ambiguousAnchor:
		b.WriteString("Your old_string matched more than once in " + contextLabel + ". " +
			"Extend it with unique surrounding lines so it matches exactly one location.\n")
	case notFoundAnchor:
		b.WriteString("Your old_string was not found verbatim in " + contextLabel + ". " +
			"Copy the exact text shown, including whitespace, rather than paraphrasing.\n")
	case emptyForNonEmpty:
		b.WriteString("An empty old_string is only valid when creating a new, currently-empty file. " +
			contextLabel + " is not empty; anchor the edit on real content.\n")
	default:
		b.WriteString("Review the error below and try again with an exact, unique anchor.\n")
	}

	b.WriteString("\nPrevious error:\n")
	b.WriteString(truncateForPrompt(err.Error(), 600))
	return b.String()
}

type applyFailureClass int

const (
	otherFailure applyFailureClass = iota
	placeholderAnchor
	delimiterOnlyAnchor
	ambiguousAnchor
	notFoundAnchor
	emptyForNonEmpty
)

func classifyApplyFailure(err error) applyFailureClass {
	msg := err.Error()
	switch harnesserrors.GetCode(err) {
	case harnesserrors.ErrCodeEditInvalid:
		switch {
		case strings.Contains(msg, "placeholder ellipsis"):
			return placeholderAnchor
		case strings.Contains(msg, "delimiter-only"):
			return delimiterOnlyAnchor
		case strings.Contains(msg, "empty for non-empty"):
			return emptyForNonEmpty
		}
	case harnesserrors.ErrCodeEditAmbiguous:
		return ambiguousAnchor
	case harnesserrors.ErrCodeEditNotFound:
		return notFoundAnchor
	}
	return otherFailure
}

func truncateForPrompt(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + " [truncated]"
}

// GenerationEscalationReason classifies a generation attempt's terminal
// error into one of the anchor-class reasons worth escalating a single
// retry to the Smart-tier model for, mirroring the teacher's
// generation_escalation_reason: an excerpt-shape failure (missing,
// ambiguous, placeholder, or delimiter-only anchor) is the kind of mistake a
// stronger model is likely to avoid, unlike a transient network error or an
// empty response. It only classifies; the pkg/harness orchestrator does not
// call it and decides escalation with its own anchor-class check, the config
// limit and the budget guard.
func GenerationEscalationReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	switch classifyApplyFailure(err) {
	case notFoundAnchor:
		return "apply_anchor_not_found", true
	case ambiguousAnchor:
		return "apply_anchor_ambiguous", true
	case delimiterOnlyAnchor:
		return "delimiter_only_anchor", true
	case placeholderAnchor:
		return "placeholder_ellipsis_anchor", true
	}
	return "", false
}
