// Package storage holds the small persistence types shared by the cost
// tracker: a repo-scoped spend ledger, independent of the harness's own
// per-run report and telemetry files.
package storage

import "time"

// Session represents one harness invocation against a repo, carrying its
// running cost total so a restart doesn't forget what it has already spent.
type Session struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"projectPath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
	TotalCost   float64   `json:"totalCost"`
}

// APICall records a single priced LLM call against a session, kept so daily
// and monthly spend can be reconstructed without a running total drifting.
type APICall struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"sessionId"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	Cost             float64   `json:"cost"`
	Timestamp        time.Time `json:"timestamp"`
}
