// Package statestore is the HTTP client for the API gateway's agent-state
// surface: status, processing state, transcript, system prompts, metadata.
package statestore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/kindred-labs/kindred/pkg/models"
)

// Sentinel errors for state store operations.
var (
	// ErrUnauthorized indicates the internal key was rejected even after a
	// reload-and-retry.
	ErrUnauthorized = errors.New("state store: unauthorized")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("state store: not found")
)

// envelope is the wire shape every gateway response uses.
type envelope struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Envelope status values.
const (
	statusSuccess = "SUCCESS"
	statusFailure = "FAILURE"
)

// ProcessingStateRecord is the processing-state read result.
type ProcessingStateRecord struct {
	ProcessingState models.ProcessingState `json:"processing_state"`
	LastUpdated     time.Time              `json:"last_updated"`
}

// TranscriptPage is one page of ordered transcript messages.
type TranscriptPage struct {
	Messages []models.TranscriptMessage `json:"messages"`
	Total    int                        `json:"total"`
}

// PromptRecord is the active system prompt row for an agent.
type PromptRecord struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	Content       string    `json:"content"`
	SectionIDs    []string  `json:"section_ids,omitempty"`
	ToolsPosition string    `json:"tools_position"` // start, end, none
	UpdatedAt     time.Time `json:"updated_at"`
}

// PromptSection is a reusable prompt fragment referenced by PromptRecord.
type PromptSection struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	DisplayOrder int    `json:"display_order"`
}

// appendMessageRequest is the transcript-append request body.
type appendMessageRequest struct {
	AgentID   string            `json:"agent_id"`
	Role      models.MessageRole `json:"role"`
	Content   json.RawMessage    `json:"content"`
	Documents []models.Document  `json:"documents,omitempty"`
}
