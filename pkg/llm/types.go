// Package llm wraps the Gemini API behind small interfaces the rest of the
// runtime (and its tests) depend on: a JSON-mode chat client and a 768-dim
// embedding service.
package llm

import (
	"context"
	"errors"
)

// Message roles on the wire. A "system" role never reaches this layer; the
// context builder converts it to the first user message prefixed "System: ".
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one piece of a message: text or inline binary data.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// Message is a provider-neutral LLM input message.
type Message struct {
	Role  string
	Parts []Part
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Client produces a JSON response for an ordered message list.
type Client interface {
	// Generate calls the model and returns the raw response text. The model
	// is instructed to answer in JSON; parsing is the caller's concern.
	Generate(ctx context.Context, model string, messages []Message) (string, error)
}

// Embedder produces 768-dim vectors for memory contents and queries.
type Embedder interface {
	EmbedMemory(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Sentinel errors.
var (
	// ErrTimeout indicates the per-call deadline elapsed. Treated as
	// transient by the cycle's retry policy.
	ErrTimeout = errors.New("llm call timed out")

	// ErrEmptyResponse indicates the model returned no usable candidates.
	ErrEmptyResponse = errors.New("llm returned empty response")
)
