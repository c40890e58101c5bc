package models

import (
	"encoding/json"
	"time"
)

// MessageRole is the author role of a transcript message.
type MessageRole string

// Transcript roles. The first transcript row, when present, is always system.
const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// TranscriptMessage is one row of an agent's ordered conversation history.
// Content is always a JSON object (never raw text) so it can carry structured
// sub-types: text, notifications, proactive_memories, tool_calls.
type TranscriptMessage struct {
	Role      MessageRole     `json:"role"`
	Content   json.RawMessage `json:"content"`
	Documents []Document      `json:"documents,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Document is an attachment reference carried alongside a transcript message.
type Document struct {
	AttachmentID string `json:"attachment_id"`
	ContentType  string `json:"content_type"`
	Filename     string `json:"filename,omitempty"`
}

// TextContent wraps plain text in the canonical content-object shape.
func TextContent(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"text": text})
	return raw
}

// AssistantContent is the persisted shape of an assistant turn.
type AssistantContent struct {
	Thought      string     `json:"thought"`
	ToolCalls    []ToolCall `json:"tool_calls"`
	ActionStatus string     `json:"action_status,omitempty"`
	Error        string     `json:"error,omitempty"`
	RawResponse  string     `json:"raw_response,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ToolName     string         `json:"tool_name"`
	Arguments    map[string]any `json:"arguments"`
	ActionStatus string         `json:"action_status,omitempty"`
}

// ProactiveMemoriesContent is the content object of the memory-injection
// user message appended when the retriever surfaces memories.
type ProactiveMemoriesContent struct {
	Type     string           `json:"type"` // always "proactive_memories"
	Memories []ProvidedMemory `json:"memories"`
}

// ProvidedMemory is the slimmed view of a memory handed to the agent.
type ProvidedMemory struct {
	Content    string  `json:"content"`
	Datetime   string  `json:"datetime"`
	Importance float64 `json:"importance"`
}
