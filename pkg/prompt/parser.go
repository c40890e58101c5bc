package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kindred-labs/kindred/pkg/models"
)

// rawTruncateLen bounds the raw response carried in parse errors.
const rawTruncateLen = 2000

// ParseError describes an unusable LLM response. It is permanent: the cycle
// acks its notifications and records the failure instead of retrying.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing llm response: %s (raw: %s)", e.Reason, e.Raw)
}

func newParseError(reason, raw string) *ParseError {
	if len(raw) > rawTruncateLen {
		raw = raw[:rawTruncateLen]
	}
	return &ParseError{Reason: reason, Raw: raw}
}

// rawResponse is the expected LLM output object. "reasoning" is a legacy
// alias for "thought".
type rawResponse struct {
	Thought      string            `json:"thought"`
	Reasoning    string            `json:"reasoning"`
	ActionStatus string            `json:"action_status"`
	ToolCalls    []json.RawMessage `json:"tool_calls"`
}

type rawToolCall struct {
	ToolName     string          `json:"tool_name"`
	Arguments    json.RawMessage `json:"arguments"`
	ActionStatus string          `json:"action_status"`
}

// ParseResponse validates an LLM response into the assistant-turn shape.
// Every assistant turn must emit at least one tool call; an empty tool_calls
// array is a validation error.
func ParseResponse(raw string) (*models.AssistantContent, error) {
	text := strings.TrimSpace(raw)
	text = stripCodeFence(text)

	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, newParseError(fmt.Sprintf("invalid JSON: %v", err), raw)
	}

	// Unwrap a single-element array wrapper.
	if arr, ok := probe.([]any); ok {
		if len(arr) != 1 {
			return nil, newParseError(fmt.Sprintf("expected object, got array of %d", len(arr)), raw)
		}
		inner, err := json.Marshal(arr[0])
		if err != nil {
			return nil, newParseError("unwrapping array wrapper", raw)
		}
		text = string(inner)
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, newParseError(fmt.Sprintf("wrong shape: %v", err), raw)
	}

	thought := resp.Thought
	if thought == "" {
		thought = resp.Reasoning
	}
	if thought == "" {
		return nil, newParseError("missing thought", raw)
	}
	if len(resp.ToolCalls) == 0 {
		return nil, newParseError("empty tool_calls", raw)
	}

	out := &models.AssistantContent{
		Thought:      thought,
		ActionStatus: resp.ActionStatus,
	}
	for i, rawCall := range resp.ToolCalls {
		var call rawToolCall
		if err := json.Unmarshal(rawCall, &call); err != nil {
			return nil, newParseError(fmt.Sprintf("tool call %d: wrong shape: %v", i, err), raw)
		}
		if call.ToolName == "" {
			return nil, newParseError(fmt.Sprintf("tool call %d: missing tool_name", i), raw)
		}
		args := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return nil, newParseError(fmt.Sprintf("tool call %d: arguments must be an object", i), raw)
			}
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ToolName:     call.ToolName,
			Arguments:    args,
			ActionStatus: call.ActionStatus,
		})
	}

	// Tool-call-level action_status wins when the top level is silent.
	if out.ActionStatus == "" {
		for _, call := range out.ToolCalls {
			if call.ActionStatus != "" {
				out.ActionStatus = call.ActionStatus
				break
			}
		}
	}
	return out, nil
}

// stripCodeFence removes one surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	trimmed := text
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		return text
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
