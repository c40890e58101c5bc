package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/tools"
)

func call(name string, args map[string]any) models.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return models.ToolCall{ToolName: name, Arguments: args}
}

func failurePayloads(t *testing.T, b *fakeBroker) []models.ToolResultPayload {
	t.Helper()
	var out []models.ToolResultPayload
	for _, n := range b.published {
		require.Equal(t, models.NotificationToolResult, n.NotificationType)
		var p models.ToolResultPayload
		require.NoError(t, json.Unmarshal(n.Payload, &p))
		out = append(out, p)
	}
	return out
}

func TestDispatchUnknownToolSynthesizesFailure(t *testing.T) {
	h := newHarness(t, "weather_agent")
	h.loop.dispatch(context.Background(), []models.ToolCall{call("no_such_tool", nil)}, tools.AvailabilityContext{})

	payloads := failurePayloads(t, h.broker)
	require.Len(t, payloads, 1)
	assert.Equal(t, models.ToolResultFailure, payloads[0].Status)
	assert.Equal(t, "no_such_tool", payloads[0].ToolName)
	assert.Contains(t, payloads[0].Error, "unknown tool")
}

func TestDispatchFastModeSkipsSilently(t *testing.T) {
	h := newHarness(t, "weather_agent")
	tctx := tools.AvailabilityContext{CallID: "c1", FastMode: true}
	h.loop.dispatch(context.Background(), []models.ToolCall{call("noop", nil)}, tctx)

	assert.Empty(t, h.tool.executed, "non-call tool does not run in fast mode")
	assert.Empty(t, h.broker.published, "and no failure result is synthesized")
}

func TestDispatchUnavailableToolRejected(t *testing.T) {
	h := newHarness(t, "weather_agent")
	h.tool.unavailable = true
	h.loop.dispatch(context.Background(), []models.ToolCall{call("noop", nil)}, tools.AvailabilityContext{})

	assert.Empty(t, h.tool.executed)
	payloads := failurePayloads(t, h.broker)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0].Error, "not available")
}

func TestDispatchValidationFailure(t *testing.T) {
	h := newHarness(t, "weather_agent")
	h.tool.validateErr = errors.New("missing required argument \"city\"")
	h.loop.dispatch(context.Background(), []models.ToolCall{call("noop", nil)}, tools.AvailabilityContext{})

	assert.Empty(t, h.tool.executed)
	payloads := failurePayloads(t, h.broker)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0].Error, "city")
}

func TestDispatchExecutionErrorDoesNotAbort(t *testing.T) {
	h := newHarness(t, "weather_agent")
	second := &recordTool{name: "second"}
	h.loop.registry.Register(second)
	h.tool.execErr = errors.New("backend down")

	h.loop.dispatch(context.Background(), []models.ToolCall{
		call("noop", nil),
		call("second", nil),
	}, tools.AvailabilityContext{})

	require.Len(t, h.tool.executed, 1)
	require.Len(t, second.executed, 1, "later calls still run")
	payloads := failurePayloads(t, h.broker)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0].Error, "backend down")
}

func TestDispatchInjectsContextArgs(t *testing.T) {
	h := newHarness(t, "weather_agent")
	tctx := tools.AvailabilityContext{SessionID: "s1", CallID: "c1", FastMode: false}
	h.loop.dispatch(context.Background(), []models.ToolCall{call("noop", map[string]any{"x": 1})}, tctx)

	require.Len(t, h.tool.executed, 1)
	args := h.tool.executed[0]
	assert.Equal(t, "s1", args["session_id"])
	assert.Equal(t, "c1", args["call_id"])
	_, hasFast := args["fast_mode"]
	assert.False(t, hasFast)
}
