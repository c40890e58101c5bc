package agent

import (
	"context"

	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/tools"
)

// dispatch runs the assistant's tool calls in order. Per-tool failures become
// synthesized failure tool-results; they never abort the cycle. In fast mode
// anything outside speak/hang_up is skipped without a result, since a failure
// notification would immediately re-trigger a cycle.
func (l *Loop) dispatch(ctx context.Context, calls []models.ToolCall, tctx tools.AvailabilityContext) {
	for _, call := range calls {
		tool, ok := l.registry.Get(call.ToolName)
		if !ok {
			l.log.Warn("Unknown tool requested", "tool", call.ToolName)
			l.publishFailure(ctx, call.ToolName, "unknown tool", call.Arguments)
			continue
		}
		if tctx.FastMode && !tools.FastModeAllowed(call.ToolName) {
			l.log.Debug("Skipping tool in fast mode", "tool", call.ToolName)
			continue
		}
		if !tool.IsAvailable(tctx) {
			l.publishFailure(ctx, call.ToolName, "tool not available in current context", call.Arguments)
			continue
		}

		args := make(map[string]any, len(call.Arguments)+3)
		for k, v := range call.Arguments {
			args[k] = v
		}
		if err := tool.Validate(args); err != nil {
			l.publishFailure(ctx, call.ToolName, err.Error(), args)
			continue
		}
		if tctx.SessionID != "" {
			args["session_id"] = tctx.SessionID
		}
		if tctx.CallID != "" {
			args["call_id"] = tctx.CallID
		}
		if tctx.FastMode {
			args["fast_mode"] = true
		}

		if err := tool.Execute(ctx, args); err != nil {
			l.log.Warn("Tool execution failed", "tool", call.ToolName, "error", err)
			l.publishFailure(ctx, call.ToolName, err.Error(), args)
		}
	}
}

func (l *Loop) publishFailure(ctx context.Context, toolName, reason string, args map[string]any) {
	if err := tools.PublishFailure(ctx, l.broker, l.agentName, toolName, reason, args); err != nil {
		l.log.Warn("Publishing failure result failed", "tool", toolName, "error", err)
	}
}
