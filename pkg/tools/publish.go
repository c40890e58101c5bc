package tools

import (
	"context"
	"fmt"

	"github.com/kindred-labs/kindred/pkg/models"
)

// PublishResult publishes a tool_result notification onto the agent's own
// queue. Every tool except sleep publishes exactly one result per execution.
func PublishResult(ctx context.Context, p Publisher, agentName, toolName, status string, result map[string]any, execErr string, args map[string]any) error {
	payload := models.ToolResultPayload{
		ToolName: toolName,
		Status:   status,
		Result:   result,
		Error:    execErr,
	}
	if s, ok := args["session_id"].(string); ok {
		payload.SessionID = s
	}
	if c, ok := args["call_id"].(string); ok {
		payload.CallID = c
	}

	n, err := models.NewNotification(agentName, toolName, models.NotificationToolResult, payload)
	if err != nil {
		return fmt.Errorf("building tool result: %w", err)
	}
	return p.Publish(ctx, models.QueueName(agentName), n)
}

// PublishFailure is the failure-shaped convenience used both by tools and by
// the dispatcher when it synthesizes results for unknown or rejected tools.
func PublishFailure(ctx context.Context, p Publisher, agentName, toolName, reason string, args map[string]any) error {
	return PublishResult(ctx, p, agentName, toolName, models.ToolResultFailure, nil, reason, args)
}
