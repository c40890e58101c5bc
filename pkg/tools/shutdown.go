package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kindred-labs/kindred/pkg/models"
)

// ShutdownTool turns the agent off. "off" is terminal until externally
// revived; the loop observes it and exits.
type ShutdownTool struct {
	agentName string
	publisher Publisher
	status    StatusSetter
}

// NewShutdownTool wires the shutdown tool for one agent.
func NewShutdownTool(agentName string, publisher Publisher, status StatusSetter) *ShutdownTool {
	return &ShutdownTool{agentName: agentName, publisher: publisher, status: status}
}

func (t *ShutdownTool) Name() string { return "shutdown" }

func (t *ShutdownTool) Info() string {
	return "shutdown: Turn yourself off permanently. Only do this when explicitly instructed.\n" +
		`Arguments: {"reason": "<string>"}`
}

func (t *ShutdownTool) Validate(args map[string]any) error {
	if _, err := requireString(args, "reason"); err != nil {
		return err
	}
	return nil
}

func (t *ShutdownTool) IsAvailable(tctx AvailabilityContext) bool { return !tctx.IsOnCall() }

func (t *ShutdownTool) Execute(ctx context.Context, args map[string]any) error {
	reason, _ := args["reason"].(string)
	slog.Info("Agent shutting down", "agent", t.agentName, "reason", reason)

	if err := t.status.SetAgentStatus(ctx, t.agentName, models.StatusOff); err != nil {
		return fmt.Errorf("setting status off: %w", err)
	}
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		map[string]any{"message": "shutting down"}, "", args)
}
