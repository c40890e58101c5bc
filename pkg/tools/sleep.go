package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-labs/kindred/pkg/models"
)

// StatusSetter writes the agent's lifecycle status. Satisfied by the state
// store client.
type StatusSetter interface {
	SetAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error
}

// SleepTool suspends the agent for a bounded duration. It is the one tool
// that publishes no result notification: a tool_result on the agent's own
// queue would immediately wake it again.
type SleepTool struct {
	agentName string
	registry  *SleepRegistry
	publisher Publisher
	status    StatusSetter
	log       *slog.Logger
}

// NewSleepTool wires the sleep tool for one agent.
func NewSleepTool(agentName string, registry *SleepRegistry, publisher Publisher, status StatusSetter) *SleepTool {
	return &SleepTool{
		agentName: agentName,
		registry:  registry,
		publisher: publisher,
		status:    status,
		log:       slog.With("agent", agentName, "tool", "sleep"),
	}
}

func (t *SleepTool) Name() string { return "sleep" }

func (t *SleepTool) Info() string {
	return "sleep: Suspend yourself for a number of seconds. Any incoming notification wakes you early.\n" +
		`Arguments: {"duration_seconds": <number>, "reason": "<optional>"}`
}

func (t *SleepTool) Validate(args map[string]any) error {
	secs, ok := args["duration_seconds"].(float64)
	if !ok {
		return fmt.Errorf("duration_seconds must be a number")
	}
	if secs <= 0 {
		return fmt.Errorf("duration_seconds must be positive")
	}
	return nil
}

func (t *SleepTool) IsAvailable(tctx AvailabilityContext) bool {
	// Sleeping mid-call would strand the caller.
	return !tctx.IsOnCall()
}

func (t *SleepTool) Execute(ctx context.Context, args map[string]any) error {
	secs := args["duration_seconds"].(float64)
	duration := time.Duration(secs * float64(time.Second))

	if err := t.status.SetAgentStatus(ctx, t.agentName, models.StatusSleeping); err != nil {
		return fmt.Errorf("entering sleep: %w", err)
	}

	sleepID := t.registry.Start(t.agentName, duration, func(sleepID string) {
		n, err := models.NewNotification(t.agentName, "sleep_timer", models.NotificationSystemAlert,
			map[string]any{"alert_type": "WAKE", "sleep_id": sleepID})
		if err != nil {
			t.log.Error("Building wake notification failed", "error", err)
			return
		}
		if err := t.publisher.Publish(context.Background(), models.QueueName(t.agentName), n); err != nil {
			t.log.Error("Publishing wake notification failed", "error", err)
		}
	})

	t.log.Info("Sleep armed", "sleep_id", sleepID, "duration", duration)
	return nil
}
