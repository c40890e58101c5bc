package tools

import (
	"context"

	"github.com/kindred-labs/kindred/pkg/models"
)

// SpeakTool voices a response on an active call. It is one of the two tools
// allowed in fast mode.
type SpeakTool struct {
	agentName string
	publisher Publisher
}

// NewSpeakTool wires the speak tool for one agent.
func NewSpeakTool(agentName string, publisher Publisher) *SpeakTool {
	return &SpeakTool{agentName: agentName, publisher: publisher}
}

func (t *SpeakTool) Name() string { return "speak" }

func (t *SpeakTool) Info() string {
	return "speak: Say something to the caller on the active call.\n" +
		`Arguments: {"text": "<string>"}`
}

func (t *SpeakTool) Validate(args map[string]any) error {
	_, err := requireString(args, "text")
	return err
}

func (t *SpeakTool) IsAvailable(tctx AvailabilityContext) bool { return tctx.IsOnCall() }

func (t *SpeakTool) Execute(ctx context.Context, args map[string]any) error {
	text := args["text"].(string)
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		map[string]any{"spoken": text}, "", args)
}

// HangUpTool ends the active call.
type HangUpTool struct {
	agentName string
	publisher Publisher
}

// NewHangUpTool wires the hang_up tool for one agent.
func NewHangUpTool(agentName string, publisher Publisher) *HangUpTool {
	return &HangUpTool{agentName: agentName, publisher: publisher}
}

func (t *HangUpTool) Name() string { return "hang_up" }

func (t *HangUpTool) Info() string {
	return "hang_up: End the active call.\n" +
		`Arguments: {}`
}

func (t *HangUpTool) Validate(map[string]any) error { return nil }

func (t *HangUpTool) IsAvailable(tctx AvailabilityContext) bool { return tctx.IsOnCall() }

func (t *HangUpTool) Execute(ctx context.Context, args map[string]any) error {
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		map[string]any{"ended": true}, "", args)
}
