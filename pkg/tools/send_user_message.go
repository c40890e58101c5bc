package tools

import (
	"context"

	"github.com/kindred-labs/kindred/pkg/models"
)

// SendUserMessageTool delivers a text response to the user outside of calls.
// During a call the speak tool is the user-facing channel instead.
type SendUserMessageTool struct {
	agentName string
	publisher Publisher
}

// NewSendUserMessageTool wires the messaging tool for one agent.
func NewSendUserMessageTool(agentName string, publisher Publisher) *SendUserMessageTool {
	return &SendUserMessageTool{agentName: agentName, publisher: publisher}
}

func (t *SendUserMessageTool) Name() string { return "send_user_message" }

func (t *SendUserMessageTool) Info() string {
	return "send_user_message: Send a text message to the user.\n" +
		`Arguments: {"message": "<string>"}`
}

func (t *SendUserMessageTool) Validate(args map[string]any) error {
	_, err := requireString(args, "message")
	return err
}

func (t *SendUserMessageTool) IsAvailable(tctx AvailabilityContext) bool {
	return !tctx.IsOnCall()
}

func (t *SendUserMessageTool) Execute(ctx context.Context, args map[string]any) error {
	message := args["message"].(string)
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		map[string]any{"message": message}, "", args)
}
