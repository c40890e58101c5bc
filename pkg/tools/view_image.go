package tools

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/kindred-labs/kindred/pkg/models"
)

// AttachmentFetcher resolves an attachment id to its bytes. The gateway's
// attachment storage backs the production implementation.
type AttachmentFetcher func(ctx context.Context, attachmentID string) (data []byte, contentType string, err error)

// ViewImageTool fetches an image attachment and publishes it as a
// tool_result flagged _view_image, which the next cycle's context builder
// re-attaches as a binary part for the model.
type ViewImageTool struct {
	agentName string
	publisher Publisher
	fetch     AttachmentFetcher
}

// NewViewImageTool wires the image viewer for one agent.
func NewViewImageTool(agentName string, publisher Publisher, fetch AttachmentFetcher) *ViewImageTool {
	return &ViewImageTool{agentName: agentName, publisher: publisher, fetch: fetch}
}

func (t *ViewImageTool) Name() string { return "view_image" }

func (t *ViewImageTool) Info() string {
	return "view_image: Load an image attachment so you can see it on your next turn.\n" +
		`Arguments: {"attachment_id": "<string>"}`
}

func (t *ViewImageTool) Validate(args map[string]any) error {
	_, err := requireString(args, "attachment_id")
	return err
}

func (t *ViewImageTool) IsAvailable(AvailabilityContext) bool { return true }

func (t *ViewImageTool) Execute(ctx context.Context, args map[string]any) error {
	attachmentID := args["attachment_id"].(string)
	data, contentType, err := t.fetch(ctx, attachmentID)
	if err != nil {
		return fmt.Errorf("fetching attachment %s: %w", attachmentID, err)
	}

	result := map[string]any{
		"_view_image":   true,
		"attachment_id": attachmentID,
		"content_type":  contentType,
		"base64_data":   base64.StdEncoding.EncodeToString(data),
	}
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		result, "", args)
}
