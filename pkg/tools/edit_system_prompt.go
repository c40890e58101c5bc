package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kindred-labs/kindred/pkg/models"
)

// ToolsPlaceholder is the literal token the system prompt must contain
// exactly once; the context builder renders the available tools into it.
const ToolsPlaceholder = "{tools}"

// EditSystemPromptTool lets the agent rewrite its own system prompt file.
// Edits that lose the {tools} placeholder are rejected and leave the file
// untouched.
type EditSystemPromptTool struct {
	agentName  string
	promptPath string
	publisher  Publisher
}

// NewEditSystemPromptTool wires the prompt editor for one agent.
func NewEditSystemPromptTool(agentName, promptPath string, publisher Publisher) *EditSystemPromptTool {
	return &EditSystemPromptTool{agentName: agentName, promptPath: promptPath, publisher: publisher}
}

func (t *EditSystemPromptTool) Name() string { return "edit_system_prompt" }

func (t *EditSystemPromptTool) Info() string {
	return "edit_system_prompt: Replace your system prompt. The new content must keep the literal {tools} token exactly once.\n" +
		`Arguments: {"content": "<string>"}`
}

func (t *EditSystemPromptTool) Validate(args map[string]any) error {
	content, err := requireString(args, "content")
	if err != nil {
		return err
	}
	return ValidatePromptContent(content)
}

// ValidatePromptContent enforces the {tools} invariant. Other {...}
// sequences are the prompt author's business and pass through verbatim.
func ValidatePromptContent(content string) error {
	switch n := strings.Count(content, ToolsPlaceholder); n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("prompt must contain the literal %s token", ToolsPlaceholder)
	default:
		return fmt.Errorf("prompt must contain %s exactly once, found %d", ToolsPlaceholder, n)
	}
}

func (t *EditSystemPromptTool) IsAvailable(tctx AvailabilityContext) bool { return !tctx.IsOnCall() }

func (t *EditSystemPromptTool) Execute(ctx context.Context, args map[string]any) error {
	content := args["content"].(string)
	if err := ValidatePromptContent(content); err != nil {
		return err
	}
	if err := os.WriteFile(t.promptPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing system prompt: %w", err)
	}
	return PublishResult(ctx, t.publisher, t.agentName, t.Name(), models.ToolResultSuccess,
		map[string]any{"message": "system prompt updated"}, "", args)
}
