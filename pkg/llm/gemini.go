package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// callDeadline bounds every model call. A hard timeout fails the cycle with
// a transient classification.
const callDeadline = 90 * time.Second

// Gemini is the production Client backed by the Google Gen AI SDK.
type Gemini struct {
	client *genai.Client
	log    *slog.Logger
}

// NewGemini creates a Gemini client against the public Gemini API.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{client: client, log: slog.With("component", "llm")}, nil
}

// Generate implements Client. The response is requested as JSON.
func (g *Gemini) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	contents := toContents(messages)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, callDeadline)
		}
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	g.log.Debug("LLM call completed", "model", model, "duration", time.Since(start))

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// toContents converts neutral messages to the SDK's content shape.
func toContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, p := range m.Parts {
			if len(p.Data) > 0 {
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data},
				})
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
		}
		contents = append(contents, content)
	}
	return contents
}
