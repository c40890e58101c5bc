package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kindred-labs/kindred/pkg/internalkey"
	"github.com/kindred-labs/kindred/pkg/models"
)

const requestTimeout = 10 * time.Second

// Client talks to the API gateway. All requests carry the X-Internal-Key
// header; a 401 triggers one transparent key reload and retry.
type Client struct {
	baseURL string
	http    *http.Client
	keys    *internalkey.Source
	log     *slog.Logger
}

// NewClient creates a state store client rooted at baseURL.
func NewClient(baseURL string, keys *internalkey.Source) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		keys:    keys,
		log:     slog.With("component", "statestore"),
	}
}

// ────────────────────────────────────────────────────────────
// Agent state
// ────────────────────────────────────────────────────────────

// GetAgentState returns the full state snapshot for an agent.
func (c *Client) GetAgentState(ctx context.Context, agentID string) (*models.AgentState, error) {
	var state models.AgentState
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetProcessingState reads the agent's processing state and its timestamp.
func (c *Client) GetProcessingState(ctx context.Context, agentID string) (*ProcessingStateRecord, error) {
	var rec ProcessingStateRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/processing-state", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetProcessingState writes the agent's processing state.
func (c *Client) SetProcessingState(ctx context.Context, agentID string, state models.ProcessingState) error {
	body := map[string]any{"processing_state": state}
	return c.do(ctx, http.MethodPut, "/api/v1/agents/"+agentID+"/processing-state", body, nil)
}

// GetAgentStatus reads the agent's lifecycle status.
func (c *Client) GetAgentStatus(ctx context.Context, agentID string) (models.AgentStatus, error) {
	var out struct {
		Status models.AgentStatus `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/status", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// SetAgentStatus writes the agent's lifecycle status.
func (c *Client) SetAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	body := map[string]any{"status": status}
	return c.do(ctx, http.MethodPut, "/api/v1/agents/"+agentID+"/status", body, nil)
}

// UpdateAgentMetadata merge-patches the agent's metadata document.
func (c *Client) UpdateAgentMetadata(ctx context.Context, agentID string, patch map[string]any) error {
	body := map[string]any{"metadata": patch}
	return c.do(ctx, http.MethodPut, "/api/v1/agents/"+agentID+"/metadata", body, nil)
}

// ────────────────────────────────────────────────────────────
// Transcript
// ────────────────────────────────────────────────────────────

// GetMessageHistory returns a transcript page ordered ascending by insertion.
func (c *Client) GetMessageHistory(ctx context.Context, agentID string, limit, offset int) (*TranscriptPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var page TranscriptPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/transcript/"+agentID+"?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AppendMessage atomically appends a message and bumps total_messages.
func (c *Client) AppendMessage(ctx context.Context, agentID string, role models.MessageRole, content json.RawMessage, documents []models.Document) error {
	body := appendMessageRequest{
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		Documents: documents,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/transcript/append", body, nil)
}

// UpdateSystemPrompt replaces the transcript's first system message only.
// Idempotent for identical content.
func (c *Client) UpdateSystemPrompt(ctx context.Context, agentID, content string) error {
	body := map[string]any{"content": content}
	return c.do(ctx, http.MethodPut, "/api/v1/transcript/"+agentID+"/system-prompt", body, nil)
}

// ────────────────────────────────────────────────────────────
// System prompts
// ────────────────────────────────────────────────────────────

// GetActivePrompt returns the agent's active system prompt record, or
// ErrNotFound when none is configured.
func (c *Client) GetActivePrompt(ctx context.Context, agentID string) (*PromptRecord, error) {
	var rec PromptRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/system-prompts/agents/"+agentID+"/active", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetPromptSections fetches prompt sections by id.
func (c *Client) GetPromptSections(ctx context.Context, ids []string) ([]PromptSection, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	var out struct {
		Sections []PromptSection `json:"sections"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/system-prompts/sections?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Sections, nil
}

// GetFullPromptContent expands the active prompt: sections in display_order
// are appended after the main body, and the {tools} placeholder is placed
// according to tools_position (start, end, or none).
func (c *Client) GetFullPromptContent(ctx context.Context, agentID string) (string, error) {
	rec, err := c.GetActivePrompt(ctx, agentID)
	if err != nil {
		return "", err
	}

	parts := []string{rec.Content}
	if len(rec.SectionIDs) > 0 {
		sections, err := c.GetPromptSections(ctx, rec.SectionIDs)
		if err != nil {
			return "", err
		}
		sort.SliceStable(sections, func(i, j int) bool {
			return sections[i].DisplayOrder < sections[j].DisplayOrder
		})
		for _, s := range sections {
			parts = append(parts, s.Content)
		}
	}
	full := strings.Join(parts, "\n\n")

	switch rec.ToolsPosition {
	case "start":
		full = "{tools}\n\n" + full
	case "end":
		full = full + "\n\n{tools}"
	}
	return full, nil
}

// ────────────────────────────────────────────────────────────
// Frontend notification pushes (best-effort callers)
// ────────────────────────────────────────────────────────────

// PushActionStatus forwards a user-facing one-line status string.
func (c *Client) PushActionStatus(ctx context.Context, agentID, sessionID, status string) error {
	body := map[string]any{"agent_id": agentID, "session_id": sessionID, "status": status}
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/action-status", body, nil)
}

// PushBrowserScreenshot forwards a captured browser screenshot.
func (c *Client) PushBrowserScreenshot(ctx context.Context, agentID, sessionID, screenshot string) error {
	body := map[string]any{"agent_id": agentID, "session_id": sessionID, "screenshot": screenshot}
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/browser-screenshot", body, nil)
}

// ────────────────────────────────────────────────────────────
// Transport
// ────────────────────────────────────────────────────────────

// do issues one request, retrying exactly once after reloading the internal
// key if the gateway answers 401.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	resp, status, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.log.Warn("Internal key rejected, reloading and retrying once")
		if _, err := c.keys.Reload(); err != nil {
			return fmt.Errorf("%w: key reload failed: %v", ErrUnauthorized, err)
		}
		resp, status, err = c.roundTrip(ctx, method, path, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status >= 300 {
		if resp.ErrorMessage != "" {
			return fmt.Errorf("state store: %s (HTTP %d)", resp.ErrorMessage, status)
		}
		return fmt.Errorf("state store: HTTP %d on %s %s", status, method, path)
	}
	if resp.Status == statusFailure {
		return fmt.Errorf("state store: %s", resp.ErrorMessage)
	}
	if result != nil {
		if len(resp.Result) == 0 {
			return fmt.Errorf("state store: empty result on %s %s", method, path)
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("state store: decoding result: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (envelope, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return envelope{}, 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	key, err := c.keys.Key()
	if err != nil {
		return envelope{}, 0, fmt.Errorf("loading internal key: %w", err)
	}
	req.Header.Set("X-Internal-Key", key)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("state store request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var env envelope
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return envelope{}, httpResp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if len(raw) > 0 {
		// Non-envelope bodies (proxies, error pages) are tolerated; the
		// status code drives the outcome in that case.
		_ = json.Unmarshal(raw, &env)
	}
	return env, httpResp.StatusCode, nil
}
