package statestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/internalkey"
	"github.com/kindred-labs/kindred/pkg/models"
)

func keySource(t *testing.T, key string) (*internalkey.Source, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "internal_key")
	require.NoError(t, os.WriteFile(path, []byte(key+"\n"), 0o600))
	return internalkey.NewSource(path), path
}

func ok(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "SUCCESS",
		"result": json.RawMessage(raw),
	})
}

func TestGetProcessingState(t *testing.T) {
	keys, _ := keySource(t, "secret")
	now := time.Now().UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Internal-Key"))
		assert.Equal(t, "/api/v1/agents/weather_agent/processing-state", r.URL.Path)
		ok(w, ProcessingStateRecord{ProcessingState: models.ProcessingThinking, LastUpdated: now})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	rec, err := c.GetProcessingState(context.Background(), "weather_agent")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingThinking, rec.ProcessingState)
	assert.Equal(t, now, rec.LastUpdated.UTC())
}

func TestUnauthorizedReloadsKeyOnce(t *testing.T) {
	keys, path := keySource(t, "stale")

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("X-Internal-Key") != "rotated" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ok(w, map[string]any{"status": "active"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)

	// Prime the stale cache, then rotate on disk before the call.
	_, err := keys.Key()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("rotated\n"), 0o600))

	status, err := c.GetAgentStatus(context.Background(), "weather_agent")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, status)
	assert.Equal(t, 2, calls, "exactly one retry after reload")
}

func TestUnauthorizedTwiceFails(t *testing.T) {
	keys, _ := keySource(t, "never-right")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	_, err := c.GetAgentStatus(context.Background(), "weather_agent")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAppendMessageBody(t *testing.T) {
	keys, _ := keySource(t, "secret")

	var got appendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transcript/append", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ok(w, map[string]any{"appended": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	err := c.AppendMessage(context.Background(), "weather_agent", models.RoleUser,
		models.TextContent("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "weather_agent", got.AgentID)
	assert.Equal(t, models.RoleUser, got.Role)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Content))
}

func TestFailureEnvelope(t *testing.T) {
	keys, _ := keySource(t, "secret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "FAILURE",
			"error_message": "agent row missing",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	_, err := c.GetAgentState(context.Background(), "weather_agent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent row missing")
}

func TestNotFound(t *testing.T) {
	keys, _ := keySource(t, "secret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	_, err := c.GetActivePrompt(context.Background(), "weather_agent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFullPromptContent(t *testing.T) {
	keys, _ := keySource(t, "secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/system-prompts/agents/weather_agent/active":
			ok(w, PromptRecord{
				ID:            "p1",
				AgentID:       "weather_agent",
				Content:       "You are the weather agent.",
				SectionIDs:    []string{"s2", "s1"},
				ToolsPosition: "end",
			})
		case "/api/v1/system-prompts/sections":
			assert.Equal(t, "s2,s1", r.URL.Query().Get("ids"))
			ok(w, map[string]any{"sections": []PromptSection{
				{ID: "s2", Content: "Second section.", DisplayOrder: 2},
				{ID: "s1", Content: "First section.", DisplayOrder: 1},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, keys)
	full, err := c.GetFullPromptContent(context.Background(), "weather_agent")
	require.NoError(t, err)
	assert.Equal(t,
		"You are the weather agent.\n\nFirst section.\n\nSecond section.\n\n{tools}",
		full)
}
