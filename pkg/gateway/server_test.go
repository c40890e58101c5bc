package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/gateway"
)

const testInternalKey = "test-internal-key"

func newTestServer(t *testing.T) *httptest.Server {
	store := newTestStore(t)
	srv := httptest.NewServer(gateway.NewServer(store, testInternalKey).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Internal-Key", testInternalKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestRequiresInternalKey(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/agents/a/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "FAILURE", decoded["status"])
	assert.Equal(t, "invalid internal key", decoded["error_message"])
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessingStateOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodPut, "/api/v1/agents/a/processing-state",
		`{"processing_state": "thinking"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", body["status"])

	code, body = doRequest(t, srv, http.MethodGet, "/api/v1/agents/a/processing-state", "")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	assert.Equal(t, "thinking", result["processing_state"])
	assert.NotEmpty(t, result["last_updated"])
}

func TestInvalidProcessingStateRejected(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodPut, "/api/v1/agents/a/processing-state",
		`{"processing_state": "pondering"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "FAILURE", body["status"])
	assert.Contains(t, body["error_message"], "pondering")
}

func TestTranscriptAppendAndFetch(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodPost, "/api/v1/transcript/append",
		`{"agent_id": "a", "role": "user", "content": {"text": "hi"}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", body["status"])

	code, body = doRequest(t, srv, http.MethodGet, "/api/v1/transcript/a", "")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(1), result["total"])
	messages := result["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodPost, "/api/v1/transcript/append",
		`{"agent_id": "a", "role": "narrator", "content": {"text": "hi"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "FAILURE", body["status"])
}

func TestMetadataNullClearsKey(t *testing.T) {
	srv := newTestServer(t)

	code, _ := doRequest(t, srv, http.MethodPut, "/api/v1/agents/a/metadata",
		`{"metadata": {"wait_topic": "trip"}}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = doRequest(t, srv, http.MethodPut, "/api/v1/agents/a/metadata",
		`{"metadata": {"wait_topic": null}}`)
	require.Equal(t, http.StatusOK, code)

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/agents/a/state", "")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	meta, _ := result["metadata"].(map[string]any)
	assert.NotContains(t, meta, "wait_topic")
}

func TestActivePromptMissingIs404(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/system-prompts/agents/a/active", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "FAILURE", body["status"])
}

func TestPromptSectionsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/system-prompts/sections?ids=", "")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	sections := result["sections"].([]any)
	assert.Empty(t, sections)
}

func TestActionStatusAccepted(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, srv, http.MethodPost, "/api/v1/notifications/action-status",
		`{"agent_id": "a", "session_id": "s1", "status": "Searching the web"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", body["status"])

	code, _ = doRequest(t, srv, http.MethodPost, "/api/v1/notifications/action-status",
		`{"agent_id": "a"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
