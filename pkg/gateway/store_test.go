package gateway_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/gateway"
	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/test/util"
)

func newTestStore(t *testing.T) *gateway.Store {
	db := util.SetupTestDatabase(t)
	store, err := gateway.NewStoreFromDB(db)
	require.NoError(t, err)
	return store
}

func TestAgentAutoRegistration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// First read of an unknown agent creates it with defaults.
	state, err := store.AgentState(ctx, "fresh_agent")
	require.NoError(t, err)
	assert.Equal(t, "fresh_agent", state.AgentID)
	assert.Equal(t, models.StatusActive, state.Status)
	assert.Equal(t, models.ProcessingIdle, state.ProcessingState)
	assert.Equal(t, 0, state.TotalMessages)
	assert.False(t, state.LastUpdated.IsZero())
}

func TestProcessingStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetProcessingState(ctx, "agent_a", models.ProcessingThinking))

	state, updated, err := store.ProcessingState(ctx, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingThinking, state)
	assert.False(t, updated.IsZero())

	// Writes refresh the timestamp.
	require.NoError(t, store.SetProcessingState(ctx, "agent_a", models.ProcessingIdle))
	state2, updated2, err := store.ProcessingState(ctx, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingIdle, state2)
	assert.False(t, updated2.Before(updated))
}

func TestStatusRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "agent_a", models.StatusSleeping))
	status, err := store.Status(ctx, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSleeping, status)
}

func TestMergeMetadataStripsNulls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MergeMetadata(ctx, "agent_a",
		json.RawMessage(`{"wait_topic": "user's move plans", "mood": "curious"}`)))
	require.NoError(t, store.MergeMetadata(ctx, "agent_a",
		json.RawMessage(`{"wait_topic": null}`)))

	state, err := store.AgentState(ctx, "agent_a")
	require.NoError(t, err)
	assert.NotContains(t, state.Metadata, "wait_topic")
	assert.Equal(t, "curious", state.Metadata["mood"])
}

func TestAppendPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendMessage(ctx, "agent_a", models.RoleUser,
		models.TextContent("first"), nil))
	require.NoError(t, store.AppendMessage(ctx, "agent_a", models.RoleAssistant,
		models.TextContent("second"), nil))
	require.NoError(t, store.AppendMessage(ctx, "agent_a", models.RoleUser,
		models.TextContent("third"),
		[]models.Document{{AttachmentID: "att-1", ContentType: "image/png"}}))

	messages, total, err := store.Messages(ctx, "agent_a", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, messages, 3)

	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.JSONEq(t, `{"text": "first"}`, string(messages[0].Content))
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	require.Len(t, messages[2].Documents, 1)
	assert.Equal(t, "att-1", messages[2].Documents[0].AttachmentID)
}

func TestMessagesPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.AppendMessage(ctx, "agent_a", models.RoleUser,
			models.TextContent(text), nil))
	}

	page, total, err := store.Messages(ctx, "agent_a", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.JSONEq(t, `{"text": "b"}`, string(page[0].Content))
	assert.JSONEq(t, `{"text": "c"}`, string(page[1].Content))
}

func TestReplaceSystemMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendMessage(ctx, "agent_a", models.RoleUser,
		models.TextContent("hello"), nil))

	// No system row yet: one is inserted ahead of the existing messages.
	require.NoError(t, store.ReplaceSystemMessage(ctx, "agent_a", "prompt v1"))

	messages, total, err := store.Messages(ctx, "agent_a", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.JSONEq(t, `{"text": "prompt v1"}`, string(messages[0].Content))
	assert.Equal(t, models.RoleUser, messages[1].Role)

	// A second replace updates in place without growing the transcript.
	require.NoError(t, store.ReplaceSystemMessage(ctx, "agent_a", "prompt v2"))
	messages, total, err = store.Messages(ctx, "agent_a", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.JSONEq(t, `{"text": "prompt v2"}`, string(messages[0].Content))
}

func TestActivePromptNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ActivePrompt(context.Background(), "nobody")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}
