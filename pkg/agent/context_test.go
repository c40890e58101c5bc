package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/tools"
)

func notif(t *testing.T, nt models.NotificationType, payload any) models.Notification {
	t.Helper()
	n, err := models.NewNotification("primary_agent", "test", nt, payload)
	require.NoError(t, err)
	return n
}

func TestIncomingCallSetsBothIDs(t *testing.T) {
	var tctx tools.AvailabilityContext
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationIncomingCall, map[string]any{"call_id": "c1", "session_id": "s1"}),
	})
	assert.Equal(t, "c1", tctx.CallID)
	assert.Equal(t, "s1", tctx.SessionID)
	assert.True(t, tctx.IsOnCall())
}

func TestAnswerCallResultSetsCallID(t *testing.T) {
	var tctx tools.AvailabilityContext
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationToolResult, models.ToolResultPayload{
			ToolName: "answer_call",
			Status:   models.ToolResultSuccess,
			Result:   map[string]any{"call_id": "c2"},
		}),
	})
	assert.Equal(t, "c2", tctx.CallID)
}

func TestFailedAnswerCallIgnored(t *testing.T) {
	var tctx tools.AvailabilityContext
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationToolResult, models.ToolResultPayload{
			ToolName: "answer_call",
			Status:   models.ToolResultFailure,
			Result:   map[string]any{"call_id": "c2"},
		}),
	})
	assert.Empty(t, tctx.CallID)
}

func TestUserMessageWithVoiceMetadata(t *testing.T) {
	var tctx tools.AvailabilityContext
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationUserMessage, map[string]any{
			"session_id": "s3",
			"voice_metadata": map[string]any{
				"is_call_mode": true, "call_id": "c3", "fast_mode": true,
			},
		}),
	})
	assert.Equal(t, "s3", tctx.SessionID)
	assert.Equal(t, "c3", tctx.CallID)
	assert.True(t, tctx.FastMode)
}

func TestPlainUserMessageEndsCallMode(t *testing.T) {
	tctx := tools.AvailabilityContext{SessionID: "s1", CallID: "c1", FastMode: true}
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationUserMessage, map[string]any{"content": "text me instead", "session_id": "s2"}),
	})
	assert.Equal(t, "s2", tctx.SessionID)
	assert.Empty(t, tctx.CallID)
	assert.False(t, tctx.FastMode)
}

func TestBatchProcessedInOrder(t *testing.T) {
	var tctx tools.AvailabilityContext
	updateAvailability(&tctx, []models.Notification{
		notif(t, models.NotificationIncomingCall, map[string]any{"call_id": "c1", "session_id": "s1"}),
		notif(t, models.NotificationUserMessage, map[string]any{"content": "hang on", "session_id": "s1"}),
	})
	// The later plain user message wins: call mode is over.
	assert.Empty(t, tctx.CallID)
}
