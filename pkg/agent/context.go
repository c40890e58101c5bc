package agent

import (
	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/tools"
)

// updateAvailability folds a drained notification batch into the loop's
// sticky session/call context, in delivery order.
//
// Call-establishing notifications set both ids. A successful answer_call
// result carries the call id in its result. A user_message refreshes the
// session and either carries call-mode metadata (top-level or nested under
// voice_metadata) or, when it is a plain text message, ends call mode.
func updateAvailability(tctx *tools.AvailabilityContext, notifications []models.Notification) {
	for _, n := range notifications {
		payload := n.PayloadMap()
		switch n.NotificationType {
		case models.NotificationIncomingCall, models.NotificationCallTransferred, models.NotificationCallAnswered:
			if v, ok := payload["call_id"].(string); ok && v != "" {
				tctx.CallID = v
			}
			if v, ok := payload["session_id"].(string); ok && v != "" {
				tctx.SessionID = v
			}

		case models.NotificationToolResult:
			name, _ := payload["tool_name"].(string)
			status, _ := payload["status"].(string)
			if name != "answer_call" || status != models.ToolResultSuccess {
				continue
			}
			if result, ok := payload["result"].(map[string]any); ok {
				if v, ok := result["call_id"].(string); ok && v != "" {
					tctx.CallID = v
				}
			}

		case models.NotificationUserMessage:
			if v, ok := payload["session_id"].(string); ok && v != "" {
				tctx.SessionID = v
			}
			meta := payload
			if vm, ok := payload["voice_metadata"].(map[string]any); ok {
				meta = vm
			}
			callMode, _ := meta["is_call_mode"].(bool)
			if !callMode {
				tctx.CallID = ""
				tctx.FastMode = false
				continue
			}
			if v, ok := meta["call_id"].(string); ok && v != "" {
				tctx.CallID = v
			}
			if v, ok := meta["fast_mode"].(bool); ok {
				tctx.FastMode = v
			}
		}
	}
}
