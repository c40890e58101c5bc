// Package models defines the shared domain types exchanged between the
// broker, state store, memory subsystem, and agent loop.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the intent of a queue message.
type NotificationType string

// Notification type constants.
const (
	NotificationUserMessage       NotificationType = "user_message"
	NotificationAgentMessage      NotificationType = "agent_message"
	NotificationToolResult        NotificationType = "tool_result"
	NotificationIncomingCall      NotificationType = "incoming_call"
	NotificationCallAnswered      NotificationType = "call_answered"
	NotificationCallTransferred   NotificationType = "call_transferred"
	NotificationAlarmTriggered    NotificationType = "alarm_triggered"
	NotificationTimerExpired      NotificationType = "timer_expired"
	NotificationSleepTimerExpired NotificationType = "sleep_timer_expired"
	NotificationErrorMessage      NotificationType = "error_message"
	NotificationSystemAlert       NotificationType = "system_alert"
)

// Notification is a single durable message on an agent's queue.
//
// DeliveryTag and RetryCount are transport-internal: DeliveryTag is set on
// receive (never serialized), RetryCount rides inside the body so it survives
// a republish.
type Notification struct {
	NotificationID   string           `json:"notification_id"`
	Timestamp        time.Time        `json:"timestamp"`
	RecipientAgentID string           `json:"recipient_agent_id"`
	Source           string           `json:"source"`
	NotificationType NotificationType `json:"notification_type"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
	RetryCount       int              `json:"_retry_count,omitempty"`

	DeliveryTag uint64 `json:"-"`
}

// NewNotification builds a notification addressed to recipient with a fresh
// id and UTC timestamp. The payload must be JSON-marshalable.
func NewNotification(recipient, source string, nt NotificationType, payload any) (Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		NotificationID:   uuid.New().String(),
		Timestamp:        time.Now().UTC(),
		RecipientAgentID: recipient,
		Source:           source,
		NotificationType: nt,
		Payload:          raw,
	}, nil
}

// PayloadMap decodes the payload into a generic map. Returns an empty map
// when the payload is absent or not an object.
func (n Notification) PayloadMap() map[string]any {
	m := map[string]any{}
	if len(n.Payload) == 0 {
		return m
	}
	_ = json.Unmarshal(n.Payload, &m)
	return m
}

// QueueName derives the inbound queue name for an agent.
func QueueName(agentName string) string {
	return agentName + "_queue"
}

// ToolResultStatus values carried in tool_result payloads.
const (
	ToolResultSuccess = "SUCCESS"
	ToolResultFailure = "FAILURE"
)

// ToolResultPayload is the payload shape of a tool_result notification.
type ToolResultPayload struct {
	ToolName  string         `json:"tool_name"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
}
