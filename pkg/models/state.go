package models

import "time"

// ProcessingState is the intra-cycle sub-state of an agent.
type ProcessingState string

// Processing state constants. Transitions are linear within a cycle:
// idle → thinking → executing_tools → idle.
const (
	ProcessingIdle           ProcessingState = "idle"
	ProcessingThinking       ProcessingState = "thinking"
	ProcessingExecutingTools ProcessingState = "executing_tools"
)

// Valid reports whether s is a known processing state.
func (s ProcessingState) Valid() bool {
	switch s {
	case ProcessingIdle, ProcessingThinking, ProcessingExecutingTools:
		return true
	}
	return false
}

// AgentStatus is the lifecycle state of an agent, orthogonal to
// ProcessingState.
type AgentStatus string

// Agent status constants. "off" is terminal until externally revived.
const (
	StatusActive   AgentStatus = "active"
	StatusSleeping AgentStatus = "sleeping"
	StatusOff      AgentStatus = "off"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSleeping, StatusOff:
		return true
	}
	return false
}

// StaleProcessingAge is how old a non-idle processing state may be before
// the loop force-resets it to idle.
const StaleProcessingAge = 300 * time.Second

// AgentState is the full per-agent state snapshot returned by the gateway.
type AgentState struct {
	AgentID         string          `json:"agent_id"`
	Status          AgentStatus     `json:"status"`
	ProcessingState ProcessingState `json:"processing_state"`
	LastUpdated     time.Time       `json:"last_updated"`
	TotalMessages   int             `json:"total_messages"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}
