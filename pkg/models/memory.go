package models

import "time"

// MemoryType classifies what kind of knowledge a memory record holds.
type MemoryType string

// The eight memory kinds.
const (
	MemoryUserPreference      MemoryType = "user_preference"
	MemoryUserFact            MemoryType = "user_fact"
	MemoryConversationContext MemoryType = "conversation_context"
	MemoryAgentProcedure      MemoryType = "agent_procedure"
	MemoryKnowledge           MemoryType = "knowledge"
	MemoryEventPattern        MemoryType = "event_pattern"
	MemoryErrorHandling       MemoryType = "error_handling"
	MemoryProactiveAction     MemoryType = "proactive_action"
)

// MemoryTypes lists all valid memory kinds, for prompt rendering and
// validation.
var MemoryTypes = []MemoryType{
	MemoryUserPreference,
	MemoryUserFact,
	MemoryConversationContext,
	MemoryAgentProcedure,
	MemoryKnowledge,
	MemoryEventPattern,
	MemoryErrorHandling,
	MemoryProactiveAction,
}

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	for _, k := range MemoryTypes {
		if t == k {
			return true
		}
	}
	return false
}

// MemoryScope controls memory visibility across agents.
type MemoryScope string

// Memory scopes.
const (
	ScopeIndividual MemoryScope = "individual"
	ScopeShared     MemoryScope = "shared"
)

// MemorySource records how a memory came to exist.
type MemorySource string

// Memory sources.
const (
	SourceUserExplicit   MemorySource = "user_explicit"
	SourceInferred       MemorySource = "inferred"
	SourceProactiveAgent MemorySource = "proactive_agent"
	SourceAgentLearning  MemorySource = "agent_learning"
)

// EmbeddingDim is the required dimensionality of every memory vector.
const EmbeddingDim = 768

// Memory is a semantic record with lifecycle counters. The embedding vector
// is attached outside the property set (supplied alongside on create/update).
type Memory struct {
	ID               string       `json:"id"`
	Content          string       `json:"content"`
	MemoryType       MemoryType   `json:"memory_type"`
	Scope            MemoryScope  `json:"scope"`
	AgentID          string       `json:"agent_id"`
	SessionID        string       `json:"session_id,omitempty"`
	Tags             []string     `json:"tags,omitempty"`
	Importance       float64      `json:"importance"`
	Confidence       float64      `json:"confidence"`
	Source           MemorySource `json:"source"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	LastAccessedAt   time.Time    `json:"last_accessed_at"`
	AccessCount      int          `json:"access_count"`
	SuccessCount     int          `json:"success_count"`
	FailureCount     int          `json:"failure_count"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	RelatedMemoryIDs []string     `json:"related_memory_ids,omitempty"`
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
