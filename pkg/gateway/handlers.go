package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kindred-labs/kindred/pkg/models"
)

// GetAgentState returns the full state snapshot for an agent.
func (s *Server) GetAgentState(c *gin.Context) {
	state, err := s.store.AgentState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, state)
}

// GetProcessingState returns the processing state with its timestamp.
func (s *Server) GetProcessingState(c *gin.Context) {
	state, updated, err := s.store.ProcessingState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"processing_state": state, "last_updated": updated})
}

// SetProcessingState writes the processing state.
func (s *Server) SetProcessingState(c *gin.Context) {
	var req struct {
		ProcessingState models.ProcessingState `json:"processing_state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.ProcessingState.Valid() {
		fail(c, http.StatusBadRequest, "unknown processing state "+string(req.ProcessingState))
		return
	}
	if err := s.store.SetProcessingState(c.Request.Context(), c.Param("id"), req.ProcessingState); err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"processing_state": req.ProcessingState})
}

// GetStatus returns the lifecycle status.
func (s *Server) GetStatus(c *gin.Context) {
	status, err := s.store.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"status": status})
}

// SetStatus writes the lifecycle status.
func (s *Server) SetStatus(c *gin.Context) {
	var req struct {
		Status models.AgentStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		fail(c, http.StatusBadRequest, "unknown status "+string(req.Status))
		return
	}
	if err := s.store.SetStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"status": req.Status})
}

// UpdateMetadata merge-patches the metadata document; null values clear keys.
func (s *Server) UpdateMetadata(c *gin.Context) {
	var req struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Metadata) == 0 {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.MergeMetadata(c.Request.Context(), c.Param("id"), req.Metadata); err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"updated": true})
}

// GetTranscript returns one ascending transcript page.
func (s *Server) GetTranscript(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, total, err := s.store.Messages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.storeError(c, err)
		return
	}
	if messages == nil {
		messages = []models.TranscriptMessage{}
	}
	ok(c, gin.H{"messages": messages, "total": total})
}

// AppendMessage appends one transcript row.
func (s *Server) AppendMessage(c *gin.Context) {
	var req struct {
		AgentID   string             `json:"agent_id"`
		Role      models.MessageRole `json:"role"`
		Content   json.RawMessage    `json:"content"`
		Documents []models.Document  `json:"documents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || len(req.Content) == 0 {
		fail(c, http.StatusBadRequest, "agent_id and content are required")
		return
	}
	switch req.Role {
	case models.RoleSystem, models.RoleUser, models.RoleAssistant:
	default:
		fail(c, http.StatusBadRequest, "unknown role "+string(req.Role))
		return
	}
	if err := s.store.AppendMessage(c.Request.Context(), req.AgentID, req.Role, req.Content, req.Documents); err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"appended": true})
}

// ReplaceSystemPrompt replaces the transcript's first system row.
func (s *Server) ReplaceSystemPrompt(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		fail(c, http.StatusBadRequest, "content is required")
		return
	}
	if err := s.store.ReplaceSystemMessage(c.Request.Context(), c.Param("id"), req.Content); err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, gin.H{"updated": true})
}

// GetActivePrompt returns the agent's active system prompt record.
func (s *Server) GetActivePrompt(c *gin.Context) {
	rec, err := s.store.ActivePrompt(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	ok(c, rec)
}

// GetPromptSections returns prompt sections by comma-separated ids.
func (s *Server) GetPromptSections(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	sections, err := s.store.PromptSections(c.Request.Context(), ids)
	if err != nil {
		s.storeError(c, err)
		return
	}
	if sections == nil {
		sections = []PromptSection{}
	}
	ok(c, gin.H{"sections": sections})
}

// ActionStatus accepts a user-facing status line. Frontend delivery happens
// elsewhere; the gateway acknowledges and logs.
func (s *Server) ActionStatus(c *gin.Context) {
	var req struct {
		AgentID   string `json:"agent_id"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" || req.Status == "" {
		fail(c, http.StatusBadRequest, "agent_id and status are required")
		return
	}
	s.log.Info("Action status", "agent", req.AgentID, "session", req.SessionID, "status", req.Status)
	ok(c, gin.H{"accepted": true})
}

// BrowserScreenshot accepts a captured screenshot.
func (s *Server) BrowserScreenshot(c *gin.Context) {
	var req struct {
		AgentID    string `json:"agent_id"`
		SessionID  string `json:"session_id"`
		Screenshot string `json:"screenshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" || req.Screenshot == "" {
		fail(c, http.StatusBadRequest, "agent_id and screenshot are required")
		return
	}
	s.log.Info("Browser screenshot received", "agent", req.AgentID,
		"session", req.SessionID, "bytes", len(req.Screenshot))
	ok(c, gin.H{"accepted": true})
}

// storeError maps store failures onto the envelope.
func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		fail(c, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("Store operation failed", "error", err)
	fail(c, http.StatusInternalServerError, err.Error())
}
