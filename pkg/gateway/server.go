package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kindred-labs/kindred/pkg/version"
)

// envelope is the wire shape of every response.
type envelope struct {
	Status       string `json:"status"`
	Result       any    `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const (
	statusSuccess = "SUCCESS"
	statusFailure = "FAILURE"
)

// Server serves the agent-state HTTP surface.
type Server struct {
	store       *Store
	internalKey string
	log         *slog.Logger
}

// NewServer wires a server around the store; internalKey authenticates every
// /api route.
func NewServer(store *Store, internalKey string) *Server {
	return &Server{
		store:       store,
		internalKey: internalKey,
		log:         slog.With("component", "gateway"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.Health)

	api := r.Group("/api/v1", s.requireInternalKey)
	{
		api.GET("/agents/:id/state", s.GetAgentState)
		api.GET("/agents/:id/processing-state", s.GetProcessingState)
		api.PUT("/agents/:id/processing-state", s.SetProcessingState)
		api.GET("/agents/:id/status", s.GetStatus)
		api.PUT("/agents/:id/status", s.SetStatus)
		api.PUT("/agents/:id/metadata", s.UpdateMetadata)

		api.GET("/transcript/:id", s.GetTranscript)
		api.POST("/transcript/append", s.AppendMessage)
		api.PUT("/transcript/:id/system-prompt", s.ReplaceSystemPrompt)

		api.GET("/system-prompts/agents/:id/active", s.GetActivePrompt)
		api.GET("/system-prompts/sections", s.GetPromptSections)

		api.POST("/notifications/action-status", s.ActionStatus)
		api.POST("/notifications/browser-screenshot", s.BrowserScreenshot)
	}
	return r
}

// requireInternalKey rejects requests whose X-Internal-Key header does not
// match the shared secret.
func (s *Server) requireInternalKey(c *gin.Context) {
	key := c.GetHeader("X-Internal-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.internalKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
			Status:       statusFailure,
			ErrorMessage: "invalid internal key",
		})
		return
	}
	c.Next()
}

// Health reports store connectivity.
func (s *Server) Health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

// ── response helpers ─────────────────────────────────────────────────────────

func ok(c *gin.Context, result any) {
	c.JSON(http.StatusOK, envelope{Status: statusSuccess, Result: result})
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, envelope{Status: statusFailure, ErrorMessage: msg})
}
