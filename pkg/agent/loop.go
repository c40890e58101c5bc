// Package agent runs the perceive-think-act cycle: drain the queue, build
// the conversation, call the model, dispatch tool calls, settle the
// notifications, and keep the agent's state machine honest while doing so.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kindred-labs/kindred/pkg/broker"
	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/prompt"
	"github.com/kindred-labs/kindred/pkg/statestore"
	"github.com/kindred-labs/kindred/pkg/tools"
)

// PrimaryAgentName is the agent whose action_status lines are forwarded to
// the user-facing frontend.
const PrimaryAgentName = "primary_agent"

// Broker is the notification fabric surface the loop depends on.
type Broker interface {
	tools.Publisher
	QueueName() string
	Drain() ([]models.Notification, error)
	Ack(tag uint64) error
	Requeue(ctx context.Context, n models.Notification) error
	EmitError(ctx context.Context, source string, detail map[string]any) error
}

// StateStore is the gateway-client surface the loop depends on.
type StateStore interface {
	GetAgentState(ctx context.Context, agentID string) (*models.AgentState, error)
	GetProcessingState(ctx context.Context, agentID string) (*statestore.ProcessingStateRecord, error)
	SetProcessingState(ctx context.Context, agentID string, state models.ProcessingState) error
	GetAgentStatus(ctx context.Context, agentID string) (models.AgentStatus, error)
	SetAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error
	GetMessageHistory(ctx context.Context, agentID string, limit, offset int) (*statestore.TranscriptPage, error)
	AppendMessage(ctx context.Context, agentID string, role models.MessageRole, content json.RawMessage, documents []models.Document) error
	PushActionStatus(ctx context.Context, agentID, sessionID, status string) error
	PushBrowserScreenshot(ctx context.Context, agentID, sessionID, screenshot string) error
}

// Retriever is the optional memory-read module.
type Retriever interface {
	ShouldRun(turn int) bool
	Retrieve(ctx context.Context, recent []models.TranscriptMessage) []models.ProvidedMemory
}

// Creator is the optional memory-write module.
type Creator interface {
	ShouldRun(turn int) bool
	Run(ctx context.Context, recent []models.TranscriptMessage)
}

// Config tunes a loop.
type Config struct {
	AgentName     string
	CheckInterval time.Duration
	HistoryLimit  int
	Model         string
	FastModel     string
}

// Loop is the per-agent processing loop. One cycle runs at a time, enforced
// by a non-blocking mutex on top of the broker's prefetch of 1.
type Loop struct {
	cfg      Config
	broker   Broker
	store    StateStore
	llm      llm.Client
	builder  *prompt.Builder
	registry *tools.Registry
	sleeps   *tools.SleepRegistry

	retriever Retriever
	creator   Creator

	agentName string
	log       *slog.Logger

	mu            sync.Mutex
	tctx          tools.AvailabilityContext
	pendingImages []prompt.Image
}

// New wires a loop. retriever and creator may be nil when memory is disabled
// for the agent.
func New(cfg Config, b Broker, store StateStore, client llm.Client, builder *prompt.Builder,
	registry *tools.Registry, sleeps *tools.SleepRegistry, retriever Retriever, creator Creator) *Loop {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 250 * time.Millisecond
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	return &Loop{
		cfg:       cfg,
		broker:    b,
		store:     store,
		llm:       client,
		builder:   builder,
		registry:  registry,
		sleeps:    sleeps,
		retriever: retriever,
		creator:   creator,
		agentName: cfg.AgentName,
		log:       slog.With("agent", cfg.AgentName),
	}
}

// Run ticks until the context is cancelled or the agent is shut off. On
// cancellation the agent status is set to off before returning.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.CheckInterval)
	defer ticker.Stop()

	l.log.Info("Agent loop started", "interval", l.cfg.CheckInterval)
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
			stop, err := l.Tick(ctx)
			if err != nil {
				l.log.Error("Cycle failed", "error", err)
			}
			if stop {
				l.log.Info("Agent is off, loop exiting")
				return nil
			}
		}
	}
}

// shutdown flips the agent off with a fresh context; the loop context is
// already cancelled when this runs.
func (l *Loop) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.SetAgentStatus(ctx, l.agentName, models.StatusOff); err != nil {
		l.log.Warn("Setting status off on shutdown failed", "error", err)
	}
}

// Tick attempts one cycle. It returns stop=true when the agent status is off.
func (l *Loop) Tick(ctx context.Context) (stop bool, err error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	defer l.mu.Unlock()

	status, err := l.store.GetAgentStatus(ctx, l.agentName)
	if err != nil {
		return false, err
	}

	var notifications []models.Notification
	switch status {
	case models.StatusOff:
		return true, nil

	case models.StatusSleeping:
		notifications, err = l.broker.Drain()
		if err != nil {
			return false, err
		}
		if len(notifications) == 0 {
			return false, nil
		}
		// Any arriving notification wakes the agent; the pending timer must
		// not fire a second wake.
		l.sleeps.Cancel(l.agentName)
		if err := l.store.SetAgentStatus(ctx, l.agentName, models.StatusActive); err != nil {
			return false, err
		}
		l.log.Info("Woken by notification", "count", len(notifications))
	}

	ready, err := l.ensureIdle(ctx)
	if err != nil || !ready {
		return false, err
	}

	if notifications == nil {
		notifications, err = l.broker.Drain()
		if err != nil {
			return false, err
		}
		if len(notifications) == 0 {
			return false, nil
		}
	}

	return false, l.runCycle(ctx, notifications)
}

// ensureIdle checks the processing state, force-resetting it when it has been
// stuck non-idle longer than the stale threshold.
func (l *Loop) ensureIdle(ctx context.Context) (bool, error) {
	rec, err := l.store.GetProcessingState(ctx, l.agentName)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if rec.ProcessingState == models.ProcessingIdle {
		return true, nil
	}
	if time.Since(rec.LastUpdated) > models.StaleProcessingAge {
		l.log.Warn("Recovering stale processing state", "state", rec.ProcessingState,
			"age", time.Since(rec.LastUpdated))
		return true, l.store.SetProcessingState(ctx, l.agentName, models.ProcessingIdle)
	}
	return false, nil
}

// runCycle executes one perceive-think-act pass over a drained batch.
func (l *Loop) runCycle(ctx context.Context, notifications []models.Notification) error {
	// Once the batch is drained, every exit settles it: success acks, failure
	// requeues or drops through settleTransient. Nothing may return with the
	// deliveries still unacked on the channel.
	if err := l.store.SetProcessingState(ctx, l.agentName, models.ProcessingThinking); err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}
	idleRestored := false
	restoreIdle := func() {
		if !idleRestored {
			idleRestored = true
			if err := l.store.SetProcessingState(ctx, l.agentName, models.ProcessingIdle); err != nil {
				l.log.Warn("Restoring idle state failed", "error", err)
			}
		}
	}
	defer restoreIdle()

	state, err := l.store.GetAgentState(ctx, l.agentName)
	if err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}
	turn := state.TotalMessages

	page, err := l.store.GetMessageHistory(ctx, l.agentName, l.cfg.HistoryLimit, 0)
	if err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}

	updateAvailability(&l.tctx, notifications)
	tctx := l.tctx

	userContent, err := prompt.NotificationUserContent(notifications)
	if err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}
	if err := l.store.AppendMessage(ctx, l.agentName, models.RoleUser, userContent, nil); err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}
	recent := append(append([]models.TranscriptMessage{}, page.Messages...),
		models.TranscriptMessage{Role: models.RoleUser, Content: userContent, Timestamp: time.Now().UTC()})

	var memories []models.ProvidedMemory
	if l.retriever != nil && l.retriever.ShouldRun(turn) {
		if memories = l.retriever.Retrieve(ctx, recent); len(memories) > 0 {
			if content, err := prompt.MemoriesUserContent(memories); err == nil {
				if err := l.store.AppendMessage(ctx, l.agentName, models.RoleUser, content, nil); err != nil {
					l.log.Warn("Appending memories message failed", "error", err)
				}
			}
		}
	}

	l.collectToolResultArtifacts(ctx, notifications, tctx)

	messages, err := l.builder.BuildConversation(ctx, prompt.BuildInput{
		Existing:          page.Messages,
		Notifications:     notifications,
		RetrievedMemories: memories,
		PendingImages:     l.pendingImages,
		ToolContext:       tctx,
	})
	if err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}

	model := l.cfg.Model
	if tctx.FastMode {
		model = l.cfg.FastModel
	}
	raw, llmErr := l.llm.Generate(ctx, model, messages)
	l.pendingImages = nil
	if llmErr != nil {
		l.settleTransient(ctx, notifications, llmErr)
		return llmErr
	}

	parsed, parseErr := prompt.ParseResponse(raw)
	if parseErr != nil {
		l.settleParseFailure(ctx, notifications, raw, parseErr)
		return parseErr
	}

	assistant, err := json.Marshal(models.AssistantContent{
		Thought:      parsed.Thought,
		ToolCalls:    parsed.ToolCalls,
		ActionStatus: parsed.ActionStatus,
	})
	if err != nil {
		return err
	}
	if err := l.store.AppendMessage(ctx, l.agentName, models.RoleAssistant, assistant, nil); err != nil {
		l.settleTransient(ctx, notifications, err)
		return err
	}
	recent = append(recent, models.TranscriptMessage{
		Role: models.RoleAssistant, Content: assistant, Timestamp: time.Now().UTC(),
	})

	if l.agentName == PrimaryAgentName && parsed.ActionStatus != "" && tctx.SessionID != "" {
		if err := l.store.PushActionStatus(ctx, l.agentName, tctx.SessionID, parsed.ActionStatus); err != nil {
			l.log.Debug("Action status push failed", "error", err)
		}
	}

	if err := l.store.SetProcessingState(ctx, l.agentName, models.ProcessingExecutingTools); err != nil {
		return err
	}
	l.dispatch(ctx, parsed.ToolCalls, tctx)

	restoreIdle()
	l.ackAll(notifications)

	if l.creator != nil && l.creator.ShouldRun(turn) {
		l.creator.Run(ctx, recent)
	}
	return nil
}

// collectToolResultArtifacts queues view_image payloads for injection into
// the next LLM call and forwards captured screenshots, both best-effort.
func (l *Loop) collectToolResultArtifacts(ctx context.Context, notifications []models.Notification, tctx tools.AvailabilityContext) {
	for _, n := range notifications {
		if n.NotificationType != models.NotificationToolResult {
			continue
		}
		result, ok := n.PayloadMap()["result"].(map[string]any)
		if !ok {
			continue
		}
		if view, _ := result["_view_image"].(bool); view {
			if data, _ := result["base64_data"].(string); data != "" {
				img := prompt.Image{Base64Data: data}
				img.AttachmentID, _ = result["attachment_id"].(string)
				img.ContentType, _ = result["content_type"].(string)
				l.pendingImages = append(l.pendingImages, img)
			}
		}
		if shot, _ := result["screenshot"].(string); shot != "" {
			if err := l.store.PushBrowserScreenshot(ctx, l.agentName, tctx.SessionID, shot); err != nil {
				l.log.Debug("Screenshot forward failed", "error", err)
			}
		}
	}
}

// ackAll acknowledges every notification of a successfully processed batch.
func (l *Loop) ackAll(notifications []models.Notification) {
	for _, n := range notifications {
		if err := l.broker.Ack(n.DeliveryTag); err != nil {
			l.log.Warn("Ack failed", "notification_id", n.NotificationID, "error", err)
		}
	}
}

// settleTransient requeues each notification that still has retries left and
// drops (acks) the rest with an audit error notification.
func (l *Loop) settleTransient(ctx context.Context, notifications []models.Notification, cause error) {
	transient := broker.IsTransient(cause) || errors.Is(cause, llm.ErrTimeout)
	for _, n := range notifications {
		if transient && n.RetryCount < broker.MaxRetries {
			if err := l.broker.Requeue(ctx, n); err != nil {
				l.log.Warn("Requeue failed", "notification_id", n.NotificationID, "error", err)
			}
			continue
		}
		if err := l.broker.Ack(n.DeliveryTag); err != nil {
			l.log.Warn("Ack failed", "notification_id", n.NotificationID, "error", err)
		}
		if err := l.broker.EmitError(ctx, l.agentName, map[string]any{
			"error":           cause.Error(),
			"notification_id": n.NotificationID,
			"retry_count":     n.RetryCount,
		}); err != nil {
			l.log.Warn("Emitting error notification failed", "error", err)
		}
	}
}

// settleParseFailure handles an unusable LLM response: the raw response is
// preserved on the transcript with an error marker, and each notification is
// acked with an audit emission since retrying would reproduce the failure.
func (l *Loop) settleParseFailure(ctx context.Context, notifications []models.Notification, raw string, cause error) {
	if len(raw) > 2000 {
		raw = raw[:2000]
	}
	marker, err := json.Marshal(models.AssistantContent{
		Error:       cause.Error(),
		RawResponse: raw,
	})
	if err == nil {
		if err := l.store.AppendMessage(ctx, l.agentName, models.RoleAssistant, marker, nil); err != nil {
			l.log.Warn("Appending error marker failed", "error", err)
		}
	}
	for _, n := range notifications {
		if err := l.broker.Ack(n.DeliveryTag); err != nil {
			l.log.Warn("Ack failed", "notification_id", n.NotificationID, "error", err)
		}
		if err := l.broker.EmitError(ctx, l.agentName, map[string]any{
			"error":           cause.Error(),
			"notification_id": n.NotificationID,
			"retry_count":     n.RetryCount,
		}); err != nil {
			l.log.Warn("Emitting error notification failed", "error", err)
		}
	}
}
