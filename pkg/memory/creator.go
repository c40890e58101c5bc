package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/models"
)

// metaWaitTopic is the agent-metadata key carrying an unfinished disclosure
// across turns.
const metaWaitTopic = "wait_topic"

// Creator decisions.
const (
	decisionCreateNow = "CREATE_NOW"
	decisionWait      = "WAIT"
	decisionIgnore    = "IGNORE"
)

// MetadataStore is the slice of the state store the creator needs for
// wait-topic persistence.
type MetadataStore interface {
	GetAgentState(ctx context.Context, agentID string) (*models.AgentState, error)
	UpdateAgentMetadata(ctx context.Context, agentID string, patch map[string]any) error
}

// CreatorConfig gates and tunes the creator module.
type CreatorConfig struct {
	Enabled        bool
	RunEveryNTurns int
	RecentWindow   int
	Model          string
}

// Creator decides after a cycle whether the recent exchange produced
// information worth persisting as memories. It is a background contributor:
// no error it encounters ever reaches the main loop.
type Creator struct {
	agentName string
	llm       llm.Client
	embedder  llm.Embedder
	store     Store
	meta      MetadataStore
	cfg       CreatorConfig
	log       *slog.Logger
}

// NewCreator wires a creator module.
func NewCreator(agentName string, client llm.Client, embedder llm.Embedder, store Store, meta MetadataStore, cfg CreatorConfig) *Creator {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 10
	}
	return &Creator{
		agentName: agentName,
		llm:       client,
		embedder:  embedder,
		store:     store,
		meta:      meta,
		cfg:       cfg,
		log:       slog.With("agent", agentName, "component", "memory-creator"),
	}
}

// ShouldRun reports whether the module runs on this turn.
func (c *Creator) ShouldRun(turn int) bool {
	return c.cfg.Enabled && c.cfg.RunEveryNTurns > 0 && turn%c.cfg.RunEveryNTurns == 0
}

// creatorResponse is the expected module output.
type creatorResponse struct {
	Reflection string           `json:"reflection"`
	Decision   string           `json:"decision"`
	Memories   []proposedMemory `json:"memories"`
	Topic      string           `json:"topic"`
}

type proposedMemory struct {
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type"`
	Scope      string   `json:"scope"`
	Tags       []string `json:"tags"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
}

// Run evaluates the recent exchange and persists any memories the model
// proposes. Errors are logged, never returned.
func (c *Creator) Run(ctx context.Context, recent []models.TranscriptMessage) {
	waitTopic := c.loadWaitTopic(ctx)
	lastFive := c.lastCreated(ctx)

	prompt := c.buildPrompt(waitTopic, lastFive)
	convo := renderTranscript(recent, c.cfg.RecentWindow)
	raw, err := c.llm.Generate(ctx, c.cfg.Model, []llm.Message{
		llm.TextMessage(llm.RoleUser, "System: "+prompt),
		llm.TextMessage(llm.RoleUser, convo),
	})
	if err != nil {
		c.log.Warn("Creator LLM call failed", "error", err)
		return
	}

	var resp creatorResponse
	if err := decodeDecision(raw, &resp); err != nil {
		c.log.Warn("Creator response unparsable, ignoring", "error", err)
		c.clearWaitTopic(ctx)
		return
	}

	switch resp.Decision {
	case decisionCreateNow:
		created := 0
		for _, p := range resp.Memories {
			if c.persist(ctx, p) {
				created++
			}
		}
		c.log.Info("Creator persisted memories", "proposed", len(resp.Memories), "created", created)
		c.clearWaitTopic(ctx)
	case decisionWait:
		if err := c.meta.UpdateAgentMetadata(ctx, c.agentName, map[string]any{metaWaitTopic: resp.Topic}); err != nil {
			c.log.Warn("Persisting wait topic failed", "error", err)
		}
	default:
		c.clearWaitTopic(ctx)
	}
}

func (c *Creator) persist(ctx context.Context, p proposedMemory) bool {
	if strings.TrimSpace(p.Content) == "" {
		return false
	}
	mt := models.MemoryType(p.MemoryType)
	if !mt.Valid() {
		c.log.Warn("Skipping memory with unknown type", "memory_type", p.MemoryType)
		return false
	}
	scope := models.MemoryScope(p.Scope)
	if scope != models.ScopeShared {
		scope = models.ScopeIndividual
	}
	confidence := p.Confidence
	if confidence == 0 {
		confidence = 0.5
	}

	vector, err := c.embedder.EmbedMemory(ctx, p.Content)
	if err != nil {
		c.log.Warn("Embedding memory failed", "error", err)
		return false
	}
	_, err = c.store.Create(ctx, models.Memory{
		Content:    p.Content,
		MemoryType: mt,
		Scope:      scope,
		AgentID:    c.agentName,
		Tags:       p.Tags,
		Importance: models.Clamp01(p.Importance),
		Confidence: models.Clamp01(confidence),
		Source:     models.SourceProactiveAgent,
	}, vector)
	if err != nil {
		c.log.Warn("Persisting memory failed", "error", err)
		return false
	}
	return true
}

func (c *Creator) loadWaitTopic(ctx context.Context) string {
	state, err := c.meta.GetAgentState(ctx, c.agentName)
	if err != nil || state == nil {
		return ""
	}
	topic, _ := state.Metadata[metaWaitTopic].(string)
	return topic
}

func (c *Creator) clearWaitTopic(ctx context.Context) {
	if err := c.meta.UpdateAgentMetadata(ctx, c.agentName, map[string]any{metaWaitTopic: nil}); err != nil {
		c.log.Warn("Clearing wait topic failed", "error", err)
	}
}

func (c *Creator) lastCreated(ctx context.Context) []Record {
	records, err := c.store.Search(ctx, SearchRequest{
		Filters: SearchFilters{AgentID: c.agentName, Source: models.SourceProactiveAgent},
		Limit:   5,
	})
	if err != nil {
		c.log.Warn("Loading recent memories failed", "error", err)
		return nil
	}
	return records
}

func (c *Creator) buildPrompt(waitTopic string, lastFive []Record) string {
	var b strings.Builder
	b.WriteString("You review the latest exchange of an AI agent and decide whether it produced information worth remembering long-term.\n\n")
	b.WriteString("Memory types: ")
	for i, t := range models.MemoryTypes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(t))
	}
	b.WriteString(".\n\nDecisions:\n")
	b.WriteString("- CREATE_NOW: the exchange contains complete, durable information. Propose one or more memories.\n")
	b.WriteString("- WAIT: a disclosure is in progress but incomplete. Supply the topic to watch for.\n")
	b.WriteString("- IGNORE: nothing worth keeping.\n\n")
	b.WriteString("Never create a memory that duplicates one of the recently created memories below, even with different wording.\n\n")
	b.WriteString("Recently created memories:\n")
	b.WriteString(renderRecords(lastFive))
	if waitTopic != "" {
		fmt.Fprintf(&b, "\nYou previously decided to WAIT on this topic: %q. Check whether the exchange completes it.\n", waitTopic)
	}
	b.WriteString("\nRespond with JSON only: {\"reflection\": string, \"decision\": \"CREATE_NOW\"|\"WAIT\"|\"IGNORE\", \"memories\": [{\"content\", \"memory_type\", \"scope\", \"tags\", \"importance\", \"confidence\"}], \"topic\": string}.\n")
	return b.String()
}
