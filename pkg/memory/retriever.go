package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/models"
)

// Retriever decisions.
const (
	decisionGetMemories  = "GET_MEMORIES"
	decisionGiveMemories = "GIVE_MEMORIES"
)

// Per-invocation search bounds.
const (
	maxQueriesPerIteration = 5
	resultsPerQuery        = 3
	providedSuppressCount  = 10
)

// RetrieverConfig gates and tunes the retriever module.
type RetrieverConfig struct {
	Enabled        bool
	RunEveryNTurns int
	MaxIterations  int
	RecentWindow   int
	Model          string
}

// Retriever surfaces one or two memories directly relevant to the current
// exchange that were not already provided recently. It only ever returns a
// list; appending it to the transcript is the caller's job.
type Retriever struct {
	agentName string
	llm       llm.Client
	embedder  llm.Embedder
	store     Store
	cfg       RetrieverConfig
	log       *slog.Logger
}

// NewRetriever wires a retriever module.
func NewRetriever(agentName string, client llm.Client, embedder llm.Embedder, store Store, cfg RetrieverConfig) *Retriever {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 10
	}
	return &Retriever{
		agentName: agentName,
		llm:       client,
		embedder:  embedder,
		store:     store,
		cfg:       cfg,
		log:       slog.With("agent", agentName, "component", "memory-retriever"),
	}
}

// ShouldRun reports whether the module runs on this turn.
func (r *Retriever) ShouldRun(turn int) bool {
	return r.cfg.Enabled && r.cfg.RunEveryNTurns > 0 && turn%r.cfg.RunEveryNTurns == 0
}

// retrieverResponse is the expected module output.
type retrieverResponse struct {
	Decision  string           `json:"decision"`
	Queries   []retrieverQuery `json:"queries"`
	MemoryIDs []string         `json:"memory_ids"`
}

// retrieverQuery is either a bare string or {text, filters}.
type retrieverQuery struct {
	Text    string       `json:"text"`
	Filters queryFilters `json:"filters"`
}

type queryFilters struct {
	MemoryType    string   `json:"memory_type"`
	MinImportance float64  `json:"min_importance"`
	CreatedAfter  string   `json:"created_after"`
	CreatedBefore string   `json:"created_before"`
	Tags          []string `json:"tags"`
}

func (q *retrieverQuery) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		q.Text = s
		return nil
	}
	type plain retrieverQuery
	return json.Unmarshal(data, (*plain)(q))
}

// Retrieve runs the bounded decision loop. Any failure yields an empty
// result; retrieval is never worth breaking a cycle over.
func (r *Retriever) Retrieve(ctx context.Context, recent []models.TranscriptMessage) []models.ProvidedMemory {
	provided, err := r.store.Search(ctx, SearchRequest{
		Filters: SearchFilters{AgentID: r.agentName},
		SortBy:  "last_accessed_at",
		Limit:   providedSuppressCount,
	})
	if err != nil {
		r.log.Warn("Loading provided memories failed", "error", err)
	}

	convo := renderTranscript(recent, r.cfg.RecentWindow)
	union := map[string]Record{}

	for iter := 0; iter < r.cfg.MaxIterations; iter++ {
		raw, err := r.llm.Generate(ctx, r.cfg.Model, []llm.Message{
			llm.TextMessage(llm.RoleUser, "System: "+r.buildPrompt(provided, union)),
			llm.TextMessage(llm.RoleUser, convo),
		})
		if err != nil {
			r.log.Warn("Retriever LLM call failed", "error", err)
			return nil
		}

		var resp retrieverResponse
		if err := decodeDecision(raw, &resp); err != nil {
			r.log.Warn("Retriever response unparsable, ignoring", "error", err)
			return nil
		}

		switch resp.Decision {
		case decisionGetMemories:
			r.runQueries(ctx, resp.Queries, union)
		case decisionGiveMemories:
			return r.give(ctx, resp.MemoryIDs, union)
		default:
			return nil
		}
	}
	return nil
}

// runQueries embeds each query, searches, and folds the results into union.
func (r *Retriever) runQueries(ctx context.Context, queries []retrieverQuery, union map[string]Record) {
	if len(queries) > maxQueriesPerIteration {
		queries = queries[:maxQueriesPerIteration]
	}
	for _, q := range queries {
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		vector, err := r.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			r.log.Warn("Embedding query failed", "error", err)
			continue
		}
		records, err := r.store.Search(ctx, SearchRequest{
			Vector:  vector,
			Filters: r.searchFilters(q.Filters),
			Limit:   resultsPerQuery,
		})
		if err != nil {
			r.log.Warn("Memory search failed", "query", q.Text, "error", err)
			continue
		}
		for _, rec := range records {
			union[rec.ID] = rec
		}
	}
}

// give resolves the chosen ids against the discovered union, deduplicates
// near-identical memories, and marks the survivors provided.
func (r *Retriever) give(ctx context.Context, ids []string, union map[string]Record) []models.ProvidedMemory {
	var chosen []Record
	for _, id := range ids {
		if rec, ok := union[id]; ok {
			chosen = append(chosen, rec)
		}
	}
	if len(chosen) == 0 {
		return nil
	}

	final := DedupByCosine(chosen, dedupThreshold)

	finalIDs := make([]string, len(final))
	out := make([]models.ProvidedMemory, len(final))
	for i, rec := range final {
		finalIDs[i] = rec.ID
		out[i] = models.ProvidedMemory{
			Content:    rec.Content,
			Datetime:   rec.CreatedAt.UTC().Format(time.RFC3339),
			Importance: rec.Importance,
		}
	}
	if err := r.store.MarkProvided(ctx, finalIDs); err != nil {
		r.log.Warn("Marking memories provided failed", "error", err)
	}
	return out
}

func (r *Retriever) searchFilters(f queryFilters) SearchFilters {
	out := SearchFilters{
		AgentID:       r.agentName,
		MinImportance: f.MinImportance,
		Tags:          f.Tags,
	}
	if mt := models.MemoryType(f.MemoryType); mt.Valid() {
		out.MemoryType = mt
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedAfter); err == nil {
		out.CreatedAfter = t
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedBefore); err == nil {
		out.CreatedBefore = t
	}
	return out
}

func (r *Retriever) buildPrompt(provided []Record, union map[string]Record) string {
	var b strings.Builder
	b.WriteString("You decide whether stored long-term memories would help an AI agent with its current exchange.\n\n")
	b.WriteString("Decisions:\n")
	b.WriteString("- GET_MEMORIES: search the store. Supply 1-5 queries; each is a string or {\"text\", \"filters\": {\"memory_type\", \"min_importance\", \"created_after\", \"created_before\", \"tags\"}}.\n")
	b.WriteString("- GIVE_MEMORIES: hand over at most 2 of the retrieved memories by id. Only choose memories that are directly relevant.\n")
	b.WriteString("- IGNORE: no memory would help.\n\n")
	b.WriteString("Do not hand over memories that were already provided recently:\n")
	b.WriteString(renderRecords(provided))
	if len(union) > 0 {
		b.WriteString("\nRetrieved so far:\n")
		records := make([]Record, 0, len(union))
		for _, rec := range union {
			records = append(records, rec)
		}
		b.WriteString(renderRecords(records))
	}
	b.WriteString("\nRespond with JSON only: {\"decision\": \"GET_MEMORIES\"|\"GIVE_MEMORIES\"|\"IGNORE\", \"queries\": [...], \"memory_ids\": [...]}.\n")
	return b.String()
}
