package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/kindred-labs/kindred/pkg/models"
)

// WeaviateStore implements Store on a Weaviate instance. Vectors are always
// caller-supplied (vectorizer none).
type WeaviateStore struct {
	client *weaviate.Client
	log    *slog.Logger
}

// NewWeaviateStore connects to the Weaviate instance at rawURL
// (scheme://host:port).
func NewWeaviateStore(rawURL string) (*WeaviateStore, error) {
	scheme := "http"
	host := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		scheme = rawURL[:idx]
		host = rawURL[idx+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return nil, fmt.Errorf("weaviate url %q has no host", rawURL)
	}
	client := weaviate.New(weaviate.Config{Host: host, Scheme: scheme})
	return &WeaviateStore{
		client: client,
		log:    slog.With("component", "memory-store"),
	}, nil
}

// memoryProperties is the property schema of the Memory class.
var memoryProperties = []*wvmodels.Property{
	{Name: "content", DataType: []string{"text"}},
	{Name: "memory_type", DataType: []string{"text"}},
	{Name: "scope", DataType: []string{"text"}},
	{Name: "agent_id", DataType: []string{"text"}},
	{Name: "session_id", DataType: []string{"text"}},
	{Name: "tags", DataType: []string{"text[]"}},
	{Name: "importance", DataType: []string{"number"}},
	{Name: "confidence", DataType: []string{"number"}},
	{Name: "source", DataType: []string{"text"}},
	{Name: "created_at", DataType: []string{"date"}},
	{Name: "updated_at", DataType: []string{"date"}},
	{Name: "last_accessed_at", DataType: []string{"date"}},
	{Name: "access_count", DataType: []string{"int"}},
	{Name: "success_count", DataType: []string{"int"}},
	{Name: "failure_count", DataType: []string{"int"}},
	{Name: "expires_at", DataType: []string{"date"}},
	{Name: "related_memory_ids", DataType: []string{"text[]"}},
}

// EnsureSchema creates the Memory class if it does not exist yet.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking schema: %w", err)
	}
	if exists {
		return nil
	}
	class := &wvmodels.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: memoryProperties,
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	s.log.Info("Created memory schema", "class", ClassName)
	return nil
}

// Create persists m with its vector and returns the assigned id.
func (s *WeaviateStore) Create(ctx context.Context, m models.Memory, vector []float32) (string, error) {
	if err := checkVector(vector); err != nil {
		return "", err
	}
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}
	m.Importance = models.Clamp01(m.Importance)
	m.Confidence = models.Clamp01(m.Confidence)

	_, err := s.client.Data().Creator().
		WithClassName(ClassName).
		WithID(id).
		WithProperties(memoryToProps(m)).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("creating memory: %w", err)
	}
	return id, nil
}

// searchFields is the GraphQL field selection for memory queries.
var searchFields = []graphql.Field{
	{Name: "content"},
	{Name: "memory_type"},
	{Name: "scope"},
	{Name: "agent_id"},
	{Name: "session_id"},
	{Name: "tags"},
	{Name: "importance"},
	{Name: "confidence"},
	{Name: "source"},
	{Name: "created_at"},
	{Name: "updated_at"},
	{Name: "last_accessed_at"},
	{Name: "access_count"},
	{Name: "success_count"},
	{Name: "failure_count"},
	{Name: "related_memory_ids"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "vector"}}},
}

// Search runs a filtered query, vector-ranked when req.Vector is present.
func (s *WeaviateStore) Search(ctx context.Context, req SearchRequest) ([]Record, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	builder := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(searchFields...).
		WithLimit(limit)

	if where := buildWhere(req.Filters); where != nil {
		builder = builder.WithWhere(where)
	}

	if req.Vector != nil {
		if err := checkVector(req.Vector); err != nil {
			return nil, err
		}
		builder = builder.WithNearVector(
			s.client.GraphQL().NearVectorArgBuilder().WithVector(req.Vector))
	} else {
		sortBy := req.SortBy
		if sortBy == "" {
			sortBy = "created_at"
		}
		order := graphql.Desc
		if req.SortAscending {
			order = graphql.Asc
		}
		builder = builder.WithSort(graphql.Sort{Path: []string{sortBy}, Order: order})
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("searching memories: %s", resp.Errors[0].Message)
	}
	return parseSearchResponse(resp.Data)
}

// Get fetches one record and best-effort bumps its access counters.
func (s *WeaviateStore) Get(ctx context.Context, id string) (*Record, error) {
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(ClassName).
		WithID(id).
		WithVector().
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting memory %s: %w", id, err)
	}
	if len(objs) == 0 {
		return nil, ErrNotFound
	}
	props, _ := objs[0].Properties.(map[string]any)
	rec := recordFromProps(id, props, []float32(objs[0].Vector))

	bump := map[string]any{
		"access_count":     rec.AccessCount + 1,
		"last_accessed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Update(ctx, id, bump, nil); err != nil {
		s.log.Warn("Access bump failed", "id", id, "error", err)
	} else {
		rec.AccessCount++
	}
	return &rec, nil
}

// Update merge-patches the record's properties; a non-nil vector replaces
// the stored embedding.
func (s *WeaviateStore) Update(ctx context.Context, id string, patch map[string]any, vector []float32) error {
	if len(patch) == 0 && vector == nil {
		return nil
	}
	props := map[string]any{}
	for k, v := range patch {
		props[k] = v
	}
	if _, ok := props["updated_at"]; !ok {
		props["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	updater := s.client.Data().Updater().
		WithClassName(ClassName).
		WithID(id).
		WithProperties(props).
		WithMerge()
	if vector != nil {
		if err := checkVector(vector); err != nil {
			return err
		}
		updater = updater.WithVector(vector)
	}
	if err := updater.Do(ctx); err != nil {
		return fmt.Errorf("updating memory %s: %w", id, err)
	}
	return nil
}

// Delete removes a record.
func (s *WeaviateStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Data().Deleter().WithClassName(ClassName).WithID(id).Do(ctx); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return nil
}

// MarkProvided bumps last_accessed_at for each id.
func (s *WeaviateStore) MarkProvided(ctx context.Context, ids []string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		if err := s.Update(ctx, id, map[string]any{"last_accessed_at": now}, nil); err != nil {
			return err
		}
	}
	return nil
}

// ── property conversion ──────────────────────────────────────────────────────

func memoryToProps(m models.Memory) map[string]any {
	props := map[string]any{
		"content":          m.Content,
		"memory_type":      string(m.MemoryType),
		"scope":            string(m.Scope),
		"agent_id":         m.AgentID,
		"importance":       m.Importance,
		"confidence":       m.Confidence,
		"source":           string(m.Source),
		"created_at":       m.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       m.UpdatedAt.UTC().Format(time.RFC3339),
		"last_accessed_at": m.LastAccessedAt.UTC().Format(time.RFC3339),
		"access_count":     m.AccessCount,
		"success_count":    m.SuccessCount,
		"failure_count":    m.FailureCount,
	}
	if m.SessionID != "" {
		props["session_id"] = m.SessionID
	}
	if len(m.Tags) > 0 {
		props["tags"] = m.Tags
	}
	if m.ExpiresAt != nil {
		props["expires_at"] = m.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if len(m.RelatedMemoryIDs) > 0 {
		props["related_memory_ids"] = m.RelatedMemoryIDs
	}
	return props
}

func recordFromProps(id string, props map[string]any, vector []float32) Record {
	rec := Record{Vector: vector}
	rec.ID = id
	rec.Content = str(props, "content")
	rec.MemoryType = models.MemoryType(str(props, "memory_type"))
	rec.Scope = models.MemoryScope(str(props, "scope"))
	rec.AgentID = str(props, "agent_id")
	rec.SessionID = str(props, "session_id")
	rec.Tags = strs(props, "tags")
	rec.Importance = num(props, "importance")
	rec.Confidence = num(props, "confidence")
	rec.Source = models.MemorySource(str(props, "source"))
	rec.CreatedAt = date(props, "created_at")
	rec.UpdatedAt = date(props, "updated_at")
	rec.LastAccessedAt = date(props, "last_accessed_at")
	rec.AccessCount = int(num(props, "access_count"))
	rec.SuccessCount = int(num(props, "success_count"))
	rec.FailureCount = int(num(props, "failure_count"))
	rec.RelatedMemoryIDs = strs(props, "related_memory_ids")
	if t := date(props, "expires_at"); !t.IsZero() {
		rec.ExpiresAt = &t
	}
	return rec
}

func str(props map[string]any, key string) string {
	v, _ := props[key].(string)
	return v
}

func strs(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func num(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func date(props map[string]any, key string) time.Time {
	s, ok := props[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseSearchResponse walks the GraphQL Get response into records.
func parseSearchResponse(data map[string]wvmodels.JSONObject) ([]Record, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := get[ClassName].([]any)
	if !ok {
		return nil, nil
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		props, ok := row.(map[string]any)
		if !ok {
			continue
		}
		var id string
		var vector []float32
		if add, ok := props["_additional"].(map[string]any); ok {
			id, _ = add["id"].(string)
			if raw, ok := add["vector"].([]any); ok {
				vector = make([]float32, 0, len(raw))
				for _, v := range raw {
					if f, ok := v.(float64); ok {
						vector = append(vector, float32(f))
					}
				}
			}
		}
		records = append(records, recordFromProps(id, props, vector))
	}
	return records, nil
}

// buildWhere translates filters into a conjunctive where clause; nil when no
// filter is set.
func buildWhere(f SearchFilters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	text := func(path, value string) {
		if value != "" {
			operands = append(operands, filters.Where().
				WithPath([]string{path}).WithOperator(filters.Equal).WithValueText(value))
		}
	}
	text("memory_type", string(f.MemoryType))
	text("scope", string(f.Scope))
	text("agent_id", f.AgentID)
	text("session_id", f.SessionID)
	text("source", string(f.Source))

	if len(f.Tags) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"tags"}).WithOperator(filters.ContainsAny).WithValueText(f.Tags...))
	}
	if f.MinImportance > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"importance"}).WithOperator(filters.GreaterThanEqual).WithValueNumber(f.MinImportance))
	}
	if f.MinConfidence > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"confidence"}).WithOperator(filters.GreaterThanEqual).WithValueNumber(f.MinConfidence))
	}
	dateOp := func(path string, op filters.WhereOperator, t time.Time) {
		if !t.IsZero() {
			operands = append(operands, filters.Where().
				WithPath([]string{path}).WithOperator(op).WithValueDate(t))
		}
	}
	dateOp("created_at", filters.GreaterThanEqual, f.CreatedAfter)
	dateOp("created_at", filters.LessThanEqual, f.CreatedBefore)
	dateOp("updated_at", filters.GreaterThanEqual, f.UpdatedAfter)
	dateOp("updated_at", filters.LessThanEqual, f.UpdatedBefore)

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}
