package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/models"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeStore struct {
	created     []models.Memory
	createdVecs [][]float32
	searchFn    func(SearchRequest) ([]Record, error)
	provided    [][]string
	createErr   error
}

func (s *fakeStore) EnsureSchema(context.Context) error { return nil }

func (s *fakeStore) Create(_ context.Context, m models.Memory, vec []float32) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, m)
	s.createdVecs = append(s.createdVecs, vec)
	return "id-" + m.Content, nil
}

func (s *fakeStore) Search(_ context.Context, req SearchRequest) ([]Record, error) {
	if s.searchFn == nil {
		return nil, nil
	}
	return s.searchFn(req)
}

func (s *fakeStore) Get(context.Context, string) (*Record, error)               { return nil, ErrNotFound }
func (s *fakeStore) Update(context.Context, string, map[string]any, []float32) error { return nil }
func (s *fakeStore) Delete(context.Context, string) error                       { return nil }

func (s *fakeStore) MarkProvided(_ context.Context, ids []string) error {
	s.provided = append(s.provided, ids)
	return nil
}

type fakeLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (l *fakeLLM) Generate(_ context.Context, _ string, msgs []llm.Message) (string, error) {
	l.calls++
	if len(msgs) > 0 {
		l.prompts = append(l.prompts, msgs[0].Parts[0].Text)
	}
	if l.err != nil {
		return "", l.err
	}
	if len(l.responses) == 0 {
		return "", llm.ErrEmptyResponse
	}
	resp := l.responses[0]
	l.responses = l.responses[1:]
	return resp, nil
}

type fakeEmbedder struct{ vec []float32 }

func (e *fakeEmbedder) EmbedMemory(context.Context, string) ([]float32, error) { return e.vec, nil }
func (e *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error)  { return e.vec, nil }

type fakeMeta struct {
	state   *models.AgentState
	patches []map[string]any
}

func (m *fakeMeta) GetAgentState(context.Context, string) (*models.AgentState, error) {
	if m.state == nil {
		return &models.AgentState{}, nil
	}
	return m.state, nil
}

func (m *fakeMeta) UpdateAgentMetadata(_ context.Context, _ string, patch map[string]any) error {
	m.patches = append(m.patches, patch)
	return nil
}

func transcript(lines ...string) []models.TranscriptMessage {
	msgs := make([]models.TranscriptMessage, len(lines))
	for i, l := range lines {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.TranscriptMessage{Role: role, Content: models.TextContent(l)}
	}
	return msgs
}

// ── gating ───────────────────────────────────────────────────────────────────

func TestShouldRunGating(t *testing.T) {
	c := NewCreator("a", nil, nil, nil, nil, CreatorConfig{Enabled: true, RunEveryNTurns: 3})
	assert.True(t, c.ShouldRun(3))
	assert.True(t, c.ShouldRun(6))
	assert.False(t, c.ShouldRun(4))

	off := NewCreator("a", nil, nil, nil, nil, CreatorConfig{Enabled: false, RunEveryNTurns: 1})
	assert.False(t, off.ShouldRun(1))

	r := NewRetriever("a", nil, nil, nil, RetrieverConfig{Enabled: true, RunEveryNTurns: 2})
	assert.True(t, r.ShouldRun(4))
	assert.False(t, r.ShouldRun(5))
}

// ── creator ──────────────────────────────────────────────────────────────────

func creatorUnderTest(store *fakeStore, client *fakeLLM, meta *fakeMeta) *Creator {
	return NewCreator("primary_agent", client, &fakeEmbedder{vec: []float32{1, 0}}, store, meta,
		CreatorConfig{Enabled: true, RunEveryNTurns: 1, Model: "fast"})
}

func TestCreatorCreateNow(t *testing.T) {
	store := &fakeStore{}
	client := &fakeLLM{responses: []string{
		`{"reflection":"user shared a preference","decision":"CREATE_NOW","memories":[
			{"content":"User prefers metric units","memory_type":"user_preference","scope":"individual","tags":["units"],"importance":1.4}]}`,
	}}
	meta := &fakeMeta{}

	creatorUnderTest(store, client, meta).Run(context.Background(), transcript("I use metric", "noted"))

	require.Len(t, store.created, 1)
	got := store.created[0]
	assert.Equal(t, models.SourceProactiveAgent, got.Source)
	assert.Equal(t, models.MemoryUserPreference, got.MemoryType)
	assert.Equal(t, "primary_agent", got.AgentID)
	assert.Equal(t, 1.0, got.Importance, "importance is clamped")
	require.Len(t, store.createdVecs, 1)

	// CREATE_NOW clears any wait topic.
	require.Len(t, meta.patches, 1)
	topic, ok := meta.patches[0][metaWaitTopic]
	assert.True(t, ok)
	assert.Nil(t, topic)
}

func TestCreatorWaitPersistsTopic(t *testing.T) {
	store := &fakeStore{}
	client := &fakeLLM{responses: []string{
		`{"reflection":"story is unfinished","decision":"WAIT","topic":"the user's new job"}`,
	}}
	meta := &fakeMeta{}

	creatorUnderTest(store, client, meta).Run(context.Background(), transcript("so about my job..."))

	assert.Empty(t, store.created)
	require.Len(t, meta.patches, 1)
	assert.Equal(t, "the user's new job", meta.patches[0][metaWaitTopic])
}

func TestCreatorWaitTopicReachesPrompt(t *testing.T) {
	store := &fakeStore{}
	client := &fakeLLM{responses: []string{`{"decision":"IGNORE"}`}}
	meta := &fakeMeta{state: &models.AgentState{
		Metadata: map[string]any{metaWaitTopic: "the user's new job"},
	}}

	creatorUnderTest(store, client, meta).Run(context.Background(), transcript("hello"))

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "the user's new job")
}

func TestCreatorSkipsUnknownMemoryType(t *testing.T) {
	store := &fakeStore{}
	client := &fakeLLM{responses: []string{
		`{"decision":"CREATE_NOW","memories":[{"content":"x","memory_type":"mystery"}]}`,
	}}

	creatorUnderTest(store, client, &fakeMeta{}).Run(context.Background(), transcript("hi"))
	assert.Empty(t, store.created)
}

func TestCreatorNeverPropagatesFailures(t *testing.T) {
	// LLM failure.
	creatorUnderTest(&fakeStore{}, &fakeLLM{err: errors.New("boom")}, &fakeMeta{}).
		Run(context.Background(), transcript("hi"))

	// Unparsable response clears the wait topic and creates nothing.
	store := &fakeStore{}
	meta := &fakeMeta{}
	creatorUnderTest(store, &fakeLLM{responses: []string{"not json"}}, meta).
		Run(context.Background(), transcript("hi"))
	assert.Empty(t, store.created)
	require.Len(t, meta.patches, 1)
	assert.Nil(t, meta.patches[0][metaWaitTopic])

	// Store failure on create.
	creatorUnderTest(&fakeStore{createErr: errors.New("down")},
		&fakeLLM{responses: []string{`{"decision":"CREATE_NOW","memories":[{"content":"x","memory_type":"knowledge"}]}`}},
		&fakeMeta{}).Run(context.Background(), transcript("hi"))
}

// ── retriever ────────────────────────────────────────────────────────────────

func retrieverUnderTest(store *fakeStore, client *fakeLLM) *Retriever {
	return NewRetriever("primary_agent", client, &fakeEmbedder{vec: []float32{1, 0}}, store,
		RetrieverConfig{Enabled: true, RunEveryNTurns: 1, MaxIterations: 3, Model: "fast"})
}

func TestRetrieverGetThenGive(t *testing.T) {
	now := time.Now()
	catalog := []Record{
		rec("a", 0.9, now, []float32{1, 0}),
		rec("b", 0.4, now, []float32{0, 1}),
	}
	store := &fakeStore{searchFn: func(req SearchRequest) ([]Record, error) {
		if req.Vector != nil {
			return catalog, nil
		}
		return nil, nil // no previously provided memories
	}}
	client := &fakeLLM{responses: []string{
		`{"decision":"GET_MEMORIES","queries":["what does the user prefer"]}`,
		`{"decision":"GIVE_MEMORIES","memory_ids":["a","b"]}`,
	}}

	out := retrieverUnderTest(store, client).Retrieve(context.Background(), transcript("units?"))
	require.Len(t, out, 2)
	assert.Equal(t, "memory a", out[0].Content)

	require.Len(t, store.provided, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, store.provided[0])
}

func TestRetrieverFiltersGiveToDiscoveredUnion(t *testing.T) {
	store := &fakeStore{searchFn: func(req SearchRequest) ([]Record, error) {
		if req.Vector != nil {
			return []Record{rec("a", 0.9, time.Now(), []float32{1, 0})}, nil
		}
		return nil, nil
	}}
	client := &fakeLLM{responses: []string{
		`{"decision":"GET_MEMORIES","queries":[{"text":"prefs","filters":{"memory_type":"user_preference"}}]}`,
		`{"decision":"GIVE_MEMORIES","memory_ids":["a","ghost"]}`,
	}}

	out := retrieverUnderTest(store, client).Retrieve(context.Background(), transcript("units?"))
	require.Len(t, out, 1)
	assert.Equal(t, "memory a", out[0].Content)
}

func TestRetrieverDedupsNearDuplicates(t *testing.T) {
	now := time.Now()
	catalog := []Record{
		rec("a", 0.9, now, []float32{1, 0}),
		rec("b", 0.5, now, []float32{0.95, 0.31}),
		rec("c", 0.7, now, []float32{0, 1}),
	}
	store := &fakeStore{searchFn: func(req SearchRequest) ([]Record, error) {
		if req.Vector != nil {
			return catalog, nil
		}
		return nil, nil
	}}
	client := &fakeLLM{responses: []string{
		`{"decision":"GET_MEMORIES","queries":["anything"]}`,
		`{"decision":"GIVE_MEMORIES","memory_ids":["a","b","c"]}`,
	}}

	out := retrieverUnderTest(store, client).Retrieve(context.Background(), transcript("?"))
	require.Len(t, out, 2)
	contents := []string{out[0].Content, out[1].Content}
	assert.Contains(t, contents, "memory a")
	assert.Contains(t, contents, "memory c")
	assert.NotContains(t, contents, "memory b")
}

func TestRetrieverIgnoreReturnsEmpty(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"decision":"IGNORE"}`}}
	out := retrieverUnderTest(&fakeStore{}, client).Retrieve(context.Background(), transcript("hi"))
	assert.Empty(t, out)
	assert.Equal(t, 1, client.calls)
}

func TestRetrieverBoundedIterations(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"decision":"GET_MEMORIES","queries":["q1"]}`,
		`{"decision":"GET_MEMORIES","queries":["q2"]}`,
		`{"decision":"GET_MEMORIES","queries":["q3"]}`,
		`{"decision":"GET_MEMORIES","queries":["q4"]}`,
	}}
	out := retrieverUnderTest(&fakeStore{}, client).Retrieve(context.Background(), transcript("hi"))
	assert.Empty(t, out)
	assert.Equal(t, 3, client.calls, "loop stops at max iterations")
}

func TestRetrieverSuppressionListReachesPrompt(t *testing.T) {
	store := &fakeStore{searchFn: func(req SearchRequest) ([]Record, error) {
		if req.Vector == nil && req.SortBy == "last_accessed_at" {
			return []Record{rec("old", 0.5, time.Now(), []float32{1, 0})}, nil
		}
		return nil, nil
	}}
	client := &fakeLLM{responses: []string{`{"decision":"IGNORE"}`}}

	retrieverUnderTest(store, client).Retrieve(context.Background(), transcript("hi"))
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "id=old")
}
