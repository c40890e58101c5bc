// Package gateway is the API gateway: the HTTP state-store surface agents
// talk to, backed by PostgreSQL.
package gateway

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/kindred-labs/kindred/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("gateway: not found")

// Store is the PostgreSQL persistence layer.
type Store struct {
	db *stdsql.DB
}

// NewStore opens a connection pool on databaseURL, pings it, and applies
// pending migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection and applies migrations (used by
// tests).
func NewStoreFromDB(db *stdsql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// runMigrations applies the embedded SQL migrations with golang-migrate.
func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "kindred", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	// Closing m would also close the shared *sql.DB; only the source driver
	// is ours to close.
	return source.Close()
}

// ensureAgent registers the agent row on first touch.
func (s *Store) ensureAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id) VALUES ($1) ON CONFLICT (agent_id) DO NOTHING`, agentID)
	return err
}

// AgentState returns the full state snapshot, including the message count.
func (s *Store) AgentState(ctx context.Context, agentID string) (*models.AgentState, error) {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return nil, err
	}
	var (
		state models.AgentState
		meta  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT a.agent_id, a.status, a.processing_state, a.last_updated, a.metadata,
		       (SELECT COUNT(*) FROM messages m WHERE m.agent_id = a.agent_id)
		FROM agents a WHERE a.agent_id = $1`, agentID).
		Scan(&state.AgentID, &state.Status, &state.ProcessingState, &state.LastUpdated,
			&meta, &state.TotalMessages)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &state.Metadata)
	}
	return &state, nil
}

// ProcessingState reads the processing state and its timestamp.
func (s *Store) ProcessingState(ctx context.Context, agentID string) (models.ProcessingState, time.Time, error) {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return "", time.Time{}, err
	}
	var (
		state   models.ProcessingState
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT processing_state, last_updated FROM agents WHERE agent_id = $1`, agentID).
		Scan(&state, &updated)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	return state, updated, err
}

// SetProcessingState writes the processing state and refreshes the timestamp.
func (s *Store) SetProcessingState(ctx context.Context, agentID string, state models.ProcessingState) error {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET processing_state = $2, last_updated = now() WHERE agent_id = $1`,
		agentID, state)
	return err
}

// Status reads the lifecycle status.
func (s *Store) Status(ctx context.Context, agentID string) (models.AgentStatus, error) {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return "", err
	}
	var status models.AgentStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM agents WHERE agent_id = $1`, agentID).Scan(&status)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

// SetStatus writes the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $2, last_updated = now() WHERE agent_id = $1`,
		agentID, status)
	return err
}

// MergeMetadata merge-patches the metadata document. A null value in the
// patch removes the key.
func (s *Store) MergeMetadata(ctx context.Context, agentID string, patch json.RawMessage) error {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents
		 SET metadata = jsonb_strip_nulls(metadata || $2::jsonb), last_updated = now()
		 WHERE agent_id = $1`,
		agentID, string(patch))
	return err
}

// Messages returns one ascending transcript page plus the total row count.
func (s *Store) Messages(ctx context.Context, agentID string, limit, offset int) ([]models.TranscriptMessage, int, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, documents, created_at
		FROM messages WHERE agent_id = $1
		ORDER BY seq ASC LIMIT $2 OFFSET $3`, agentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.TranscriptMessage
	for rows.Next() {
		var (
			m    models.TranscriptMessage
			docs []byte
		)
		if err := rows.Scan(&m.Role, &m.Content, &docs, &m.Timestamp); err != nil {
			return nil, 0, err
		}
		if len(docs) > 0 {
			_ = json.Unmarshal(docs, &m.Documents)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE agent_id = $1`, agentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AppendMessage appends a message at the next sequence position.
func (s *Store) AppendMessage(ctx context.Context, agentID string, role models.MessageRole, content json.RawMessage, documents []models.Document) error {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	var docs any
	if len(documents) > 0 {
		raw, err := json.Marshal(documents)
		if err != nil {
			return err
		}
		docs = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (agent_id, seq, role, content, documents)
		VALUES ($1,
		        COALESCE((SELECT MAX(seq) + 1 FROM messages WHERE agent_id = $1), 1),
		        $2, $3, $4)`,
		agentID, role, string(content), docs)
	return err
}

// ReplaceSystemMessage updates the transcript's leading system row, inserting
// one ahead of the existing messages when absent. Identical content is a
// no-op either way.
func (s *Store) ReplaceSystemMessage(ctx context.Context, agentID, content string) error {
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	raw, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = $2
		WHERE agent_id = $1 AND role = 'system'
		  AND seq = (SELECT MIN(seq) FROM messages WHERE agent_id = $1 AND role = 'system')`,
		agentID, string(raw))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (agent_id, seq, role, content)
		VALUES ($1,
		        COALESCE((SELECT MIN(seq) - 1 FROM messages WHERE agent_id = $1), 1),
		        'system', $2)`,
		agentID, string(raw))
	return err
}

// PromptRecord is the active system prompt row.
type PromptRecord struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	Content       string    `json:"content"`
	SectionIDs    []string  `json:"section_ids,omitempty"`
	ToolsPosition string    `json:"tools_position"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PromptSection is a reusable prompt fragment.
type PromptSection struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	DisplayOrder int    `json:"display_order"`
}

// ActivePrompt returns the agent's active prompt record or ErrNotFound.
func (s *Store) ActivePrompt(ctx context.Context, agentID string) (*PromptRecord, error) {
	var (
		rec        PromptRecord
		sectionIDs []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, content, section_ids, tools_position, updated_at
		FROM system_prompts WHERE agent_id = $1 AND is_active`, agentID).
		Scan(&rec.ID, &rec.AgentID, &rec.Content, &sectionIDs,
			&rec.ToolsPosition, &rec.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(sectionIDs) > 0 {
		_ = json.Unmarshal(sectionIDs, &rec.SectionIDs)
	}
	return &rec, nil
}

// PromptSections fetches sections by id; unknown ids are skipped.
func (s *Store) PromptSections(ctx context.Context, ids []string) ([]PromptSection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT id, content, display_order FROM prompt_sections
		WHERE id IN (%s) ORDER BY display_order ASC`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PromptSection
	for rows.Next() {
		var s PromptSection
		if err := rows.Scan(&s.ID, &s.Content, &s.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
