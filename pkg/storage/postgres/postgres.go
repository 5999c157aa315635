// Package postgres provides PostgreSQL implementations of storage.KV and
// storage.ConversationStore. It uses pgx/v5 for connection pooling and
// JSONB columns for structured values.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/storage"
)

// Store is a PostgreSQL-backed store implementing both storage.KV and
// storage.ConversationStore.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.KV                = (*Store)(nil)
	_ storage.ConversationStore = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Get retrieves and unmarshals the JSONB value stored under key.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM kv_entries WHERE key = $1", key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading key %q: %w", key, err)
	}
	return json.Unmarshal(raw, dest)
}

// Set stores value under key as JSONB, overwriting any existing value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value for key %q: %w", key, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw,
	)
	if err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM kv_entries WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

// CreateConversation creates a conversation with a fresh UUID.
func (s *Store) CreateConversation(ctx context.Context, title string) (*storage.Conversation, error) {
	conv := storage.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().Unix(),
	}

	_, err := s.pool.Exec(ctx,
		"INSERT INTO conversations (id, title, created_at) VALUES ($1, $2, to_timestamp($3))",
		conv.ID, conv.Title, conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves conversation metadata by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	var conv storage.Conversation
	var created time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT id, title, created_at FROM conversations WHERE id = $1", id,
	).Scan(&conv.ID, &conv.Title, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation %q: %w", id, err)
	}
	conv.CreatedAt = created.Unix()
	return &conv, nil
}

// SetTitle updates a conversation's title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE conversations SET title = $2 WHERE id = $1", id, title,
	)
	if err != nil {
		return fmt.Errorf("updating title for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendTurns appends turns to a conversation's history inside one
// transaction so sequence numbering stays gapless under concurrency.
func (s *Store) AppendTurns(ctx context.Context, id string, turns []api.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the conversation row so concurrent appends serialize.
	var lockedID string
	err = tx.QueryRow(ctx,
		"SELECT id FROM conversations WHERE id = $1 FOR NO KEY UPDATE", id,
	).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking conversation %q: %w", id, err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(sequence_order), 0) + 1 FROM conversation_turns WHERE conversation_id = $1", id,
	).Scan(&next); err != nil {
		return fmt.Errorf("computing sequence order: %w", err)
	}

	for i, turn := range turns {
		raw, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO conversation_turns (conversation_id, sequence_order, turn) VALUES ($1, $2, $3)",
			id, next+i, raw,
		); err != nil {
			return fmt.Errorf("appending turn: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// History returns the full ordered turn history of a conversation.
func (s *Store) History(ctx context.Context, id string) ([]api.Turn, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking conversation %q: %w", id, err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		"SELECT turn FROM conversation_turns WHERE conversation_id = $1 ORDER BY sequence_order", id,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history for %q: %w", id, err)
	}
	defer rows.Close()

	var turns []api.Turn
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		var turn api.Turn
		if err := json.Unmarshal(raw, &turn); err != nil {
			return nil, fmt.Errorf("unmarshaling turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// ListConversations returns all conversations, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]*storage.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, title, created_at FROM conversations ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*storage.Conversation
	for rows.Next() {
		var conv storage.Conversation
		var created time.Time
		if err := rows.Scan(&conv.ID, &conv.Title, &created); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.CreatedAt = created.Unix()
		out = append(out, &conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation; turns cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting conversation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
