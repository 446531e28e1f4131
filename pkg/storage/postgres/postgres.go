// Package postgres provides PostgreSQL implementations of
// storage.ConversationStore and storage.ModelCatalog. It uses pgx/v5 for
// connection pooling and JSONB for backend configuration storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/storage"
)

// Store is a PostgreSQL-backed conversation store and model catalog.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements both contracts at compile time.
var (
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.ModelCatalog      = (*Store)(nil)
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

	// Verify connectivity.
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

// CreateConversation persists a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *api.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title, model_id, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		conv.ID, conv.UserID, conv.Title, conv.ModelID, conv.Archived,
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID with an ownership check.
// A conversation owned by someone else behaves like a missing one.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (*api.Conversation, error) {
	var conv api.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, model_id, archived, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ModelID, &conv.Archived,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the user's non-archived conversations, most
// recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, model_id, archived, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND NOT archived
		ORDER BY updated_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*api.Conversation
	for rows.Next() {
		var conv api.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.UserID, &conv.Title, &conv.ModelID, &conv.Archived,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// TouchConversation updates the conversation's last-activity timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.pool.Exec(ctx,
		"UPDATE conversations SET updated_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ArchiveConversation sets the archived flag with an ownership check.
func (s *Store) ArchiveConversation(ctx context.Context, id, userID string) error {
	result, err := s.pool.Exec(ctx,
		"UPDATE conversations SET archived = TRUE WHERE id = $1 AND user_id = $2",
		id, userID)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendMessage appends a message, assigning the next sequence number
// atomically. The UNIQUE(conversation_id, seq) constraint guards against
// concurrent writers racing on the same conversation.
func (s *Store) AppendMessage(ctx context.Context, msg *api.Message) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tokens_used, seq, created_at)
		SELECT $1, $2, $3, $4, $5,
		       COALESCE(MAX(seq), 0) + 1, $6
		FROM messages WHERE conversation_id = $2
		RETURNING seq
	`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		msg.TokensUsed, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key violation: the conversation does not exist.
			return storage.ErrNotFound
		}
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages ordered by sequence.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*api.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, tokens_used, seq, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*api.Message
	for rows.Next() {
		var msg api.Message
		var role string
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&msg.TokensUsed, &msg.Seq, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = api.Role(role)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// GetModel retrieves a descriptor by catalog ID.
func (s *Store) GetModel(ctx context.Context, id string) (*api.ModelDescriptor, error) {
	desc, err := scanModel(s.pool.QueryRow(ctx, modelColumns+" FROM models m WHERE m.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying model: %w", err)
	}
	return desc, nil
}

// ListActiveModels returns active descriptors in catalog insertion order.
func (s *Store) ListActiveModels(ctx context.Context) ([]*api.ModelDescriptor, error) {
	rows, err := s.pool.Query(ctx, modelColumns+" FROM models m WHERE m.active ORDER BY m.seq")
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	var out []*api.ModelDescriptor
	for rows.Next() {
		desc, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		out = append(out, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating models: %w", err)
	}
	return out, nil
}

// PutModel inserts or replaces a descriptor. The catalog position of an
// existing descriptor is preserved on update.
func (s *Store) PutModel(ctx context.Context, desc *api.ModelDescriptor) error {
	var configJSON []byte
	if desc.Config != nil {
		var err error
		configJSON, err = json.Marshal(desc.Config)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO models (
			id, name, kind, model_id, description, active,
			max_tokens, temperature, top_p, config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			model_id = EXCLUDED.model_id,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			max_tokens = EXCLUDED.max_tokens,
			temperature = EXCLUDED.temperature,
			top_p = EXCLUDED.top_p,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`,
		desc.ID, desc.Name, string(desc.Kind), desc.ModelID, desc.Description,
		desc.Active, desc.MaxTokens, desc.Temperature, desc.TopP,
		nullJSON(configJSON), desc.CreatedAt, desc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting model: %w", err)
	}
	return nil
}

// DefaultModel returns the user's stored default model preference.
func (s *Store) DefaultModel(ctx context.Context, userID string) (*api.ModelDescriptor, error) {
	desc, err := scanModel(s.pool.QueryRow(ctx, modelColumns+`
		FROM models m
		JOIN user_preferences p ON p.default_model_id = m.id
		WHERE p.user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying default model: %w", err)
	}
	return desc, nil
}

// SetDefaultModel stores the user's default model preference.
func (s *Store) SetDefaultModel(ctx context.Context, userID, modelID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, default_model_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			default_model_id = EXCLUDED.default_model_id,
			updated_at = EXCLUDED.updated_at
	`, userID, modelID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key violation: the model does not exist.
			return storage.ErrNotFound
		}
		return fmt.Errorf("setting default model: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// modelColumns is the shared SELECT clause for model descriptor queries.
// Columns are qualified so the clause also works in joined queries.
const modelColumns = `
	SELECT m.id, m.name, m.kind, m.model_id, m.description, m.active,
	       m.max_tokens, m.temperature, m.top_p, m.config, m.created_at, m.updated_at`

// scanModel decodes one model row from a pgx row scanner.
func scanModel(row pgx.Row) (*api.ModelDescriptor, error) {
	var desc api.ModelDescriptor
	var kind string
	var configJSON *[]byte

	err := row.Scan(
		&desc.ID, &desc.Name, &kind, &desc.ModelID, &desc.Description,
		&desc.Active, &desc.MaxTokens, &desc.Temperature, &desc.TopP,
		&configJSON, &desc.CreatedAt, &desc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	desc.Kind = api.BackendKind(kind)
	if configJSON != nil {
		if err := json.Unmarshal(*configJSON, &desc.Config); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}
	return &desc, nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
