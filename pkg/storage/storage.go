package storage

import (
	"context"
	"time"

	"github.com/rhuss/parley/pkg/api"
)

// ConversationStore persists conversations and their append-only message
// history. Lookups that take a userID enforce ownership: a conversation
// owned by someone else behaves exactly like a missing one (ErrNotFound).
type ConversationStore interface {
	// CreateConversation persists a new conversation. Returns ErrConflict
	// if the ID is already taken.
	CreateConversation(ctx context.Context, conv *api.Conversation) error

	// GetConversation retrieves a conversation by ID with an ownership check.
	GetConversation(ctx context.Context, id, userID string) (*api.Conversation, error)

	// ListConversations returns the user's non-archived conversations,
	// most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error)

	// TouchConversation updates the conversation's last-activity timestamp.
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// ArchiveConversation sets the archived flag, with an ownership check.
	ArchiveConversation(ctx context.Context, id, userID string) error

	// AppendMessage appends a message to its conversation. The store
	// assigns Seq: strictly increasing, append-only, the sole ordering key.
	AppendMessage(ctx context.Context, msg *api.Message) error

	// ListMessages returns the conversation's messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]*api.Message, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// ModelCatalog holds the model descriptors and per-user default
// preferences. Descriptors referenced by a conversation are immutable;
// PutModel upserts by ID and is intended for startup seeding.
type ModelCatalog interface {
	// GetModel retrieves a descriptor by catalog ID.
	GetModel(ctx context.Context, id string) (*api.ModelDescriptor, error)

	// ListActiveModels returns all active descriptors in catalog order.
	ListActiveModels(ctx context.Context) ([]*api.ModelDescriptor, error)

	// PutModel inserts or replaces a descriptor.
	PutModel(ctx context.Context, desc *api.ModelDescriptor) error

	// DefaultModel returns the user's stored default model preference.
	// ErrNotFound means the user has no (resolvable) preference.
	DefaultModel(ctx context.Context, userID string) (*api.ModelDescriptor, error)

	// SetDefaultModel stores the user's default model preference.
	SetDefaultModel(ctx context.Context, userID, modelID string) error
}
