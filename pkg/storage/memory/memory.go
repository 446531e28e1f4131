// Package memory provides in-memory implementations of
// storage.ConversationStore and storage.ModelCatalog for testing and
// lightweight deployments. Everything is lost when the process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/storage"
)

// Store is a mutex-guarded in-memory conversation store and model catalog.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*api.Conversation
	messages      map[string][]*api.Message // conversation ID -> ordered messages
	models        map[string]*api.ModelDescriptor
	modelOrder    []string          // catalog insertion order
	defaults      map[string]string // user ID -> model ID
}

// Ensure Store implements both contracts at compile time.
var (
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.ModelCatalog      = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*api.Conversation),
		messages:      make(map[string][]*api.Message),
		models:        make(map[string]*api.ModelDescriptor),
		defaults:      make(map[string]string),
	}
}

// CreateConversation persists a new conversation.
func (s *Store) CreateConversation(_ context.Context, conv *api.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return storage.ErrConflict
	}

	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

// GetConversation retrieves a conversation with an ownership check.
func (s *Store) GetConversation(_ context.Context, id, userID string) (*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, storage.ErrNotFound
	}

	cp := *conv
	return &cp, nil
}

// ListConversations returns the user's non-archived conversations, most
// recently active first.
func (s *Store) ListConversations(_ context.Context, userID string) ([]*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID || conv.Archived {
			continue
		}
		cp := *conv
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// TouchConversation updates the last-activity timestamp.
func (s *Store) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	conv.UpdatedAt = at
	return nil
}

// ArchiveConversation sets the archived flag with an ownership check.
func (s *Store) ArchiveConversation(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return storage.ErrNotFound
	}
	conv.Archived = true
	return nil
}

// AppendMessage appends a message, assigning the next sequence number.
func (s *Store) AppendMessage(_ context.Context, msg *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return storage.ErrNotFound
	}

	msg.Seq = len(s.messages[msg.ConversationID]) + 1
	cp := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

// ListMessages returns the conversation's messages in creation order.
func (s *Store) ListMessages(_ context.Context, conversationID string) ([]*api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*api.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// GetModel retrieves a descriptor by catalog ID.
func (s *Store) GetModel(_ context.Context, id string) (*api.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc, ok := s.models[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *desc
	return &cp, nil
}

// ListActiveModels returns active descriptors in catalog insertion order.
func (s *Store) ListActiveModels(_ context.Context) ([]*api.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.ModelDescriptor
	for _, id := range s.modelOrder {
		if desc := s.models[id]; desc.Active {
			cp := *desc
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutModel inserts or replaces a descriptor.
func (s *Store) PutModel(_ context.Context, desc *api.ModelDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.models[desc.ID]; !exists {
		s.modelOrder = append(s.modelOrder, desc.ID)
	}
	cp := *desc
	s.models[desc.ID] = &cp
	return nil
}

// DefaultModel returns the user's stored default model preference.
func (s *Store) DefaultModel(_ context.Context, userID string) (*api.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modelID, ok := s.defaults[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	desc, ok := s.models[modelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *desc
	return &cp, nil
}

// SetDefaultModel stores the user's default model preference.
func (s *Store) SetDefaultModel(_ context.Context, userID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[modelID]; !ok {
		return storage.ErrNotFound
	}
	s.defaults[userID] = modelID
	return nil
}
