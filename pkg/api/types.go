package api

import "time"

// BackendKind discriminates the generation strategy behind a model.
type BackendKind string

const (
	// BackendLocal runs model weights in-process.
	BackendLocal BackendKind = "local"

	// BackendOllama delegates to a local Ollama inference daemon.
	BackendOllama BackendKind = "ollama"

	// BackendRemote calls a generic remote HTTP generation API.
	BackendRemote BackendKind = "remote"
)

// Valid reports whether the kind is one of the supported backends.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendLocal, BackendOllama, BackendRemote:
		return true
	}
	return false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ModelDescriptor identifies a model and carries its generation defaults
// plus free-form backend configuration. A descriptor is immutable once a
// conversation references it.
type ModelDescriptor struct {
	// ID is the catalog identifier of this descriptor.
	ID string `json:"id"`

	// Name is the human-readable model name, unique in the catalog.
	Name string `json:"name"`

	// Kind selects the backend variant.
	Kind BackendKind `json:"kind"`

	// ModelID is the backend-side model identifier (weights path stem,
	// Ollama model tag, remote model name).
	ModelID string `json:"model_id"`

	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`

	// Generation defaults, applied when a request does not override them.
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`

	// Config holds backend-specific settings: base_url, api_key,
	// weights_path, device, seed, and similar hints.
	Config map[string]string `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigValue returns a backend configuration entry or "" when absent.
func (m *ModelDescriptor) ConfigValue(key string) string {
	if m.Config == nil {
		return ""
	}
	return m.Config[key]
}

// Conversation is a titled, ordered thread of messages bound to exactly
// one model descriptor.
type Conversation struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	ModelID  string `json:"model_id"`
	Archived bool   `json:"archived"`

	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last-activity timestamp, touched on every new message.
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a conversation. Seq is assigned by the store
// and is the sole ordering key: append-only, strictly increasing.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`

	// TokensUsed is a heuristic estimate, not an exact tokenizer count.
	TokensUsed int `json:"tokens_used"`

	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// SamplingParams control generation randomness and length.
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// ChatRequest is one inbound chat turn. ConversationID and ModelID are
// optional; sampling fields are pointers so that an explicit zero (greedy
// temperature) is distinguishable from "use the model default".
type ChatRequest struct {
	UserID         string   `json:"-"`
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ModelID        string   `json:"model_id,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
}

// ChatResult is the outcome of a synchronous chat turn.
type ChatResult struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	TokensUsed     int    `json:"tokens_used"`
	ModelUsed      string `json:"model_used"`
}

// StreamEvent is one event of a streaming chat turn. A stream is a
// sequence of chunk events terminated by exactly one done or error event;
// no chunk follows the terminal event.
type StreamEvent struct {
	// Chunk fields.
	Chunk          string `json:"chunk,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`

	// Done fields.
	Done       bool   `json:"done,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`

	// Error terminal.
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Done || e.Error != ""
}
