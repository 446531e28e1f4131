package engine

import (
	"context"

	"github.com/rhuss/parley/pkg/api"
)

// Engine abstracts one generation backend. Each variant handles its own
// protocol internally: in-process sampling, the Ollama daemon client, or
// a generic remote HTTP API.
//
// Implementations must be safe for concurrent use by multiple goroutines;
// a variant whose underlying backend cannot run concurrent generations
// (the local one) serializes calls internally instead.
type Engine interface {
	// Kind returns the backend variant this engine implements.
	Kind() api.BackendKind

	// Generate performs one blocking generation call and returns the
	// produced text.
	Generate(ctx context.Context, req *Request) (string, error)

	// Stream performs a streaming generation call. The returned channel
	// carries zero or more EventChunk events followed by exactly one
	// terminal event (EventDone or EventError), after which the channel
	// is closed. Cancelling ctx stops the producer.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// Info returns descriptive backend metadata. It never fails: probe
	// errors are reported in the Error field of the returned Info so a
	// caller enumerating many models is not blocked by one bad backend.
	Info(ctx context.Context) Info

	// Close releases backend resources (HTTP clients, loaded weights).
	Close() error
}

// Request carries one generation call: the assembled prompt plus the
// resolved sampling parameters.
type Request struct {
	Prompt   string
	Sampling api.SamplingParams
}

// EventType classifies a streaming event from the backend.
type EventType int

const (
	EventChunk EventType = iota // Incremental text fragment
	EventDone                   // Stream finished normally
	EventError                  // Stream failed; Err is populated
)

// Event is a single streaming event from a backend.
type Event struct {
	Type EventType

	// Text is the fragment for EventChunk events.
	Text string

	// Err is populated for EventError events.
	Err error
}

// Info holds descriptive metadata about a backend handle.
type Info struct {
	Kind    api.BackendKind `json:"kind"`
	ModelID string          `json:"model_id"`
	Device  string          `json:"device,omitempty"`
	BaseURL string          `json:"base_url,omitempty"`

	// SizeBytes is the model size when the backend reports one (0 = unknown).
	SizeBytes int64 `json:"size_bytes,omitempty"`

	// HasAPIKey reports whether the handle carries a credential.
	HasAPIKey bool `json:"has_api_key,omitempty"`

	// Error annotates a failed metadata probe instead of failing the call.
	Error string `json:"error,omitempty"`
}
