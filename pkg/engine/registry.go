package engine

import (
	"log/slog"
	"sync"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
)

// Factory constructs an Engine for a model descriptor. Construction may be
// expensive (loading weights, opening a client) and may fail with a
// backend_initialization error.
type Factory func(desc *api.ModelDescriptor) (Engine, error)

// cacheKey uniquely identifies one constructed handle.
type cacheKey struct {
	kind    api.BackendKind
	modelID string
}

// Registry creates and caches engine handles keyed by backend kind and
// model identifier. It is the only process-wide shared mutable state:
// constructed once at startup, handed to the orchestrator, and torn down
// with Clear. There is deliberately no TTL, LRU, or automatic
// invalidation; a handle lives until Clear is called.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	engines map[cacheKey]Engine
}

// NewRegistry creates a registry using the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		engines: make(map[cacheKey]Engine),
	}
}

// GetOrCreate returns the cached handle for the descriptor's
// (kind, model id) key, constructing it on first use. Two lookups with the
// same key return the same handle unless Clear ran in between. A failed
// construction is returned to the caller and never cached, so the next
// lookup with the same key retries from scratch.
func (r *Registry) GetOrCreate(desc *api.ModelDescriptor) (Engine, error) {
	key := cacheKey{kind: desc.Kind, modelID: desc.ModelID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.engines[key]; ok {
		return eng, nil
	}

	debug.Log(debug.Engines, "constructing engine", "kind", desc.Kind, "model", desc.ModelID)

	eng, err := r.factory(desc)
	if err != nil {
		return nil, err
	}

	r.engines[key] = eng
	return eng, nil
}

// Clear drops every cached handle unconditionally and closes each one.
// Close failures are logged, not returned; the handles are gone either way.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, eng := range r.engines {
		if err := eng.Close(); err != nil {
			slog.Warn("closing engine handle",
				"kind", key.kind,
				"model", key.modelID,
				"error", err,
			)
		}
	}
	r.engines = make(map[cacheKey]Engine)
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
