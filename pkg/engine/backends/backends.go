// Package backends selects the concrete engine variant for a model
// descriptor. It lives apart from pkg/engine so the variants can import
// the Engine interface without a cycle.
package backends

import (
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/engine/local"
	"github.com/rhuss/parley/pkg/engine/ollama"
	"github.com/rhuss/parley/pkg/engine/remote"
)

// Ensure New satisfies the registry's factory contract at compile time.
var _ engine.Factory = New

// New constructs the engine variant named by the descriptor's backend
// kind. An unknown kind fails with an unsupported_backend error.
func New(desc *api.ModelDescriptor) (engine.Engine, error) {
	switch desc.Kind {
	case api.BackendLocal:
		return local.New(desc)
	case api.BackendOllama:
		return ollama.New(desc)
	case api.BackendRemote:
		return remote.New(desc)
	default:
		return nil, api.NewUnsupportedBackendError(desc.Kind)
	}
}
