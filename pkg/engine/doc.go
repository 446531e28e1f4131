// Package engine defines the polymorphic generation backend abstraction:
// the Engine interface, the streaming event model, and the process-wide
// handle Registry.
//
// Concrete variants live in the subpackages local, ollama, and remote;
// pkg/engine/backends holds the factory that selects among them by
// backend kind.
package engine
