// Package storage defines the persistence contracts consumed by the chat
// orchestrator: the conversation/message store and the model catalog.
// Implementations live in the memory and postgres subpackages.
package storage
