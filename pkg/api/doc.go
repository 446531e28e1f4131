// Package api defines the core value types of the parley chat service:
// model descriptors, conversations, messages, chat requests and results,
// streaming events, and the shared error taxonomy.
//
// The types here are transport- and storage-agnostic. Persistence lives in
// pkg/storage, backend execution in pkg/engine, and orchestration in
// pkg/chat.
package api
