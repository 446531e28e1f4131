// Package http adapts the chat orchestration layer to HTTP. It owns JSON
// decoding, the SSE-style stream framing, identity extraction, and the
// mapping of error types to status codes; all chat semantics live in
// pkg/chat.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chat"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/storage"
)

// userIDHeader carries the caller identity. Authentication happens
// upstream; this server trusts the header.
const userIDHeader = "X-User-ID"

// ChatService is the orchestration surface the handler exposes over HTTP.
type ChatService interface {
	ProcessChat(ctx context.Context, req *api.ChatRequest) (*api.ChatResult, error)
	ProcessStreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamEvent, error)
	TestModel(ctx context.Context, req *chat.TestRequest) (string, error)
	ListAvailableModels(ctx context.Context) ([]chat.ModelInfo, error)
	SetDefaultModel(ctx context.Context, userID, modelID string) error
}

// Handler routes the parley HTTP API.
type Handler struct {
	chat        ChatService
	store       storage.ConversationStore
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates a handler backed by the given chat service and
// conversation store.
func NewHandler(svc ChatService, store storage.ConversationStore, maxBodySize int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20 // 1 MB
	}
	return &Handler{chat: svc, store: store, maxBodySize: maxBodySize, logger: logger}
}

// Routes builds the route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", h.handleChat)
	mux.HandleFunc("POST /v1/chat/stream", h.handleStreamChat)
	mux.HandleFunc("GET /v1/models", h.handleListModels)
	mux.HandleFunc("POST /v1/models/{id}/test", h.handleTestModel)
	mux.HandleFunc("GET /v1/conversations", h.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", h.handleGetConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", h.handleListMessages)
	mux.HandleFunc("DELETE /v1/conversations/{id}", h.handleArchiveConversation)
	mux.HandleFunc("PUT /v1/preferences/model", h.handleSetDefaultModel)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req api.ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = userID

	result, err := h.chat.ProcessChat(r.Context(), &req)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req api.ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = userID

	events, err := h.chat.ProcessStreamChat(r.Context(), &req)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	sw := newStreamWriter(w)
	for ev := range events {
		if err := sw.WriteEvent(ev); err != nil {
			// The client is gone; the context cancellation stops the
			// producer, we just drain what remains.
			debug.Log(debug.Transport, "dropping stream client", "error", err)
			for range events {
			}
			return
		}
	}
	if err := sw.Finish(); err != nil {
		debug.Log(debug.Transport, "closing stream", "error", err)
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.chat.ListAvailableModels(r.Context())
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if models == nil {
		models = []chat.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handler) handleTestModel(w http.ResponseWriter, r *http.Request) {
	var req chat.TestRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ModelID = r.PathValue("id")

	text, err := h.chat.TestModel(r.Context(), &req)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if convs == nil {
		convs = []*api.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	conv, err := h.store.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	// Ownership check before exposing the history.
	conv, err := h.store.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*api.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) handleArchiveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.store.ArchiveConversation(r.Context(), r.PathValue("id"), userID); err != nil {
		h.writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetDefaultModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ModelID string `json:"model_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.ModelID == "" {
		WriteAPIError(w, api.NewInvalidRequestError("model_id", "model_id must not be empty"))
		return
	}

	if err := h.chat.SetDefaultModel(r.Context(), userID, req.ModelID); err != nil {
		WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireUser extracts the caller identity or writes a 400 response.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		WriteAPIError(w, api.NewInvalidRequestError(userIDHeader, "missing user identity header"))
		return "", false
	}
	return userID, true
}

// decode reads a JSON body with a size cap. It reports whether decoding
// succeeded; on failure the error response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteAPIError(w, api.NewInvalidRequestError("body",
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
			return false
		}
		WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// writeStorageError maps storage sentinels to API errors.
func (h *Handler) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		WriteAPIError(w, api.NewNotFoundError("conversation not found"))
		return
	}
	WriteAPIError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
