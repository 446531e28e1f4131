// Package chat implements the generation orchestration layer: conversation
// and model resolution, prompt assembly, synchronous and streaming chat
// turns, and token-usage accounting.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/storage"
)

// titleLimit is the maximum conversation title length in runes; longer
// first messages are cut and suffixed with "...".
const titleLimit = 50

// Orchestrator drives chat turns. It holds no per-request state: every
// call resolves its conversation and model from storage, builds the prompt
// from persisted history, and obtains the backend handle from the registry.
type Orchestrator struct {
	store    storage.ConversationStore
	catalog  storage.ModelCatalog
	registry *engine.Registry
	estimate TokenEstimator

	now func() time.Time
}

// NewOrchestrator creates an orchestrator. A nil estimator selects the
// word-count heuristic.
func NewOrchestrator(store storage.ConversationStore, catalog storage.ModelCatalog, registry *engine.Registry, estimate TokenEstimator) *Orchestrator {
	if estimate == nil {
		estimate = EstimateByWords
	}
	return &Orchestrator{
		store:    store,
		catalog:  catalog,
		registry: registry,
		estimate: estimate,
		now:      time.Now,
	}
}

// turn is the resolved setup shared by the synchronous and streaming paths:
// the conversation, its model, the backend handle, and the assembled prompt.
type turn struct {
	conv     *api.Conversation
	model    *api.ModelDescriptor
	eng      engine.Engine
	prompt   string
	sampling api.SamplingParams
}

// observe records one generation outcome in the backend metrics.
func (t *turn) observe(start time.Time, err error) {
	kind, model := string(t.model.Kind), t.model.ModelID
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.GenerationsTotal.WithLabelValues(kind, model, status).Inc()
	observability.GenerationLatency.WithLabelValues(kind, model).Observe(time.Since(start).Seconds())
}

// ProcessChat handles one synchronous chat turn: persist the user message,
// build the prompt, generate, persist the assistant message with a
// heuristic token count, and touch the conversation's activity timestamp.
func (o *Orchestrator) ProcessChat(ctx context.Context, req *api.ChatRequest) (*api.ChatResult, error) {
	t, err := o.prepareTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := t.eng.Generate(ctx, &engine.Request{Prompt: t.prompt, Sampling: t.sampling})
	t.observe(start, err)
	if err != nil {
		return nil, err
	}

	msg, err := o.recordAssistant(ctx, t.conv, text)
	if err != nil {
		return nil, err
	}
	observability.TokensTotal.WithLabelValues(string(t.model.Kind), t.model.ModelID).
		Add(float64(msg.TokensUsed))

	return &api.ChatResult{
		Response:       text,
		ConversationID: t.conv.ID,
		MessageID:      msg.ID,
		TokensUsed:     msg.TokensUsed,
		ModelUsed:      t.model.Name,
	}, nil
}

// ProcessStreamChat handles one streaming chat turn. Setup failures
// (resolution, persistence of the user message, engine construction) are
// returned synchronously; after that the returned channel carries chunk
// events followed by exactly one terminal done or error event and is then
// closed. On a mid-stream backend failure nothing is persisted for the
// assistant turn, even though the caller has observed partial chunks.
func (o *Orchestrator) ProcessStreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamEvent, error) {
	t, err := o.prepareTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	events, err := t.eng.Stream(ctx, &engine.Request{Prompt: t.prompt, Sampling: t.sampling})
	if err != nil {
		return nil, err
	}

	// One in-flight event: the producer blocks until the consumer pulls.
	out := make(chan api.StreamEvent, 1)

	go func() {
		defer close(out)

		start := time.Now()
		var accumulated []byte
		for ev := range events {
			switch ev.Type {
			case engine.EventChunk:
				accumulated = append(accumulated, ev.Text...)
				if !o.emit(ctx, out, api.StreamEvent{
					Chunk:          ev.Text,
					ConversationID: t.conv.ID,
					ModelUsed:      t.model.Name,
				}) {
					return
				}

			case engine.EventError:
				t.observe(start, ev.Err)
				debug.Log(debug.Chat, "stream failed mid-generation",
					"conversation", t.conv.ID, "error", ev.Err)
				o.emit(ctx, out, api.StreamEvent{Error: errorMessage(ev.Err)})
				return

			case engine.EventDone:
				t.observe(start, nil)
				msg, err := o.recordAssistant(ctx, t.conv, string(accumulated))
				if err != nil {
					o.emit(ctx, out, api.StreamEvent{Error: errorMessage(err)})
					return
				}
				observability.TokensTotal.WithLabelValues(string(t.model.Kind), t.model.ModelID).
					Add(float64(msg.TokensUsed))
				o.emit(ctx, out, api.StreamEvent{
					Done:           true,
					ConversationID: t.conv.ID,
					ModelUsed:      t.model.Name,
					MessageID:      msg.ID,
					TokensUsed:     msg.TokensUsed,
				})
				return
			}
		}

		// The engine closed its channel without a terminal event. Treat it
		// as a backend failure so the stream contract still holds.
		o.emit(ctx, out, api.StreamEvent{Error: "backend stream ended without completion"})
	}()

	return out, nil
}

// TestRequest parameterizes a model self-test. Sampling fields are
// pointers so an explicit zero is distinguishable from "use the default".
type TestRequest struct {
	ModelID     string   `json:"-"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// TestModel runs a direct generation against one model with no
// conversation and no persistence, for diagnostics.
func (o *Orchestrator) TestModel(ctx context.Context, req *TestRequest) (string, error) {
	if req.Prompt == "" {
		return "", api.NewInvalidRequestError("prompt", "prompt must not be empty")
	}

	model, err := o.catalog.GetModel(ctx, req.ModelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", api.NewNotFoundError("model not found: " + req.ModelID)
		}
		return "", err
	}

	eng, err := o.registry.GetOrCreate(model)
	if err != nil {
		return "", err
	}

	return eng.Generate(ctx, &engine.Request{
		Prompt:   req.Prompt,
		Sampling: resolveSampling(model, req.Temperature, req.TopP, req.MaxTokens),
	})
}

// ModelInfo is one entry of the available-model listing: catalog identity
// plus live backend metadata or an error annotation.
type ModelInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Backend     engine.Info `json:"backend"`
}

// ListAvailableModels enumerates active catalog models with backend
// metadata. Per-model failures are isolated: a model whose engine cannot be
// constructed appears with an error annotation instead of failing the
// whole listing.
func (o *Orchestrator) ListAvailableModels(ctx context.Context) ([]ModelInfo, error) {
	models, err := o.catalog.ListActiveModels(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(models))
	for _, model := range models {
		info := ModelInfo{
			ID:          model.ID,
			Name:        model.Name,
			Description: model.Description,
		}

		eng, err := o.registry.GetOrCreate(model)
		if err != nil {
			debug.Log(debug.Chat, "skipping backend info for unavailable model",
				"model", model.ID, "error", err)
			info.Backend = engine.Info{
				Kind:    model.Kind,
				ModelID: model.ModelID,
				Error:   err.Error(),
			}
		} else {
			info.Backend = eng.Info(ctx)
		}

		out = append(out, info)
	}

	return out, nil
}

// SetDefaultModel stores the user's default model preference after
// validating the model exists.
func (o *Orchestrator) SetDefaultModel(ctx context.Context, userID, modelID string) error {
	if err := o.catalog.SetDefaultModel(ctx, userID, modelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return api.NewNotFoundError("model not found: " + modelID)
		}
		return err
	}
	return nil
}

// prepareTurn performs the setup shared by both chat paths: resolve or
// create the conversation, persist the user message, assemble the prompt
// from the full history, and obtain the engine handle.
func (o *Orchestrator) prepareTurn(ctx context.Context, req *api.ChatRequest) (*turn, error) {
	if req.Message == "" {
		return nil, api.NewInvalidRequestError("message", "message must not be empty")
	}

	conv, model, err := o.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg := &api.Message{
		ID:             api.NewMessageID(),
		ConversationID: conv.ID,
		Role:           api.RoleUser,
		Content:        req.Message,
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	eng, err := o.registry.GetOrCreate(model)
	if err != nil {
		return nil, err
	}

	prompt := BuildContext(history, req.SystemPrompt)
	debug.Trace(debug.Chat, "assembled prompt",
		"conversation", conv.ID, "prompt", prompt)

	return &turn{
		conv:     conv,
		model:    model,
		eng:      eng,
		prompt:   prompt,
		sampling: resolveSampling(model, req.Temperature, req.TopP, req.MaxTokens),
	}, nil
}

// resolveConversation loads the requested conversation (with ownership
// check) or creates a new one against the resolved model.
func (o *Orchestrator) resolveConversation(ctx context.Context, req *api.ChatRequest) (*api.Conversation, *api.ModelDescriptor, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.ConversationID, req.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, api.NewNotFoundError("conversation not found: " + req.ConversationID)
			}
			return nil, nil, err
		}

		model, err := o.catalog.GetModel(ctx, conv.ModelID)
		if err != nil {
			return nil, nil, err
		}
		return conv, model, nil
	}

	model, err := o.resolveModel(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	now := o.now()
	conv := &api.Conversation{
		ID:        api.NewConversationID(),
		UserID:    req.UserID,
		Title:     truncateTitle(req.Message),
		ModelID:   model.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, nil, err
	}

	debug.Log(debug.Chat, "created conversation",
		"conversation", conv.ID, "model", model.ID, "user", req.UserID)

	return conv, model, nil
}

// resolveModel picks the model for a brand-new conversation by priority:
// explicit request model, the user's stored default, then the first active
// catalog model.
func (o *Orchestrator) resolveModel(ctx context.Context, req *api.ChatRequest) (*api.ModelDescriptor, error) {
	if req.ModelID != "" {
		model, err := o.catalog.GetModel(ctx, req.ModelID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, api.NewNotFoundError("model not found: " + req.ModelID)
			}
			return nil, err
		}
		return model, nil
	}

	model, err := o.catalog.DefaultModel(ctx, req.UserID)
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	active, err := o.catalog.ListActiveModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, api.NewNoModelAvailableError()
	}
	return active[0], nil
}

// recordAssistant persists the assistant message with the estimated token
// count and touches the conversation's activity timestamp.
func (o *Orchestrator) recordAssistant(ctx context.Context, conv *api.Conversation, text string) (*api.Message, error) {
	msg := &api.Message{
		ID:             api.NewMessageID(),
		ConversationID: conv.ID,
		Role:           api.RoleAssistant,
		Content:        text,
		TokensUsed:     o.estimate(text),
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := o.store.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// emit delivers one event unless the caller has gone away. It reports
// whether the event was delivered.
func (o *Orchestrator) emit(ctx context.Context, out chan<- api.StreamEvent, ev api.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveSampling merges request overrides onto the model's generation
// defaults. Pointer fields let an explicit zero (greedy temperature)
// override a non-zero default.
func resolveSampling(model *api.ModelDescriptor, temperature, topP *float64, maxTokens *int) api.SamplingParams {
	params := api.SamplingParams{
		Temperature: model.Temperature,
		TopP:        model.TopP,
		MaxTokens:   model.MaxTokens,
	}
	if temperature != nil {
		params.Temperature = *temperature
	}
	if topP != nil {
		params.TopP = *topP
	}
	if maxTokens != nil {
		params.MaxTokens = *maxTokens
	}
	return params
}

// truncateTitle derives a conversation title from the first message: cut
// at 50 runes with a "..." suffix when longer.
func truncateTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleLimit {
		return message
	}
	return string(runes[:titleLimit]) + "..."
}

// errorMessage extracts a user-facing message from an error.
func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
