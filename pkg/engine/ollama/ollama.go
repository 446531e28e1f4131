// Package ollama implements the daemon-backed generation engine. It
// delegates generation to a local Ollama daemon through the langchaingo
// client and forwards the daemon's native per-chunk stream.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/engine"
)

const defaultBaseURL = "http://localhost:11434"

// infoTimeout bounds the /api/tags metadata probe only; generation calls
// are controlled by the caller's context.
const infoTimeout = 10 * time.Second

// Engine is the daemon-backed variant. The underlying client is an HTTP
// client and safe for concurrent use; the daemon itself schedules
// concurrent generations.
type Engine struct {
	modelID string
	baseURL string
	client  *ollama.LLM
	http    *http.Client
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New opens a client against the daemon named by the descriptor's
// "base_url" config entry (default http://localhost:11434). Client
// construction failure is a backend_initialization error.
func New(desc *api.ModelDescriptor) (*Engine, error) {
	baseURL := desc.ConfigValue("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(desc.ModelID),
	)
	if err != nil {
		return nil, api.NewBackendInitError("creating ollama client for " + desc.ModelID + ": " + err.Error())
	}

	return &Engine{
		modelID: desc.ModelID,
		baseURL: baseURL,
		client:  client,
		http:    &http.Client{Timeout: infoTimeout},
	}, nil
}

// Kind returns api.BackendOllama.
func (e *Engine) Kind() api.BackendKind {
	return api.BackendOllama
}

// Generate performs one blocking daemon call.
func (e *Engine) Generate(ctx context.Context, req *engine.Request) (string, error) {
	out, err := e.client.Call(ctx, req.Prompt, callOptions(req)...)
	if err != nil {
		return "", api.NewGenerationError("ollama generation for " + e.modelID + ": " + err.Error())
	}
	return out, nil
}

// Stream forwards the daemon's native per-chunk stream. The streaming
// callback pushes each fragment onto the event channel; a cancelled
// context aborts the callback, which stops the daemon call.
func (e *Engine) Stream(ctx context.Context, req *engine.Request) (<-chan engine.Event, error) {
	ch := make(chan engine.Event, 16)

	opts := append(callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		select {
		case ch <- engine.Event{Type: engine.EventChunk, Text: string(chunk)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	go func() {
		defer close(ch)

		_, err := e.client.Call(ctx, req.Prompt, opts...)
		if err != nil {
			select {
			case ch <- engine.Event{Type: engine.EventError, Err: api.NewGenerationError("ollama stream for " + e.modelID + ": " + err.Error())}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- engine.Event{Type: engine.EventDone}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// tagsResponse is the shape of the daemon's GET /api/tags answer.
type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// Info asks the daemon for its model list and picks out this engine's
// model. The langchaingo client has no listing API, so this probes
// /api/tags directly. Probe failures annotate the result instead of
// failing it.
func (e *Engine) Info(ctx context.Context) engine.Info {
	info := engine.Info{
		Kind:    api.BackendOllama,
		ModelID: e.modelID,
		BaseURL: e.baseURL,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		info.Error = err.Error()
		return info
	}

	resp, err := e.http.Do(req)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Error = "ollama daemon returned status " + resp.Status
		return info
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		info.Error = "parsing ollama tags response: " + err.Error()
		return info
	}

	for _, m := range tags.Models {
		if m.Name == e.modelID || strings.TrimSuffix(m.Name, ":latest") == e.modelID {
			info.SizeBytes = m.Size
			return info
		}
	}

	debug.Log(debug.Engines, "model not present in ollama tags", "model", e.modelID)
	return info
}

// Close releases the metadata probe client; the langchaingo client holds
// no long-lived connections of its own.
func (e *Engine) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

func callOptions(req *engine.Request) []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(req.Sampling.Temperature),
		llms.WithTopP(req.Sampling.TopP),
		llms.WithMaxTokens(req.Sampling.MaxTokens),
	}
}
