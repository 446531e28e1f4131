// Package remote implements the generic remote-HTTP generation engine:
// a JSON POST of prompt plus sampling parameters to a configured URL,
// with an optional bearer token. Streaming reads a line-delimited JSON
// response.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/engine"
)

// generateTimeout bounds the non-streaming call. Streaming requests use
// a client without a timeout because a stream can legitimately outlast
// any fixed bound; their lifetime is controlled by context cancellation.
const generateTimeout = 30 * time.Second

// Engine is the remote-HTTP variant. The handle is an HTTP client and
// safe for concurrent use.
type Engine struct {
	modelID string
	url     string
	apiKey  string
	client  *http.Client
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// generationRequest is the wire request: prompt plus sampling parameters.
type generationRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream,omitempty"`
}

// generationResponse is the wire response. Backends differ on the field
// name; "response" wins, "text" is the fallback.
type generationResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
}

// New builds a handle for the API named by the descriptor's "api_url"
// config entry. The optional "api_key" entry is sent as a bearer token.
func New(desc *api.ModelDescriptor) (*Engine, error) {
	url := desc.ConfigValue("api_url")
	if url == "" {
		return nil, api.NewBackendInitError("remote backend requires an api_url config entry")
	}

	return &Engine{
		modelID: desc.ModelID,
		url:     url,
		apiKey:  desc.ConfigValue("api_key"),
		client:  &http.Client{Timeout: generateTimeout},
	}, nil
}

// Kind returns api.BackendRemote.
func (e *Engine) Kind() api.BackendKind {
	return api.BackendRemote
}

// Generate posts the prompt and returns the response text. Non-success
// status codes and transport failures are generation errors.
func (e *Engine) Generate(ctx context.Context, req *engine.Request) (string, error) {
	httpResp, err := e.post(ctx, e.client, req, false)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	var out generationResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return "", api.NewGenerationError("parsing remote response: " + err.Error())
	}
	if out.Response != "" {
		return out.Response, nil
	}
	return out.Text, nil
}

// Stream posts the prompt with stream:true and pumps the line-delimited
// response into the event channel.
func (e *Engine) Stream(ctx context.Context, req *engine.Request) (<-chan engine.Event, error) {
	// No timeout for streaming; the context controls the request lifetime.
	streamClient := &http.Client{Transport: e.client.Transport}

	httpResp, err := e.post(ctx, streamClient, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan engine.Event, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		parseLineStream(ctx, httpResp.Body, ch)
	}()

	return ch, nil
}

// post builds and sends the generation request, mapping transport and
// status failures to generation errors. The caller owns the response body
// on success.
func (e *Engine) post(ctx context.Context, client *http.Client, req *engine.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generationRequest{
		Prompt:      req.Prompt,
		Model:       e.modelID,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
		MaxTokens:   req.Sampling.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, api.NewGenerationError("marshaling remote request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewGenerationError("building remote request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, api.NewGenerationError("calling remote API: " + err.Error())
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		httpResp.Body.Close()
		return nil, api.NewGenerationError("remote API returned status " + httpResp.Status)
	}

	return httpResp, nil
}

// Info describes the configured endpoint. There is no metadata protocol
// to probe, so this never fails.
func (e *Engine) Info(_ context.Context) engine.Info {
	return engine.Info{
		Kind:      api.BackendRemote,
		ModelID:   e.modelID,
		BaseURL:   e.url,
		HasAPIKey: e.apiKey != "",
	}
}

// Close releases idle connections.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
