// Package local implements the in-process generation engine. Model
// weights are loaded into memory at construction time; generation is a
// sampling loop over unigram/bigram logits with temperature and top-p
// filtering.
package local

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/engine"
)

const defaultMaxTokens = 256

// Engine is the in-process variant. A single handle may be shared by
// concurrent requests; a naive in-process model is not safe for
// concurrent forward passes, so every generation holds mu for its whole
// duration.
type Engine struct {
	modelID string
	device  string
	path    string

	mu    sync.Mutex
	model *model
	rng   *rand.Rand
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New loads the weights file named by the descriptor's "weights_path"
// config entry and builds the tokenizer. Any failure is a
// backend_initialization error, fatal to this attempt.
//
// The optional "seed" config entry fixes the sampler RNG for
// reproducible output.
func New(desc *api.ModelDescriptor) (*Engine, error) {
	path := desc.ConfigValue("weights_path")
	if path == "" {
		return nil, api.NewBackendInitError("local backend requires a weights_path config entry")
	}

	slog.Info("loading local model", "model", desc.ModelID, "path", path)

	m, err := loadModel(path)
	if err != nil {
		return nil, api.NewBackendInitError("loading local model " + desc.ModelID + ": " + err.Error())
	}

	var seed uint64
	if s := desc.ConfigValue("seed"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, api.NewBackendInitError("local backend seed must be an unsigned integer: " + s)
		}
		seed = v
	} else {
		seed = uint64(time.Now().UnixNano())
	}

	device := desc.ConfigValue("device")
	if device == "" {
		device = "cpu"
	}

	return &Engine{
		modelID: desc.ModelID,
		device:  device,
		path:    path,
		model:   m,
		rng:     rand.New(rand.NewPCG(seed, seed)),
	}, nil
}

// Kind returns api.BackendLocal.
func (e *Engine) Kind() api.BackendKind {
	return api.BackendLocal
}

// Generate runs the sampling loop to completion and returns the
// continuation (the prompt itself is not echoed back).
func (e *Engine) Generate(ctx context.Context, req *engine.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.model.encode(req.Prompt)
	var generated []int

	for i := 0; i < maxTokens(req); i++ {
		if err := ctx.Err(); err != nil {
			return "", api.NewGenerationError("generation cancelled: " + err.Error())
		}
		next, eos := e.step(seq, req.Sampling)
		if eos {
			break
		}
		seq = append(seq, next)
		generated = append(generated, next)
	}

	return strings.TrimSpace(e.model.decode(generated)), nil
}

// Stream emits one token per step. Each step re-derives the next token
// from the full grown sequence; no incremental state is carried between
// steps, so chunk granularity matches Generate's sampling exactly. The
// stream is finite and not restartable: it ends at the end-of-sequence
// token or the max-token bound.
func (e *Engine) Stream(ctx context.Context, req *engine.Request) (<-chan engine.Event, error) {
	ch := make(chan engine.Event, 16)

	go func() {
		defer close(ch)

		e.mu.Lock()
		defer e.mu.Unlock()

		seq := e.model.encode(req.Prompt)

		for i := 0; i < maxTokens(req); i++ {
			if err := ctx.Err(); err != nil {
				ch <- engine.Event{Type: engine.EventError, Err: api.NewGenerationError("generation cancelled: " + err.Error())}
				return
			}
			next, eos := e.step(seq, req.Sampling)
			if eos {
				break
			}
			seq = append(seq, next)

			select {
			case ch <- engine.Event{Type: engine.EventChunk, Text: e.model.vocab[next]}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- engine.Event{Type: engine.EventDone}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// step samples the next token given the current sequence. Must be called
// with mu held. The second return value reports end-of-sequence.
func (e *Engine) step(seq []int, params api.SamplingParams) (int, bool) {
	prev := -1
	if len(seq) > 0 {
		prev = seq[len(seq)-1]
	}
	next := sample(e.model.logits(prev), params.Temperature, params.TopP, e.rng.Float64)
	return next, next == e.model.eosID
}

// Info returns the loaded model's metadata. The model is already in
// memory, so this never probes anything.
func (e *Engine) Info(_ context.Context) engine.Info {
	return engine.Info{
		Kind:    api.BackendLocal,
		ModelID: e.modelID,
		Device:  e.device,
	}
}

// Close drops the loaded weights.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = nil
	return nil
}

func maxTokens(req *engine.Request) int {
	if req.Sampling.MaxTokens > 0 {
		return req.Sampling.MaxTokens
	}
	return defaultMaxTokens
}
