package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/engine"
)

// writeWeights writes a small deterministic model: with greedy sampling
// the bigram chain forces "hello" -> " " -> "world" -> <eos>.
func writeWeights(t *testing.T) string {
	t.Helper()

	wf := weightsFile{
		Model:   "tiny-test",
		Vocab:   []string{"hello", " ", "world", "<eos>"},
		EOS:     "<eos>",
		Unigram: []float64{5, 0, 1, 0},
		Bigram: map[string]map[string]float64{
			"0": {"1": 10},
			"1": {"2": 10},
			"2": {"3": 10},
		},
	}

	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatalf("marshaling weights: %v", err)
	}

	path := filepath.Join(t.TempDir(), "weights.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing weights: %v", err)
	}
	return path
}

func localDescriptor(t *testing.T, config map[string]string) *api.ModelDescriptor {
	t.Helper()
	if config == nil {
		config = map[string]string{}
	}
	if config["weights_path"] == "" {
		config["weights_path"] = writeWeights(t)
	}
	return &api.ModelDescriptor{
		ID:      "tiny",
		Kind:    api.BackendLocal,
		ModelID: "tiny-test",
		Config:  config,
	}
}

func greedy(maxTokens int) api.SamplingParams {
	return api.SamplingParams{Temperature: 0, TopP: 1, MaxTokens: maxTokens}
}

func TestNew_RequiresWeightsPath(t *testing.T) {
	_, err := New(&api.ModelDescriptor{Kind: api.BackendLocal, ModelID: "x"})
	if err == nil {
		t.Fatal("expected error for missing weights_path")
	}
	apiErr, ok := err.(*api.APIError)
	if !ok || apiErr.Type != api.ErrorTypeBackendInit {
		t.Fatalf("error = %v, want backend_initialization", err)
	}
}

func TestNew_LoadFailures(t *testing.T) {
	tests := []struct {
		name string
		wf   weightsFile
	}{
		{
			name: "empty vocabulary",
			wf:   weightsFile{Unigram: []float64{}},
		},
		{
			name: "unigram length mismatch",
			wf:   weightsFile{Vocab: []string{"a", "b"}, Unigram: []float64{0}},
		},
		{
			name: "eos not in vocabulary",
			wf:   weightsFile{Vocab: []string{"a"}, EOS: "<eos>", Unigram: []float64{0}},
		},
		{
			name: "duplicate token",
			wf:   weightsFile{Vocab: []string{"a", "a"}, Unigram: []float64{0, 0}},
		},
		{
			name: "bigram key out of range",
			wf: weightsFile{Vocab: []string{"a"}, Unigram: []float64{0},
				Bigram: map[string]map[string]float64{"9": {"0": 1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _ := json.Marshal(tt.wf)
			path := filepath.Join(t.TempDir(), "bad.json")
			os.WriteFile(path, data, 0o644)

			_, err := New(localDescriptor(t, map[string]string{"weights_path": path}))
			if err == nil {
				t.Fatal("expected load failure")
			}
			apiErr, ok := err.(*api.APIError)
			if !ok || apiErr.Type != api.ErrorTypeBackendInit {
				t.Fatalf("error = %v, want backend_initialization", err)
			}
		})
	}
}

func TestGenerate_GreedyDeterministic(t *testing.T) {
	eng, err := New(localDescriptor(t, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	text, err := eng.Generate(context.Background(), &engine.Request{
		Prompt:   "unknown prompt bytes",
		Sampling: greedy(16),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
}

func TestGenerate_ContinuationOnly(t *testing.T) {
	eng, err := New(localDescriptor(t, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	// The prompt tokenizes to "hello", so generation continues from there
	// and the prompt itself is not echoed back.
	text, err := eng.Generate(context.Background(), &engine.Request{
		Prompt:   "hello",
		Sampling: greedy(16),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "world" {
		t.Errorf("text = %q, want %q", text, "world")
	}
}

func TestGenerate_MaxTokensBound(t *testing.T) {
	// No EOS reachable: a single token looping onto itself.
	wf := weightsFile{
		Model:   "loop",
		Vocab:   []string{"a"},
		Unigram: []float64{0},
	}
	data, _ := json.Marshal(wf)
	path := filepath.Join(t.TempDir(), "loop.json")
	os.WriteFile(path, data, 0o644)

	eng, err := New(localDescriptor(t, map[string]string{"weights_path": path}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	text, err := eng.Generate(context.Background(), &engine.Request{
		Sampling: greedy(5),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "aaaaa" {
		t.Errorf("text = %q, want exactly 5 tokens", text)
	}
}

func TestGenerate_SeededSamplingIsReproducible(t *testing.T) {
	path := writeWeights(t)
	sampling := api.SamplingParams{Temperature: 1.0, TopP: 1.0, MaxTokens: 8}

	run := func() string {
		eng, err := New(localDescriptor(t, map[string]string{
			"weights_path": path,
			"seed":         "42",
		}))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer eng.Close()

		text, err := eng.Generate(context.Background(), &engine.Request{Sampling: sampling})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return text
	}

	if first, second := run(), run(); first != second {
		t.Errorf("seeded runs differ: %q vs %q", first, second)
	}
}

func TestGenerate_ConcurrentUseOfSharedHandle(t *testing.T) {
	// One handle is shared by all requests for a key; the engine mutex
	// must serialize generations, including access to the sampler RNG.
	// Run under -race to verify; the greedy assertions additionally pin
	// that concurrent calls never interleave their decode state.
	eng, err := New(localDescriptor(t, map[string]string{"seed": "42"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	const workers = 8
	results := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// Sampled call: exercises the shared RNG concurrently.
			if _, err := eng.Generate(context.Background(), &engine.Request{
				Sampling: api.SamplingParams{Temperature: 1.0, TopP: 1.0, MaxTokens: 8},
			}); err != nil {
				errs[i] = err
				return
			}

			results[i], errs[i] = eng.Generate(context.Background(), &engine.Request{
				Sampling: greedy(16),
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "hello world" {
			t.Errorf("worker %d got %q, want %q", i, results[i], "hello world")
		}
	}
}

func TestStream_OneTokenPerChunk(t *testing.T) {
	eng, err := New(localDescriptor(t, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	events, err := eng.Stream(context.Background(), &engine.Request{
		Sampling: greedy(16),
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []string
	var terminal *engine.Event
	for ev := range events {
		if terminal != nil {
			t.Fatalf("event %+v after terminal", ev)
		}
		switch ev.Type {
		case engine.EventChunk:
			chunks = append(chunks, ev.Text)
		default:
			e := ev
			terminal = &e
		}
	}

	if terminal == nil || terminal.Type != engine.EventDone {
		t.Fatalf("terminal = %+v, want done", terminal)
	}

	want := []string{"hello", " ", "world"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestStream_Cancellation(t *testing.T) {
	// Endless model: cancellation is the only way the stream ends.
	wf := weightsFile{Model: "loop", Vocab: []string{"a"}, Unigram: []float64{0}}
	data, _ := json.Marshal(wf)
	path := filepath.Join(t.TempDir(), "loop.json")
	os.WriteFile(path, data, 0o644)

	eng, err := New(localDescriptor(t, map[string]string{"weights_path": path}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := eng.Stream(ctx, &engine.Request{
		Sampling: api.SamplingParams{Temperature: 0, MaxTokens: 1 << 20},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	<-events
	cancel()

	// The producer must wind down; the channel closes after at most one
	// in-flight error event.
	sawChunksAfterTerminal := false
	terminal := false
	for ev := range events {
		if terminal && ev.Type == engine.EventChunk {
			sawChunksAfterTerminal = true
		}
		if ev.Type != engine.EventChunk {
			terminal = true
		}
	}
	if sawChunksAfterTerminal {
		t.Error("chunk emitted after terminal event")
	}
}

func TestEncodeSkipsUnknownBytes(t *testing.T) {
	m, err := loadModel(writeWeights(t))
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}

	ids := m.encode("xxhello??world")
	if len(ids) != 2 || m.vocab[ids[0]] != "hello" || m.vocab[ids[1]] != "world" {
		t.Errorf("encode = %v, want [hello world] ids", ids)
	}
}

func TestSampleGreedyArgmax(t *testing.T) {
	got := sample([]float64{0.1, 3.5, 2.2}, 0, 1, func() float64 { return 0.99 })
	if got != 1 {
		t.Errorf("greedy sample = %d, want argmax 1", got)
	}
}

func TestSampleTopPNarrowsToArgmax(t *testing.T) {
	// With a tiny topP only the most likely token survives the cut,
	// regardless of the random draw.
	logits := []float64{10, 0, 0}
	for _, draw := range []float64{0.0, 0.5, 0.999} {
		d := draw
		got := sample(logits, 1.0, 0.01, func() float64 { return d })
		if got != 0 {
			t.Errorf("sample(draw=%v) = %d, want 0", draw, got)
		}
	}
}
