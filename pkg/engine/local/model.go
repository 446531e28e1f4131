package local

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
)

// weightsFile is the on-disk model format: a vocabulary of token strings,
// an end-of-sequence token, unigram logits, and sparse bigram transition
// logits keyed by token id.
type weightsFile struct {
	Model   string                        `json:"model"`
	Vocab   []string                      `json:"vocab"`
	EOS     string                        `json:"eos"`
	Unigram []float64                     `json:"unigram"`
	Bigram  map[string]map[string]float64 `json:"bigram,omitempty"`
}

// model holds the loaded weights plus the tokenizer index built from the
// vocabulary.
type model struct {
	name    string
	vocab   []string
	eosID   int
	unigram []float64
	bigram  map[int]map[int]float64

	// tokenizer index: token string -> id, plus the longest token length
	// for the longest-prefix scan.
	index       map[string]int
	maxTokenLen int
}

// loadModel reads and validates a weights file and builds the tokenizer.
func loadModel(path string) (*model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file: %w", err)
	}

	var wf weightsFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing weights file: %w", err)
	}

	if len(wf.Vocab) == 0 {
		return nil, fmt.Errorf("weights file has an empty vocabulary")
	}
	if len(wf.Unigram) != len(wf.Vocab) {
		return nil, fmt.Errorf("unigram logits length %d does not match vocabulary size %d",
			len(wf.Unigram), len(wf.Vocab))
	}

	m := &model{
		name:    wf.Model,
		vocab:   wf.Vocab,
		eosID:   -1,
		unigram: wf.Unigram,
		bigram:  make(map[int]map[int]float64, len(wf.Bigram)),
		index:   make(map[string]int, len(wf.Vocab)),
	}

	for id, tok := range wf.Vocab {
		if tok == "" {
			return nil, fmt.Errorf("vocabulary entry %d is empty", id)
		}
		if _, dup := m.index[tok]; dup {
			return nil, fmt.Errorf("duplicate vocabulary entry %q", tok)
		}
		m.index[tok] = id
		if len(tok) > m.maxTokenLen {
			m.maxTokenLen = len(tok)
		}
		if tok == wf.EOS {
			m.eosID = id
		}
	}

	if wf.EOS != "" && m.eosID < 0 {
		return nil, fmt.Errorf("eos token %q is not in the vocabulary", wf.EOS)
	}

	for prevStr, row := range wf.Bigram {
		prev, err := strconv.Atoi(prevStr)
		if err != nil || prev < 0 || prev >= len(wf.Vocab) {
			return nil, fmt.Errorf("bigram row key %q is not a valid token id", prevStr)
		}
		dst := make(map[int]float64, len(row))
		for nextStr, logit := range row {
			next, err := strconv.Atoi(nextStr)
			if err != nil || next < 0 || next >= len(wf.Vocab) {
				return nil, fmt.Errorf("bigram entry %q->%q is not a valid token id", prevStr, nextStr)
			}
			dst[next] = logit
		}
		m.bigram[prev] = dst
	}

	return m, nil
}

// encode tokenizes text by longest-prefix match against the vocabulary.
// Bytes that match no vocabulary entry are skipped.
func (m *model) encode(text string) []int {
	var ids []int
	for i := 0; i < len(text); {
		matched := false
		limit := m.maxTokenLen
		if rem := len(text) - i; rem < limit {
			limit = rem
		}
		for l := limit; l >= 1; l-- {
			if id, ok := m.index[text[i:i+l]]; ok {
				ids = append(ids, id)
				i += l
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return ids
}

// decode concatenates the token strings for the given ids.
func (m *model) decode(ids []int) string {
	var out []byte
	for _, id := range ids {
		out = append(out, m.vocab[id]...)
	}
	return string(out)
}

// logits returns the next-token logits given the preceding token id
// (-1 when the sequence is empty): the unigram distribution with the
// bigram row for prev added on top.
func (m *model) logits(prev int) []float64 {
	out := make([]float64, len(m.unigram))
	copy(out, m.unigram)
	if row, ok := m.bigram[prev]; ok {
		for next, logit := range row {
			out[next] += logit
		}
	}
	return out
}

// sample picks a token id from the logits using temperature scaling and
// top-p nucleus filtering. temperature <= 0 means greedy argmax. rnd is a
// function returning a uniform value in [0, 1).
func sample(logits []float64, temperature, topP float64, rnd func() float64) int {
	if temperature <= 0 {
		best := 0
		for i, l := range logits {
			if l > logits[best] {
				best = i
			}
		}
		return best
	}

	// Softmax with temperature scaling, shifted by the max for stability.
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		p := math.Exp((l - maxLogit) / temperature)
		probs[i] = p
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}

	// Top-p nucleus: keep the smallest set of tokens whose cumulative
	// probability reaches topP, then renormalize.
	ids := make([]int, len(probs))
	for i := range ids {
		ids[i] = i
	}
	sort.Slice(ids, func(a, b int) bool { return probs[ids[a]] > probs[ids[b]] })

	if topP <= 0 || topP > 1 {
		topP = 1
	}
	var cum, kept float64
	cut := len(ids)
	for i, id := range ids {
		cum += probs[id]
		if cum >= topP {
			cut = i + 1
			break
		}
	}
	for _, id := range ids[:cut] {
		kept += probs[id]
	}

	target := rnd() * kept
	var acc float64
	for _, id := range ids[:cut] {
		acc += probs[id]
		if target < acc {
			return id
		}
	}
	return ids[cut-1]
}
