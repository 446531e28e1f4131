package chat

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates how many tokens a piece of text occupies. The
// orchestrator records its result on persisted messages; swapping the
// estimator never touches orchestration logic.
type TokenEstimator func(text string) int

// EstimateByWords is the default heuristic: round(word count * 1.3). It is
// an approximation, not an exact tokenizer count, and message token fields
// are documented as such.
func EstimateByWords(text string) int {
	words := len(strings.Fields(text))
	return int(math.Round(float64(words) * 1.3))
}

// NewTiktokenEstimator returns an exact BPE-based estimator for the given
// model name, falling back to the cl100k_base encoding when the model is
// unknown to tiktoken. Construction fetches encoding data and can fail
// offline, which is why the word heuristic stays the default.
func NewTiktokenEstimator(model string) (TokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading tiktoken encoding: %w", err)
		}
	}

	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}
