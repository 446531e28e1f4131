package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/engine"
)

// streamChunk is one line of a streaming response. Only the response
// field is extracted; everything else is ignored.
type streamChunk struct {
	Response *string `json:"response"`
}

// parseLineStream reads line-delimited JSON chunks from body, extracts
// the response field of each, and sends chunk events on ch. The channel
// is NOT closed by this function; the caller is responsible for closing
// it.
//
// Lines that fail to parse are skipped without surfacing an error; that
// matches the wire contract of the backends this engine targets, where
// keep-alive and comment lines may be interleaved with payload lines.
// Each skip is visible under the "streaming" debug category.
func parseLineStream(ctx context.Context, body io.Reader, ch chan<- engine.Event) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			debug.Log(debug.Streaming, "skipping malformed stream line",
				"error", err.Error(),
				"line", debug.Truncate(line, 200),
			)
			continue
		}
		if chunk.Response == nil {
			continue
		}

		select {
		case ch <- engine.Event{Type: engine.EventChunk, Text: *chunk.Response}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		// Context cancellation is not an error from our perspective.
		if ctx.Err() != nil {
			return
		}
		select {
		case ch <- engine.Event{Type: engine.EventError, Err: api.NewGenerationError("reading remote stream: " + err.Error())}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case ch <- engine.Event{Type: engine.EventDone}:
	case <-ctx.Done():
	}
}
