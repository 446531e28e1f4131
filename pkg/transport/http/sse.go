package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// streamWriter emits chat stream events as SSE-style frames:
//
//	data: {json}\n
//	\n
//
// terminated by a final
//
//	data: [DONE]\n
//	\n
//
// Each frame is flushed immediately so chunks reach the client as they
// are produced.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	return &streamWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent sends a single event frame.
func (s *streamWriter) WriteEvent(event api.StreamEvent) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing event: %w", err)
	}
	return nil
}

// Finish sends the [DONE] sentinel that closes the stream.
func (s *streamWriter) Finish() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing [DONE]: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing [DONE]: %w", err)
	}
	return nil
}
