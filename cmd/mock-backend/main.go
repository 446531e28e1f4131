// Command mock-backend runs a deterministic generation server speaking
// the wire protocol of the remote engine, for manual end-to-end testing.
// It echoes a canned continuation for any prompt, and its streaming mode
// can inject malformed lines to exercise the client's skip path.
//
// Configuration:
//
//	MOCK_PORT      - Listen port (default: 9090)
//	MOCK_MALFORMED - Inject a malformed line into each stream ("1" to enable)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	malformed := os.Getenv("MOCK_MALFORMED") == "1"

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		handleGenerate(w, r, malformed)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "malformed_lines", malformed)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

func handleGenerate(w http.ResponseWriter, r *http.Request, malformed bool) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	text := respond(req.Prompt)

	if req.Stream {
		streamResponse(w, text, malformed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"response": text})
}

// respond produces a canned continuation keyed on the last prompt line.
func respond(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "count from 1 to 5"):
		return "1, 2, 3, 4, 5"
	case strings.Contains(lower, "hello"):
		return "Hello there! How can I help you today?"
	default:
		return "This is a mock response to: " + lastLine(prompt)
	}
}

// streamResponse writes the reply word by word as line-delimited JSON,
// optionally injecting one malformed line mid-stream.
func streamResponse(w http.ResponseWriter, text string, malformed bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")

	words := strings.SplitAfter(text, " ")
	for i, word := range words {
		if malformed && i == len(words)/2 {
			fmt.Fprintln(w, `{"response": not json at all`)
			flusher.Flush()
		}
		line, _ := json.Marshal(map[string]string{"response": word})
		fmt.Fprintf(w, "%s\n", line)
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
