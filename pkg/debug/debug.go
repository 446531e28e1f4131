// Package debug provides category-scoped debug logging.
//
// Two orthogonal controls: categories pick WHAT to log (PARLEY_DEBUG env
// or the logging.debug config key), the level picks HOW MUCH detail
// (PARLEY_LOG_LEVEL env or logging.level). Categories are typed constants
// so call sites cannot drift from the documented set:
//
//	debug.Log(debug.Engines, "request", "kind", kind, "model", model)
//	debug.Trace(debug.Chat, "assembled prompt", "prompt", prompt)
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE. TRACE sits below slog debug
// and is where full untruncated prompts and stream payloads go.
package debug

import (
	"log/slog"
	"os"
	"strings"
)

// Category names one debuggable subsystem.
type Category string

const (
	Engines   Category = "engines"
	Chat      Category = "chat"
	Storage   Category = "storage"
	Transport Category = "transport"
	Streaming Category = "streaming"
	Config    Category = "config"

	// All enables every category at once.
	All Category = "all"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[Category]bool

func init() {
	// Initialize from environment for immediate availability.
	// Can be re-initialized later via Init() with config values.
	categories = parseCategories(os.Getenv("PARLEY_DEBUG"))
}

// Init configures the debug system. Called at startup with values
// from config and/or environment. Environment overrides config.
func Init(configCategories string, configLevel string) {
	cats := os.Getenv("PARLEY_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("PARLEY_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}
	if level == "" {
		level = "INFO"
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether debug output is active for the given category.
// This is a constant-time map lookup with zero allocation.
func Enabled(c Category) bool {
	return categories[All] || categories[c]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(c Category, msg string, args ...any) {
	if !Enabled(c) {
		return
	}
	slog.Debug(msg, append([]any{"debug", string(c)}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when the level is TRACE.
func Trace(c Category, msg string, args ...any) {
	if !Enabled(c) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"debug", string(c)}, args...)...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[Category]bool {
	m := make(map[Category]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[Category(cat)] = true
		}
	}
	return m
}
