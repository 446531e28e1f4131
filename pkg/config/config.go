// Package config provides unified configuration for the parley server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PARLEY_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	"github.com/rhuss/parley/pkg/api"
)

// Config holds all configuration for the parley server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Chat    ChatConfig    `yaml:"chat"`
	Storage StorageConfig `yaml:"storage"`

	// Models is the catalog seed, upserted into the model catalog at
	// startup.
	Models []ModelConfig `yaml:"models"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// LoggingConfig holds log level and debug category settings. The
// PARLEY_LOG_LEVEL and PARLEY_DEBUG environment variables take precedence.
type LoggingConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error (default: info)
	Debug string `yaml:"debug"` // comma-separated debug categories
}

// ChatConfig holds orchestration settings.
type ChatConfig struct {
	// TokenEstimator selects the token accounting strategy: "words"
	// (heuristic, default) or "tiktoken" (exact BPE).
	TokenEstimator string `yaml:"token_estimator"`

	// TiktokenModel is the model name used to pick the tiktoken encoding
	// when token_estimator is "tiktoken".
	TiktokenModel string `yaml:"tiktoken_model"` // default: "gpt-4"
}

// StorageConfig holds state management settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// ModelConfig describes one catalog seed entry. The JSON tags support the
// PARLEY_MODELS environment override.
type ModelConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Kind        string `yaml:"kind" json:"kind"` // "local", "ollama", or "remote"
	ModelID     string `yaml:"model_id" json:"model_id"`
	Description string `yaml:"description" json:"description"`

	// Active defaults to true when omitted.
	Active *bool `yaml:"active" json:"active"`

	// Generation defaults; zero values fall back to 2048 / 0.7 / 0.9.
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`

	// Config holds backend-specific settings (base_url, api_key,
	// weights_path, device, seed). An api_key_file entry is resolved into
	// api_key during loading.
	Config map[string]string `yaml:"config" json:"config"`
}

// Descriptor converts the seed entry into a catalog descriptor.
func (m *ModelConfig) Descriptor(now time.Time) *api.ModelDescriptor {
	desc := &api.ModelDescriptor{
		ID:          m.ID,
		Name:        m.Name,
		Kind:        api.BackendKind(m.Kind),
		ModelID:     m.ModelID,
		Description: m.Description,
		Active:      m.Active == nil || *m.Active,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		TopP:        m.TopP,
		Config:      m.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if desc.MaxTokens == 0 {
		desc.MaxTokens = 2048
	}
	if desc.Temperature == 0 {
		desc.Temperature = 0.7
	}
	if desc.TopP == 0 {
		desc.TopP = 0.9
	}
	return desc
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodySize:     1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			TokenEstimator: "words",
			TiktokenModel:  "gpt-4",
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
	}
}
