package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearParleyEnv keeps ambient PARLEY_* variables from leaking into tests.
func clearParleyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PARLEY_CONFIG", "PARLEY_PORT", "PARLEY_STORAGE",
		"PARLEY_POSTGRES_DSN", "PARLEY_TOKEN_ESTIMATOR", "PARLEY_MODELS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearParleyEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("max body = %d, want 1 MB", cfg.Server.MaxBodySize)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Chat.TokenEstimator != "words" {
		t.Errorf("token estimator = %q, want words", cfg.Chat.TokenEstimator)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearParleyEnv(t)

	path := writeConfigFile(t, `
server:
  port: 9999
chat:
  token_estimator: tiktoken
  tiktoken_model: gpt-4
models:
  - id: tiny
    name: Tiny Local
    kind: local
    model_id: tiny-v1
    temperature: 0.2
    config:
      weights_path: /var/lib/parley/tiny.json
  - id: llama
    name: Llama via Ollama
    kind: ollama
    model_id: llama3
    active: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("max body = %d, want default preserved", cfg.Server.MaxBodySize)
	}
	if cfg.Chat.TokenEstimator != "tiktoken" {
		t.Errorf("token estimator = %q", cfg.Chat.TokenEstimator)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(cfg.Models))
	}
	if cfg.Models[0].Config["weights_path"] != "/var/lib/parley/tiny.json" {
		t.Errorf("weights path = %q", cfg.Models[0].Config["weights_path"])
	}
	if cfg.Models[1].Active == nil || *cfg.Models[1].Active {
		t.Error("explicit active: false was not honored")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearParleyEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearParleyEnv(t)

	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("PARLEY_PORT", "7070")
	t.Setenv("PARLEY_STORAGE", "postgres")
	t.Setenv("PARLEY_POSTGRES_DSN", "postgres://env@localhost/parley")
	t.Setenv("PARLEY_TOKEN_ESTIMATOR", "tiktoken")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("env port did not win over file: %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != "postgres" || cfg.Storage.Postgres.DSN != "postgres://env@localhost/parley" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Chat.TokenEstimator != "tiktoken" {
		t.Errorf("token estimator = %q", cfg.Chat.TokenEstimator)
	}
}

func TestLoad_ModelsFromEnv(t *testing.T) {
	clearParleyEnv(t)

	t.Setenv("PARLEY_MODELS", `[{"id": "env-model", "name": "From Env", "kind": "remote", "model_id": "m1", "config": {"api_url": "http://api.test/generate"}}]`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].ID != "env-model" {
		t.Fatalf("models = %+v", cfg.Models)
	}
	if cfg.Models[0].ModelID != "m1" || cfg.Models[0].Config["api_url"] == "" {
		t.Errorf("model fields lost in JSON parsing: %+v", cfg.Models[0])
	}
}

func TestLoad_MalformedEnvOverridesFail(t *testing.T) {
	clearParleyEnv(t)

	// A typo'd PARLEY_MODELS must abort the load instead of silently
	// booting with zero seeded models.
	t.Setenv("PARLEY_MODELS", `[{"id": "broken"`)
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for malformed PARLEY_MODELS")
	}
	if !strings.Contains(err.Error(), "PARLEY_MODELS") {
		t.Errorf("error %q does not name PARLEY_MODELS", err)
	}

	clearParleyEnv(t)
	t.Setenv("PARLEY_PORT", "eighty")
	_, err = Load("")
	if err == nil {
		t.Fatal("expected error for malformed PARLEY_PORT")
	}
	if !strings.Contains(err.Error(), "PARLEY_PORT") {
		t.Errorf("error %q does not name PARLEY_PORT", err)
	}
}

func TestLoad_FileReferences(t *testing.T) {
	clearParleyEnv(t)

	dir := t.TempDir()
	dsnFile := filepath.Join(dir, "dsn")
	os.WriteFile(dsnFile, []byte("postgres://secret@db/parley\n"), 0o600)
	keyFile := filepath.Join(dir, "api-key")
	os.WriteFile(keyFile, []byte("  sk-sekrit  \n"), 0o600)

	path := writeConfigFile(t, `
storage:
  type: postgres
  postgres:
    dsn_file: `+dsnFile+`
models:
  - id: rem
    name: Remote
    kind: remote
    model_id: r1
    config:
      api_url: http://api.test/generate
      api_key_file: `+keyFile+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Postgres.DSN != "postgres://secret@db/parley" {
		t.Errorf("dsn = %q, want trimmed file content", cfg.Storage.Postgres.DSN)
	}
	if cfg.Models[0].Config["api_key"] != "sk-sekrit" {
		t.Errorf("api_key = %q, want trimmed file content", cfg.Models[0].Config["api_key"])
	}
	if _, ok := cfg.Models[0].Config["api_key_file"]; ok {
		t.Error("api_key_file reference was not removed after resolution")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	clearParleyEnv(t)

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad storage type",
			yaml: "storage:\n  type: redis\n",
			want: "storage.type",
		},
		{
			name: "postgres without dsn",
			yaml: "storage:\n  type: postgres\n",
			want: "dsn",
		},
		{
			name: "bad token estimator",
			yaml: "chat:\n  token_estimator: letters\n",
			want: "token_estimator",
		},
		{
			name: "model missing id",
			yaml: "models:\n  - name: X\n    kind: local\n    model_id: m\n",
			want: "id",
		},
		{
			name: "unknown backend kind",
			yaml: "models:\n  - id: x\n    name: X\n    kind: quantum\n    model_id: m\n",
			want: "kind",
		},
		{
			name: "duplicate model ids",
			yaml: "models:\n  - id: x\n    name: A\n    kind: local\n    model_id: m\n  - id: x\n    name: B\n    kind: local\n    model_id: m\n",
			want: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestModelConfig_Descriptor(t *testing.T) {
	now := time.Now()

	m := ModelConfig{
		ID: "tiny", Name: "Tiny", Kind: "local", ModelID: "tiny-v1",
	}
	desc := m.Descriptor(now)

	if !desc.Active {
		t.Error("omitted active should default to true")
	}
	if desc.MaxTokens != 2048 || desc.Temperature != 0.7 || desc.TopP != 0.9 {
		t.Errorf("sampling defaults = %d/%v/%v", desc.MaxTokens, desc.Temperature, desc.TopP)
	}
	if !desc.CreatedAt.Equal(now) {
		t.Errorf("created at = %v", desc.CreatedAt)
	}

	inactive := false
	m2 := ModelConfig{
		ID: "x", Name: "X", Kind: "remote", ModelID: "m",
		Active: &inactive, MaxTokens: 100, Temperature: 0.1, TopP: 0.5,
	}
	desc2 := m2.Descriptor(now)
	if desc2.Active || desc2.MaxTokens != 100 || desc2.Temperature != 0.1 || desc2.TopP != 0.5 {
		t.Errorf("explicit values overridden: %+v", desc2)
	}
}
