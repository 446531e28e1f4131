package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PARLEY_CONFIG env, ./config.yaml, /etc/parley/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PARLEY_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/parley/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/parley/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps PARLEY_* environment variables to config fields.
// A malformed PARLEY_MODELS value is an error; booting with a silently
// empty catalog would mask the typo until the first chat request fails.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PARLEY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PARLEY_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PARLEY_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("PARLEY_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("PARLEY_TOKEN_ESTIMATOR"); v != "" {
		cfg.Chat.TokenEstimator = v
	}

	// PARLEY_MODELS: JSON array of model seed entries, for deployments
	// that cannot mount a config file.
	if v := os.Getenv("PARLEY_MODELS"); v != "" {
		models, err := parseModelsJSON(v)
		if err != nil {
			return fmt.Errorf("PARLEY_MODELS: %w", err)
		}
		cfg.Models = models
	}

	return nil
}

// parseModelsJSON parses a JSON array of model seed entries.
func parseModelsJSON(jsonStr string) ([]ModelConfig, error) {
	var models []ModelConfig
	if err := json.Unmarshal([]byte(jsonStr), &models); err != nil {
		return nil, fmt.Errorf("parsing models JSON: %w", err)
	}
	return models, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// models[*].config.api_key_file -> models[*].config.api_key
	for i := range cfg.Models {
		backendCfg := cfg.Models[i].Config
		if backendCfg == nil {
			continue
		}
		if file := backendCfg["api_key_file"]; file != "" && backendCfg["api_key"] == "" {
			val, err := readSecretFile(file)
			if err != nil {
				return fmt.Errorf("models[%d].config.api_key_file: %w", i, err)
			}
			backendCfg["api_key"] = val
			delete(backendCfg, "api_key_file")
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
