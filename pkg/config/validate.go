package config

import (
	"errors"
	"fmt"

	"github.com/rhuss/parley/pkg/api"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Chat.TokenEstimator {
	case "words", "tiktoken", "":
		// valid
	default:
		errs = append(errs, fmt.Errorf("chat.token_estimator must be \"words\" or \"tiktoken\", got %q", c.Chat.TokenEstimator))
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("models[%d].id is required", i))
		} else if seen[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true

		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d].name is required", i))
		}
		if m.ModelID == "" {
			errs = append(errs, fmt.Errorf("models[%d].model_id is required", i))
		}
		if !api.BackendKind(m.Kind).Valid() {
			errs = append(errs, fmt.Errorf("models[%d].kind must be \"local\", \"ollama\", or \"remote\", got %q", i, m.Kind))
		}
	}

	return errors.Join(errs...)
}
