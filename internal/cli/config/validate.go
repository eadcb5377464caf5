package config

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
)

// Validate checks value ranges after loading.
func (c *Config) Validate() error {
	var errs []error
	if c.ArtifactsDir == "" {
		errs = append(errs, errors.New("artifacts_dir is required"))
	}
	if _, err := output.ParseMode(c.Output); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port must be between 0 and 65535, got %d", c.API.Port))
	}
	if c.Watch.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMS))
	}
	return errors.Join(errs...)
}
