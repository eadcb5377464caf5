// Package config loads hdbgraph CLI configuration.
//
// Values are layered, lowest to highest precedence: built-in defaults, the
// project file (hdbgraph.yaml or hdbgraph.yml), HDBGRAPH_* environment
// variables and explicitly set command-line flags.
package config

import (
	"github.com/leapstack-labs/hdbgraph/internal/source"
)

// APIConfig configures the HTTP API started by serve.
type APIConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	DebounceMS int `koanf:"debounce_ms"`
}

// Config holds all CLI configuration options.
type Config struct {
	// ArtifactsDir is a local directory or a source URI (s3://, gs://, az://).
	ArtifactsDir string        `koanf:"artifacts_dir"`
	StatePath    string        `koanf:"state_path"`
	Output       string        `koanf:"output"`
	Verbose      bool          `koanf:"verbose"`
	Concurrency  int           `koanf:"concurrency"`
	API          APIConfig     `koanf:"api"`
	Watch        WatchConfig   `koanf:"watch"`
	Source       source.Config `koanf:"source"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}
