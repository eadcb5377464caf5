// Package config holds project-level configuration shared by the CLI and
// the API server: default values and project file discovery.
package config

// Default configuration values.
const (
	DefaultArtifactsDir = "."
	DefaultStateFile    = ".hdbgraph/state.db"
	DefaultOutput       = "auto"
	DefaultAPIHost      = "127.0.0.1"
	DefaultHistoryLimit = 20
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "hdbgraph.yaml"
	ConfigFileNameAlt = "hdbgraph.yml"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "HDBGRAPH_"
