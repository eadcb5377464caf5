package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/hdbgraph/internal/api"
	intconfig "github.com/leapstack-labs/hdbgraph/internal/config"
	"github.com/leapstack-labs/hdbgraph/internal/watch"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// configFileUsed records the file the last LoadConfig read.
var configFileUsed string

// flagKeys maps command-line flags onto config keys. Flags not listed here
// are command options and never reach the config.
var flagKeys = map[string]string{
	"artifacts-dir": "artifacts_dir",
	"state":         "state_path",
	"output":        "output",
	"verbose":       "verbose",
	"concurrency":   "concurrency",
	"host":          "api.host",
	"port":          "api.port",
	"debounce-ms":   "watch.debounce_ms",
}

// pathFlags are resolved against the working directory, not the project root.
var pathFlags = []string{"artifacts-dir", "state"}

// ResetConfig forgets the last loaded config file. Used for testing.
func ResetConfig() {
	configFileUsed = ""
}

// GetConfigFileUsed returns the config file read by the last LoadConfig.
func GetConfigFileUsed() string {
	return configFileUsed
}

// projectRoot picks the directory relative paths are anchored to: the
// directory of an explicit config file, else the nearest ancestor of the
// working directory holding a config file, else the working directory.
func projectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
		return filepath.Dir(cfgFile)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root := intconfig.FindProjectRoot(cwd); root != "" {
		return root
	}
	return cwd
}

// LoadConfig loads configuration from defaults, file, environment and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	configFileUsed = ""
	root := projectRoot(cfgFile)

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"artifacts_dir":     intconfig.DefaultArtifactsDir,
		"state_path":        intconfig.DefaultStateFile,
		"output":            intconfig.DefaultOutput,
		"verbose":           false,
		"concurrency":       0,
		"api.host":          intconfig.DefaultAPIHost,
		"api.port":          api.DefaultPort,
		"watch.debounce_ms": int(watch.DefaultDebounce / time.Millisecond),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		cfgFile = intconfig.FindConfigFile(root)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
	}

	// 3. Environment: HDBGRAPH_STATE_PATH -> state_path,
	// HDBGRAPH_SOURCE__S3__REGION -> source.s3.region
	if err := k.Load(env.Provider(intconfig.EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, intconfig.EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = root

	expandEnvVars(&cfg)

	// Paths given as flags are relative to where the command was typed.
	flagged := make(map[string]bool)
	if flags != nil {
		for _, name := range pathFlags {
			flagged[name] = flags.Changed(name)
		}
	}
	if flagged["artifacts-dir"] {
		cfg.ArtifactsDir = absPath(cfg.ArtifactsDir)
	} else {
		cfg.ArtifactsDir = intconfig.ResolvePath(cfg.ArtifactsDir, root)
	}
	if flagged["state"] {
		cfg.StatePath = absPath(cfg.StatePath)
	} else {
		cfg.StatePath = intconfig.ResolvePath(cfg.StatePath, root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func absPath(path string) string {
	if path == ":memory:" || intconfig.IsURI(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return nil
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} with the variable's value. Unset variables are
// left as written.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandEnvVars expands ${VAR} in paths and source credentials.
func expandEnvVars(c *Config) {
	for _, field := range []*string{
		&c.ArtifactsDir,
		&c.StatePath,
		&c.Source.S3.Endpoint,
		&c.Source.S3.Region,
		&c.Source.S3.KeyID,
		&c.Source.S3.Secret,
		&c.Source.GCS.CredentialsFile,
		&c.Source.GCS.Endpoint,
		&c.Source.Azure.AccountName,
		&c.Source.Azure.AccountKey,
		&c.Source.Azure.ConnectionString,
		&c.Source.Azure.Endpoint,
	} {
		*field = expandEnv(*field)
	}
}
