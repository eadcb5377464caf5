package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/hdbgraph/internal/api"
	"github.com/leapstack-labs/hdbgraph/internal/testutil"
)

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("artifacts-dir", "", "")
	flags.String("state", "", "")
	flags.StringP("output", "o", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.Int("concurrency", 0, "")
	flags.Int("port", 0, "")
	flags.Bool("save", false, "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, dir, cfg.ArtifactsDir)
	assert.Equal(t, filepath.Join(dir, ".hdbgraph", "state.db"), cfg.StatePath)
	assert.Equal(t, "auto", cfg.Output)
	assert.Equal(t, api.DefaultPort, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 200, cfg.Watch.DebounceMS)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"hdbgraph.yaml": `
artifacts_dir: src
state_path: /var/lib/hdbgraph/state.db
output: json
concurrency: 4
api:
  port: 9000
  allowed_origins: [http://localhost:5173]
watch:
  debounce_ms: 50
source:
  s3:
    region: eu-central-1
    path_style: true
`,
	})
	t.Chdir(dir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "hdbgraph.yaml"), GetConfigFileUsed())
	assert.Equal(t, filepath.Join(dir, "src"), cfg.ArtifactsDir)
	assert.Equal(t, "/var/lib/hdbgraph/state.db", cfg.StatePath)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.API.AllowedOrigins)
	assert.Equal(t, 50, cfg.Watch.DebounceMS)
	assert.Equal(t, "eu-central-1", cfg.Source.S3.Region)
	assert.True(t, cfg.Source.S3.PathStyle)
}

func TestLoadConfig_FoundUpward(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"hdbgraph.yml":    "artifacts_dir: src\n",
		"src/views/.keep": "",
	})
	t.Chdir(filepath.Join(dir, "src", "views"))

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, "src"), cfg.ArtifactsDir)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"conf/custom.yaml": "artifacts_dir: s3://bucket/hana\n",
	})
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig(filepath.Join(dir, "conf", "custom.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf"), cfg.ProjectRoot)
	assert.Equal(t, "s3://bucket/hana", cfg.ArtifactsDir, "URIs are not resolved")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadConfig("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"hdbgraph.yaml": "output: markdown\nconcurrency: 2\napi:\n  port: 9000\n",
	})
	t.Chdir(dir)
	t.Setenv("HDBGRAPH_OUTPUT", "text")
	t.Setenv("HDBGRAPH_CONCURRENCY", "3")
	t.Setenv("HDBGRAPH_API__PORT", "9100")

	flags := newFlagSet()
	require.NoError(t, flags.Parse([]string{"--concurrency", "8", "--save"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output, "env beats file")
	assert.Equal(t, 9100, cfg.API.Port, "nested env key")
	assert.Equal(t, 8, cfg.Concurrency, "flag beats env")
}

func TestLoadConfig_UnchangedFlagsDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"hdbgraph.yaml": "output: json\n"})
	t.Chdir(dir)

	flags := newFlagSet()
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadConfig_PathFlagsRelativeToWorkingDir(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"hdbgraph.yaml": "artifacts_dir: src\n",
		"work/.keep":    "",
	})
	work := filepath.Join(dir, "work")
	t.Chdir(work)

	flags := newFlagSet()
	require.NoError(t, flags.Parse([]string{"--artifacts-dir", "local", "--state", ":memory:"}))

	cfg, err := LoadConfig(filepath.Join(dir, "hdbgraph.yaml"), flags)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "local"), cfg.ArtifactsDir)
	assert.Equal(t, ":memory:", cfg.StatePath)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"hdbgraph.yaml": "source:\n  s3:\n    key_id: ${TEST_KEY_ID}\n    secret: ${TEST_UNSET_SECRET}\n",
	})
	t.Chdir(dir)
	t.Setenv("TEST_KEY_ID", "AKIA123")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", cfg.Source.S3.KeyID)
	assert.Equal(t, "${TEST_UNSET_SECRET}", cfg.Source.S3.Secret)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{ArtifactsDir: ".", Output: "auto", API: APIConfig{Port: 8765}}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty artifacts dir", func(c *Config) { c.ArtifactsDir = "" }, "artifacts_dir is required"},
		{"bad output", func(c *Config) { c.Output = "xml" }, "invalid output format"},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }, "concurrency"},
		{"port out of range", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMS = -5 }, "watch.debounce_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()), "falls back to a discard logger")

	logger := testutil.NewTestLogger(t)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
