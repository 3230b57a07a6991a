package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gated.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Server.ListenAddr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Server.AllowUnsigned, "strict signature mode is the default")
	assert.Equal(t, ModeSequential, cfg.Pipeline.Mode)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrentRuns)
	assert.Equal(t, 64, cfg.Pipeline.HistorySize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Stages)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9999"
  webhook_secret: "hunter2"
pipeline:
  mode: parallel
  max_concurrent_runs: 5
  default_timeout: 90s
stages:
  - name: secrets-scan
    command: ["./checks/secrets.sh", "--all"]
    critical: true
    timeout: 30s
    fast: true
  - name: lint
    command: ["./checks/lint.sh"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "hunter2", cfg.Server.WebhookSecret.Value())
	assert.Equal(t, ModeParallel, cfg.Pipeline.Mode)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrentRuns)

	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "secrets-scan", cfg.Stages[0].Name)
	assert.Equal(t, []string{"./checks/secrets.sh", "--all"}, cfg.Stages[0].Command)
	assert.True(t, cfg.Stages[0].Critical)
	assert.Equal(t, 30*time.Second, cfg.Stages[0].Timeout.Duration())

	// Second stage inherits the pipeline default timeout.
	assert.Equal(t, 90*time.Second, cfg.Stages[1].Timeout.Duration())
	assert.False(t, cfg.Stages[1].Critical)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9999"
pipeline:
  max_concurrent_runs: 5
`)

	t.Setenv("GATED_SERVER_LISTEN_ADDR", ":7000")
	t.Setenv("GATED_PIPELINE_MAX_CONCURRENT_RUNS", "9")
	t.Setenv("GATED_SERVER_WEBHOOK_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 9, cfg.Pipeline.MaxConcurrentRuns)
	assert.Equal(t, "from-env", cfg.Server.WebhookSecret.Value())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad mode",
			yaml:    "pipeline:\n  mode: turbo\n",
			wantErr: "pipeline mode",
		},
		{
			name:    "duplicate stage",
			yaml:    "stages:\n  - name: a\n    command: [\"true\"]\n  - name: a\n    command: [\"true\"]\n",
			wantErr: "duplicate stage",
		},
		{
			name:    "empty command",
			yaml:    "stages:\n  - name: a\n",
			wantErr: "no command",
		},
		{
			name:    "bad log format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_FastStages(t *testing.T) {
	cfg := &Config{Stages: []StageSpec{
		{Name: "a", Fast: true},
		{Name: "b"},
		{Name: "c", Fast: true},
	}}

	fast := cfg.FastStages()
	require.Len(t, fast, 2)
	assert.Equal(t, "a", fast[0].Name)
	assert.Equal(t, "c", fast[1].Name)
}

func TestConfig_SelectStages(t *testing.T) {
	cfg := &Config{Stages: []StageSpec{
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}}

	// Declared order wins over requested order.
	got, err := cfg.SelectStages([]string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "c", got[1].Name)

	_, err = cfg.SelectStages([]string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("topsecret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "topsecret", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "topsecret")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("banana")))
}
