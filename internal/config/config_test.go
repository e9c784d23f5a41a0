package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func writeConfig(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "./fieldsync.db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.HandlerTimeout)
	assert.Equal(t, ModeManual, cfg.Connectivity.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Photos.Enabled())
}

func TestLoad_FileThenFlags(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/fieldsync/sync.db
remote:
  base_url: https://api.example.com
  timeout: 10s
sync:
  max_retries: 5
  interval: 1m
connectivity:
  mode: probe
  probe_url: https://api.example.com/health
log_level: debug
`)

	cfg, err := Load(path, newFlags(t, "--max-retries=7", "--db=/tmp/override.db"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 7, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, ModeProbe, cfg.Connectivity.Mode)
	assert.Equal(t, 15*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "zero retries", args: []string{"--max-retries=0"}},
		{name: "unknown mode", args: []string{"--connectivity=carrier-pigeon"}},
		{name: "file mode without file", args: []string{"--connectivity=file"}},
		{name: "probe mode without url", args: []string{"--connectivity=probe"}},
		{name: "photos without keys", args: []string{"--photos-endpoint=minio:9000"}},
		{name: "empty db", args: []string{"--db="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", newFlags(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestRequireRemote(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireRemote())

	cfg.Remote.DryRun = true
	assert.NoError(t, cfg.RequireRemote())

	cfg = Default()
	cfg.Remote.BaseURL = "http://localhost:8080"
	assert.NoError(t, cfg.RequireRemote())
}
