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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("LMAOBOX_SERVER_ROOT", root)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "lmaobox-context", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.Equal(t, "2024-11-05", cfg.Server.ProtocolVersion)
	assert.Equal(t, DefaultSoftTimeout, cfg.Runner.SoftTimeout)
	assert.Equal(t, DefaultHardTimeout, cfg.Runner.HardTimeout)
	assert.Equal(t, DefaultProbeTimeout, cfg.Toolchain.ProbeTimeout)
	assert.Equal(t, "5.4", cfg.Toolchain.MinVersion)
	assert.True(t, cfg.Toolchain.AutoInstall)
	assert.Equal(t, "node", cfg.Bundle.Command)

	assert.Equal(t, filepath.Join(root, "automations", "bundle-and-deploy.js"), cfg.Bundle.Script)
	assert.Equal(t, filepath.Join(root, "automations", "bin", "lua"), cfg.Toolchain.BundledDir)
	assert.Equal(t, filepath.Join(root, "types", "lmaobox_lua_api"), cfg.KB.TypesDir)
	assert.Equal(t, filepath.Join(root, "types", "docs-index.json"), cfg.KB.IndexFile)
	assert.Equal(t, filepath.Join(root, "data", "smart_context"), cfg.KB.SmartContextDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
server:
  root: `+root+`
log:
  level: debug
  format: json
runner:
  soft_timeout: 3s
  hard_timeout: 5s
kb:
  types_dir: /srv/types
  watch: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Server.Root)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3*time.Second, cfg.Runner.SoftTimeout)
	assert.Equal(t, 5*time.Second, cfg.Runner.HardTimeout)
	assert.Equal(t, "/srv/types", cfg.KB.TypesDir)
	assert.True(t, cfg.KB.Watch)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultProbeTimeout, cfg.Toolchain.ProbeTimeout)
	assert.Equal(t, filepath.Join(root, "data", "smart_context"), cfg.KB.SmartContextDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
runner:
  soft_timeout: 3s
  hard_timeout: 5s
`)
	t.Setenv("LMAOBOX_SERVER_ROOT", t.TempDir())
	t.Setenv("LMAOBOX_HARD_TIMEOUT", "30s")
	t.Setenv("LMAOBOX_LUA_AUTO_INSTALL", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Runner.SoftTimeout)
	assert.Equal(t, 30*time.Second, cfg.Runner.HardTimeout)
	assert.False(t, cfg.Toolchain.AutoInstall)
	assert.False(t, cfg.Toolchain.InstallEnabled())
}

func TestLoad_InstallEnabledWhenURLPresent(t *testing.T) {
	t.Setenv("LMAOBOX_SERVER_ROOT", t.TempDir())
	t.Setenv("LMAOBOX_LUA_INSTALL_URL", "https://example.invalid/lua.zip")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Toolchain.AutoInstall)
	assert.Equal(t, "https://example.invalid/lua.zip", cfg.Toolchain.InstallURL)
	assert.True(t, cfg.Toolchain.InstallEnabled())

	cfg.Toolchain.InstallURL = ""
	assert.False(t, cfg.Toolchain.InstallEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "runner: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_HardShorterThanSoft(t *testing.T) {
	t.Setenv("LMAOBOX_SERVER_ROOT", t.TempDir())
	t.Setenv("LMAOBOX_SOFT_TIMEOUT", "10s")
	t.Setenv("LMAOBOX_HARD_TIMEOUT", "2s")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTimeouts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "equal timeouts", mutate: func(c *Config) { c.Runner.HardTimeout = c.Runner.SoftTimeout }},
		{name: "zero soft", mutate: func(c *Config) { c.Runner.SoftTimeout = 0 }, wantErr: ErrInvalidTimeouts},
		{name: "zero probe", mutate: func(c *Config) { c.Toolchain.ProbeTimeout = 0 }, wantErr: ErrInvalidTimeouts},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: ErrInvalidLogFormat},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSlogLevel_WarningAlias(t *testing.T) {
	lvl, err := LogConfig{Level: "WARNING"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "WARN", lvl.String())
}
