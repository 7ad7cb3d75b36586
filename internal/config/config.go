// Package config loads the gateway configuration.
//
// Precedence (highest first):
//  1. Environment variables (LMAOBOX_SOFT_TIMEOUT, LMAOBOX_LUA_DIR, ...)
//  2. YAML config file passed with --config
//  3. Defaults
//
// Paths left empty after loading are derived from Server.Root, which itself
// defaults to the directory holding the executable. This mirrors the layout
// the server is shipped in: automations/, types/ and data/ next to the binary.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Runner    RunnerConfig    `koanf:"runner"`
	Bundle    BundleConfig    `koanf:"bundle"`
	Toolchain ToolchainConfig `koanf:"toolchain"`
	KB        KBConfig        `koanf:"kb"`
}

// ServerConfig holds the identity reported from initialize.
type ServerConfig struct {
	Name            string `koanf:"name" env:"LMAOBOX_SERVER_NAME"`
	Version         string `koanf:"version" env:"LMAOBOX_SERVER_VERSION"`
	ProtocolVersion string `koanf:"protocol_version" env:"LMAOBOX_PROTOCOL_VERSION"`
	// Root is the install directory used to derive default paths.
	Root string `koanf:"root" env:"LMAOBOX_SERVER_ROOT"`
}

// LogConfig controls the diagnostic (stderr) logger.
type LogConfig struct {
	Level  string `koanf:"level" env:"LMAOBOX_LOG_LEVEL"`
	Format string `koanf:"format" env:"LMAOBOX_LOG_FORMAT"`
}

// RunnerConfig is the timeout policy for external processes.
type RunnerConfig struct {
	SoftTimeout    time.Duration `koanf:"soft_timeout" env:"LMAOBOX_SOFT_TIMEOUT"`
	HardTimeout    time.Duration `koanf:"hard_timeout" env:"LMAOBOX_HARD_TIMEOUT"`
	ScratchDir     string        `koanf:"scratch_dir" env:"LMAOBOX_SCRATCH_DIR"`
	MaxOutputBytes int64         `koanf:"max_output_bytes" env:"LMAOBOX_MAX_OUTPUT_BYTES"`
}

// BundleConfig locates the external build/bundle tool.
type BundleConfig struct {
	// Command is the interpreter or executable (default "node").
	Command string `koanf:"command" env:"LMAOBOX_BUNDLE_COMMAND"`
	// Script is passed as the first argument when set.
	Script string `koanf:"script" env:"LMAOBOX_BUNDLE_SCRIPT"`
}

// ToolchainConfig drives Lua compiler discovery.
type ToolchainConfig struct {
	BundledDir   string        `koanf:"bundled_dir" env:"LMAOBOX_LUA_DIR"`
	MinVersion   string        `koanf:"min_version" env:"LMAOBOX_LUA_MIN_VERSION"`
	ProbeTimeout time.Duration `koanf:"probe_timeout" env:"LMAOBOX_PROBE_TIMEOUT"`
	// AutoInstall designates this process as the one allowed to fetch a
	// toolchain into BundledDir. It is on by default; turn it off on every
	// other instance sharing the same install directory.
	AutoInstall bool   `koanf:"auto_install" env:"LMAOBOX_LUA_AUTO_INSTALL"`
	InstallURL  string `koanf:"install_url" env:"LMAOBOX_LUA_INSTALL_URL"`
}

// InstallEnabled reports whether the auto-install fallback can run: it is
// switched on and there is an archive to fetch.
func (t ToolchainConfig) InstallEnabled() bool {
	return t.AutoInstall && t.InstallURL != ""
}

// KBConfig points at the on-disk knowledge base.
type KBConfig struct {
	TypesDir        string `koanf:"types_dir" env:"LMAOBOX_TYPES_DIR"`
	IndexFile       string `koanf:"index_file" env:"LMAOBOX_DOCS_INDEX"`
	SmartContextDir string `koanf:"smart_context_dir" env:"LMAOBOX_SMART_CONTEXT_DIR"`
	Watch           bool   `koanf:"watch" env:"LMAOBOX_KB_WATCH"`
}

const (
	DefaultSoftTimeout    = 10 * time.Second
	DefaultHardTimeout    = 12 * time.Second
	DefaultProbeTimeout   = 1 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	DefaultMinLuaVersion  = "5.4"
)

// luaBinariesURL is the known-good Windows LuaBinaries archive. Other
// platforms have no prebuilt default.
const luaBinariesURL = "https://sourceforge.net/projects/luabinaries/files/5.4.2/Tools%20Executables/lua-5.4.2_Win64_bin.zip/download"

var (
	ErrInvalidTimeouts  = errors.New("invalid timeout policy")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidLogLevel  = errors.New("invalid log level")
)

// Default returns a Config with every root-independent default applied.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Name:            "lmaobox-context",
			Version:         "1.0.0",
			ProtocolVersion: "2024-11-05",
		},
		Log: LogConfig{Level: "warn", Format: "text"},
		Runner: RunnerConfig{
			SoftTimeout:    DefaultSoftTimeout,
			HardTimeout:    DefaultHardTimeout,
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		Bundle: BundleConfig{Command: "node"},
		Toolchain: ToolchainConfig{
			MinVersion:   DefaultMinLuaVersion,
			ProbeTimeout: DefaultProbeTimeout,
			AutoInstall:  true,
		},
	}
	if runtime.GOOS == "windows" {
		cfg.Toolchain.InstallURL = luaBinariesURL
	}
	return cfg
}

// applyDefaults fills every path left empty from Server.Root.
func (c *Config) applyDefaults() {
	if c.Server.Root == "" {
		c.Server.Root = executableDir()
	}
	root := c.Server.Root
	if c.Runner.ScratchDir == "" {
		c.Runner.ScratchDir = os.TempDir()
	}
	if c.Bundle.Script == "" {
		c.Bundle.Script = filepath.Join(root, "automations", "bundle-and-deploy.js")
	}
	if c.Toolchain.BundledDir == "" {
		c.Toolchain.BundledDir = filepath.Join(root, "automations", "bin", "lua")
	}
	if c.KB.TypesDir == "" {
		c.KB.TypesDir = filepath.Join(root, "types", "lmaobox_lua_api")
	}
	if c.KB.IndexFile == "" {
		c.KB.IndexFile = filepath.Join(root, "types", "docs-index.json")
	}
	if c.KB.SmartContextDir == "" {
		c.KB.SmartContextDir = filepath.Join(root, "data", "smart_context")
	}
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Runner.SoftTimeout <= 0 {
		return fmt.Errorf("%w: soft timeout must be positive, got %s", ErrInvalidTimeouts, c.Runner.SoftTimeout)
	}
	if c.Runner.HardTimeout < c.Runner.SoftTimeout {
		return fmt.Errorf("%w: hard timeout %s is shorter than soft timeout %s", ErrInvalidTimeouts, c.Runner.HardTimeout, c.Runner.SoftTimeout)
	}
	if c.Toolchain.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive, got %s", ErrInvalidTimeouts, c.Toolchain.ProbeTimeout)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q (want text or json)", ErrInvalidLogFormat, c.Log.Format)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Bundle.Command == "" {
		return errors.New("bundle command must not be empty")
	}
	return nil
}

// SlogLevel parses Level into a slog.Level. "warning" is accepted as an
// alias of "warn" to match the protocol's level names.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	s := strings.ToLower(strings.TrimSpace(l.Level))
	if s == "warning" {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return lvl, nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
