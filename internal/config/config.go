// Package config loads hopper's settings from <data_dir>/config.toml and
// HOPPER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/paths"
)

const (
	envPrefix  = "HOPPER"
	configType = "toml"

	keySocketPath       = "socket_path"
	keyLogPath          = "log_path"
	keyOutboundQueue    = "outbound_queue"
	keyWriteTimeout     = "write_timeout"
	keyArchiveHistory   = "archive_history"
	keyReconcileWindows = "reconcile_windows"
	keyAgentCommand     = "agent_command"
	keyTmuxSession      = "tmux_session"
	keyNotifications    = "notifications"
)

// Defaults
const (
	DefaultOutboundQueue = 256
	DefaultWriteTimeout  = 5 * time.Second
)

// DefaultAgentCommand is the subprocess `hopper run` starts when none is configured.
var DefaultAgentCommand = []string{"claude"}

// Config holds hopper's runtime settings. Paths are absolute after Load.
type Config struct {
	DataDir string `mapstructure:"-" toml:"-"`

	SocketPath       string        `mapstructure:"socket_path" toml:"socket_path,omitempty"`
	LogPath          string        `mapstructure:"log_path" toml:"log_path,omitempty"`
	OutboundQueue    int           `mapstructure:"outbound_queue" toml:"outbound_queue"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	ArchiveHistory   bool          `mapstructure:"archive_history" toml:"archive_history"`
	ReconcileWindows bool          `mapstructure:"reconcile_windows" toml:"reconcile_windows"`
	AgentCommand     []string      `mapstructure:"agent_command" toml:"agent_command"`
	TmuxSession      string        `mapstructure:"tmux_session" toml:"tmux_session,omitempty"`
	Notifications    bool          `mapstructure:"notifications" toml:"notifications"`
}

// Layout returns the file layout of the configured data directory.
func (c *Config) Layout() paths.Layout {
	return paths.Layout{Dir: c.DataDir}
}

// Default returns the configuration used when no file or env overrides exist.
func Default(dataDir string) *Config {
	layout := paths.Layout{Dir: dataDir}
	return &Config{
		DataDir:          dataDir,
		SocketPath:       layout.Socket(),
		LogPath:          layout.Log(),
		OutboundQueue:    DefaultOutboundQueue,
		WriteTimeout:     DefaultWriteTimeout,
		ArchiveHistory:   true,
		ReconcileWindows: true,
		AgentCommand:     append([]string(nil), DefaultAgentCommand...),
		Notifications:    true,
	}
}

// Load reads the configuration for dataDir. An empty dataDir resolves
// through paths.DataDir. A missing config file is not an error.
func Load(dataDir string) (*Config, error) {
	return LoadWith(viper.New(), dataDir)
}

// LoadWith is Load with a caller-supplied viper instance, so flags can be
// bound or values preset before reading.
func LoadWith(v *viper.Viper, dataDir string) (*Config, error) {
	if dataDir == "" {
		dir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
		dataDir = dir
	}
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}

	def := Default(dataDir)
	v.SetConfigFile(def.Layout().Config())
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault(keySocketPath, def.SocketPath)
	v.SetDefault(keyLogPath, def.LogPath)
	v.SetDefault(keyOutboundQueue, def.OutboundQueue)
	v.SetDefault(keyWriteTimeout, def.WriteTimeout)
	v.SetDefault(keyArchiveHistory, def.ArchiveHistory)
	v.SetDefault(keyReconcileWindows, def.ReconcileWindows)
	v.SetDefault(keyAgentCommand, def.AgentCommand)
	v.SetDefault(keyTmuxSession, def.TmuxSession)
	v.SetDefault(keyNotifications, def.Notifications)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, herrors.E(herrors.Op("config.Load"), herrors.KindCorruptState,
				fmt.Sprintf("failed to read %s", v.ConfigFileUsed()), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, herrors.E(herrors.Op("config.Load"), herrors.KindBadRequest, "failed to decode config", err)
	}
	cfg.DataDir = dataDir
	cfg.SocketPath = resolve(dataDir, cfg.SocketPath)
	cfg.LogPath = resolve(dataDir, cfg.LogPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes p absolute relative to dir.
func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	op := herrors.Op("config.Validate")
	switch {
	case c.SocketPath == "":
		return herrors.BadRequest(op, "socket_path must not be empty")
	case c.OutboundQueue <= 0:
		return herrors.BadRequest(op, fmt.Sprintf("outbound_queue must be positive, got %d", c.OutboundQueue))
	case c.WriteTimeout <= 0:
		return herrors.BadRequest(op, fmt.Sprintf("write_timeout must be positive, got %s", c.WriteTimeout))
	case len(c.AgentCommand) == 0 || c.AgentCommand[0] == "":
		return herrors.BadRequest(op, "agent_command must name a program")
	}
	return nil
}

// fileConfig is the on-disk shape. Durations are written as strings so the
// file stays readable.
type fileConfig struct {
	SocketPath       string   `toml:"socket_path,omitempty"`
	LogPath          string   `toml:"log_path,omitempty"`
	OutboundQueue    int      `toml:"outbound_queue"`
	WriteTimeout     string   `toml:"write_timeout"`
	ArchiveHistory   bool     `toml:"archive_history"`
	ReconcileWindows bool     `toml:"reconcile_windows"`
	AgentCommand     []string `toml:"agent_command"`
	TmuxSession      string   `toml:"tmux_session,omitempty"`
	Notifications    bool     `toml:"notifications"`
}

// Save writes the config to <data_dir>/config.toml atomically.
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return err
	}
	path := c.Layout().Config()
	data, err := toml.Marshal(fileConfig{
		SocketPath:       c.SocketPath,
		LogPath:          c.LogPath,
		OutboundQueue:    c.OutboundQueue,
		WriteTimeout:     c.WriteTimeout.String(),
		ArchiveHistory:   c.ArchiveHistory,
		ReconcileWindows: c.ReconcileWindows,
		AgentCommand:     c.AgentCommand,
		TmuxSession:      c.TmuxSession,
		Notifications:    c.Notifications,
	})
	if err != nil {
		return herrors.SaveFailed(path, err)
	}

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return herrors.SaveFailed(path, err)
	}

	// Atomic write: temp file + rename
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return herrors.SaveFailed(path, err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return herrors.SaveFailed(path, err)
	}
	return nil
}
