// Package config loads server configuration.
//
// Values are layered, later layers winning:
//   - built-in defaults (Default)
//   - an optional YAML file, from --config or BLAZE_CONFIG
//   - environment variables
//   - command-line flags that were explicitly set
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures board persistence.
type StorageConfig struct {
	// DataDir holds board.json, blaze.db and the token file.
	DataDir string `yaml:"data_dir"`

	// Backend is "file" (board.json) or "sqlite" (blaze.db).
	Backend string `yaml:"backend"`

	// History is how many previous documents the sqlite backend keeps.
	History int `yaml:"history"`
}

// AuthConfig locates the shared API token.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"` // default <data_dir>/.token
}

// RealtimeConfig configures websocket liveness and fan-out.
type RealtimeConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
	SkipOrigin   bool          `yaml:"skip_origin"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8000"},
		Storage: StorageConfig{
			DataDir: "data",
			Backend: BackendFile,
			History: 20,
		},
		Realtime: RealtimeConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   64,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a configuration from defaults, the YAML file at path (or
// BLAZE_CONFIG when path is empty) and the environment. getenv is
// usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getenv("BLAZE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	cfg.applyEnv(getenv)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.DataDir, "BLAZE_DATA_DIR")
	set(&c.Server.Addr, "BLAZE_ADDR")
	set(&c.Storage.Backend, "BLAZE_STORAGE")
	set(&c.Auth.Token, "KANBAN_API_TOKEN")
	set(&c.Auth.TokenFile, "KANBAN_TOKEN_FILE")
	set(&c.Log.Level, "BLAZE_LOG_LEVEL")
}

// BoardPath is the JSON board document location.
func (c *Config) BoardPath() string {
	return filepath.Join(c.Storage.DataDir, "board.json")
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "blaze.db")
}

// TokenPath is the token file location.
func (c *Config) TokenPath() string {
	if c.Auth.TokenFile != "" {
		return c.Auth.TokenFile
	}
	return filepath.Join(c.Storage.DataDir, ".token")
}

// Level parses Log.Level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend))
	}
	if c.Storage.History < 0 {
		errs = append(errs, errors.New("storage.history must not be negative"))
	}

	rt := c.Realtime
	if rt.PingInterval <= 0 || rt.PongTimeout <= 0 || rt.WriteTimeout <= 0 {
		errs = append(errs, errors.New("realtime intervals must be positive"))
	} else if rt.PongTimeout <= rt.PingInterval {
		errs = append(errs, fmt.Errorf("realtime.pong_timeout (%s) must exceed ping_interval (%s)", rt.PongTimeout, rt.PingInterval))
	}
	if rt.SendBuffer <= 0 {
		errs = append(errs, errors.New("realtime.send_buffer must be positive"))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
