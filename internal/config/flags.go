package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags the user actually set
// are applied, so the YAML file and environment keep their values otherwise.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string

	addr       string
	dataDir    string
	backend    string
	tokenFile  string
	logLevel   string
	logFormat  string
	ping       time.Duration
	pong       time.Duration
	skipOrigin bool
}

// BindFlags registers the server flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	def := Default()
	f := &Flags{fs: fs}

	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to YAML config file (or BLAZE_CONFIG)")
	fs.StringVar(&f.addr, "addr", def.Server.Addr, "HTTP listen address")
	fs.StringVar(&f.dataDir, "data-dir", def.Storage.DataDir, "directory for board data and token")
	fs.StringVar(&f.backend, "storage", def.Storage.Backend, "storage backend: file or sqlite")
	fs.StringVar(&f.tokenFile, "token-file", "", "API token file (default <data-dir>/.token)")
	fs.StringVar(&f.logLevel, "log-level", def.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", def.Log.Format, "log format: text or json")
	fs.DurationVar(&f.ping, "ping-interval", def.Realtime.PingInterval, "websocket ping interval")
	fs.DurationVar(&f.pong, "pong-timeout", def.Realtime.PongTimeout, "websocket liveness timeout")
	fs.BoolVar(&f.skipOrigin, "skip-origin", false, "do not echo events to the client that caused them")

	return f
}

// Apply copies explicitly set flags into c.
func (f *Flags) Apply(c *Config) {
	if f.fs.Changed("addr") {
		c.Server.Addr = f.addr
	}
	if f.fs.Changed("data-dir") {
		c.Storage.DataDir = f.dataDir
	}
	if f.fs.Changed("storage") {
		c.Storage.Backend = f.backend
	}
	if f.fs.Changed("token-file") {
		c.Auth.TokenFile = f.tokenFile
	}
	if f.fs.Changed("log-level") {
		c.Log.Level = f.logLevel
	}
	if f.fs.Changed("log-format") {
		c.Log.Format = f.logFormat
	}
	if f.fs.Changed("ping-interval") {
		c.Realtime.PingInterval = f.ping
	}
	if f.fs.Changed("pong-timeout") {
		c.Realtime.PongTimeout = f.pong
	}
	if f.fs.Changed("skip-origin") {
		c.Realtime.SkipOrigin = f.skipOrigin
	}
}

// Load loads the configuration named by --config and applies the flags.
func (f *Flags) Load(getenv func(string) string) (*Config, error) {
	cfg, err := Load(f.ConfigPath, getenv)
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	return cfg, nil
}
