// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the world server.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Lua     LuaConfig     `toml:"lua"`
	Reload  ReloadConfig  `toml:"reload"`
	Logging LoggingConfig `toml:"logging"`

	logger logSink
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Socket string `toml:"socket"` // MCP admin socket path ("" = stdio only)
}

// StorageConfig holds storage-related settings.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgresql"
	Path string `toml:"path"` // SQLite file path
	URL  string `toml:"url"`  // PostgreSQL connection URL
}

// LuaConfig holds Lua runtime settings.
type LuaConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ReloadConfig holds live-reload policy settings.
type ReloadConfig struct {
	// ProtectedPrefixes marks module path prefixes that may never be
	// live-reloaded. Updating these requires a server reboot.
	ProtectedPrefixes []string `toml:"protected_prefixes"`
	// ExceptPrefixes overrides ProtectedPrefixes for user-extensible code
	// living inside otherwise-protected namespaces.
	ExceptPrefixes []string `toml:"except_prefixes"`
	// InfoChannel is the name of the channel that receives reload progress.
	InfoChannel string `toml:"info_channel"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=none, 1=lifecycle, 2=detail, 3=trace
	File      string `toml:"file"`      // durable log file ("" = stderr only)
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
// This allows both "-v -v -v" and "-vvv" styles to work.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:   "0.0.0.0",
			Port:   4001,
			Socket: defaultSocketPath(),
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "world.db",
		},
		Lua: LuaConfig{
			Enabled: true,
			Path:    "lua/",
		},
		Reload: ReloadConfig{
			ProtectedPrefixes: []string{"core."},
			ExceptPrefixes:    []string{"core.commands.default."},
			InfoChannel:       "mudinfo",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 0,
		},
	}
}

// defaultSocketPath returns the platform-specific default socket path.
func defaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\world`
	}
	return "/tmp/world.sock"
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// Preprocess args to expand -vvv into -v -v -v
	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("world", flag.ContinueOnError)
	configFile := fs.String("config", "", "Config file path")

	// Server flags
	host := fs.String("host", "", "Listen address")
	port := fs.Int("port", 0, "Listen port")
	socket := fs.String("socket", "", "MCP admin socket path")

	// Storage flags
	storage := fs.String("storage", "", "Storage type: memory, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "SQLite database path")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")

	// Lua flags
	lua := fs.Bool("lua", true, "Enable Lua typeclass modules")
	luaPath := fs.String("lua-path", "", "Lua modules directory")

	// Reload flags
	infoChannel := fs.String("info-channel", "", "Channel receiving reload progress")
	protected := fs.String("protected-prefixes", "", "Comma-separated protected module prefixes")
	excepted := fs.String("except-prefixes", "", "Comma-separated reload exception prefixes")

	// Logging flags
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFile := fs.String("log-file", "", "Durable log file path")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load TOML config if exists
	configPath := "config/config.toml"
	if *configFile != "" {
		configPath = *configFile
	}
	if err := cfg.loadTOML(configPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// Apply environment variables
	cfg.applyEnv()

	// Apply CLI flags (highest priority). Boolean flags need set-detection:
	// comparing against the default cannot distinguish an explicit
	// -lua=true from an unset flag.
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *socket != "" {
		cfg.Server.Socket = *socket
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if setFlags["lua"] {
		cfg.Lua.Enabled = *lua
	}
	if *luaPath != "" {
		cfg.Lua.Path = *luaPath
	}
	if *infoChannel != "" {
		cfg.Reload.InfoChannel = *infoChannel
	}
	if *protected != "" {
		cfg.Reload.ProtectedPrefixes = splitList(*protected)
	}
	if *excepted != "" {
		cfg.Reload.ExceptPrefixes = splitList(*excepted)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("WORLD_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("WORLD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WORLD_SOCKET"); v != "" {
		c.Server.Socket = v
	}
	if v := os.Getenv("WORLD_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("WORLD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("WORLD_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("WORLD_LUA"); v != "" {
		c.Lua.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WORLD_LUA_PATH"); v != "" {
		c.Lua.Path = v
	}
	if v := os.Getenv("WORLD_INFO_CHANNEL"); v != "" {
		c.Reload.InfoChannel = v
	}
	if v := os.Getenv("WORLD_PROTECTED_PREFIXES"); v != "" {
		c.Reload.ProtectedPrefixes = splitList(v)
	}
	if v := os.Getenv("WORLD_EXCEPT_PREFIXES"); v != "" {
		c.Reload.ExceptPrefixes = splitList(v)
	}
	if v := os.Getenv("WORLD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WORLD_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("WORLD_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// splitList splits a comma-separated list, trimming whitespace.
func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// Verbosity returns the configured verbosity level (0-3).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}
