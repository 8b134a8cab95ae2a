package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the main application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Gemini    GeminiConfig    `toml:"gemini"`    // Gemini API settings
	Concierge ConciergeConfig `toml:"concierge"` // Session engine settings
	Storage   StorageConfig   `toml:"storage"`   // Agent store settings
}

// ServerConfig contains HTTP server configuration settings.
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (["*"] for all)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading a request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing a response (0 recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve widget assets from (e.g. "www")
}

// LoggingConfig contains application logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level"`        // "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // "json" or "console"
	File       string `toml:"file"`         // Optional log file path (rotated)
	MaxSizeMB  int    `toml:"max_size_mb"`  // Log file size before rotation
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep
}

// GeminiConfig contains Gemini API settings. The key may be left empty in the
// file and supplied via the GEMINI_API_KEY environment variable instead.
type GeminiConfig struct {
	APIKey     string `toml:"api_key"`     // API key (prefer GEMINI_API_KEY env var)
	ChatModel  string `toml:"chat_model"`  // Model for the text chat path
	VoiceModel string `toml:"voice_model"` // Live API model for the voice path
}

// ConciergeConfig contains session engine settings.
type ConciergeConfig struct {
	SessionIdleTimeoutSecs int `toml:"session_idle_timeout_seconds"` // Text sessions idle longer than this are reaped
	CleanupIntervalSecs    int `toml:"cleanup_interval_seconds"`     // How often the reaper runs
}

// StorageConfig contains agent store settings.
type StorageConfig struct {
	SQLitePath   string `toml:"sqlite_path"`   // Path to the agents database file
	SeedDefaults bool   `toml:"seed_defaults"` // Insert the demo agent configs on first run
}

// defaultConfig returns the baseline configuration applied before the TOML
// file overrides it.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    30,
			WriteTimeoutSecs:   0,
			IdleTimeoutSecs:    60,
			StaticFilesDir:     "www",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Gemini: GeminiConfig{
			ChatModel:  "gemini-3-flash-preview",
			VoiceModel: "gemini-2.5-flash-native-audio-preview-12-2025",
		},
		Concierge: ConciergeConfig{
			SessionIdleTimeoutSecs: 1800,
			CleanupIntervalSecs:    300,
		},
		Storage: StorageConfig{
			SQLitePath:   "data/agents.db",
			SeedDefaults: true,
		},
	}
}

// Load reads the configuration from the given TOML file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadWithFallback loads the preferred path if given, otherwise searches the
// conventional locations. A missing file yields the defaults.
func LoadWithFallback(preferredPath string) (*Config, error) {
	if preferredPath != "" {
		return Load(preferredPath)
	}
	for _, candidate := range []string{"configs/concierge.toml", "concierge.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment-provided secrets.
func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required (set it in the config file or via GEMINI_API_KEY)")
	}
	if c.Gemini.ChatModel == "" {
		return fmt.Errorf("gemini.chat_model is required")
	}
	if c.Gemini.VoiceModel == "" {
		return fmt.Errorf("gemini.voice_model is required")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if c.Concierge.SessionIdleTimeoutSecs <= 0 {
		return fmt.Errorf("concierge.session_idle_timeout_seconds must be positive")
	}
	if c.Concierge.CleanupIntervalSecs <= 0 {
		return fmt.Errorf("concierge.cleanup_interval_seconds must be positive")
	}
	return nil
}
