// Package config loads skyvault configuration.
//
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// SKYVAULT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bryan-buckman/skyvault/internal/validation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKYVAULT_"

// PathEnvVar overrides the config file location.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths are searched when no explicit path is given.
var DefaultPaths = []string{
	"skyvault.yaml",
	"skyvault.yml",
	"/etc/skyvault/config.yaml",
}

// Config is the full application configuration.
type Config struct {
	DataDir       string              `koanf:"data_dir" validate:"required"`
	Language      string              `koanf:"language" validate:"required"`
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Downloads     DownloadsConfig     `koanf:"downloads"`
	Playback      PlaybackConfig      `koanf:"playback"`
	SearchHistory SearchHistoryConfig `koanf:"search_history"`
	Filtering     FilteringConfig     `koanf:"filtering"`
	Feed          FeedConfig          `koanf:"feed"`
}

// ServerConfig configures the HTTP API. An empty CORSOrigins disables CORS
// headers; RefreshPerMinute limits manual refreshes per client.
type ServerConfig struct {
	Addr             string        `koanf:"addr" validate:"required"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	CORSOrigins      []string      `koanf:"cors_origins" validate:"dive,required"`
	RefreshPerMinute int           `koanf:"refresh_per_minute" validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DownloadsConfig describes where downloaded files live on disk.
type DownloadsConfig struct {
	Root            string `koanf:"root"`
	SeparateFolders bool   `koanf:"separate_folders"`
}

type PlaybackConfig struct {
	Enabled bool `koanf:"enabled"`
}

type SearchHistoryConfig struct {
	Disabled bool `koanf:"disabled"`
}

// FilteringConfig selects how the subscription feed is filtered.
// MinViews of -1 disables the view-count filter.
type FilteringConfig struct {
	Mode     string `koanf:"mode" validate:"oneof=blacklist whitelist"`
	MinViews int64  `koanf:"min_views" validate:"gte=-1"`
}

// FeedConfig controls the background subscription refresh.
type FeedConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
	URLTemplate  string        `koanf:"url_template" validate:"required,contains=%s"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	Concurrency  int           `koanf:"concurrency" validate:"gte=1,lte=16"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		Language: "en",
		Server: ServerConfig{
			Addr:             "127.0.0.1:8080",
			ShutdownTimeout:  10 * time.Second,
			RefreshPerMinute: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Downloads: DownloadsConfig{
			Root: "downloads",
		},
		Playback: PlaybackConfig{Enabled: true},
		Filtering: FilteringConfig{
			Mode:     "blacklist",
			MinViews: -1,
		},
		Feed: FeedConfig{
			PollInterval: time.Hour,
			URLTemplate:  "https://www.youtube.com/feeds/videos.xml?channel_id=%s",
			Timeout:      10 * time.Minute,
			Concurrency:  2,
		},
	}
}

// Load builds the configuration. An empty path falls back to PathEnvVar and
// then DefaultPaths; a missing default file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validation.Struct(c)
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envAliases maps flat variable names onto nested keys. Anything else uses
// a double underscore as the nesting separator: SKYVAULT_FEED__POLL_INTERVAL.
var envAliases = map[string]string{
	"data_dir":         "data_dir",
	"language":         "language",
	"addr":             "server.addr",
	"log_level":        "logging.level",
	"log_format":       "logging.format",
	"downloads_root":   "downloads.root",
	"playback_enabled": "playback.enabled",
	"filter_mode":      "filtering.mode",
	"poll_interval":    "feed.poll_interval",
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "config" {
		return ""
	}
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, "__", ".")
}
