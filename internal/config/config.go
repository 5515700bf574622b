package config

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/tripstream/internal/transport"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "tripstream.yaml"

const envPrefix = "TRIP_"

type Config struct {
	Stream    StreamConfig            `koanf:"stream"`
	Breaker   transport.BreakerConfig `koanf:"breaker"`
	Storage   StorageConfig           `koanf:"storage"`
	Fixture   FixtureConfig           `koanf:"fixture"`
	Log       LogConfig               `koanf:"log"`
	Telemetry TelemetryConfig         `koanf:"telemetry"`
}

type StreamConfig struct {
	URL      string        `koanf:"url"`
	Token    string        `koanf:"token"`    // Supports ${VAR}
	Timeout  time.Duration `koanf:"timeout"`  // 0 disables
	ReadSize int           `koanf:"read_size"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type FixtureConfig struct {
	Port       int           `koanf:"port"`
	FrameDelay time.Duration `koanf:"frame_delay"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// SlogLevel parses Level, falling back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"stream.timeout":       "0s",
	"stream.read_size":     32 * 1024,
	"breaker.max_failures": 5,
	"breaker.timeout":      "30s",
	"storage.type":         "memory",
	"storage.sqlite.path":  "tripstream.db",
	"fixture.port":         8080,
	"fixture.frame_delay":  "50ms",
	"log.level":            "info",
	"telemetry.enabled":    false,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (DefaultPath when empty; a missing
// file is not an error), then TRIP_ environment variables, then overrides.
// Nested keys use a double underscore: TRIP_STORAGE__SQLITE__PATH.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range overrides {
		k.Set(key, v)
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Stream.Token = substituteEnvVars(cfg.Stream.Token)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
