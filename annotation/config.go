package annotation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lewtec/marcador/internal/assignment"
	"github.com/lewtec/marcador/internal/domain"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of marcador
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Sequence   SequenceConfig   `mapstructure:"sequence"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Log        LogConfig        `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StatsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SequenceConfig struct {
	// FallbackEnabled lets allocate_next_id hand out degraded ids when the counter store is down
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
	RecordCounter   string `mapstructure:"record_counter"`
}

type AssignmentConfig struct {
	SeedVersion int `mapstructure:"seed_version"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "marcador.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("stats.ttl", 15*time.Second)
	v.SetDefault("sequence.fallback_enabled", false)
	v.SetDefault("sequence.record_counter", domain.CounterAnnotationRecord)
	v.SetDefault("assignment.seed_version", int(assignment.DefaultSeedVersion))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// LoadConfig reads configuration from filename, if given, and from the
// environment. Env var overrides use the prefix MARCADOR_, so database.path
// becomes MARCADOR_DATABASE_PATH.
func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARCADOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("while reading config file %s: %w", filename, err)
		}
	}

	var ret Config
	if err := v.Unmarshal(&ret); err != nil {
		return nil, fmt.Errorf("while decoding config: %w", err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Validate rejects settings the components cannot run with
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is empty")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout is negative")
	}
	if c.Stats.TTL <= 0 {
		return fmt.Errorf("stats.ttl must be positive, got %s", c.Stats.TTL)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}
	if c.Sequence.RecordCounter == "" {
		return fmt.Errorf("sequence.record_counter is empty")
	}
	if !assignment.SeedVersion(c.Assignment.SeedVersion).Valid() {
		return fmt.Errorf("assignment.seed_version %d is not supported", c.Assignment.SeedVersion)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("log.level %q: %w", level, err)
	}
	return l, nil
}
