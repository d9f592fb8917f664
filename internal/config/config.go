// Package config loads service configuration from a YAML file with
// environment overrides. Keys use dotted viper notation; the matching
// environment variable is DIGCOORD_ plus the key uppercased with dots and
// dashes replaced by underscores (database.dsn → DIGCOORD_DATABASE_DSN).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Detection DetectionConfig `mapstructure:"detection"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
	Directory ServiceEndpoint `mapstructure:"directory"`
	MailQueue ServiceEndpoint `mapstructure:"mailqueue"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn"`
	MaxConns       int           `mapstructure:"max-conns"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	MigrateOnStart bool          `mapstructure:"migrate-on-start"`
}

type DetectionConfig struct {
	BufferMeters     float64       `mapstructure:"buffer-meters"`
	SoftBudget       time.Duration `mapstructure:"soft-budget"`
	BatchConcurrency int           `mapstructure:"batch-concurrency"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	TickHour int    `mapstructure:"tick-hour"`
}

type EventsConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue-depth"`
}

// ServiceEndpoint locates one of the external HTTP dependencies.
type ServiceEndpoint struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (optional; empty means defaults plus
// environment only) and resolves the final Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("DIGCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty-string defaults register the keys so AutomaticEnv can bind them
	// during Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("directory.url", "")
	v.SetDefault("mailqueue.url", "")

	v.SetDefault("database.max-conns", 10)
	v.SetDefault("database.connect-timeout", 10*time.Second)
	v.SetDefault("database.migrate-on-start", true)

	v.SetDefault("detection.buffer-meters", 20.0)
	v.SetDefault("detection.soft-budget", 10*time.Second)
	v.SetDefault("detection.batch-concurrency", 5)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Europe/Prague")
	v.SetDefault("scheduler.tick-hour", 9)

	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue-depth", 256)

	v.SetDefault("directory.timeout", 15*time.Second)
	v.SetDefault("mailqueue.timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate returns every problem found, not just the first.
func (c *Config) Validate() []string {
	var issues []string
	if c.Database.DSN == "" {
		issues = append(issues, "database.dsn: required")
	}
	if c.Detection.BufferMeters < 0 {
		issues = append(issues, fmt.Sprintf("detection.buffer-meters: %v is negative", c.Detection.BufferMeters))
	}
	if c.Detection.BatchConcurrency < 1 {
		issues = append(issues, fmt.Sprintf("detection.batch-concurrency: %d must be at least 1", c.Detection.BatchConcurrency))
	}
	if c.Scheduler.TickHour < 0 || c.Scheduler.TickHour > 23 {
		issues = append(issues, fmt.Sprintf("scheduler.tick-hour: %d outside 0-23", c.Scheduler.TickHour))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		issues = append(issues, fmt.Sprintf("scheduler.timezone: %q is not a valid IANA zone", c.Scheduler.Timezone))
	}
	if c.Events.Workers < 1 {
		issues = append(issues, fmt.Sprintf("events.workers: %d must be at least 1", c.Events.Workers))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log.level: %q is invalid (valid values: debug, info, warn, error)", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log.format: %q is invalid (valid values: text, json)", c.Log.Format))
	}
	return issues
}

// Location resolves the scheduler timezone; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
