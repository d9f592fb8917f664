package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: postgres://localhost/digcoord\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/digcoord", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, 20.0, cfg.Detection.BufferMeters)
	assert.Equal(t, 10*time.Second, cfg.Detection.SoftBudget)
	assert.Equal(t, 5, cfg.Detection.BatchConcurrency)
	assert.Equal(t, "Europe/Prague", cfg.Scheduler.Timezone)
	assert.Equal(t, 9, cfg.Scheduler.TickHour)
	assert.Equal(t, 4, cfg.Events.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://db/digcoord
  max-conns: 50
detection:
  buffer-meters: 35.5
scheduler:
  timezone: Europe/Vienna
  tick-hour: 6
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Database.MaxConns)
	assert.Equal(t, 35.5, cfg.Detection.BufferMeters)
	assert.Equal(t, "Europe/Vienna", cfg.Scheduler.Timezone)
	assert.Equal(t, 6, cfg.Scheduler.TickHour)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: postgres://file/db\n")
	t.Setenv("DIGCOORD_DATABASE_DSN", "postgres://env/db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.DSN)
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("DIGCOORD_DATABASE_DSN", "postgres://env-only/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-only/db", cfg.Database.DSN)
}

func TestLoadMissingDSNFails(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := &Config{
		Detection: DetectionConfig{BufferMeters: -1, BatchConcurrency: 0},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", TickHour: 99},
		Events:    EventsConfig{Workers: 0},
		Log:       LogConfig{Level: "loud", Format: "xml"},
	}
	issues := cfg.Validate()
	assert.Len(t, issues, 8)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Scheduler: SchedulerConfig{Timezone: "Nowhere/Nope"}}
	assert.Equal(t, time.UTC, cfg.Location())
}
