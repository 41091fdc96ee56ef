package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: debug

trading:
  quantity: 50
  max_open_positions: 2

schedule:
  timezone: Asia/Kolkata
  entry:
    time: "15:09"
    weekdays: [Mon, Tue, Wed, Thu]
  exit:
    time: "09:30"
    weekdays: [Tue, Wed, Thu, Fri]

selection:
  instruments: [NIFTY, BANKNIFTY]

feed:
  port: 8090

storage:
  path: data/positions.json
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, 50, cfg.Trading.Quantity)
	assert.Equal(t, 2, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Selection.Instruments)

	// Defaults applied.
	assert.Equal(t, 5, cfg.Selection.TopN)
	assert.Equal(t, 2, cfg.Selection.MaxSelection)
	assert.Equal(t, 3*time.Second, cfg.PushInterval())
	assert.Equal(t, "json", cfg.Storage.Driver)

	hour, minute := cfg.Schedule.Entry.TriggerClock()
	assert.Equal(t, 15, hour)
	assert.Equal(t, 9, minute)

	set := cfg.Schedule.Exit.WeekdaySet()
	assert.True(t, set[time.Friday])
	assert.False(t, set[time.Monday])

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nbogus_section:\n  x: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_STORAGE_PATH", "/tmp/positions.json")
	yaml := validYAML + "" // copy
	yaml = yaml[:len(yaml)-len("storage:\n  path: data/positions.json\n")] +
		"storage:\n  path: ${TEST_STORAGE_PATH}\n"
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/positions.json", cfg.Storage.Path)
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "dry-run" }, "environment.mode"},
		{"zero quantity", func(c *Config) { c.Trading.Quantity = 0 }, "trading.quantity"},
		{"zero max open", func(c *Config) { c.Trading.MaxOpenPositions = 0 }, "trading.max_open_positions"},
		{"no instruments", func(c *Config) { c.Selection.Instruments = nil }, "selection.instruments"},
		{"bad trigger time", func(c *Config) { c.Schedule.Entry.Time = "25:99" }, "schedule.entry.time"},
		{"empty weekdays", func(c *Config) { c.Schedule.Exit.Weekdays = nil }, "schedule.exit.weekdays"},
		{"unknown weekday", func(c *Config) { c.Schedule.Exit.Weekdays = []string{"Funday"} }, "unknown weekday"},
		{"duplicate weekday", func(c *Config) { c.Schedule.Exit.Weekdays = []string{"Tue", "Tue"} }, "duplicate weekday"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"bad interval", func(c *Config) { c.Feed.PushInterval = "fast" }, "feed.push_interval"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"no path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"live without creds", func(c *Config) { c.Environment.Mode = "live" }, "broker.access_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
