// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultTopN is the number of ranked contracts kept when selection.top_n is unset.
	defaultTopN = 5
	// defaultMaxSelection caps the candidates picked per entry when selection.max_selection is unset.
	defaultMaxSelection = 2
	// defaultPushInterval is the valuation feed push cadence when feed.push_interval is unset.
	defaultPushInterval = 3 * time.Second
	// defaultTimezone matches the exchange the engine trades on.
	defaultTimezone = "Asia/Kolkata"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Trading     TradingConfig     `yaml:"trading"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Selection   SelectionConfig   `yaml:"selection"`
	Feed        FeedConfig        `yaml:"feed"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API and credential settings. Secrets are
// expected to arrive via environment variable expansion.
type BrokerConfig struct {
	LoginURL    string `yaml:"login_url"`
	ValidateURL string `yaml:"validate_url"`
	AccessToken string `yaml:"access_token"`
	Mobile      string `yaml:"mobile"`
	UCC         string `yaml:"ucc"`
	MPIN        string `yaml:"mpin"`
	TOTPSecret  string `yaml:"totp_secret"`
}

// TradingConfig defines order sizing and position limits.
type TradingConfig struct {
	Quantity         int `yaml:"quantity"`
	MaxOpenPositions int `yaml:"max_open_positions"`
}

// ScheduleConfig defines the entry and exit triggers.
type ScheduleConfig struct {
	Timezone string        `yaml:"timezone"` // e.g. "Asia/Kolkata"
	Entry    TriggerConfig `yaml:"entry"`
	Exit     TriggerConfig `yaml:"exit"`
}

// TriggerConfig defines one recurring weekly trigger: a time-of-day plus a
// weekday mask.
type TriggerConfig struct {
	Time     string   `yaml:"time"`     // "HH:MM"
	Weekdays []string `yaml:"weekdays"` // e.g. ["Mon","Tue","Wed","Thu"]
}

// SelectionConfig defines the contract selection parameters.
type SelectionConfig struct {
	Instruments  []string `yaml:"instruments"` // iteration order matters
	TopN         int      `yaml:"top_n"`
	MaxSelection int      `yaml:"max_selection"`
}

// FeedConfig defines the valuation feed settings.
type FeedConfig struct {
	PushInterval string `yaml:"push_interval"` // e.g. "3s"
	Port         int    `yaml:"port"`
}

// StorageConfig defines persistence settings for position data.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite
	Path   string `yaml:"path"`
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday,
	"Wed": time.Wednesday, "Thu": time.Thursday, "Fri": time.Friday,
	"Sat": time.Saturday,
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Selection.TopN == 0 {
		c.Selection.TopN = defaultTopN
	}
	if c.Selection.MaxSelection == 0 {
		c.Selection.MaxSelection = defaultMaxSelection
	}
	if c.Feed.PushInterval == "" {
		c.Feed.PushInterval = defaultPushInterval.String()
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "json"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if !c.IsPaperTrading() {
		if c.Broker.AccessToken == "" {
			return fmt.Errorf("broker.access_token is required in live mode")
		}
		if c.Broker.UCC == "" {
			return fmt.Errorf("broker.ucc is required in live mode")
		}
		if c.Broker.MPIN == "" {
			return fmt.Errorf("broker.mpin is required in live mode")
		}
	}

	if c.Trading.Quantity <= 0 {
		return fmt.Errorf("trading.quantity must be > 0")
	}
	if c.Trading.MaxOpenPositions <= 0 {
		return fmt.Errorf("trading.max_open_positions must be > 0")
	}

	if len(c.Selection.Instruments) == 0 {
		return fmt.Errorf("selection.instruments must not be empty")
	}
	if c.Selection.TopN <= 0 {
		return fmt.Errorf("selection.top_n must be > 0")
	}
	if c.Selection.MaxSelection <= 0 {
		return fmt.Errorf("selection.max_selection must be > 0")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	if err := validateTrigger("schedule.entry", c.Schedule.Entry); err != nil {
		return err
	}
	if err := validateTrigger("schedule.exit", c.Schedule.Exit); err != nil {
		return err
	}

	if _, err := time.ParseDuration(c.Feed.PushInterval); err != nil {
		return fmt.Errorf("feed.push_interval invalid: %w", err)
	}
	if c.Feed.Port < 0 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port must be a valid port number")
	}

	if c.Storage.Driver != "json" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("storage.driver must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

func validateTrigger(name string, t TriggerConfig) error {
	if _, _, err := parseClock(t.Time); err != nil {
		return fmt.Errorf("%s.time invalid: %w", name, err)
	}
	if len(t.Weekdays) == 0 {
		return fmt.Errorf("%s.weekdays must not be empty", name)
	}
	seen := map[string]bool{}
	for _, d := range t.Weekdays {
		if _, ok := weekdayNames[d]; !ok {
			return fmt.Errorf("%s.weekdays contains unknown weekday %q", name, d)
		}
		if seen[d] {
			return fmt.Errorf("%s.weekdays contains duplicate weekday %q", name, d)
		}
		seen[d] = true
	}
	return nil
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured scheduling timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// PushInterval returns the configured valuation push interval.
func (c *Config) PushInterval() time.Duration {
	d, err := time.ParseDuration(c.Feed.PushInterval)
	if err != nil {
		return defaultPushInterval
	}
	return d
}

// TriggerClock returns the hour and minute of a validated trigger time.
func (t TriggerConfig) TriggerClock() (hour, minute int) {
	hour, minute, _ = parseClock(t.Time)
	return hour, minute
}

// WeekdaySet returns the trigger's weekday mask as a set.
func (t TriggerConfig) WeekdaySet() map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(t.Weekdays))
	for _, d := range t.Weekdays {
		if wd, ok := weekdayNames[d]; ok {
			set[wd] = true
		}
	}
	return set
}
