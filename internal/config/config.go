// Package config produces the immutable runtime configuration snapshot from
// viper. The agent refuses to start on a missing required key or an hour
// value outside 0-23; the active window must be strictly ordered
// (active_start_hour < active_end_hour), overnight windows are rejected.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SessionFilename   = "session.json"
	WatermarkFilename = "last_seen.json"
	LogFilename       = "dm_agent.log"
)

type Config struct {
	AccountID string
	Username  string
	Password  string

	Proxy string

	BackendBaseURL string
	WebhookSecret  string

	Timezone          string
	ActiveStartHour   int
	ActiveEndHour     int
	WinddownStartHour int

	PollIntervalActive   time.Duration
	PollIntervalWinddown time.Duration

	StateDir     string
	HealthListen string
}

var requiredKeys = []string{
	"account.id",
	"account.username",
	"account.password",
	"backend.base_url",
	"backend.webhook_secret",
	"schedule.timezone",
	"schedule.active_start_hour",
	"schedule.active_end_hour",
	"schedule.winddown_start_hour",
	"schedule.poll_interval_active_sec",
	"schedule.poll_interval_winddown_sec",
}

// FromViper reads and validates the process configuration.
func FromViper() (Config, error) {
	for _, key := range requiredKeys {
		if !viper.IsSet(key) || strings.TrimSpace(viper.GetString(key)) == "" {
			return Config{}, fmt.Errorf("missing required config key: %s", key)
		}
	}

	cfg := Config{
		AccountID:            strings.TrimSpace(viper.GetString("account.id")),
		Username:             strings.TrimSpace(viper.GetString("account.username")),
		Password:             viper.GetString("account.password"),
		Proxy:                strings.TrimSpace(viper.GetString("network.proxy")),
		BackendBaseURL:       strings.TrimRight(strings.TrimSpace(viper.GetString("backend.base_url")), "/"),
		WebhookSecret:        strings.TrimSpace(viper.GetString("backend.webhook_secret")),
		Timezone:             strings.TrimSpace(viper.GetString("schedule.timezone")),
		ActiveStartHour:      viper.GetInt("schedule.active_start_hour"),
		ActiveEndHour:        viper.GetInt("schedule.active_end_hour"),
		WinddownStartHour:    viper.GetInt("schedule.winddown_start_hour"),
		PollIntervalActive:   time.Duration(viper.GetInt("schedule.poll_interval_active_sec")) * time.Second,
		PollIntervalWinddown: time.Duration(viper.GetInt("schedule.poll_interval_winddown_sec")) * time.Second,
		StateDir:             strings.TrimSpace(viper.GetString("state_dir")),
		HealthListen:         strings.TrimSpace(viper.GetString("health.listen")),
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "."
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	for key, hour := range map[string]int{
		"schedule.active_start_hour":   c.ActiveStartHour,
		"schedule.active_end_hour":     c.ActiveEndHour,
		"schedule.winddown_start_hour": c.WinddownStartHour,
	} {
		if hour < 0 || hour > 23 {
			return fmt.Errorf("config key %s = %d, must be an hour in 0-23", key, hour)
		}
	}
	if c.ActiveStartHour >= c.ActiveEndHour {
		return fmt.Errorf("schedule.active_start_hour (%d) must be before schedule.active_end_hour (%d); overnight windows are not supported",
			c.ActiveStartHour, c.ActiveEndHour)
	}
	if c.PollIntervalActive <= 0 || c.PollIntervalWinddown <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid schedule.timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. validate() has already checked
// it, so failures here only happen if tzdata disappears at runtime.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c Config) SessionPath() string {
	return filepath.Join(c.StateDir, SessionFilename)
}

func (c Config) WatermarkPath() string {
	return filepath.Join(c.StateDir, WatermarkFilename)
}

func (c Config) LogPath() string {
	return filepath.Join(c.StateDir, LogFilename)
}
