package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configTemplate mirrors the keys config.FromViper reads. Marshalled through
// yaml.v3 so the emitted file always parses back.
type configTemplate struct {
	Account struct {
		ID       string `yaml:"id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"account"`
	Backend struct {
		BaseURL       string `yaml:"base_url"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"backend"`
	Network struct {
		Proxy string `yaml:"proxy"`
	} `yaml:"network"`
	Schedule struct {
		Timezone                string `yaml:"timezone"`
		ActiveStartHour         int    `yaml:"active_start_hour"`
		ActiveEndHour           int    `yaml:"active_end_hour"`
		WinddownStartHour       int    `yaml:"winddown_start_hour"`
		PollIntervalActiveSec   int    `yaml:"poll_interval_active_sec"`
		PollIntervalWinddownSec int    `yaml:"poll_interval_winddown_sec"`
	} `yaml:"schedule"`
	StateDir string `yaml:"state_dir"`
	Logging  struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Health struct {
		Listen string `yaml:"listen"`
	} `yaml:"health"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = args[0]
			}
			dir = filepath.Clean(dir)

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			body, err := yaml.Marshal(defaultConfigTemplate(dir))
			if err != nil {
				return err
			}

			if err := os.WriteFile(cfgPath, body, 0o600); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", cfgPath)
			return nil
		},
	}
}

func defaultConfigTemplate(dir string) configTemplate {
	var t configTemplate
	t.Account.ID = "your-cratehq-account-id"
	t.Account.Username = "your.instagram.username"
	t.Account.Password = "your-instagram-password"
	t.Backend.BaseURL = "https://app.cratehq.com"
	t.Backend.WebhookSecret = "your-webhook-secret"
	t.Schedule.Timezone = "America/Chicago"
	t.Schedule.ActiveStartHour = 9
	t.Schedule.ActiveEndHour = 21
	t.Schedule.WinddownStartHour = 20
	t.Schedule.PollIntervalActiveSec = 180
	t.Schedule.PollIntervalWinddownSec = 600
	t.StateDir = filepath.ToSlash(dir)
	t.Logging.Level = "info"
	t.Logging.Format = "text"
	return t
}
