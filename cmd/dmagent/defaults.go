package main

import (
	"github.com/spf13/viper"
)

func initViperDefaults() {
	viper.SetDefault("schedule.timezone", "America/Chicago")
	viper.SetDefault("schedule.active_start_hour", 9)
	viper.SetDefault("schedule.active_end_hour", 21)
	viper.SetDefault("schedule.winddown_start_hour", 20)
	viper.SetDefault("schedule.poll_interval_active_sec", 180)
	viper.SetDefault("schedule.poll_interval_winddown_sec", 600)

	viper.SetDefault("state_dir", ".")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
