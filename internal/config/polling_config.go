package config

import (
	"errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"time"
)

// PollingConfig holds intervals in seconds unless the field is a time.Duration.
type PollingConfig struct {
	DefaultCheckInterval int           `mapstructure:"default_check_interval" validate:"gtefield=MinCheckInterval,ltefield=MaxCheckInterval"`
	MinCheckInterval     int           `mapstructure:"min_check_interval" validate:"gt=0,ltfield=MaxCheckInterval"`
	MaxCheckInterval     int           `mapstructure:"max_check_interval" validate:"gt=0"`
	IdleInterval         time.Duration `mapstructure:"idle_interval" validate:"gt=0"`
	FanOutThreshold      int           `mapstructure:"fan_out_threshold" validate:"gte=0"`
	FanOutFloor          int           `mapstructure:"fan_out_floor" validate:"gte=0"`
	WarningFloor         int           `mapstructure:"warning_floor" validate:"gte=0"`
	CriticalFloor        int           `mapstructure:"critical_floor" validate:"gtfield=WarningFloor"`
	HistoryMaxSize       int           `mapstructure:"history_max_size" validate:"gt=0"`
	HistoryKeepSize      int           `mapstructure:"history_keep_size" validate:"gt=0,ltefield=HistoryMaxSize"`
	ReconcileSchedule    string        `mapstructure:"reconcile_schedule" validate:"required"`
}

func setPollingDefaults() {
	viper.SetDefault("polling.default_check_interval", 60)
	viper.SetDefault("polling.min_check_interval", 30)
	viper.SetDefault("polling.max_check_interval", 3600)
	viper.SetDefault("polling.idle_interval", 10*time.Second)
	viper.SetDefault("polling.fan_out_threshold", 10)
	viper.SetDefault("polling.fan_out_floor", 60)
	viper.SetDefault("polling.warning_floor", 120)
	viper.SetDefault("polling.critical_floor", 300)
	viper.SetDefault("polling.history_max_size", 1000)
	viper.SetDefault("polling.history_keep_size", 500)
	viper.SetDefault("polling.reconcile_schedule", "@every 5m")
}

func (config PollingConfig) validate() error {
	var errs []error

	if err := validateStruct(config); err != nil {
		errs = append(errs, err)
	}

	if config.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(config.ReconcileSchedule); err != nil {
			errs = append(errs, errors.New("reconcile_schedule is not a valid cron spec: "+err.Error()))
		}
	}

	return errors.Join(errs...)
}

func (config PollingConfig) bindEnvironmentVariables() error {
	var errs []error

	bindings := map[string]string{
		"polling.default_check_interval": "DEFAULT_CHECK_INTERVAL",
		"polling.min_check_interval":     "MIN_CHECK_INTERVAL",
		"polling.max_check_interval":     "MAX_CHECK_INTERVAL",
		"polling.history_max_size":       "HISTORY_MAX_SIZE",
		"polling.history_keep_size":      "HISTORY_KEEP_SIZE",
		"polling.reconcile_schedule":     "RECONCILE_SCHEDULE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
