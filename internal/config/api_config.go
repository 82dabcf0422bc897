package config

import (
	"errors"
	"github.com/spf13/viper"
	"time"
)

// APIConfig describes the Freelancehunt API and how carefully it is polled.
type APIConfig struct {
	Token                      string        `mapstructure:"token" validate:"required"`
	BaseURL                    string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout             time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MinRequestInterval         time.Duration `mapstructure:"min_request_interval" validate:"gte=0"`
	RateLimitWarningThreshold  int           `mapstructure:"rate_limit_warning_threshold" validate:"gt=0"`
	RateLimitCriticalThreshold int           `mapstructure:"rate_limit_critical_threshold" validate:"gte=0,ltfield=RateLimitWarningThreshold"`
	RateLimitWindow            time.Duration `mapstructure:"rate_limit_window" validate:"gte=0"`
}

func setAPIDefaults() {
	viper.SetDefault("api.base_url", "https://api.freelancehunt.com/v2")
	viper.SetDefault("api.request_timeout", 15*time.Second)
	viper.SetDefault("api.min_request_interval", time.Second)
	viper.SetDefault("api.rate_limit_warning_threshold", 20)
	viper.SetDefault("api.rate_limit_critical_threshold", 10)
	viper.SetDefault("api.rate_limit_window", time.Minute)
}

func (config APIConfig) validate() error {
	return validateStruct(config)
}

func (config APIConfig) bindEnvironmentVariables() error {
	var errs []error

	// durations accept Go syntax ("1500ms") or bare seconds ("1.5")
	bindings := map[string]string{
		"api.token":                         "FREELANCEHUNT_TOKEN",
		"api.base_url":                      "FREELANCEHUNT_API_URL",
		"api.request_timeout":               "API_REQUEST_TIMEOUT",
		"api.min_request_interval":          "MIN_API_REQUEST_INTERVAL",
		"api.rate_limit_warning_threshold":  "RATE_LIMIT_WARNING_THRESHOLD",
		"api.rate_limit_critical_threshold": "RATE_LIMIT_CRITICAL_THRESHOLD",
		"api.rate_limit_window":             "RATE_LIMIT_WINDOW",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
