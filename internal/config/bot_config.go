package config

import (
	"errors"
	"github.com/spf13/viper"
)

type BotConfig struct {
	Token                 string  `mapstructure:"token" validate:"required"`
	MaxMessagesPerSecond  float64 `mapstructure:"max_messages_per_second" validate:"gt=0"`
	SendTimeout           int     `mapstructure:"send_timeout_seconds" validate:"gt=0"`
	UpdatesTimeoutSeconds int     `mapstructure:"updates_timeout_seconds" validate:"gte=0"`
}

func setBotDefaults() {
	viper.SetDefault("bot.max_messages_per_second", 25)
	viper.SetDefault("bot.send_timeout_seconds", 30)
	viper.SetDefault("bot.updates_timeout_seconds", 60)
}

func (config BotConfig) validate() error {
	return validateStruct(config)
}

func (config BotConfig) bindEnvironmentVariables() error {
	var errs []error

	if err := viper.BindEnv("bot.token", "TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		errs = append(errs, err)
	}

	if err := viper.BindEnv("bot.max_messages_per_second", "TG_MAX_MESSAGES_PER_SECOND"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
