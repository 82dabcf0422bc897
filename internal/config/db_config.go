package config

import (
	"fmt"
	"github.com/spf13/viper"
)

const (
	DriverSqlite = "sqlite"
	DriverRedis  = "redis"
)

type DBConfig struct {
	Driver           string `mapstructure:"driver" validate:"oneof=sqlite redis"`
	ConnectionString string `mapstructure:"connection_string"`
	RedisURL         string `mapstructure:"redis_url"`
}

func (config DBConfig) validate() error {
	if err := validateStruct(config); err != nil {
		return err
	}
	if config.Driver == DriverSqlite && config.ConnectionString == "" {
		return fmt.Errorf("missing variable: db connection string")
	}
	if config.Driver == DriverRedis && config.RedisURL == "" {
		return fmt.Errorf("missing variable: redis url")
	}
	return nil
}

func (config DBConfig) bindEnvironmentVariables() error {
	if err := viper.BindEnv("db.driver", "DB_DRIVER"); err != nil {
		return err
	}
	if err := viper.BindEnv("db.redis_url", "REDIS_URL"); err != nil {
		return err
	}
	return viper.BindEnv("db.connection_string", "DB_CONNECTION_STRING")
}
