package config

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"os"
	"reflect"
	"strings"
)

type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger"`
	Bot     BotConfig     `mapstructure:"bot"`
	API     APIConfig     `mapstructure:"api"`
	Polling PollingConfig `mapstructure:"polling"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

var configFile = "./configs/config.yaml"

// Get loads and validates the configuration. An invalid configuration aborts the process.
func Get() *Config {

	if value, ok := os.LookupEnv("CONFIG_PATH"); ok && value != "" {
		configFile = value
	}

	config, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("invalid configuration:\n%v", err)
	}

	return config
}

func loadConfig(file string) (*Config, error) {

	viper.SetConfigFile(file)
	viper.AutomaticEnv()

	setDefaults()

	if err := bindEnvironmentVariables(); err != nil {
		return nil, err
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Config{}
	if err := viper.Unmarshal(&config, viper.DecodeHook(decodeHook())); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("metrics.address", ":8080")
	viper.SetDefault("logger.log_level", string(LevelInfo))
	viper.SetDefault("logger.app_name", "fh-notifier")
	viper.SetDefault("logger.output_file", "./logs/notifier.log")
	viper.SetDefault("db.driver", DriverSqlite)

	setAPIDefaults()
	setPollingDefaults()
	setBotDefaults()
}

func bindEnvironmentVariables() error {
	var errs []error

	bot, api, polling, db, logger := BotConfig{}, APIConfig{}, PollingConfig{}, DBConfig{}, LoggerConfig{}

	if err := bot.bindEnvironmentVariables(); err != nil {
		errs = append(errs, fmt.Errorf("BotConfig: %w", err))
	}

	if err := api.bindEnvironmentVariables(); err != nil {
		errs = append(errs, fmt.Errorf("APIConfig: %w", err))
	}

	if err := polling.bindEnvironmentVariables(); err != nil {
		errs = append(errs, fmt.Errorf("PollingConfig: %w", err))
	}

	if err := db.bindEnvironmentVariables(); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := logger.bindEnvironmentVariables(); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if err := viper.BindEnv("metrics.address", "METRICS_ADDRESS"); err != nil {
		errs = append(errs, fmt.Errorf("MetricsConfig: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}

func (config Config) validate() error {
	var errs []error

	if err := config.DB.validate(); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := config.Bot.validate(); err != nil {
		errs = append(errs, fmt.Errorf("BotConfig: %w", err))
	}

	if err := config.API.validate(); err != nil {
		errs = append(errs, fmt.Errorf("APIConfig: %w", err))
	}

	if err := config.Polling.validate(); err != nil {
		errs = append(errs, fmt.Errorf("PollingConfig: %w", err))
	}

	if err := config.Logger.validate(); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validateStruct runs the tag based checks and lists every violated constraint.
func validateStruct(s any) error {
	err := structValidator.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	return errors.Join(lo.Map(validationErrs, func(fieldErr validator.FieldError, _ int) error {
		return describeFieldError(fieldErr)
	})...)
}

func describeFieldError(fieldErr validator.FieldError) error {
	switch fieldErr.Tag() {
	case "required":
		return fmt.Errorf("missing variable: %s", fieldErr.Field())
	case "ltfield":
		return fmt.Errorf("%s (%v) must be less than %s", fieldErr.Field(), fieldErr.Value(), fieldErr.Param())
	case "gtfield":
		return fmt.Errorf("%s (%v) must be greater than %s", fieldErr.Field(), fieldErr.Value(), fieldErr.Param())
	case "ltefield":
		return fmt.Errorf("%s (%v) must not exceed %s", fieldErr.Field(), fieldErr.Value(), fieldErr.Param())
	case "gtefield":
		return fmt.Errorf("%s (%v) must not be less than %s", fieldErr.Field(), fieldErr.Value(), fieldErr.Param())
	default:
		return fmt.Errorf("%s (%v) violates %s=%s", fieldErr.Field(), fieldErr.Value(), fieldErr.Tag(), fieldErr.Param())
	}
}
