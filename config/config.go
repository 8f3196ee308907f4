// Package config contains go-regionsync configuration definitions
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/spacemeshos/go-regionsync/syncer"
	"github.com/spacemeshos/go-regionsync/versions"
)

const (
	defaultConfigFileName = "./config.toml"
)

// Config defines the top level configuration for a regionsync replica.
type Config struct {
	BaseConfig `mapstructure:"main"`
	LOGGING    LoggerConfig    `mapstructure:"logging"`
	Versions   versions.Config `mapstructure:"versions"`
	Sync       syncer.Config   `mapstructure:"sync"`
}

// BaseConfig defines the default configuration options for the regionsync app.
type BaseConfig struct {
	ConfigFile string `mapstructure:"config"`
	Preset     string `mapstructure:"preset"`

	CollectMetrics    bool          `mapstructure:"metrics"`
	MetricsPort       int           `mapstructure:"metrics-port"`
	MetricsPush       string        `mapstructure:"metrics-push"`
	MetricsPushPeriod time.Duration `mapstructure:"metrics-push-period"`
}

// DefaultConfig returns the default configuration for a regionsync replica.
func DefaultConfig() Config {
	return Config{
		BaseConfig: defaultBaseConfig(),
		LOGGING:    defaultLoggingConfig(),
		Versions:   versions.DefaultConfig(),
		Sync:       syncer.DefaultConfig(),
	}
}

func defaultBaseConfig() BaseConfig {
	return BaseConfig{
		ConfigFile:        defaultConfigFileName,
		CollectMetrics:    false,
		MetricsPort:       1010,
		MetricsPushPeriod: time.Minute,
	}
}

// Validate checks the configuration for values that the components can't work with.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Sync.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("sync.max-attempts must be positive, got %d", cfg.Sync.MaxAttempts))
	}
	if cfg.Sync.BaseBackoff > cfg.Sync.MaxBackoff {
		errs = append(errs, fmt.Errorf("sync.base-backoff %v exceeds sync.max-backoff %v",
			cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff))
	}
	if cfg.Sync.RequestTimeout <= 0 {
		errs = append(errs, errors.New("sync.request-timeout must be positive"))
	}
	if cfg.Sync.SweepInterval <= 0 {
		errs = append(errs, errors.New("sync.sweep-interval must be positive"))
	}
	if cfg.Sync.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("sync.requests-per-second must not be negative"))
	}
	if cfg.Versions.DepartedCacheSize < 1 {
		errs = append(errs, errors.New("versions.departed-cache-size must be positive"))
	}
	if cfg.CollectMetrics && (cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid metrics port %d", cfg.MetricsPort))
	}
	return errors.Join(errs...)
}

// LoadConfig load the config file.
func LoadConfig(fileLocation string, vip *viper.Viper) (err error) {
	if fileLocation == "" {
		fileLocation = defaultConfigFileName
	}

	vip.SetConfigFile(fileLocation)
	err = vip.ReadInConfig()

	if err != nil {
		if fileLocation != defaultConfigFileName {
			vip.SetConfigFile(defaultConfigFileName)
			err = vip.ReadInConfig()
		}
		// we change err so check again
		if err != nil {
			return fmt.Errorf("failed to read config file %w", err)
		}
	}

	return nil
}

// Decode decodes the values loaded into vip on top of conf.
func Decode(vip *viper.Viper, conf *Config) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := vip.Unmarshal(conf, viper.DecodeHook(hook)); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// SetConfigFile overrides the default config file path.
func (cfg *BaseConfig) SetConfigFile(file string) {
	cfg.ConfigFile = file
}
