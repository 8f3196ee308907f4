package config

import (
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-regionsync/log"
)

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = log.ConsoleEncoder
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = log.JSONEncoder
)

// LoggerConfig holds the logging level for each module.
type LoggerConfig struct {
	Encoder             LogEncoder `mapstructure:"log-encoder"`
	AppLoggerLevel      string     `mapstructure:"app"`
	VersionsLoggerLevel string     `mapstructure:"versions"`
	SyncLoggerLevel     string     `mapstructure:"sync"`
	MetricsLoggerLevel  string     `mapstructure:"metrics-server"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:             ConsoleLogEncoder,
		AppLoggerLevel:      defaultLoggingLevel.String(),
		VersionsLoggerLevel: defaultLoggingLevel.String(),
		SyncLoggerLevel:     defaultLoggingLevel.String(),
		MetricsLoggerLevel:  zapcore.WarnLevel.String(),
	}
}
