// Package log builds the zap loggers used across regionsync components and carries
// request-scoped logging fields through contexts.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ConsoleEncoder logs plain text.
	ConsoleEncoder = "console"
	// JSONEncoder logs JSON.
	JSONEncoder = "json"
)

// where logs go by default.
var logWriter io.Writer = os.Stdout

// NewNop creates silent logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// New creates a logger with the given level ("debug", "info", ...) and encoder kind.
func New(name, level, encoder string, hooks ...func(zapcore.Entry) error) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	enc, err := newEncoder(encoder)
	if err != nil {
		return nil, err
	}
	return NewWithLevel(name, lvl, enc, hooks...), nil
}

// NewWithLevel creates a logger with a fixed level and with a set of (optional) hooks.
func NewWithLevel(name string,
	level zap.AtomicLevel,
	encoder zapcore.Encoder,
	hooks ...func(zapcore.Entry) error,
) *zap.Logger {
	core := zapcore.NewCore(encoder, zapcore.AddSync(logWriter), level)
	return zap.New(zapcore.RegisterHooks(core, hooks...)).Named(name)
}

func newEncoder(kind string) (zapcore.Encoder, error) {
	switch kind {
	case ConsoleEncoder, "":
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	case JSONEncoder:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	default:
		return nil, fmt.Errorf("unknown log encoder %q", kind)
	}
}
