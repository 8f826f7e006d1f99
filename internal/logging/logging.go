// Package logging builds the zap logger shared by all components.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds a logger at the given level ("debug", "info", "warn", "error")
// writing in the given format. JSON uses the production config; console uses
// the development config.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	switch strings.ToLower(format) {
	case "", FormatJSON:
		config = zap.NewProductionConfig()
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", level)
	}
	return lvl, nil
}
