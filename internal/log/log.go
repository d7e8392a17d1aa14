// Package log configures the zap loggers used throughout the peer manager.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines parameters for initializing a zap logger.
type Config struct {
	Level         string `yaml:"level"`
	DisableCaller bool   `yaml:"disable_caller"`
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

func (c Config) zapLevel() zapcore.Level {
	var level zapcore.Level
	if err := level.Set(c.Level); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// New constructs a *zap.Logger from config. fields, if non-nil, are attached
// to every log line emitted by the returned logger (e.g. hostname, info
// hash, peer id) so logs from many torrents and peers can be told apart once
// aggregated.
func New(config Config, fields map[string]interface{}) (*zap.Logger, error) {
	config.applyDefaults()

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(config.zapLevel())
	zapConfig.DisableCaller = config.DisableCaller
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return logger, nil
	}
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return logger.With(zapFields...), nil
}

// NewNop returns a logger which discards all log lines, for use in tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
