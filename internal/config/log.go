package config

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logSink is the durable log behind Config.Log.
type logSink struct {
	once  sync.Once
	sugar *zap.SugaredLogger
}

// Log logs a message at the given verbosity level.
// Level 0 messages are always logged; higher levels are suppressed unless
// the configured verbosity is at least that high.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if level > 0 && level > c.Logging.Verbosity {
		return
	}
	sugar := c.sugar()
	if level == 0 {
		sugar.Infof(format, args...)
	} else {
		sugar.Debugf(format, args...)
	}
}

// Sync flushes any buffered log output.
func (c *Config) Sync() {
	c.sugar().Sync()
}

// sugar lazily builds the underlying logger so tests that never log
// don't pay for file setup.
func (c *Config) sugar() *zap.SugaredLogger {
	c.logger.once.Do(func() {
		c.logger.sugar = c.buildLogger().Sugar()
	})
	return c.logger.sugar
}

// buildLogger constructs the zap logger from the logging settings.
// Output always goes to stderr; if a log file is configured the same
// entries are teed to it.
func (c *Config) buildLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encoder := zapcore.NewConsoleEncoder(encCfg)

	level := parseLevel(c.Logging.Level)
	// Verbosity-gated messages are emitted at debug, so an active -v flag
	// must open the debug gate regardless of the configured level.
	if c.Logging.Verbosity > 0 && level > zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if c.Logging.File != "" {
		if f, err := os.OpenFile(c.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(f), level))
		}
	}
	return zap.New(zapcore.NewTee(cores...))
}

// parseLevel maps a level name to a zap level, defaulting to info.
func parseLevel(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
