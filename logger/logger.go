// Package logger builds the reconciler's root zerolog logger. Every
// subsystem derives a sub-logger from it via With().Str("component", ...),
// so level, output format and sampling are decided exactly once here.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/config"
)

// New constructs the root logger from the log settings in the reconciler
// config: LogLevel maps straight onto zerolog levels, LogFormat selects
// json or console output, and LogSampler thins repeated lines for noisy
// local runs.
func New(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(writerFor(cfg.LogFormat)).
		Level(zerolog.Level(cfg.LogLevel)).
		With().
		Timestamp().
		Logger()

	if cfg.LogSampler {
		logger = logger.Sample(&zerolog.BasicSampler{N: 5})
	}
	return logger
}

// writerFor picks the output encoding. JSON is the deployment default;
// anything else renders the human-readable console form.
func writerFor(format string) io.Writer {
	if format == "json" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
}
