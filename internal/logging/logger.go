package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/stackdio/stackd/internal/config"
)

// NewLogger creates a structured zerolog.Logger writing JSON to stdout with
// the service name and the configured level.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.Service.Name != "" {
		ctx = ctx.Str("service", cfg.Service.Name)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
