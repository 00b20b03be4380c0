package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root zerolog.Logger every process (api, worker,
// creditgrant) derives its component loggers from. Production emits JSON at
// info level; development gets the console writer and debug level, which is
// where the per-statement SQL logging lives.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if strings.EqualFold(appEnv, "development") {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level == zerolog.DebugLevel {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger so packages outside infra depend on the
// logging contract without importing the third-party module directly.
type Logger = zerolog.Logger
