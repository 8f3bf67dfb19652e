package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/config"
)

// New builds the process logger. Logs go to stderr so stdout stays free for
// results. When cfg.File is set, a JSON copy is appended there as well; the
// returned closer releases that file and is never nil.
//
// verbose forces debug level, quiet raises the floor to warn.
func New(cfg config.LoggingConfig, verbose, quiet bool) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	if quiet {
		level = zerolog.WarnLevel
	}

	var console io.Writer = os.Stderr
	if strings.ToLower(cfg.Format) != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("error creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// TraceDuration logs the elapsed time of a stage at debug level.
// Usage: defer logging.TraceDuration(logger, "download")()
func TraceDuration(logger zerolog.Logger, stage string) func() {
	start := time.Now()
	return func() {
		logger.Debug().Str("stage", stage).Dur("duration", time.Since(start)).Msg("stage finished")
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
