//go:build prod

package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup initializes logging for production builds. Records go to a rotating
// file via lumberjack, and to stderr as well when cfg.Console is set.
// The returned function closes the log file.
func Setup(cfg *Config) (*slog.Logger, func() error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dir := cfg.Dir
	if dir == "" {
		dir = DefaultLogDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, err
	}

	name := cfg.FileName
	if name == "" {
		name = DefaultConfig().FileName
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}

	var w io.Writer = lj
	if cfg.Console {
		w = io.MultiWriter(lj, os.Stderr)
	}

	logger := slog.New(newHandler(w, cfg))
	setGlobal(logger)

	return logger, lj.Close, nil
}
