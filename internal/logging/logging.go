package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level string
	// File enables an additional rotating JSON sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console overrides the console destination (stdout by default).
	Console io.Writer
	NoColor bool
}

// Logger couples the root logger with the resources it holds open.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New builds a console logger and, when Options.File is set, tees it into a
// lumberjack rotated file.
func New(opts Options) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Console
	if out == nil {
		out = os.Stdout
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime, NoColor: opts.NoColor}

	l := &Logger{}
	var w io.Writer = console
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(console, l.file)
	}

	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return l
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
