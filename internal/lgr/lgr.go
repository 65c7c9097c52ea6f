// Package lgr builds the process loggers: a colored console logger for
// humans and rotating JSON files for recorded positions.
package lgr

import (
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/natefinch/lumberjack"
)

// Logger is the process-wide logger. It is replaced by Init.
var Logger = slog.Default()

// New returns a tint console logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
			NoColor:    color.NoColor,
		}),
	)
}

// Init sets Logger and the slog default to a console logger on stderr.
func Init(level slog.Level) *slog.Logger {
	Logger = New(os.Stderr, level)
	slog.SetDefault(Logger)
	return Logger
}

// NewRotatingFile returns a size-rotated, compressed log file at path.
func NewRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7, // days
		Compress:   true,
	}
}
