// Package logging configures the global slog logger for clipstash.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Options configures Setup.
type Options struct {
	Format Format
	Level  slog.Level
	// Writer receives log output; nil means os.Stderr.
	Writer io.Writer
}

// Resolve turns flag values into Options. An empty level means debug when
// running interactively and info otherwise.
func Resolve(interactive bool, format, level string) Options {
	opts := Options{Format: ParseFormat(format), Level: ParseLevel(level)}
	if level == "" {
		opts.Level = slog.LevelInfo
		if interactive {
			opts.Level = slog.LevelDebug
		}
	}
	return opts
}

// Setup builds a logger from opts and installs it as the slog default. Call
// once after flag/viper parsing.
func Setup(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	useTint := opts.Format == FormatText || (opts.Format == FormatAuto && IsTTY(w))

	var h slog.Handler
	if useTint {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      opts.Level,
			TimeFormat: "15:04:05.000",
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: opts.Level,
		})
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}
