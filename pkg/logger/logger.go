// Package logger configures the process logger: a colored tint handler when
// stderr is a terminal, plain slog text otherwise.
package logger

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New builds the root logger. verbose lowers the level to debug and adds
// source locations.
func New(verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, lvl, verbose, isatty.IsTerminal(os.Stderr.Fd())))
}

// Setup installs the root logger as the process default and returns it.
func Setup(verbose bool) *slog.Logger {
	l := New(verbose)
	slog.SetDefault(l)
	return l
}

func newHandler(f *os.File, lvl slog.Level, verbose, terminal bool) slog.Handler {
	if terminal {
		return tint.NewHandler(f, &tint.Options{
			Level:     lvl,
			AddSource: verbose,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		})
	}
	return slog.NewTextHandler(f, &slog.HandlerOptions{Level: lvl, AddSource: verbose})
}
