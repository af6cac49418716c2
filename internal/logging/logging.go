// Package logging sets up the process wide slog handler and prints run
// summaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// DefaultVerbosity reports warnings and errors only.
const DefaultVerbosity = 3

// Level maps a 0-9 verbosity onto a slog level.
func Level(verbosity int) slog.Level {
	switch {
	case verbosity <= 2:
		return slog.LevelError
	case verbosity == 3:
		return slog.LevelWarn
	case verbosity <= 5:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// NewHandler returns a tint handler writing to w, colored when w is a
// terminal.
func NewHandler(w io.Writer, verbosity int) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      Level(verbosity),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})
}

// Setup installs the default logger on stderr.
func Setup(verbosity int) *slog.Logger {
	logger := slog.New(NewHandler(os.Stderr, verbosity))
	slog.SetDefault(logger)
	return logger
}

// Summary is the end of run tally of a backup or restore.
type Summary struct {
	Created      int64
	Updated      int64
	Deleted      int64
	Errors       int64
	BytesWritten int64
	Duration     time.Duration
}

var title = color.New(color.FgHiCyan, color.Bold).SprintFunc()

// PrintSummary prints a summary of the sync operation
func PrintSummary(w io.Writer, s Summary, quiet bool) {
	if quiet && s.Errors == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, title("=== Summary ==="))
	fmt.Fprintf(w, "Created: %d entries\n", s.Created)
	fmt.Fprintf(w, "Updated: %d entries (%s written)\n", s.Updated, humanize.IBytes(uint64(s.BytesWritten)))
	fmt.Fprintf(w, "Deleted: %d entries\n", s.Deleted)
	if s.Errors > 0 {
		fmt.Fprintf(w, "Errors: %d\n", s.Errors)
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}
