package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger prints user-facing messages and carries a structured logger for
// diagnostics.
type Logger struct {
	quiet   bool
	verbose bool
	out     io.Writer
	errOut  io.Writer
	slog    *slog.Logger
}

// Options configure a Logger. Nil writers default to stdout and stderr.
type Options struct {
	Quiet   bool
	Verbose bool
	Out     io.Writer
	Err     io.Writer
}

// NewLogger creates a new logger
func NewLogger(opts Options) *Logger {
	out, errOut := opts.Out, opts.Err
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}

	return &Logger{
		quiet:   opts.Quiet,
		verbose: opts.Verbose,
		out:     out,
		errOut:  errOut,
		slog:    slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
	}
}

// Slog returns the structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Quiet reports whether informational output is suppressed.
func (l *Logger) Quiet() bool {
	return l.quiet
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	if !l.quiet {
		fmt.Fprintf(l.out, format+"\n", args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	fmt.Fprintf(l.errOut, "ERROR: "+format+"\n", args...)
}

// Debug logs a debug message when verbose output is enabled
func (l *Logger) Debug(format string, args ...any) {
	if l.verbose {
		fmt.Fprintf(l.errOut, "DEBUG: "+format+"\n", args...)
	}
}

// Summary is the outcome count of one command.
type Summary struct {
	Uploaded   int64
	Downloaded int64
	Skipped    int64
	Failed     int64
	Bytes      int64
	Failures   []string
}

// PrintSummary prints the final report. Failures are always printed, even
// in quiet mode.
func (l *Logger) PrintSummary(s Summary, duration time.Duration) {
	if l.quiet && s.Failed == 0 {
		return
	}

	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, "=== Summary ===")
	fmt.Fprintf(l.out, "Summary: uploaded=%d, downloaded=%d, skipped=%d, failed=%d\n",
		s.Uploaded, s.Downloaded, s.Skipped, s.Failed)
	fmt.Fprintf(l.out, "Transferred: %s\n", FormatBytes(s.Bytes))
	for _, f := range s.Failures {
		fmt.Fprintf(l.out, "  failed: %s\n", f)
	}
	fmt.Fprintf(l.out, "Duration: %s\n", duration.Round(time.Millisecond))
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
