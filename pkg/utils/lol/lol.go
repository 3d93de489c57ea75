// Package lol (log of levels) is a simple leveled logger with code locations
// printed on error checks, colored level tags, and a runtime adjustable log
// level.
package lol

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/atomic"
)

// Level is a log level code.
type Level int32

const (
	// Fatal is for unrecoverable errors; the caller is expected to exit.
	Fatal Level = iota
	// Error is for errors that abort an operation.
	Error
	// Warn is for conditions that are survivable but unexpected.
	Warn
	// Info is for messages about normal operation.
	Info
	// Debug is for messages useful when chasing a bug.
	Debug
	// Trace is for high volume messages describing everything that happens.
	Trace
)

var names = []string{"fatal", "error", "warn", "info", "debug", "trace"}

var labels = []string{
	color.RedString("FTL"),
	color.RedString("ERR"),
	color.YellowString("WRN"),
	color.GreenString("INF"),
	color.BlueString("DBG"),
	color.MagentaString("TRC"),
}

var current atomic.Int32

func init() { current.Store(int32(Info)) }

// GetLogLevel converts a level name to its Level code, defaulting to Info for
// unrecognized names.
func GetLogLevel(name string) (l Level) {
	l = Info
	for i, n := range names {
		if strings.EqualFold(name, n) {
			l = Level(i)
		}
	}
	return
}

// SetLogLevel adjusts the level that is printed out of the loggers.
func SetLogLevel(name string) { current.Store(int32(GetLogLevel(name))) }

// GetLevel returns the currently active level.
func GetLevel() (l Level) { return Level(current.Load()) }

// L is a printer bound to one log level. F prints formatted, Ln prints fields
// space separated, S spews values for inspection.
type L struct {
	level Level
}

// Log is the set of level printers, eg Log.I.F("...%s", v).
type Log struct {
	F, E, W, I, D, T *L
}

// Main is the default logger used by the log package aliases.
var Main = &Log{
	F: &L{Fatal}, E: &L{Error}, W: &L{Warn},
	I: &L{Info}, D: &L{Debug}, T: &L{Trace},
}

func (l *L) enabled() bool { return Level(current.Load()) >= l.level }

func (l *L) print(s string) {
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	_, _ = fmt.Fprintf(os.Stderr, "%s %s %s\n", ts, labels[l.level], s)
}

// F prints a formatted log line at the printer's level.
func (l *L) F(format string, a ...any) {
	if !l.enabled() {
		return
	}
	l.print(fmt.Sprintf(format, a...))
}

// Ln prints fields space separated at the printer's level.
func (l *L) Ln(a ...any) {
	if !l.enabled() {
		return
	}
	l.print(strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
}

// S dumps values with %+v for inspection.
func (l *L) S(a ...any) {
	if !l.enabled() {
		return
	}
	var b strings.Builder
	for i, v := range a {
		if i > 0 {
			b.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&b, "%+v", v)
	}
	l.print(b.String())
}

// Check logs err with the caller's code location if it is not nil, and
// reports whether it was. The skip parameter is the number of stack frames
// above the caller to report.
func (l *L) Check(err error, skip int) (is bool) {
	if err == nil {
		return
	}
	if l.enabled() {
		_, file, line, _ := runtime.Caller(skip + 1)
		l.print(fmt.Sprintf("%s %s:%d", err.Error(), file, line))
	}
	is = true
	return
}
