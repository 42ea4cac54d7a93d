// Package console prints user-facing messages with level badges. It is not
// a log sink: logs go through zap.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Level is the severity of a console message.
type Level int

// Levels.
const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

type badge struct {
	label string
	// ANSI background color.
	bg string
}

var badges = map[Level]badge{
	LevelInfo:    {" INFO ", "44"},
	LevelSuccess: {" SUCCESS ", "42"},
	LevelWarning: {" WARNING ", "43"},
	LevelError:   {" ERROR ", "41"},
}

// Reporter writes badge-prefixed lines. The zero value is not usable; call New.
type Reporter struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	quiet bool
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithColor forces colored badges on or off.
func WithColor(on bool) Option {
	return func(r *Reporter) { r.color = on }
}

// WithQuiet drops info and success messages.
func WithQuiet(quiet bool) Option {
	return func(r *Reporter) { r.quiet = quiet }
}

// New writes to w. Colors are enabled when w is a terminal.
func New(w io.Writer, opts ...Option) *Reporter {
	if w == nil {
		w = os.Stderr
	}
	r := &Reporter{w: w, color: isTerminal(w)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Print writes msg under the badge for level.
func (r *Reporter) Print(level Level, msg string) {
	if r.quiet && (level == LevelInfo || level == LevelSuccess) {
		return
	}
	b := badges[level]
	label := b.label
	if r.color {
		label = "\x1b[1;" + b.bg + "m" + b.label + "\x1b[0m"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, "%s %s\n", label, msg)
}

// Info prints an informational message.
func (r *Reporter) Info(msg string) { r.Print(LevelInfo, msg) }

// Success prints a success message.
func (r *Reporter) Success(msg string) { r.Print(LevelSuccess, msg) }

// Warning prints a warning.
func (r *Reporter) Warning(msg string) { r.Print(LevelWarning, msg) }

// Error prints an error.
func (r *Reporter) Error(msg string) { r.Print(LevelError, msg) }
