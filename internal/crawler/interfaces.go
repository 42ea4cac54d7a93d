package crawler

import (
	"time"

	"github.com/gocolly/colly/v2"
)

// Reporter shows user-facing messages. It is not a log sink.
type Reporter interface {
	Error(msg string)
	Warning(msg string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// CollectorFactory builds a fresh collector for one pipeline run.
type CollectorFactory func() (*colly.Collector, error)

type nopReporter struct{}

func (nopReporter) Error(string)   {}
func (nopReporter) Warning(string) {}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
