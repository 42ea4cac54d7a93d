// Package collyfetcher builds the colly collectors shared by every crawl
// pipeline and image download.
package collyfetcher

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Concurrency    int
	Delay          time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// AllowedDomains restricts requests to these hosts. Empty allows all.
	AllowedDomains []string
	// Transport replaces the pooled HTTP transport. Retries still wrap it.
	Transport http.RoundTripper
}

// NewCollector returns an async collector configured with cfg. Error
// responses are parsed like any other response so callers can classify
// them in OnResponse.
func NewCollector(cfg Config, logger *zap.Logger) (*colly.Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	if len(cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(cfg.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.AllowURLRevisit = false
	// robots.txt is not consulted.
	c.IgnoreRobotsTxt = true

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	parallelism := cfg.Concurrency
	if parallelism <= 0 {
		parallelism = 1
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport()
	}
	policy := NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax)
	c.WithTransport(NewRetryTransport(base, policy, logger))
	return c, nil
}

// HostOf returns the host of rawURL, or "" if it does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
