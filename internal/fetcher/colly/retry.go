package collyfetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/metrics"
)

// ExponentialRetryPolicy decides when a request is retried and how long to
// wait before the next attempt.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to
// 3 attempts, 250ms and 5s.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether a transport error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ShouldRetryStatus reports whether a response status is retried. Only 429
// is; every other status is left to the response classifier.
func (p *ExponentialRetryPolicy) ShouldRetryStatus(status, attempt int) bool {
	return status == http.StatusTooManyRequests && attempt < p.maxAttempts
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter honours a Retry-After header given in seconds, capped at the
// policy's maximum delay.
func (p *ExponentialRetryPolicy) retryAfter(resp *http.Response, attempt int) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, p.maxDelay)
	}
	return p.Backoff(attempt)
}

// RetryTransport retries GET requests that were rate limited or timed out.
// The final response is returned as is, so a persisting 429 still reaches
// the collector.
type RetryTransport struct {
	base   http.RoundTripper
	policy *ExponentialRetryPolicy
	logger *zap.Logger
}

// NewRetryTransport wraps base with policy.
func NewRetryTransport(base http.RoundTripper, policy *ExponentialRetryPolicy, logger *zap.Logger) *RetryTransport {
	if base == nil {
		base = newHTTPTransport()
	}
	if policy == nil {
		policy = NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryTransport{base: base, policy: policy, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err != nil {
			if req.Method != http.MethodGet || !t.policy.ShouldRetry(err, attempt) {
				return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
			}
			if err := t.wait(req, t.policy.Backoff(attempt), attempt, "timeout"); err != nil {
				return nil, err
			}
			continue
		}
		if req.Method != http.MethodGet || !t.policy.ShouldRetryStatus(resp.StatusCode, attempt) {
			return resp, nil
		}
		delay := t.policy.retryAfter(resp, attempt)
		drain(resp)
		if err := t.wait(req, delay, attempt, "rate_limited"); err != nil {
			return nil, err
		}
	}
}

func (t *RetryTransport) wait(req *http.Request, delay time.Duration, attempt int, reason string) error {
	metrics.ObserveRetry(reason)
	t.logger.Debug("Retrying request",
		zap.String("url", req.URL.String()),
		zap.String("reason", reason),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	if err := sleepWithContext(req.Context(), delay); err != nil {
		return fmt.Errorf("retry backoff sleep: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
