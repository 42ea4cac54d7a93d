package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/matricula-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/matricula-crawler/internal/matricula"
	"github.com/JakeFAU/matricula-crawler/internal/metrics"
	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// Config holds the settings for a crawl session.
// This struct is decoupled from Viper, making the crawler and its configuration
// more modular and easier to test independently.
type Config struct {
	// BaseURL is the site root seeds are built from. Defaults to
	// matricula.BaseURL.
	BaseURL string
	// MaxPages caps the listing pages fetched per pipeline run. Zero means
	// no cap.
	MaxPages  int
	Collector collyfetcher.Config
}

// Crawler runs the crawl pipelines.
type Crawler struct {
	cfg          Config
	logger       *zap.Logger
	reporter     Reporter
	clock        Clock
	newCollector CollectorFactory
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithReporter sets the user-facing reporter.
func WithReporter(r Reporter) Option {
	return func(c *Crawler) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option {
	return func(c *Crawler) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithCollectorFactory replaces collector construction.
func WithCollectorFactory(f CollectorFactory) Option {
	return func(c *Crawler) {
		if f != nil {
			c.newCollector = f
		}
	}
}

// New creates a Crawler.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = matricula.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Crawler{
		cfg:      cfg,
		logger:   logger,
		reporter: nopReporter{},
		clock:    utcClock{},
	}
	c.newCollector = func() (*colly.Collector, error) {
		return collyfetcher.NewCollector(c.cfg.Collector, c.logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context keys carried on colly requests.
const (
	ctxStage    = "stage"
	ctxSeed     = "seed"
	ctxLocation = "location"
)

const (
	stageListing     = "listing"
	stageCoordinates = "coordinates"
	stageManifest    = "manifest"
)

// run is one pipeline invocation.
type run struct {
	c         *Crawler
	ctx       context.Context
	pipeline  string
	collector *colly.Collector
	out       chan<- record.Record
	logger    *zap.Logger

	pages   atomic.Int64
	capOnce sync.Once
	// onFailure runs for responses that never reach extraction.
	onFailure func(*colly.Response)
}

// start runs setup on a fresh collector in the background and streams the
// records it emits. The channel is closed once every request has finished.
// Consumers must drain the channel or cancel ctx.
func (c *Crawler) start(ctx context.Context, pipeline string, setup func(*run) error) <-chan record.Record {
	out := make(chan record.Record)
	go func() {
		defer close(out)
		r := &run{
			c:        c,
			ctx:      ctx,
			pipeline: pipeline,
			out:      out,
			logger:   c.logger.With(zap.String("pipeline", pipeline)),
		}
		collector, err := c.newCollector()
		if err != nil {
			r.logger.Error("Failed to build collector", zap.Error(err))
			r.emit(record.Failure{Err: err, Fatal: true, At: c.clock.Now()})
			return
		}
		r.collector = collector
		collector.OnRequest(func(req *colly.Request) {
			if ctx.Err() != nil {
				req.Abort()
			}
		})
		collector.OnError(r.handleError)
		if err := setup(r); err != nil {
			r.logger.Error("Failed to start pipeline", zap.Error(err))
			r.emit(record.Failure{Err: err, Fatal: true, At: c.clock.Now()})
		}
		collector.Wait()
		r.logger.Debug("Pipeline finished", zap.Int64("pages", r.pages.Load()))
	}()
	return out
}

// emit hands rec to the consumer. It returns false once ctx is done.
func (r *run) emit(rec record.Record) bool {
	select {
	case r.out <- rec:
		metrics.ObserveRecord(rec.Kind())
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) fail(rawURL string, err error) {
	r.emit(record.Failure{URL: rawURL, Err: err, At: r.c.clock.Now()})
}

// visit queues rawURL for stage with its own request context.
func (r *run) visit(rawURL, stage string, values map[string]any) error {
	if r.ctx.Err() != nil {
		return r.ctx.Err()
	}
	cctx := colly.NewContext()
	cctx.Put(ctxStage, stage)
	for k, v := range values {
		cctx.Put(k, v)
	}
	if err := r.collector.Request("GET", rawURL, nil, cctx, nil); err != nil {
		return fmt.Errorf("visit %s: %w", rawURL, err)
	}
	return nil
}

// visitListing queues a listing page unless the page cap is reached.
func (r *run) visitListing(rawURL string) {
	if limit := r.c.cfg.MaxPages; limit > 0 && r.pages.Add(1) > int64(limit) {
		r.capOnce.Do(func() {
			r.logger.Warn("Page limit reached, not following further pages",
				zap.Int("max_pages", limit),
				zap.String("next", rawURL),
			)
		})
		return
	}
	if err := r.visit(rawURL, stageListing, nil); err != nil {
		r.logVisitError(rawURL, err)
	}
}

func (r *run) logVisitError(rawURL string, err error) {
	var already *colly.AlreadyVisitedError
	switch {
	case errors.As(err, &already):
		r.logger.Debug("Already visited", zap.String("url", rawURL))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.logger.Debug("Not visiting after cancellation", zap.String("url", rawURL))
	default:
		r.logger.Error("Failed to visit URL", zap.String("url", rawURL), zap.Error(err))
		r.fail(rawURL, err)
	}
}

// gate classifies resp and reports failures. It returns true iff the
// response should be extracted.
func (r *run) gate(resp *colly.Response) bool {
	rawURL := resp.Request.URL.String()
	d := Classify(resp.StatusCode)
	metrics.ObserveResponse(rawURL, d.String(), len(resp.Body))

	switch d {
	case Pass:
		return true
	case NotFound:
		r.c.reporter.Error(fmt.Sprintf("Invalid URL: %s - The requested page was not found (404).", rawURL))
		r.fail(rawURL, fmt.Errorf("status %d", resp.StatusCode))
	case ServerError:
		r.c.reporter.Error(fmt.Sprintf("Server Error: %s - An internal server error occurred at Matricula Online (500).", rawURL))
		r.fail(rawURL, fmt.Errorf("status %d", resp.StatusCode))
	case RateLimited:
		r.c.reporter.Warning(fmt.Sprintf("Rate Limit Exceeded: %s - Too many requests sent to Matricula Online (429). (Request will be retried automatically.)", rawURL))
		r.logger.Warn("Rate limited", zap.String("url", rawURL))
	default:
		r.logger.Debug("Skipping response", zap.String("url", rawURL), zap.Int("status_code", resp.StatusCode))
	}
	if r.onFailure != nil {
		r.onFailure(resp)
	}
	return false
}

func (r *run) handleError(resp *colly.Response, err error) {
	rawURL := ""
	if resp != nil && resp.Request != nil {
		rawURL = resp.Request.URL.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Debug("Request canceled", zap.String("url", rawURL))
		return
	}
	r.logger.Error("Request failed", zap.String("url", rawURL), zap.Error(err))
	r.c.reporter.Error(fmt.Sprintf("Request failed: %s - %v", rawURL, err))
	r.fail(rawURL, err)
	if r.onFailure != nil && resp != nil && resp.Request != nil {
		r.onFailure(resp)
	}
}

// document parses the response body.
func (r *run) document(resp *colly.Response) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Error("Failed to parse HTML", zap.String("url", resp.Request.URL.String()), zap.Error(err))
		r.fail(resp.Request.URL.String(), fmt.Errorf("parse html: %w", err))
		return nil, false
	}
	return doc, true
}

func stageOf(resp *colly.Response) string {
	if resp.Ctx == nil {
		return ""
	}
	return resp.Ctx.Get(ctxStage)
}

func (c *Crawler) absolute(path string) string {
	return c.cfg.BaseURL + path
}

// SearchParams are the location search form fields.
type SearchParams struct {
	Place      string
	Diocese    string
	DateFilter bool
	DateFrom   int
	DateTo     int
}

// DefaultSearchParams searches everything.
func DefaultSearchParams() SearchParams {
	return SearchParams{DateFrom: 0, DateTo: 9999}
}

// SearchURL builds the location search seed.
func (c *Crawler) SearchURL(p SearchParams) string {
	q := []string{
		"place=" + url.QueryEscape(p.Place),
		"diocese=" + url.QueryEscape(p.Diocese),
		fmt.Sprintf("date_range=%d,%d", p.DateFrom, p.DateTo),
	}
	if p.DateFilter {
		q = append(q, "date_filter=on")
	}
	return c.absolute("/en/suchen/?" + strings.Join(q, "&"))
}

// NewsfeedURL is the newsfeed listing seed.
func (c *Crawler) NewsfeedURL() string {
	return c.absolute("/en/nachrichten/")
}
