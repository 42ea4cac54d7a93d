// Package images downloads the scans listed in register image manifests.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/matricula-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/matricula-crawler/internal/hash/shake"
	"github.com/JakeFAU/matricula-crawler/internal/matricula"
	"github.com/JakeFAU/matricula-crawler/internal/metrics"
	"github.com/JakeFAU/matricula-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// UnknownDir holds scans whose register URL could not be decomposed.
const UnknownDir = "unknown"

const defaultContentType = "image/jpeg"

// BlobStore persists downloaded scans.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Config controls the download step.
type Config struct {
	Collector collyfetcher.Config
	// RatePerSecond throttles downloads per image host. Non-positive means
	// unthrottled beyond the collector's own delay.
	RatePerSecond float64
	// SkipExisting leaves already stored scans alone.
	SkipExisting bool
}

// Stats counts download outcomes.
type Stats struct {
	Stored  int
	Skipped int
	Failed  int
}

// ObjectPath returns where the scan imageURL of the register at registerURL
// is stored: {country}/{region}/{parish}/{fond_id}/page<N>_<hash>.jpg.
func ObjectPath(registerURL, imageURL string, logger *zap.Logger) string {
	dir := UnknownDir
	if d, err := matricula.DecomposeRegisterURL(registerURL); err == nil {
		dir = d.Dir()
	} else if logger != nil {
		logger.Error("Could not decompose register URL", zap.String("url", registerURL), zap.Error(err))
	}
	if _, ok := matricula.ImagePageNumber(imageURL); !ok && logger != nil {
		logger.Error("Could not extract page number from image URL", zap.String("url", imageURL))
	}
	return path.Join(dir, matricula.ImageFileName(imageURL, shake.String(imageURL)))
}

// Colly context keys.
const (
	ctxPath    = "path"
	ctxRequest = "request_ctx"
)

// Downloader stores every scan of the manifests handed to Put. It
// satisfies sink.Sink so a manifest crawl can be drained straight into it.
type Downloader struct {
	cfg       Config
	store     BlobStore
	limiter   *ratelimit.Limiter
	collector *colly.Collector
	logger    *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a Downloader writing to store.
func New(cfg Config, store BlobStore, logger *zap.Logger) (*Downloader, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	collector, err := collyfetcher.NewCollector(cfg.Collector, logger)
	if err != nil {
		return nil, err
	}
	// Scans are larger than colly's default body cap.
	collector.MaxBodySize = 0

	d := &Downloader{
		cfg:       cfg,
		store:     store,
		limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RatePerSecond, DefaultBurst: 1}),
		collector: collector,
		logger:    logger.With(zap.String("component", "images")),
	}
	collector.OnRequest(d.onRequest)
	collector.OnResponse(d.onResponse)
	collector.OnError(d.onError)
	return d, nil
}

// Put queues the downloads of one manifest. Other record kinds are rejected.
func (d *Downloader) Put(ctx context.Context, rec record.Record) error {
	m, ok := rec.(record.ImageManifest)
	if !ok {
		return fmt.Errorf("downloader cannot store %s records", rec.Kind())
	}
	for _, e := range m.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		objectPath := ObjectPath(m.RegisterURL, e.URL, d.logger)
		if d.cfg.SkipExisting {
			exists, err := d.store.Exists(ctx, objectPath)
			if err != nil {
				d.logger.Warn("Could not check for stored image", zap.String("path", objectPath), zap.Error(err))
			} else if exists {
				d.count(func(s *Stats) { s.Skipped++ }, "skipped")
				continue
			}
		}
		cctx := colly.NewContext()
		cctx.Put(ctxPath, objectPath)
		cctx.Put(ctxRequest, ctx)
		if err := d.collector.Request("GET", e.URL, nil, cctx, nil); err != nil {
			var already *colly.AlreadyVisitedError
			if errors.As(err, &already) {
				d.logger.Debug("Image already queued", zap.String("url", e.URL))
				continue
			}
			d.logger.Error("Failed to queue image", zap.String("url", e.URL), zap.Error(err))
			d.count(func(s *Stats) { s.Failed++ }, "failed")
		}
	}
	return nil
}

// Close waits for every queued download.
func (d *Downloader) Close() error {
	d.collector.Wait()
	s := d.Stats()
	d.logger.Info("Image downloads finished",
		zap.Int("stored", s.Stored),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
	)
	return nil
}

// Stats returns the outcome counts so far.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Downloader) count(f func(*Stats), status string) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
	metrics.ObserveImage(status)
}

func requestContext(c *colly.Context) context.Context {
	if ctx, ok := c.GetAny(ctxRequest).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func (d *Downloader) onRequest(req *colly.Request) {
	ctx := requestContext(req.Ctx)
	if err := d.limiter.Wait(ctx, req.URL.String()); err != nil {
		d.logger.Debug("Download canceled", zap.String("url", req.URL.String()), zap.Error(err))
		req.Abort()
	}
}

func (d *Downloader) onResponse(resp *colly.Response) {
	rawURL := resp.Request.URL.String()
	metrics.ObserveResponse(rawURL, statusLabel(resp.StatusCode), len(resp.Body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Error("Image download failed", zap.String("url", rawURL), zap.Int("status_code", resp.StatusCode))
		d.count(func(s *Stats) { s.Failed++ }, "failed")
		return
	}
	objectPath := resp.Ctx.Get(ctxPath)
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	uri, err := d.store.PutObject(requestContext(resp.Ctx), objectPath, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		d.logger.Error("Failed to store image", zap.String("url", rawURL), zap.String("path", objectPath), zap.Error(err))
		d.count(func(s *Stats) { s.Failed++ }, "failed")
		return
	}
	d.logger.Debug("Stored image", zap.String("url", rawURL), zap.String("uri", uri))
	d.count(func(s *Stats) { s.Stored++ }, "stored")
}

func (d *Downloader) onError(resp *colly.Response, err error) {
	rawURL := ""
	if resp != nil && resp.Request != nil {
		rawURL = resp.Request.URL.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		d.logger.Debug("Download canceled", zap.String("url", rawURL))
		return
	}
	d.logger.Error("Image request failed", zap.String("url", rawURL), zap.Error(err))
	d.count(func(s *Stats) { s.Failed++ }, "failed")
}

func statusLabel(code int) string {
	if code >= 200 && code <= 299 {
		return "success"
	}
	return fmt.Sprintf("status_%d", code)
}
