package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/extract"
	"github.com/JakeFAU/matricula-crawler/internal/metrics"
	"github.com/JakeFAU/matricula-crawler/internal/pagination"
	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// DefaultNewsfeedLimit bounds the articles of one newsfeed crawl.
const DefaultNewsfeedLimit = 100

// NewsfeedOptions bound the newsfeed crawl.
type NewsfeedOptions struct {
	// LastNDays keeps articles dated within the last n days, today
	// included. Zero keeps all.
	LastNDays int
	// Limit is an upper bound on emitted articles. Zero means
	// DefaultNewsfeedLimit, negative means unbounded.
	Limit     int
	Selectors extract.NewsfeedSelectors
}

// Cutoff returns the first day still inside the last n days relative to now.
func Cutoff(now time.Time, lastNDays int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(lastNDays - 1))
}

// Newsfeed walks the newsfeed newest first. The walk stops at the first
// article older than the cutoff or once the limit is reached.
func (c *Crawler) Newsfeed(ctx context.Context, opts NewsfeedOptions) <-chan record.Record {
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultNewsfeedLimit
	}
	selectors := opts.Selectors
	if selectors.Item == "" {
		selectors = extract.DefaultNewsfeedSelectors
	}
	var cutoff time.Time
	if opts.LastNDays > 0 {
		cutoff = Cutoff(c.clock.Now(), opts.LastNDays)
	}
	walker := pagination.Follow()

	return c.start(ctx, "newsfeed", func(r *run) error {
		var (
			mu      sync.Mutex
			emitted int
		)
		r.collector.OnResponse(func(resp *colly.Response) {
			if !r.gate(resp) {
				return
			}
			doc, ok := r.document(resp)
			if !ok {
				return
			}
			metrics.ObservePage(r.pipeline)

			mu.Lock()
			defer mu.Unlock()
			for _, a := range extract.Articles(doc, resp.Request.URL, selectors, r.logger) {
				if limit > 0 && emitted >= limit {
					r.logger.Debug("Article limit reached", zap.Int("limit", limit))
					return
				}
				if !cutoff.IsZero() {
					date, err := record.ParseArticleDate(a.Date)
					if err != nil {
						r.logger.Warn("Could not parse article date", zap.String("url", a.URL), zap.Error(err))
					} else if date.Before(cutoff) {
						r.logger.Debug("Reached articles older than cutoff",
							zap.String("cutoff", record.FormatISODate(cutoff)),
							zap.String("url", a.URL),
						)
						return
					}
				}
				if !r.emit(a) {
					return
				}
				emitted++
			}
			if limit > 0 && emitted >= limit {
				return
			}
			r.next(walker, doc, resp)
		})
		r.visitListing(c.NewsfeedURL())
		return nil
	})
}
