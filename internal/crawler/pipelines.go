package crawler

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/extract"
	"github.com/JakeFAU/matricula-crawler/internal/metrics"
	"github.com/JakeFAU/matricula-crawler/internal/pagination"
	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// Manifests fetches the image manifest of every register viewer URL. Each
// seed yields one ImageManifest or one Failure.
func (c *Crawler) Manifests(ctx context.Context, registerURLs []string) <-chan record.Record {
	return c.start(ctx, "manifest", func(r *run) error {
		r.collector.OnResponse(func(resp *colly.Response) {
			if !r.gate(resp) {
				return
			}
			doc, ok := r.document(resp)
			if !ok {
				return
			}
			seed := resp.Ctx.Get(ctxSeed)
			entries, err := extract.Manifest(doc, r.logger)
			if err != nil {
				r.logger.Error("Could not extract image manifest", zap.String("url", seed), zap.Error(err))
				r.fail(seed, err)
				return
			}
			r.emit(record.ImageManifest{RegisterURL: seed, Entries: entries})
		})
		for _, u := range registerURLs {
			if err := r.visit(u, stageManifest, map[string]any{ctxSeed: u}); err != nil {
				r.logVisitError(u, err)
			}
		}
		return nil
	})
}

// LocationOptions tune the location crawl.
type LocationOptions struct {
	Search SearchParams
	// Coordinates fetches each parish page for its map point.
	Coordinates bool
}

// Locations walks the parish search results. With coordinates enabled each
// location is emitted once its parish page has been fetched, with or
// without a point.
func (c *Crawler) Locations(ctx context.Context, opts LocationOptions) <-chan record.Record {
	walker := pagination.Follow()
	return c.start(ctx, "locations", func(r *run) error {
		r.onFailure = func(resp *colly.Response) {
			if stageOf(resp) != stageCoordinates {
				return
			}
			if loc, ok := resp.Ctx.GetAny(ctxLocation).(record.Location); ok {
				r.emit(loc)
			}
		}
		r.collector.OnResponse(func(resp *colly.Response) {
			if !r.gate(resp) {
				return
			}
			doc, ok := r.document(resp)
			if !ok {
				if loc, isLoc := resp.Ctx.GetAny(ctxLocation).(record.Location); isLoc {
					r.emit(loc)
				}
				return
			}

			if stageOf(resp) == stageCoordinates {
				loc, _ := resp.Ctx.GetAny(ctxLocation).(record.Location)
				if lon, lat, found := extract.Coordinates(doc); found {
					loc.Longitude, loc.Latitude = &lon, &lat
				} else {
					r.logger.Debug("No coordinates found", zap.String("url", loc.URL))
				}
				r.emit(loc)
				return
			}

			metrics.ObservePage(r.pipeline)
			for _, loc := range extract.Locations(doc, resp.Request.URL, r.logger) {
				if !opts.Coordinates {
					r.emit(loc)
					continue
				}
				if err := r.visit(loc.URL, stageCoordinates, map[string]any{ctxLocation: loc}); err != nil {
					r.logger.Debug("Coordinates not fetched", zap.String("url", loc.URL), zap.Error(err))
					r.emit(loc)
				}
			}
			r.next(walker, doc, resp)
		})
		r.visitListing(c.SearchURL(opts.Search))
		return nil
	})
}

// Registers walks the register tables of the given parish pages. A parish
// page without a table yields EmptyParish or PlaceholderParish instead.
func (c *Crawler) Registers(ctx context.Context, parishURLs []string) <-chan record.Record {
	walker := pagination.Rewrite()
	return c.start(ctx, "registers", func(r *run) error {
		r.collector.OnResponse(func(resp *colly.Response) {
			if !r.gate(resp) {
				return
			}
			doc, ok := r.document(resp)
			if !ok {
				return
			}
			metrics.ObservePage(r.pipeline)
			records, err := extract.ParishPage(doc, resp.Request.URL, r.logger)
			if err != nil {
				r.logger.Error("Could not extract register table",
					zap.String("url", resp.Request.URL.String()),
					zap.Error(err),
				)
				r.fail(resp.Request.URL.String(), err)
			}
			for _, rec := range records {
				if !r.emit(rec) {
					return
				}
			}
			r.next(walker, doc, resp)
		})
		for _, u := range parishURLs {
			r.visitListing(u)
		}
		return nil
	})
}

// next queues the page after resp, if any.
func (r *run) next(walker pagination.Walker, doc *goquery.Document, resp *colly.Response) {
	next, ok, err := walker.Next(doc, resp.Request.URL)
	if err != nil {
		r.logger.Error("Could not build next page URL",
			zap.String("url", resp.Request.URL.String()),
			zap.Error(err),
		)
		r.fail(resp.Request.URL.String(), err)
		return
	}
	if !ok {
		r.logger.Debug("Last page reached", zap.String("url", resp.Request.URL.String()))
		return
	}
	r.visitListing(next.String())
}
