package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// Reporter receives user-facing warnings raised while draining.
type Reporter interface {
	Warning(msg string)
}

// Stats counts what Drain saw.
type Stats struct {
	Written      int
	Empty        int
	Placeholders int
	Failures     int
}

// ErrCrawlAborted wraps the failure that stopped a crawl.
var ErrCrawlAborted = errors.New("crawl aborted")

// Drain consumes recs until the channel closes, writing data records to s.
// Sentinel parish records are reported, not written. Failures are logged and
// counted; a fatal failure is returned once the stream has been drained.
// A write error cancels nothing by itself: the caller owns ctx and should
// cancel it so the producer stops.
func Drain(ctx context.Context, recs <-chan record.Record, s Sink, reporter Reporter, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		stats    Stats
		fatal    error
		writeErr error
	)
	for rec := range recs {
		if writeErr != nil {
			continue
		}
		switch r := rec.(type) {
		case record.Location, record.ParishRegisterMetadata, record.ImageManifest, record.NewsfeedArticle:
			if err := s.Put(ctx, r); err != nil {
				writeErr = fmt.Errorf("write %s: %w", r.Kind(), err)
				continue
			}
			stats.Written++
		case record.EmptyParish:
			stats.Empty++
			report(reporter, fmt.Sprintf("The parish %s appears to be empty.", r.URL))
		case record.PlaceholderParish:
			stats.Placeholders++
			report(reporter, fmt.Sprintf("The parish %s appears to be empty, but provides references to other sites: %s.",
				r.URL, strings.Join(r.References, ", ")))
		case record.Failure:
			stats.Failures++
			logger.Debug("Crawl failure", zap.String("url", r.URL), zap.Error(r.Err), zap.Bool("fatal", r.Fatal))
			if r.Fatal && fatal == nil {
				fatal = fmt.Errorf("%w: %w", ErrCrawlAborted, r)
			}
		default:
			writeErr = fmt.Errorf("unhandled record kind %q", rec.Kind())
		}
	}
	if writeErr != nil {
		return stats, writeErr
	}
	return stats, fatal
}

func report(r Reporter, msg string) {
	if r != nil {
		r.Warning(msg)
	}
}
