package extract

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// NewsfeedSelectors locate the parts of a newsfeed listing.
type NewsfeedSelectors struct {
	Item     string
	Headline string
	Date     string
	Preview  string
}

// DefaultNewsfeedSelectors match the markup of /<locale>/nachrichten/.
var DefaultNewsfeedSelectors = NewsfeedSelectors{
	Item:     "div.news-list article",
	Headline: "h3 a",
	Date:     "time",
	Preview:  "p",
}

// Articles decodes every article on a newsfeed listing page in page order.
// Articles without a link are skipped.
func Articles(doc *goquery.Document, pageURL *url.URL, sel NewsfeedSelectors, logger *zap.Logger) []record.NewsfeedArticle {
	if logger == nil {
		logger = zap.NewNop()
	}
	items := doc.Find(sel.Item)
	out := make([]record.NewsfeedArticle, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		headline := item.Find(sel.Headline).First()
		article := record.NewsfeedArticle{
			Headline: text(headline),
			URL:      absolute(pageURL, headline.AttrOr("href", "")),
			Date:     text(item.Find(sel.Date).First()),
			Preview:  text(item.Find(sel.Preview).First()),
		}
		if article.URL == "" {
			logger.Warn("Skipping article without link", zap.Stringer("page", pageURL), zap.Int("index", i))
			return
		}
		out = append(out, article)
	})
	return out
}
