package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

const (
	locationItemSelector   = "div.results a.list-group-item"
	locationLabelSelector  = "span.text-muted"
	locationNameSelector   = "span.text-primary"
	locationLabelSeparator = "•"
)

// Locations decodes every search result item on a listing page. Coordinates
// are not part of the listing; callers attach them afterwards.
func Locations(doc *goquery.Document, pageURL *url.URL, logger *zap.Logger) []record.Location {
	if logger == nil {
		logger = zap.NewNop()
	}
	items := doc.Find(locationItemSelector)
	out := make([]record.Location, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		country, region := splitCountryRegion(text(item.Find(locationLabelSelector).First()))
		href, _ := item.Attr("href")
		loc := record.Location{
			Country: country,
			Region:  region,
			// Search highlighting wraps matches in <mark>; Text joins all fragments.
			Name: text(item.Find(locationNameSelector).First()),
			URL:  absolute(pageURL, href),
		}
		if loc.URL == "" {
			logger.Warn("Skipping location without link",
				zap.Stringer("page", pageURL),
				zap.String("name", loc.Name),
			)
			return
		}
		out = append(out, loc)
	})
	return out
}

// splitCountryRegion splits a "Country • Region" label.
func splitCountryRegion(label string) (string, string) {
	country, region, found := strings.Cut(label, locationLabelSeparator)
	if !found {
		return strings.TrimSpace(label), ""
	}
	return strings.TrimSpace(country), strings.TrimSpace(region)
}

// The parish page draws its map marker with
// var feature = wktread.readFeature('POINT (<lon> <lat>)');
const coordinateCall = "wktread.readFeature('POINT ("

var pointLiteral = regexp.MustCompile(`POINT \((-?\d+(?:\.\d+)?)\s+(-?\d+(?:\.\d+)?)\)`)

// Coordinates scans the inline scripts of a parish page and returns the
// first map point found. ok is false when there is none.
func Coordinates(doc *goquery.Document) (lon, lat float64, ok bool) {
	doc.Find("body script:not([src])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		lon, lat, ok = CoordinatesFromScript(s.Text())
		return !ok
	})
	return lon, lat, ok
}

// CoordinatesFromScript extracts the POINT literal from one script body.
func CoordinatesFromScript(script string) (lon, lat float64, ok bool) {
	idx := strings.Index(script, coordinateCall)
	if idx < 0 {
		return 0, 0, false
	}
	m := pointLiteral.FindStringSubmatch(script[idx:])
	if m == nil {
		return 0, 0, false
	}
	lon, errLon := strconv.ParseFloat(m[1], 64)
	lat, errLat := strconv.ParseFloat(m[2], 64)
	if errLon != nil || errLat != nil {
		return 0, 0, false
	}
	return lon, lat, true
}
