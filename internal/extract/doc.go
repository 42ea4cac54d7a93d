// Package extract holds the extraction rules that turn Matricula pages into
// records. Each rule works on an already parsed document and performs no I/O.
//
// Rules report structural problems either as errors (the whole page is
// unusable) or by logging and skipping the affected item, depending on
// whether the remaining items can still be trusted.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// absolute resolves href against the page it was found on.
func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}
