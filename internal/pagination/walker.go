// Package pagination decides whether a listing has another page and builds
// the URL of that page.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NextSelector finds the link to the page after the active one in the
// site's bootstrap pagination control.
const NextSelector = "ul.pagination li.page-item.active + li.page-item a.page-link"

// PageParam is the query key used by register listings.
const PageParam = "page"

// ErrMalformedPageParam means the next-page control did not carry a
// key=value query for the expected key.
var ErrMalformedPageParam = errors.New("malformed page parameter")

// Strategy selects how the next URL is constructed.
type Strategy int

const (
	// FollowLink resolves the control's href against the current URL.
	FollowLink Strategy = iota
	// RewriteParam replaces a single query parameter on the current URL and
	// keeps every other parameter in place.
	RewriteParam
)

// Walker finds the next page of a listing.
type Walker struct {
	Selector string
	Strategy Strategy
	// Param is the query key rewritten by RewriteParam.
	Param string
}

// Follow returns a walker that follows relative links.
func Follow() Walker {
	return Walker{Selector: NextSelector, Strategy: FollowLink}
}

// Rewrite returns a walker that rewrites the page query parameter.
func Rewrite() Walker {
	return Walker{Selector: NextSelector, Strategy: RewriteParam, Param: PageParam}
}

// Next returns the URL of the following page. ok is false when no control
// follows the active page, which is the only termination signal.
func (w Walker) Next(doc *goquery.Document, current *url.URL) (next *url.URL, ok bool, err error) {
	selector := w.Selector
	if selector == "" {
		selector = NextSelector
	}
	link := doc.Find(selector).First()
	if link.Length() == 0 {
		return nil, false, nil
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	if href == "" {
		return nil, false, nil
	}

	switch w.Strategy {
	case RewriteParam:
		param := w.Param
		if param == "" {
			param = PageParam
		}
		next, err = RewritePageParam(current, href, param)
	default:
		next, err = FollowHref(current, href)
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// FollowHref resolves href against current.
func FollowHref(current *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("parse next link %q: %w", href, err)
	}
	return current.ResolveReference(ref), nil
}

// RewritePageParam sets param on a copy of current to the value carried by
// control, which must be exactly "<param>=<value>" with an optional leading
// '?'. The order of the other parameters is preserved; param is appended if
// current does not carry it yet.
func RewritePageParam(current *url.URL, control, param string) (*url.URL, error) {
	control = strings.TrimPrefix(strings.TrimSpace(control), "?")
	key, value, found := strings.Cut(control, "=")
	if !found || key != param || value == "" || strings.ContainsAny(value, "&=") {
		return nil, fmt.Errorf("%w: %q, want %s=<value>", ErrMalformedPageParam, control, param)
	}

	next := *current
	var parts []string
	if current.RawQuery != "" {
		parts = strings.Split(current.RawQuery, "&")
	}
	replaced := false
	for i, part := range parts {
		k, _, _ := strings.Cut(part, "=")
		if k == url.QueryEscape(param) {
			parts[i] = k + "=" + url.QueryEscape(value)
			replaced = true
		}
	}
	if !replaced {
		parts = append(parts, url.QueryEscape(param)+"="+url.QueryEscape(value))
	}
	next.RawQuery = strings.Join(parts, "&")
	next.Fragment = ""
	return &next, nil
}
