// Package matricula validates and categorizes Matricula Online URLs.
//
// URL structure on the target site:
//
//	https://data.matricula-online.eu/<LOCALE>/suchen/                                search
//	https://data.matricula-online.eu/<LOCALE>/nachrichten/                           newsfeed
//	https://data.matricula-online.eu/<LOCALE>/<COUNTRY>/                             country
//	https://data.matricula-online.eu/<LOCALE>/<COUNTRY>/<REGION>/                    region
//	https://data.matricula-online.eu/<LOCALE>/<COUNTRY>/<REGION>/<PARISH>/           parish
//	https://data.matricula-online.eu/<LOCALE>/<COUNTRY>/<REGION>/<PARISH>/<REGISTER>/?pg=2
//
// Classification is purely structural; nothing here performs network I/O.
package matricula

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Scheme is the only accepted URL scheme.
	Scheme = "https"
	// Host is the target host. Matching is exact and case-sensitive.
	Host = "data.matricula-online.eu"
	// BaseURL is the site root.
	BaseURL = Scheme + "://" + Host
)

// Kind is the category a URL falls into.
type Kind int

// URL categories.
const (
	KindInvalid Kind = iota
	KindSearch
	KindNewsfeed
	KindCountry
	KindRegion
	KindParish
	KindParishRegister
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindNewsfeed:
		return "newsfeed"
	case KindCountry:
		return "country"
	case KindRegion:
		return "region"
	case KindParish:
		return "parish"
	case KindParishRegister:
		return "parish_register"
	default:
		return "invalid"
	}
}

var pageQuery = regexp.MustCompile(`^pg=([1-9][0-9]*)$`)

// URL is an immutable, classified Matricula URL.
type URL struct {
	raw      string
	kind     Kind
	segments []string
	page     int
	hasPage  bool
}

// Parse classifies raw. It never fails; unparseable or foreign URLs are
// returned with KindInvalid.
func Parse(raw string) URL {
	u := URL{raw: raw}
	parsed, err := url.Parse(raw)
	if err != nil {
		return u
	}
	if parsed.Scheme != Scheme || parsed.Host != Host {
		return u
	}
	segments := splitSegments(parsed.Path)
	u.segments = segments
	query := parsed.RawQuery

	switch len(segments) {
	case 2:
		switch {
		case segments[1] == "suchen":
			u.kind = KindSearch
		case segments[1] == "nachrichten":
			u.kind = KindNewsfeed
		case query == "":
			u.kind = KindCountry
		}
	case 3:
		if query == "" {
			u.kind = KindRegion
		}
	case 4:
		if query == "" {
			u.kind = KindParish
		}
	case 5:
		if query == "" {
			u.kind = KindParishRegister
			break
		}
		m := pageQuery.FindStringSubmatch(query)
		if m == nil {
			return u
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			return u
		}
		u.kind = KindParishRegister
		u.page = page
		u.hasPage = true
	}
	return u
}

func splitSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String returns the URL exactly as it was given.
func (u URL) String() string { return u.raw }

// Kind reports the URL category.
func (u URL) Kind() Kind { return u.kind }

// Valid reports whether the URL belongs to the target site and matches one
// of the known page shapes.
func (u URL) Valid() bool { return u.kind != KindInvalid }

// IsParishPage reports whether u points at a parish page.
func (u URL) IsParishPage() bool { return u.kind == KindParish }

// IsParishRegister reports whether u points at a parish register viewer.
func (u URL) IsParishRegister() bool { return u.kind == KindParishRegister }

func (u URL) segment(i int) string {
	if i < len(u.segments) && u.kind != KindInvalid {
		return u.segments[i]
	}
	return ""
}

// Locale returns the locale segment, e.g. "de".
func (u URL) Locale() string { return u.segment(0) }

// Country returns the country segment for country pages and below.
func (u URL) Country() string {
	if u.kind < KindCountry {
		return ""
	}
	return u.segment(1)
}

// Region returns the region segment for region pages and below.
func (u URL) Region() string {
	if u.kind < KindRegion {
		return ""
	}
	return u.segment(2)
}

// Parish returns the parish segment for parish and register pages.
func (u URL) Parish() string {
	if u.kind < KindParish {
		return ""
	}
	return u.segment(3)
}

// Register returns the register identifier, e.g. "KB+194_2".
func (u URL) Register() string {
	if u.kind != KindParishRegister {
		return ""
	}
	return u.segment(4)
}

// RegisterPage returns the value of the pg query parameter. The boolean is
// false when the parameter is absent or the URL is not a register URL.
func (u URL) RegisterPage() (int, bool) {
	if u.kind != KindParishRegister {
		return 0, false
	}
	return u.page, u.hasPage
}

// WithPage returns a copy of a register URL pointing at page n.
func (u URL) WithPage(n int) (URL, error) {
	if u.kind != KindParishRegister {
		return URL{}, fmt.Errorf("not a parish register url: %q", u.raw)
	}
	if n < 1 {
		return URL{}, fmt.Errorf("page must be positive, got %d", n)
	}
	base := u.raw
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return Parse(fmt.Sprintf("%s?pg=%d", base, n)), nil
}
