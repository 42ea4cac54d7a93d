package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ISODate is the layout used for dates in persisted digest state.
const ISODate = "2006-01-02"

// The site renders dates either abbreviated ("Oct. 14, 2026") or, for short
// month names, in full ("May 14, 2026", "March 3, 2026").
const (
	siteDateShort = "Jan. 2, 2006"
	siteDateLong  = "January 2, 2006"
)

// ErrMalformedDate is returned when a date string matches none of the
// accepted layouts.
var ErrMalformedDate = errors.New("malformed article date")

// ParseArticleDate parses the site's two textual formats and the ISO format
// used in persisted state. The returned time is midnight UTC of that day.
func ParseArticleDate(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	var (
		t   time.Time
		err error
	)
	switch {
	case strings.Contains(v, "-"):
		t, err = time.Parse(ISODate, v)
	case strings.Contains(v, "."):
		// "Sept." is the one abbreviation Go does not know.
		t, err = time.Parse(siteDateShort, strings.Replace(v, "Sept.", "Sep.", 1))
	default:
		t, err = time.Parse(siteDateLong, v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, value)
	}
	return t, nil
}

// FormatISODate renders t in the persisted-state layout.
func FormatISODate(t time.Time) string {
	return t.Format(ISODate)
}
