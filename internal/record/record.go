// Package record defines the records produced by the crawl pipelines.
//
// Record is a closed sum type: every concrete type lives in this package and
// consumers are expected to switch over all of them.
package record

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Record is one item of a crawl's output stream.
type Record interface {
	// Kind names the record type; it doubles as the sink table/namespace.
	Kind() string
	isRecord()
}

// Tabular records can be written as delimited rows.
type Tabular interface {
	Record
	Header() []string
	Row() []string
}

// Location is one parish listed in the search results.
type Location struct {
	Country string `json:"country"`
	// Region is a state, province or diocese; sometimes a virtual location.
	Region string `json:"region"`
	// Name of the parish or city.
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Longitude *float64 `json:"longitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
}

// Detail is one key/value pair from a register's expandable details row.
type Detail struct {
	Key   string
	Value string
}

// Details keeps details in page order.
type Details []Detail

// Get returns the value stored under key.
func (d Details) Get(key string) (string, bool) {
	for _, kv := range d {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes details as an object, preserving order.
func (d Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParishRegisterMetadata describes one register listed on a parish page.
type ParishRegisterMetadata struct {
	Name string `json:"name"`
	// URL points at the first page of the register viewer.
	URL string `json:"url"`
	// AccessionNumber is a display label and not guaranteed to be unique.
	AccessionNumber string `json:"accession_number"`
	// Date is the free-text date range as shown on the site.
	Date    string  `json:"date"`
	Details Details `json:"details"`
}

// EmptyParish is emitted for a parish page without registers or references.
type EmptyParish struct {
	URL string `json:"url"`
}

// PlaceholderParish is emitted for a parish page without registers that links
// to one or more external resources instead.
type PlaceholderParish struct {
	URL        string   `json:"url"`
	References []string `json:"references"`
}

// ManifestEntry is one decoded scan of a register.
type ManifestEntry struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ImageManifest lists every decoded scan of one register.
type ImageManifest struct {
	// RegisterURL is the viewer page the manifest was read from.
	RegisterURL string          `json:"register_url"`
	Entries     []ManifestEntry `json:"entries"`
}

// ImageURLs returns the decoded image URLs in manifest order.
func (m ImageManifest) ImageURLs() []string {
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.URL)
	}
	return out
}

// NewsfeedArticle is one entry of the site's newsfeed. Two articles are the
// same article iff their URLs are equal.
type NewsfeedArticle struct {
	Headline string `json:"headline"`
	URL      string `json:"url"`
	// Date is the article's raw date text. Parsed dates live on the digest side.
	Date    string `json:"date"`
	Preview string `json:"preview"`
}

// SameArticle reports whether a and b refer to the same article.
func (a NewsfeedArticle) SameArticle(b NewsfeedArticle) bool {
	return a.URL == b.URL
}

// Failure reports that a page or seed could not be processed. It travels in
// the stream so consumers can decide whether to stop.
type Failure struct {
	URL string `json:"url"`
	Err error  `json:"-"`
	// Fatal marks failures that stopped the whole crawl.
	Fatal bool      `json:"fatal"`
	At    time.Time `json:"at"`
}

func (f Failure) Error() string {
	if f.Err == nil {
		return "crawl failure at " + f.URL
	}
	return f.URL + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

func (Location) Kind() string               { return "location" }
func (ParishRegisterMetadata) Kind() string { return "parish_register" }
func (EmptyParish) Kind() string            { return "empty_parish" }
func (PlaceholderParish) Kind() string      { return "placeholder_parish" }
func (ImageManifest) Kind() string          { return "image_manifest" }
func (NewsfeedArticle) Kind() string        { return "newsfeed_article" }
func (Failure) Kind() string                { return "failure" }

func (Location) isRecord()               {}
func (ParishRegisterMetadata) isRecord() {}
func (EmptyParish) isRecord()            {}
func (PlaceholderParish) isRecord()      {}
func (ImageManifest) isRecord()          {}
func (NewsfeedArticle) isRecord()        {}
func (Failure) isRecord()                {}

// Header implements Tabular.
func (Location) Header() []string {
	return []string{"country", "region", "name", "url", "longitude", "latitude"}
}

// Row implements Tabular.
func (l Location) Row() []string {
	return []string{l.Country, l.Region, l.Name, l.URL, formatCoord(l.Longitude), formatCoord(l.Latitude)}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Header implements Tabular.
func (ParishRegisterMetadata) Header() []string {
	return []string{"name", "url", "accession_number", "date", "details"}
}

// Row implements Tabular.
func (p ParishRegisterMetadata) Row() []string {
	details, err := p.Details.MarshalJSON()
	if err != nil {
		details = []byte("{}")
	}
	return []string{p.Name, p.URL, p.AccessionNumber, p.Date, string(details)}
}

// Header implements Tabular.
func (NewsfeedArticle) Header() []string {
	return []string{"headline", "date", "preview", "url"}
}

// Row implements Tabular.
func (a NewsfeedArticle) Row() []string {
	return []string{a.Headline, a.Date, a.Preview, a.URL}
}

// Header returns the columns of Rows.
func (ImageManifest) Header() []string {
	return []string{"register_url", "label", "url"}
}

// Rows flattens the manifest to one row per scan.
func (m ImageManifest) Rows() [][]string {
	out := make([][]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, []string{m.RegisterURL, e.Label, e.URL})
	}
	return out
}
