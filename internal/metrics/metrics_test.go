package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://data.matricula-online.eu/en/", "data.matricula-online.eu"},
		{"mixed case", "https://Data.Matricula-Online.eu/en/", "data.matricula-online.eu"},
		{"no scheme", "data.matricula-online.eu/en/", "data.matricula-online.eu"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveCounters(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("location"))
	ObserveRecord("location")
	ObserveRecord("location")
	if got := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("location")) - before; got != 2 {
		t.Errorf("expected 2 location records, got %f", got)
	}

	beforeBytes := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("data.matricula-online.eu"))
	ObserveResponse("https://data.matricula-online.eu/en/", "success", 128)
	ObserveResponse("https://data.matricula-online.eu/en/", "not_found", 0)
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("data.matricula-online.eu")) - beforeBytes; got != 128 {
		t.Errorf("expected 128 bytes, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerResponsesTotal.WithLabelValues("data.matricula-online.eu", "not_found")); got < 1 {
		t.Errorf("expected not_found response to be counted, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"https://data.matricula-online.eu", "http://example.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
