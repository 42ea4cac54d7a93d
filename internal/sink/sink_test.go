package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

type warnings []string

func (w *warnings) Warning(msg string) { *w = append(*w, msg) }

func feed(recs ...record.Record) <-chan record.Record {
	ch := make(chan record.Record, len(recs))
	for _, r := range recs {
		ch <- r
	}
	close(ch)
	return ch
}

func TestCSVWritesHeaderOnce(t *testing.T) {
	var buf strings.Builder
	s := NewCSV(&buf)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record.NewsfeedArticle{Headline: "A", Date: "Sept. 9, 2024", Preview: "p, q", URL: "https://x/a"}))
	require.NoError(t, s.Put(ctx, record.NewsfeedArticle{Headline: "B", Date: "Sept. 8, 2024", URL: "https://x/b"}))
	require.NoError(t, s.Close())

	assert.Equal(t, "headline,date,preview,url\n"+
		"A,\"Sept. 9, 2024\",\"p, q\",https://x/a\n"+
		"B,\"Sept. 8, 2024\",,https://x/b\n", buf.String())
}

func TestCSVRejectsMixedKinds(t *testing.T) {
	var buf strings.Builder
	s := NewCSV(&buf)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record.Location{Name: "A"}))
	assert.Error(t, s.Put(ctx, record.NewsfeedArticle{Headline: "B"}))
}

func TestCSVFlattensManifest(t *testing.T) {
	var buf strings.Builder
	s := NewCSV(&buf)
	m := record.ImageManifest{
		RegisterURL: "https://data.matricula-online.eu/en/a/b/c/d/",
		Entries: []record.ManifestEntry{
			{Label: "1", URL: "https://img/1.jpg"},
			{Label: "2", URL: "https://img/2.jpg"},
		},
	}
	require.NoError(t, s.Put(context.Background(), m))
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "register_url,label,url", lines[0])
	assert.Equal(t, "https://data.matricula-online.eu/en/a/b/c/d/,2,https://img/2.jpg", lines[2])
}

func TestCSVRejectsNonTabular(t *testing.T) {
	s := NewCSV(&strings.Builder{})
	err := s.Put(context.Background(), record.EmptyParish{URL: "u"})
	assert.ErrorIs(t, err, ErrNotTabular)
}

func TestJSONL(t *testing.T) {
	var buf strings.Builder
	s := NewJSONL(&buf)
	lon, lat := 11.5, 48.1
	require.NoError(t, s.Put(context.Background(), record.Location{Name: "A", Longitude: &lon, Latitude: &lat}))
	require.NoError(t, s.Put(context.Background(), record.Location{Name: "B"}))
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "A", got["name"])
	assert.InDelta(t, 11.5, got["longitude"], 1e-9)
	assert.NotContains(t, lines[1], "longitude")
}

func TestOpenFileRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	_, err := OpenFile(path, FormatCSV, false)
	assert.ErrorIs(t, err, ErrOutputExists)
}

func TestOpenFileAppendSkipsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	ctx := context.Background()

	s, err := OpenFile(path, FormatCSV, false)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, record.NewsfeedArticle{Headline: "A", URL: "https://x/a"}))
	require.NoError(t, s.Close())

	s, err = OpenFile(path, FormatCSV, true)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, record.NewsfeedArticle{Headline: "B", URL: "https://x/b"}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "headline,date,preview,url"))
	assert.Contains(t, string(data), "B,,,https://x/b")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
	assert.Equal(t, "parishes.csv", OutputPath("parishes", FormatCSV))
}

func TestDrainRoutesEveryKind(t *testing.T) {
	var mem Memory
	var warn warnings
	stats, err := Drain(context.Background(), feed(
		record.ParishRegisterMetadata{Name: "Taufen"},
		record.EmptyParish{URL: "https://p/1"},
		record.PlaceholderParish{URL: "https://p/2", References: []string{"https://a", "https://b"}},
		record.Failure{URL: "https://p/3", Err: errors.New("status 404")},
		record.ParishRegisterMetadata{Name: "Trauungen"},
	), &mem, &warn, nil)

	require.NoError(t, err)
	assert.Equal(t, Stats{Written: 2, Empty: 1, Placeholders: 1, Failures: 1}, stats)
	require.Len(t, mem.Records, 2)
	assert.Equal(t, []string{
		"The parish https://p/1 appears to be empty.",
		"The parish https://p/2 appears to be empty, but provides references to other sites: https://a, https://b.",
	}, []string(warn))
}

func TestDrainReturnsFatalFailure(t *testing.T) {
	var mem Memory
	boom := errors.New("no collector")
	stats, err := Drain(context.Background(), feed(
		record.Failure{Err: boom, Fatal: true},
		record.Location{Name: "late"},
	), &mem, nil, nil)

	require.ErrorIs(t, err, ErrCrawlAborted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Written)
}

type failingSink struct{}

func (failingSink) Put(context.Context, record.Record) error { return errors.New("disk full") }
func (failingSink) Close() error                             { return nil }

func TestDrainStopsWritingAfterError(t *testing.T) {
	stats, err := Drain(context.Background(), feed(
		record.Location{Name: "a"},
		record.Location{Name: "b"},
	), failingSink{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, stats.Written)
}

func TestMulti(t *testing.T) {
	var a, b Memory
	m := Multi{&a, &b}
	require.NoError(t, m.Put(context.Background(), record.Location{Name: "x"}))
	require.NoError(t, m.Close())
	assert.Len(t, a.Records, 1)
	assert.Len(t, b.Records, 1)
}
