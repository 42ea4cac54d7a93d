package extract

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestPadBase64(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "YWJj", want: "YWJj"},
		{in: "YWI", want: "YWI="},
		{in: "YQ", want: "YQ=="},
		{in: "YWJjZ", want: "YWJjZ==="},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		got := PadBase64(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Zero(t, len(got)%4)
	}
}

func TestDecodeImagePath(t *testing.T) {
	t.Parallel()

	// Padding stripped by the site.
	got, err := DecodeImagePath("/image/aHR0cHM6Ly9pbWcubWF0cmljdWxhLW9ubGluZS5ldS9hL2IvMDAwMS5qcGc/")
	require.NoError(t, err)
	assert.Equal(t, "https://img.matricula-online.eu/a/b/0001.jpg", got)

	got, err = DecodeImagePath("/image/YWI=/")
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	_, err = DecodeImagePath("/x/")
	assert.Error(t, err)

	_, err = DecodeImagePath("/image/!!!!/")
	assert.Error(t, err)

	_, err = DecodeImagePath("/image/__4/")
	assert.Error(t, err)

	// Decodes to 0xfe 0xfe, which is not UTF-8.
	_, err = DecodeImagePath("/image//v4=/")
	assert.Error(t, err)
}

const viewerPage = `<html><head><script src="/static/viewer.js"></script></head><body>
<div id="document"></div>
<script>var unrelated = 1;</script>
<script>
  dv1 = new arc.imageview.MatriculaDocView("document", {
    "labels": ["01-Taufe", "02-Taufe", "03-Taufe"],
    "files": ["/image/aHR0cHM6Ly9pbWcubWF0cmljdWxhLW9ubGluZS5ldS9hL2IvMDAwMS5qcGc/", "/image/!!!/", "/image/aHR0cHM6Ly9pbWcubWF0cmljdWxhLW9ubGluZS5ldS9hL2IvMDAwMi5qcGc=/"],
    "zoom": 1
  });
</script>
</body></html>`

func TestManifestSkipsUndecodableEntries(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.ErrorLevel)
	entries, err := Manifest(mustDoc(t, viewerPage), zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, []record.ManifestEntry{
		{Label: "01-Taufe", URL: "https://img.matricula-online.eu/a/b/0001.jpg"},
		{Label: "03-Taufe", URL: "https://img.matricula-online.eu/a/b/0002.jpg"},
	}, entries)
	assert.Equal(t, 1, logs.FilterMessage("Could not decode image path").Len())
}

func TestManifestNotFound(t *testing.T) {
	t.Parallel()
	_, err := Manifest(mustDoc(t, `<html><body><script>var x = 1;</script></body></html>`), nil)
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLocations(t *testing.T) {
	t.Parallel()
	page := mustURL(t, "https://data.matricula-online.eu/en/suchen/?place=Bruck")
	doc := mustDoc(t, `<html><body><div class="results">
<a class="list-group-item" href="/en/oesterreich/wien/bruck/">
  <span class="text-primary"><mark>Bruck</mark> an der Leitha</span>
  <span class="text-muted">Österreich • Wien</span>
</a>
<a class="list-group-item">
  <span class="text-primary">No link</span>
</a>
<a class="list-group-item" href="https://data.matricula-online.eu/en/deutschland/passau/bruck/">
  <span class="text-primary">Bruck</span>
  <span class="text-muted">Deutschland</span>
</a>
</div></body></html>`)

	got := Locations(doc, page, nil)
	require.Len(t, got, 2)
	assert.Equal(t, record.Location{
		Country: "Österreich",
		Region:  "Wien",
		Name:    "Bruck an der Leitha",
		URL:     "https://data.matricula-online.eu/en/oesterreich/wien/bruck/",
	}, got[0])
	assert.Equal(t, "Deutschland", got[1].Country)
	assert.Empty(t, got[1].Region)
}

func TestCoordinates(t *testing.T) {
	t.Parallel()
	doc := mustDoc(t, `<html><body>
<script>var a = 1;</script>
<script>
  var wktread = new ol.format.WKT();
  var feature = wktread.readFeature('POINT (16.7833 48.0167)');
</script></body></html>`)

	lon, lat, ok := Coordinates(doc)
	require.True(t, ok)
	assert.InDelta(t, 16.7833, lon, 1e-9)
	assert.InDelta(t, 48.0167, lat, 1e-9)

	_, _, ok = Coordinates(mustDoc(t, `<html><body><script>POINT (1 2)</script></body></html>`))
	assert.False(t, ok)
}

func registerTable(rows ...string) string {
	return `<html><body><div class="table-responsive"><table>
<tr><th>View</th><th>Signature</th><th>Title</th><th>Date</th></tr>` +
		strings.Join(rows, "\n") + `</table></div></body></html>`
}

func mainRow(href, accession, name, date string) string {
	link := ""
	if href != "" {
		link = `<a href="` + href + `">view</a><a href="/info">i</a>`
	}
	return `<tr><td>` + link + `</td><td>` + accession + `</td><td>` + name + `</td><td>` + date + `</td></tr>`
}

const detailsRow = `<tr><td colspan="4"><dl>
<dt>Date Range</dt><dd>1820 - 1850</dd>
<dt>Register Type</dt><dd>Taufen</dd>
</dl></td></tr>`

func TestParishPageRegisters(t *testing.T) {
	t.Parallel()
	page := mustURL(t, "https://data.matricula-online.eu/en/oesterreich/wien/bruck/")
	core, logs := observer.New(zapcore.WarnLevel)

	doc := mustDoc(t, registerTable(
		mainRow("/en/oesterreich/wien/bruck/01-01/", "01-01", "Taufbuch", "1820 - 1850"), detailsRow,
		mainRow("/en/oesterreich/wien/bruck/01-02/", "", "Taufbuch", "1850 - 1870"), detailsRow,
		mainRow("/en/oesterreich/wien/bruck/01-03/", "01-03", "", "1870 - 1890"), detailsRow,
	))

	got, err := ParishPage(doc, page, zap.New(core))
	require.NoError(t, err)
	require.Len(t, got, 1)

	reg, ok := got[0].(record.ParishRegisterMetadata)
	require.True(t, ok)
	assert.Equal(t, "Taufbuch", reg.Name)
	assert.Equal(t, "https://data.matricula-online.eu/en/oesterreich/wien/bruck/01-01/", reg.URL)
	assert.Equal(t, "01-01", reg.AccessionNumber)
	assert.Equal(t, "1820 - 1850", reg.Date)
	assert.Equal(t, record.Details{
		{Key: "date_range", Value: "1820 - 1850"},
		{Key: "register_type", Value: "Taufen"},
	}, reg.Details)

	skipped := logs.FilterMessage("Skipping register entry").All()
	require.Len(t, skipped, 2)
	assert.Equal(t, zapcore.ErrorLevel, skipped[0].Level)
	assert.Equal(t, zapcore.WarnLevel, skipped[1].Level)
}

func TestParishPageOddRowCount(t *testing.T) {
	t.Parallel()
	page := mustURL(t, "https://data.matricula-online.eu/en/oesterreich/wien/bruck/")
	doc := mustDoc(t, registerTable(
		mainRow("/en/oesterreich/wien/bruck/01-01/", "01-01", "Taufbuch", "1820"), detailsRow,
		mainRow("/en/oesterreich/wien/bruck/01-02/", "01-02", "Taufbuch", "1850"),
	))

	got, err := ParishPage(doc, page, nil)
	require.ErrorIs(t, err, ErrOddRowCount)
	assert.Empty(t, got)
}

func TestParishPageWithoutTable(t *testing.T) {
	t.Parallel()
	page := mustURL(t, "https://data.matricula-online.eu/en/deutschland/passau/nirgendwo/")

	got, err := ParishPage(mustDoc(t, `<html><body><div class="description">No registers.</div></body></html>`), page, nil)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{record.EmptyParish{URL: page.String()}}, got)

	got, err = ParishPage(mustDoc(t, `<html><body><div class="description">
See <a href="https://archive.example/a">here</a> and <a href="https://archive.example/a">here</a>
or <a href="https://archive.example/b">there</a>.</div></body></html>`), page, nil)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{record.PlaceholderParish{
		URL:        page.String(),
		References: []string{"https://archive.example/a", "https://archive.example/b"},
	}}, got)
}

func TestNormalizeDetailKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "date_range", NormalizeDetailKey(" Date Range "))
	assert.Equal(t, "signatur", NormalizeDetailKey("Signatur"))
}

func TestArticles(t *testing.T) {
	t.Parallel()
	page := mustURL(t, "https://data.matricula-online.eu/en/nachrichten/")
	doc := mustDoc(t, `<html><body><div class="news-list">
<article>
  <h3><a href="/en/nachrichten/new-registers/">New registers online</a></h3>
  <time>Sept. 3, 2024</time>
  <p>Registers from the diocese of Passau are now online.</p>
</article>
<article><h3>Draft</h3><time>Sept. 1, 2024</time></article>
</div></body></html>`)

	got := Articles(doc, page, DefaultNewsfeedSelectors, nil)
	assert.Equal(t, []record.NewsfeedArticle{{
		Headline: "New registers online",
		URL:      "https://data.matricula-online.eu/en/nachrichten/new-registers/",
		Date:     "Sept. 3, 2024",
		Preview:  "Registers from the diocese of Passau are now online.",
	}}, got)
}
