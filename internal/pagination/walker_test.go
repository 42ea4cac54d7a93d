package pagination

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func control(activeIndex int, hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="pagination">`)
	for i, href := range hrefs {
		class := "page-item"
		if i == activeIndex {
			class += " active"
		}
		b.WriteString(`<li class="` + class + `"><a class="page-link" href="` + href + `">` + href + `</a></li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestRewritePageParamKeepsOtherParams(t *testing.T) {
	t.Parallel()
	current, err := url.Parse("https://data.matricula-online.eu/list?foo=1&page=2")
	require.NoError(t, err)

	next, err := RewritePageParam(current, "page=3", "page")
	require.NoError(t, err)
	assert.Equal(t, "https://data.matricula-online.eu/list?foo=1&page=3", next.String())
	assert.Equal(t, "1", next.Query().Get("foo"))
	assert.Equal(t, "https://data.matricula-online.eu/list?foo=1&page=2", current.String(), "current must not change")
}

func TestRewritePageParam(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		current string
		control string
		want    string
		wantErr bool
	}{
		{name: "leading question mark", current: "https://x.test/a/?page=1&q=b", control: "?page=2", want: "https://x.test/a/?page=2&q=b"},
		{name: "append when absent", current: "https://x.test/a/?q=b", control: "?page=2", want: "https://x.test/a/?q=b&page=2"},
		{name: "empty query", current: "https://x.test/a/", control: "page=2", want: "https://x.test/a/?page=2"},
		{name: "no equals", current: "https://x.test/a/", control: "page", wantErr: true},
		{name: "wrong key", current: "https://x.test/a/", control: "pg=2", wantErr: true},
		{name: "extra params", current: "https://x.test/a/", control: "page=2&x=1", wantErr: true},
		{name: "empty value", current: "https://x.test/a/", control: "page=", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, err := url.Parse(tt.current)
			require.NoError(t, err)
			next, err := RewritePageParam(current, tt.control, PageParam)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedPageParam)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.String())
		})
	}
}

func TestWalkerFollow(t *testing.T) {
	t.Parallel()
	current, err := url.Parse("https://data.matricula-online.eu/en/suchen/?place=a&page=1")
	require.NoError(t, err)

	next, ok, err := Follow().Next(doc(t, control(0, "?place=a&page=1", "?place=a&page=2")), current)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://data.matricula-online.eu/en/suchen/?place=a&page=2", next.String())
}

func TestWalkerStopsOnLastPage(t *testing.T) {
	t.Parallel()
	current, err := url.Parse("https://data.matricula-online.eu/en/suchen/?page=2")
	require.NoError(t, err)

	_, ok, err := Follow().Next(doc(t, control(1, "?page=1", "?page=2")), current)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Rewrite().Next(doc(t, `<html><body><p>no control</p></body></html>`), current)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalkerRewrite(t *testing.T) {
	t.Parallel()
	current, err := url.Parse("https://data.matricula-online.eu/en/oesterreich/wien/bruck/?foo=1&page=1")
	require.NoError(t, err)

	next, ok, err := Rewrite().Next(doc(t, control(0, "?page=1", "?page=2")), current)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://data.matricula-online.eu/en/oesterreich/wien/bruck/?foo=1&page=2", next.String())

	_, _, err = Rewrite().Next(doc(t, control(0, "?page=1", "/somewhere/else/")), current)
	assert.ErrorIs(t, err, ErrMalformedPageParam)
}
