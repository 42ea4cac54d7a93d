package matricula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Kind
	}{
		{"https://data.matricula-online.eu/en/suchen/?place=aachen&page=2", KindSearch},
		{"https://data.matricula-online.eu/en/nachrichten/", KindNewsfeed},
		{"https://data.matricula-online.eu/de/deutschland/", KindCountry},
		{"https://data.matricula-online.eu/de/deutschland/aachen/", KindRegion},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna", KindParish},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/", KindParish},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2", KindParishRegister},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?pg=2", KindParishRegister},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/?pg=2", KindInvalid},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?pg=0", KindInvalid},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?pg=2&x=1", KindInvalid},
		{"https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?page=2", KindInvalid},
		{"https://data.matricula-online.eu/de/a/b/c/d/e", KindInvalid},
		{"http://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna", KindInvalid},
		{"https://DATA.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna", KindInvalid},
		{"https://example.com/de/deutschland/aachen/hellenthal-st-anna/KB+194_2", KindInvalid},
		{"::not a url", KindInvalid},
	}
	for _, tc := range cases {
		got := Parse(tc.raw)
		assert.Equal(t, tc.want, got.Kind(), tc.raw)
		assert.Equal(t, tc.want != KindInvalid, got.Valid(), tc.raw)
	}
}

func TestForeignHostNeverValid(t *testing.T) {
	t.Parallel()

	paths := []string{
		"/en/suchen/",
		"/de/deutschland/",
		"/de/deutschland/aachen/",
		"/de/deutschland/aachen/hellenthal-st-anna/",
		"/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?pg=3",
	}
	for _, host := range []string{"example.com", "matricula-online.eu", "data.matricula-online.eu.evil.com"} {
		for _, p := range paths {
			raw := "https://" + host + p
			assert.False(t, Parse(raw).Valid(), raw)
		}
	}
}

func TestRegisterFields(t *testing.T) {
	t.Parallel()

	u := Parse("https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2/?pg=7")
	require.True(t, u.IsParishRegister())
	assert.Equal(t, "de", u.Locale())
	assert.Equal(t, "deutschland", u.Country())
	assert.Equal(t, "aachen", u.Region())
	assert.Equal(t, "hellenthal-st-anna", u.Parish())
	assert.Equal(t, "KB+194_2", u.Register())
	page, ok := u.RegisterPage()
	assert.True(t, ok)
	assert.Equal(t, 7, page)

	noPage := Parse("https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/KB+194_2")
	_, ok = noPage.RegisterPage()
	assert.False(t, ok)

	parish := Parse("https://data.matricula-online.eu/de/deutschland/aachen/hellenthal-st-anna/")
	assert.Equal(t, "hellenthal-st-anna", parish.Parish())
	assert.Empty(t, parish.Register())
	_, ok = parish.RegisterPage()
	assert.False(t, ok)
}

func TestWithPageRoundTrip(t *testing.T) {
	t.Parallel()

	base := Parse("https://data.matricula-online.eu/de/oesterreich/kaernten-evAB/eisentratten/01-02D/?pg=7")
	for _, n := range []int{1, 2, 42, 1000} {
		u, err := base.WithPage(n)
		require.NoError(t, err)
		got, ok := u.RegisterPage()
		require.True(t, ok)
		assert.Equal(t, n, got)
		assert.Equal(t, "01-02D", u.Register())
	}

	_, err := base.WithPage(0)
	assert.Error(t, err)
	_, err = Parse("https://data.matricula-online.eu/de/deutschland/").WithPage(1)
	assert.Error(t, err)
}

func TestImagePaths(t *testing.T) {
	t.Parallel()

	d, err := DecomposeRegisterURL("https://data.matricula-online.eu/de/deutschland/augsburg/aach/1-THS/?pg=1")
	require.NoError(t, err)
	assert.Equal(t, DecomposedImageURL{Country: "deutschland", Region: "augsburg", Parish: "aach", FondID: "1-THS"}, d)
	assert.Equal(t, "deutschland/augsburg/aach/1-THS", d.Dir())

	_, err = DecomposeRegisterURL("https://data.matricula-online.eu/de/deutschland/augsburg/aach/")
	assert.Error(t, err)

	img := "http://hosted-images.matricula-online.eu/images/matricula/BiAA/ABA_Pfarrmatrikeln_Aach_001/ABA_Pfarrmatrikeln_Aach_001_0083.jpg"
	n, ok := ImagePageNumber(img)
	require.True(t, ok)
	assert.Equal(t, 83, n)
	assert.Equal(t, "page83_abcd.jpg", ImageFileName(img, "abcd"))
	assert.Equal(t, "unknown_abcd.jpg", ImageFileName("http://hosted-images.matricula-online.eu/scan.png", "abcd"))
}
