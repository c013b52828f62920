package rewrite

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseGeoURI splits a "geo:lat,lon" result back into numbers.
func parseGeoURI(t *testing.T, uri string) (float64, float64) {
	t.Helper()
	require.True(t, strings.HasPrefix(uri, "geo:"), "not a geo URI: %s", uri)
	parts := strings.Split(strings.TrimPrefix(uri, "geo:"), ",")
	require.Len(t, parts, 2)
	lat, err := strconv.ParseFloat(parts[0], 64)
	require.NoError(t, err)
	lon, err := strconv.ParseFloat(parts[1], 64)
	require.NoError(t, err)
	return lat, lon
}

func TestTranslateGeoLinkDecimal(t *testing.T) {
	got, ok := TranslateGeoLink(
		"http://tools.wmflabs.org/geohack/geohack.php?params=48.85825_N_2.2945_E_type:landmark")
	require.True(t, ok)
	assert.Equal(t, "geo:48.85825,2.2945", got)
}

func TestTranslateGeoLinkSemicolon(t *testing.T) {
	// The raw ";" must survive query parsing; url.Values would drop the
	// whole pair.
	got, ok := TranslateGeoLink(
		"http://tools.wmflabs.org/geohack/geohack.php?params=48.858;2.2945_type:landmark")
	require.True(t, ok)
	assert.Equal(t, "geo:48.858,2.2945", got)

	got, ok = TranslateGeoLink(
		"http://tools.wmflabs.org/geohack/geohack.php?pagename=Paris&params=48.858%3B2.2945_type:landmark")
	require.True(t, ok)
	assert.Equal(t, "geo:48.858,2.2945", got)
}

func TestTranslateGeoLinkDMS(t *testing.T) {
	tests := []struct {
		name     string
		href     string
		lat, lon float64
	}{
		{
			name: "full DMS east",
			href: "https://tools.wmflabs.org/geohack/geohack.php?params=48_51_29_N_2_17_40_E",
			lat:  48.0 + 51.0/60 + 29.0/3600,
			lon:  2.0 + 17.0/60 + 40.0/3600,
		},
		{
			name: "southern and western hemispheres",
			href: "https://example.org/geohack.php?params=33_52_S_151_12_W",
			lat:  -(33.0 + 52.0/60),
			lon:  -(151.0 + 12.0/60),
		},
		{
			name: "Ost counts as east",
			href: "https://example.org/geohack.php?params=52_31_N_13_24_O",
			lat:  52.0 + 31.0/60,
			lon:  13.0 + 24.0/60,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TranslateGeoLink(tt.href)
			require.True(t, ok)
			lat, lon := parseGeoURI(t, got)
			assert.InDelta(t, tt.lat, lat, 1e-9)
			assert.InDelta(t, tt.lon, lon, 1e-9)
		})
	}
}

func TestTranslateGeoLinkPoimap(t *testing.T) {
	got, ok := TranslateGeoLink("https://example.org/poimap2.php?lat=59.91&lon=10.75&zoom=12")
	require.True(t, ok)
	assert.Equal(t, "geo:59.91,10.75", got)
}

func TestTranslateGeoLinkRejects(t *testing.T) {
	for _, href := range []string{
		"./Paris",
		"https://example.org/geohack.php?language=en",
		"https://example.org/geohack.php?params=not_a_number",
		"https://example.org/geohack.php?params=48.85_N", // longitude never closes
		"",
	} {
		_, ok := TranslateGeoLink(href)
		assert.False(t, ok, "href %q", href)
	}
}
