package rewrite

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Geo-enabled external tools whose URLs are rewritten to geo: URIs.
// Everything else is left untouched (general link localization is a
// future extension).

// TranslateGeoLink inspects an href and, when it points at a known map
// tool with parseable coordinates, returns the "geo:lat,lon"
// replacement. ok is false for every other link.
func TranslateGeoLink(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	var lat, lon float64
	var found bool
	switch {
	case strings.Contains(u.Path, "poimap2.php"):
		lat, lon, found = parsePoimap(u)
	case strings.Contains(u.Path, "geohack.php"):
		lat, lon, found = parseGeohack(u)
	}
	if !found || math.IsNaN(lat) || math.IsNaN(lon) ||
		math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", false
	}
	return fmt.Sprintf("geo:%s,%s", formatCoord(lat), formatCoord(lon)), true
}

// formatCoord renders a coordinate without float artifacts.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parsePoimap reads ?lat=&lon= directly.
func parsePoimap(u *url.URL) (float64, float64, bool) {
	q := u.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// parseGeohack reads the ?params= value. Two encodings exist:
// "48.858;2.2945_..." with both coordinates in the first
// underscore-segment, and the DMS form
// "48_51_29_N_2_17_40_E_..." with per-axis factors 1/60/3600 and
// hemisphere letters.
func parseGeohack(u *url.URL) (float64, float64, bool) {
	params := queryValues(u.RawQuery, "params")
	if len(params) == 0 {
		return 0, 0, false
	}
	// Multi-valued params: pick the first entry that starts numeric.
	value := params[0]
	for _, p := range params {
		if p != "" && (p[0] >= '0' && p[0] <= '9' || p[0] == '-') {
			value = p
			break
		}
	}

	segments := strings.Split(value, "_")
	if len(segments) == 0 {
		return 0, 0, false
	}

	// Semicolon form: both coordinates live in the first segment.
	if parts := strings.Split(segments[0], ";"); len(parts) == 2 {
		lat, err1 := strconv.ParseFloat(parts[0], 64)
		lon, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil {
			return lat, lon, true
		}
		return 0, 0, false
	}

	return parseDMS(segments)
}

// queryValues extracts every value for key from a raw query. url.Values
// cannot be used here: it rejects pairs containing ";", and geohack
// packs both coordinates into one semicolon-separated params value.
func queryValues(rawQuery, key string) []string {
	var out []string
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k != key {
			continue
		}
		if dec, err := url.QueryUnescape(v); err == nil {
			v = dec
		}
		out = append(out, v)
	}
	return out
}

// dmsFactors scales degree, minute and second segments.
var dmsFactors = []float64{1, 60, 3600}

// hemisphereSigns maps the hemisphere letter to the coordinate sign.
// "O" covers wikis that use Ost for east.
var hemisphereSigns = map[string]float64{
	"N": 1, "S": -1, "E": 1, "W": -1, "O": 1,
}

// parseDMS walks the underscore segments accumulating degrees, minutes
// and seconds until the hemisphere letter closes each coordinate.
func parseDMS(segments []string) (float64, float64, bool) {
	var coords []float64
	acc := 0.0
	idx := 0
	for _, seg := range segments {
		if sign, ok := hemisphereSigns[seg]; ok {
			if len(coords) == 0 && seg != "N" && seg != "S" {
				// Longitude letter before a latitude was closed.
				return 0, 0, false
			}
			coords = append(coords, sign*acc)
			acc = 0
			idx = 0
			if len(coords) == 2 {
				return coords[0], coords[1], true
			}
			continue
		}
		v, err := strconv.ParseFloat(seg, 64)
		if err != nil {
			// Trailing qualifiers like "type:landmark" end the numbers.
			break
		}
		if idx >= len(dmsFactors) {
			return 0, 0, false
		}
		acc += v / dmsFactors[idx]
		idx++
	}
	return 0, 0, false
}
