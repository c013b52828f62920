package rewrite

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Filenames are capped below the common 255-byte filesystem limit.
// Above the cap the base is cut and stabilized with an MD5 suffix so
// distinct long titles cannot collide on their shared prefix.
const (
	maxFilenameBytes = 249
	truncatedBase    = 239
)

// ArticleBase converts a title into the per-article filename stem:
// URL-encoded, "/" replaced by "_" (irreversible but idempotent), and
// truncated so that stem + ".html" stays within the filename cap.
func ArticleBase(title string) string {
	flat := strings.ReplaceAll(title, "/", "_")
	return truncateName(url.PathEscape(flat), "html")
}

// ArticleFilename is ArticleBase plus the ".html" extension.
func ArticleFilename(title string) string {
	return ArticleBase(title) + ".html"
}

// DecodeArticleBase reverses ArticleBase's encoding (the "/" to "_"
// replacement excepted). Used by tests and the redirect index.
func DecodeArticleBase(base string) (string, error) {
	return url.PathUnescape(base)
}

// truncateName enforces the byte cap on base + "." + ext, ext given
// without its dot. Over-long bases are cut UTF-8-safely and suffixed
// with the first two hex chars of the original base's MD5.
func truncateName(base, ext string) string {
	if len(base)+len(ext)+1 <= maxFilenameBytes {
		return base
	}
	sum := md5.Sum([]byte(base))
	suffix := hex.EncodeToString(sum[:])[:2]
	cut := cutUTF8(base, truncatedBase-len(ext))
	return cut + suffix
}

// cutUTF8 truncates s to at most max bytes without splitting a rune or
// a percent-escape triplet.
func cutUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	// Do not end inside a %XX escape.
	for _, back := range []int{1, 2} {
		if cut >= back && s[cut-back] == '%' {
			cut -= back
			break
		}
	}
	return s[:cut]
}

// mediaURLRe splits a media URL into its naming groups:
//
//	2: path-segment filename   4: "NNNpx-" scaled-width prefix or ""
//	5: base name               6,7: up to two extensions
var mediaURLRe = regexp.MustCompile(`^(.*/)([^/]+)(/)(\d+px-|)(.+?)(\.[A-Za-z0-9]{2,6}|)(\.[A-Za-z0-9]{2,6}|)$`)

// fullWidth is the recorded width for URLs without a px prefix: the
// original file beats any scaled rendition.
const fullWidth = 9999999

// MediaRef identifies one media request: the canonical file name and
// the requested rendition width.
type MediaRef struct {
	FilenameBase string
	Width        int
}

// ParseMediaURL derives the MediaRef from a media URL. ok is false
// when the URL does not look like wiki media (the image is dropped).
func ParseMediaURL(rawURL string) (MediaRef, bool) {
	// Match on the unescaped path so the base name keeps its UTF-8.
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if dec, err := url.PathUnescape(u); err == nil {
		u = dec
	}
	m := mediaURLRe.FindStringSubmatch(u)
	if m == nil {
		return MediaRef{}, false
	}
	segment := m[2]
	ext := m[6]
	if ext == "" {
		// Extension-less bases are math renderings served as SVG.
		ext = ".svg"
	}
	derived := m[5] + ext + m[7]
	base := segment
	if len(derived) > len(base) {
		base = derived
	}
	width := fullWidth
	if m[4] != "" {
		width = DecodeWidthPrefix(m[4])
	}
	return MediaRef{FilenameBase: base, Width: width}, true
}

var widthPrefixRe = regexp.MustCompile(`^(\d+)px-$`)

// DecodeWidthPrefix parses "NNNpx-" into NNN.
func DecodeWidthPrefix(prefix string) int {
	m := widthPrefixRe.FindStringSubmatch(prefix)
	if m == nil {
		return fullWidth
	}
	w := 0
	for _, ch := range m[1] {
		w = w*10 + int(ch-'0')
	}
	return w
}

// MediaBase converts a MediaRef's filename base into the on-disk media
// filename, applying the same cap-and-MD5 scheme as articles but on
// the media's own extension.
func MediaBase(filenameBase string) string {
	ext := ""
	if i := strings.LastIndex(filenameBase, "."); i >= 0 {
		ext = filenameBase[i+1:]
	}
	stem := strings.TrimSuffix(filenameBase, "."+ext)
	if ext == "" {
		return truncateName(filenameBase, "")
	}
	return truncateName(stem, ext) + "." + ext
}

// LocalMediaPath is the article-relative path an <img> src is
// rewritten to.
func LocalMediaPath(filenameBase string) string {
	return "m/" + MediaBase(filenameBase)
}
