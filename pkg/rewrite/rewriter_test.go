package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRewriter(t *testing.T, opts Options) *Rewriter {
	t.Helper()
	if opts.BaseURL == nil {
		base, err := url.Parse("https://en.wikipedia.org/")
		require.NoError(t, err)
		opts.BaseURL = base
	}
	if opts.WebRootPath == "" {
		opts.WebRootPath = "/wiki/"
	}
	return New(opts)
}

// ==== Media pass ====

func TestSectionRewritesImageSrc(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<p><img src="//upload.wikimedia.org/wikipedia/commons/thumb/a/a1/Foo.jpg/300px-Foo.jpg" srcset="x 2x" resource="./File:Foo.jpg"></p>`

	out, media, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.Contains(t, out, `src="m/Foo.jpg"`)
	assert.NotContains(t, out, "srcset")
	assert.NotContains(t, out, "resource")
	require.Len(t, media, 1)
	assert.Equal(t, "https://upload.wikimedia.org/wikipedia/commons/thumb/a/a1/Foo.jpg/300px-Foo.jpg", media[0])
}

func TestSectionDedupsMediaWithinArticle(t *testing.T) {
	r := testRewriter(t, Options{})
	seen := map[string]bool{}
	in := `<img src="//upload.wikimedia.org/a/a1/Foo.jpg">`

	_, first, err := r.Section(in, seen)
	require.NoError(t, err)
	_, second, err := r.Section(in, seen)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
}

func TestSectionNopicDropsImagesAndMaps(t *testing.T) {
	r := testRewriter(t, Options{Nopic: true})
	in := `<p><img src="//upload.wikimedia.org/a/a1/Foo.jpg"><map name="m"></map>plain</p>`

	out, media, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.NotContains(t, out, "<img")
	assert.NotContains(t, out, "<map")
	assert.Contains(t, out, "plain")
	assert.Empty(t, media)
}

func TestSectionNopicKeepsMathFallback(t *testing.T) {
	r := testRewriter(t, Options{Nopic: true})
	in := `<a href="./File:Sum.svg"><img class="mwe-math-fallback-image-inline" src="//wikimedia.org/api/rest_v1/media/math/render/svg/abc123"></a>`

	out, media, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.Contains(t, out, "<img")
	assert.Contains(t, out, `src="m/abc123.svg"`)
	// The image link is unwrapped.
	assert.NotContains(t, out, "<a")
	assert.Len(t, media, 1)
}

func TestSectionKeepsImageLinkToMirroredArticle(t *testing.T) {
	r := testRewriter(t, Options{
		IsMirrored: func(title string) bool { return title == "Paris" },
	})
	in := `<a href="./Paris"><img src="//upload.wikimedia.org/a/a1/Foo.jpg"></a>`

	out, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.Contains(t, out, `<a href="./Paris">`)
	assert.Contains(t, out, `src="m/Foo.jpg"`)
}

func TestSectionSkipsSpecialFilePath(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<img src="./Special:FilePath/Foo.jpg">`

	out, media, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.Contains(t, out, "Special:FilePath")
	assert.Empty(t, media)
}

// ==== Blacklists ====

func TestSectionBlacklists(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<div id="purgelink">purge</div>` +
		`<span class="noprint">chrome</span>` +
		`<div class="hatnote">orphan note</div>` +
		`<div class="hatnote">see <a href="./Paris">Paris</a></div>` +
		`<div class="thumb" style="display:none;color:red">pic</div>` +
		`<p>body text</p>`

	out, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.NotContains(t, out, "purge")
	assert.NotContains(t, out, "chrome")
	assert.NotContains(t, out, "orphan note")
	assert.Contains(t, out, "Paris")
	assert.Contains(t, out, "body text")
	assert.NotContains(t, out, "display:none")
	assert.Contains(t, out, "color:red")
}

func TestSectionRemovesEmptyParagraphs(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<p>  </p><p>kept</p>`

	out, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)
	assert.NotContains(t, out, "<p>  </p>")
	assert.Contains(t, out, "kept")

	kept := testRewriter(t, Options{KeepEmptyParagraphs: true})
	out, _, err = kept.Section(in, map[string]bool{})
	require.NoError(t, err)
	assert.Contains(t, out, "<p>  </p>")
}

// ==== Geo links ====

func TestSectionTranslatesGeoLinks(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<a href="http://tools.wmflabs.org/geohack/geohack.php?params=48.858;2.2945_type:landmark">map</a>` +
		`<a href="./Paris">Paris</a>`

	out, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)

	assert.Contains(t, out, `href="geo:48.858,2.2945"`)
	assert.Contains(t, out, `href="./Paris"`)
}

// ==== Determinism ====

func TestSectionIsDeterministic(t *testing.T) {
	r := testRewriter(t, Options{})
	in := `<p><img src="//upload.wikimedia.org/a/a1/Foo.jpg">text ` +
		`<a href="https://example.org/poimap2.php?lat=1&lon=2">geo</a></p>`

	first, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)
	second, _, err := r.Section(in, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// ==== Article-level rewriting ====

func TestArticleRewritesLeadMetadata(t *testing.T) {
	raw := []byte(`{
		"lead": {
			"id": 1,
			"image": {"file": "Foo.jpg", "urls": {"320": "//upload.wikimedia.org/thumb/a/a1/Foo.jpg/320px-Foo.jpg"}},
			"pronunciation": {"url": "//upload.wikimedia.org/a/a2/Foo.ogg"},
			"sections": [{"id": 0, "text": "<img src=\"//upload.wikimedia.org/thumb/a/a1/Foo.jpg/320px-Foo.jpg\">"}]
		},
		"remaining": {"sections": []}
	}`)
	art, err := ParseArticle(raw)
	require.NoError(t, err)

	r := testRewriter(t, Options{})
	media, err := r.Article(art)
	require.NoError(t, err)

	// Section image and lead image share a URL; the ogg adds one more.
	assert.Len(t, media, 2)
	assert.Equal(t, "m/Foo.jpg", art.Lead.Image.URLs["320"])
	assert.Equal(t, "m/Foo.ogg", art.Lead.Pronunciation.URL)
}

// ==== Link target extraction ====

func TestExtractTargetFromHref(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"./Paris", "Paris"},
		{"./S%C3%A3o_Paulo", "São_Paulo"},
		{"/wiki/Paris", "Paris"},
		{"https://other.example.org/wiki/Paris", "Paris"},
		{"#section", ""},
		{"", ""},
		{"http://%zz", ""},
		{"/w/index.php?title=Paris", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTargetFromHref(tt.href, "/wiki/"), "href %q", tt.href)
	}
}

func TestSectionSurvivesMalformedHTML(t *testing.T) {
	r := testRewriter(t, Options{})
	out, _, err := r.Section("<div><p>unclosed", map[string]bool{})
	require.NoError(t, err)
	assert.Contains(t, out, "unclosed")
	assert.False(t, strings.Contains(out, "<html>"))
}
