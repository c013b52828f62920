package dump

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/mwoffliner/pkg/config"
	"github.com/openzim/mwoffliner/pkg/htmlcache"
	"github.com/openzim/mwoffliner/pkg/media"
	"github.com/openzim/mwoffliner/pkg/mwapi"
	"github.com/openzim/mwoffliner/pkg/rewrite"
)

// stubTransport serves the canned article body for mobile-sections URLs
// and fixed image bytes for everything else, counting the image fetches.
type stubTransport struct {
	article    []byte
	mediaCalls atomic.Int32
}

func (s *stubTransport) Fetch(_ context.Context, url string) ([]byte, http.Header, error) {
	if strings.Contains(url, "mobile-sections") {
		return s.article, nil, nil
	}
	s.mediaCalls.Add(1)
	return []byte("svg bytes"), nil, nil
}

// ==== Media scheduling ====

func TestSaveOneNopicDownloadsMathImage(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(t)
	r.cfg.SkipHtmlCache = true

	article := rewrite.Article{Lead: &rewrite.Lead{Sections: []rewrite.Section{{
		ID:   0,
		Text: `<a href="./File:Sum.svg"><img class="mwe-math-fallback-image-inline" src="//wikimedia.org/api/rest_v1/media/math/render/svg/abc123"></a>`,
	}}}}
	raw, err := json.Marshal(article)
	require.NoError(t, err)

	transport := &stubTransport{article: raw}
	r.api = mwapi.New(transport, r.cfg.APIEndpoint(), r.cfg.RestEndpoint())

	cache := htmlcache.New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, cache.Start())
	htmlDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(htmlDir, "m"), 0755))

	pipeline := media.NewPipeline(transport, cache, r.store, r.dbs, htmlDir, 1, nil)
	defer pipeline.Close()

	s := newSaver(r, config.Variant{Nopic: true}, htmlDir, pipeline)
	rewriter := rewrite.New(rewrite.Options{
		Nopic:       true,
		WebRootPath: r.cfg.WebRootPath(),
		BaseURL:     r.cfg.BaseURL(),
	})

	require.NoError(t, s.saveOne(ctx, rewriter, "Sum"))
	require.NoError(t, pipeline.Drain(ctx))

	// The kept math rendering must exist on disk under its rewritten src.
	assert.Equal(t, int32(1), transport.mediaCalls.Load())
	img, err := os.ReadFile(filepath.Join(htmlDir, "m", "abc123.svg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("svg bytes"), img)

	page, err := os.ReadFile(filepath.Join(htmlDir, rewrite.ArticleFilename("Sum")))
	require.NoError(t, err)
	assert.Contains(t, string(page), `src="m/abc123.svg"`)
}
