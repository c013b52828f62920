package dump

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/config"
	"github.com/openzim/mwoffliner/pkg/media"
	"github.com/openzim/mwoffliner/pkg/metrics"
	"github.com/openzim/mwoffliner/pkg/queue"
	"github.com/openzim/mwoffliner/pkg/rewrite"
)

// saver fetches, rewrites and writes the articles of one variant.
type saver struct {
	r       *Runner
	variant config.Variant
	htmlDir string
	media   *media.Pipeline
}

func newSaver(r *Runner, v config.Variant, htmlDir string, pipeline *media.Pipeline) *saver {
	return &saver{r: r, variant: v, htmlDir: htmlDir, media: pipeline}
}

// saveAll runs every recorded title through the article queue and
// waits for the queue to drain. Per-title failures drop the title, not
// the run.
func (s *saver) saveAll(ctx context.Context, articles *queue.Queue) error {
	rewriter := rewrite.New(rewrite.Options{
		Nopic:               s.variant.Nopic,
		WebRootPath:         s.r.cfg.WebRootPath(),
		BaseURL:             s.r.cfg.BaseURL(),
		IsMirrored:          s.r.crawl.IsMirrored(ctx),
		KeepEmptyParagraphs: s.r.cfg.KeepEmptyParagraphs,
	})

	titles, err := s.r.store.HKeys(ctx, s.r.dbs.Details)
	if err != nil {
		return err
	}
	logger.Info("saving articles", "count", len(titles), "variant", s.variant.String())

	for _, title := range titles {
		t := title
		articles.Push(func() {
			if err := s.saveOne(ctx, rewriter, t); err != nil {
				logger.Warn("dropping article", "title", t, "error", err)
				metrics.ArticlesDropped.Inc()
				if delErr := s.r.store.HDel(ctx, s.r.dbs.Details, t); delErr != nil {
					logger.Warn("failed to drop detail", "title", t, "error", delErr)
				}
			}
		})
	}
	if err := articles.Wait(ctx); err != nil {
		return fmt.Errorf("article queue: %w", err)
	}
	return nil
}

// saveOne produces {articleBase}.html for one title and schedules its
// media.
func (s *saver) saveOne(ctx context.Context, rewriter *rewrite.Rewriter, title string) error {
	raw, err := s.fetchSections(ctx, title)
	if err != nil {
		return err
	}
	art, err := rewrite.ParseArticle(raw)
	if err != nil {
		return err
	}
	if art.Lead == nil {
		return fmt.Errorf("no lead section")
	}

	mediaURLs, err := rewriter.Article(art)
	if err != nil {
		return err
	}
	// The rewriter already filtered the list for the variant: in nopic
	// mode only math fallback images come back, and their rewritten src
	// still needs the file on disk.
	for _, u := range mediaURLs {
		s.media.Request(ctx, u)
	}
	if s.r.cfg.MinifyHtml {
		minifySections(art)
	}

	out, err := art.Encode()
	if err != nil {
		return err
	}
	if s.r.cfg.DeflateTmpHtml {
		out, err = deflate(out)
		if err != nil {
			return err
		}
	}
	path := filepath.Join(s.htmlDir, rewrite.ArticleFilename(title))
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write article: %w", err)
	}
	metrics.ArticlesSaved.Inc()
	return nil
}

// fetchSections returns the raw mobile-sections body, going through
// the disk cache unless that is disabled.
func (s *saver) fetchSections(ctx context.Context, title string) ([]byte, error) {
	url := s.r.api.MobileSectionsURL(title)
	if s.r.cfg.SkipHtmlCache {
		return s.r.api.MobileSections(ctx, title)
	}
	cachePath := s.r.cache.PagePath(url)
	if body, _, err := s.r.cache.Get(cachePath); err == nil {
		metrics.CacheHits.Inc()
		return body, nil
	}
	metrics.CacheMisses.Inc()
	body, err := s.r.api.MobileSections(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := s.r.cache.Put(cachePath, body, map[string]string{}); err != nil {
		logger.Warn("failed to cache page", "title", title, "error", err)
	}
	return body, nil
}

// deflate zlib-compresses an article body for the tmp tree.
func deflate(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, fmt.Errorf("deflate article: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate article: %w", err)
	}
	return buf.Bytes(), nil
}

var interTagWhitespace = regexp.MustCompile(`>\s+<`)

// minifySections collapses inter-tag whitespace in every section. The
// rewriter's render already normalized the markup itself.
func minifySections(art *rewrite.Article) {
	for _, sec := range art.AllSections() {
		sec.Text = interTagWhitespace.ReplaceAllString(sec.Text, "> <")
	}
}
