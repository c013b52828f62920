// Package media downloads and optimizes the files referenced by
// rewritten articles. Downloads run on their own queue; every fetched
// body lands in the disk cache and is exposed in the html tree's "m/"
// directory by symlink. The width dedup guarantees each canonical file
// is downloaded at most once per run, at the largest width requested.
package media

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"path"
	"path/filepath"
	"sync"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/htmlcache"
	"github.com/openzim/mwoffliner/pkg/kvstore"
	"github.com/openzim/mwoffliner/pkg/metrics"
	"github.com/openzim/mwoffliner/pkg/queue"
	"github.com/openzim/mwoffliner/pkg/rewrite"
)

// Fetcher is the transport dependency (implemented by fetch.Client).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, http.Header, error)
}

// optimizedHeader marks a cache entry whose body already went through
// the optimizer.
const optimizedHeader = "optimized"

const lockStripes = 64

// Pipeline is the media download stage for one dump variant.
type Pipeline struct {
	fetcher   Fetcher
	cache     *htmlcache.Cache
	store     kvstore.Store
	dbs       kvstore.Databases
	htmlDir   string
	downloads *queue.Queue
	optimizer *Optimizer

	// locks serialize work per canonical filename so two widths of the
	// same file cannot race on the dedup record.
	locks [lockStripes]sync.Mutex

	// unoptimized collects cache hits that predate the optimizer; Drain
	// re-optimizes them once.
	unoptMu     sync.Mutex
	unoptimized map[string]bool
}

// NewPipeline builds the media stage. width sizes the download queue;
// the optimizer sizes its own.
func NewPipeline(fetcher Fetcher, cache *htmlcache.Cache, store kvstore.Store, dbs kvstore.Databases, htmlDir string, width int, optimizer *Optimizer) *Pipeline {
	return &Pipeline{
		fetcher:     fetcher,
		cache:       cache,
		store:       store,
		dbs:         dbs,
		htmlDir:     htmlDir,
		downloads:   queue.New("media", width),
		optimizer:   optimizer,
		unoptimized: map[string]bool{},
	}
}

// Request schedules one media URL for download. Unparseable URLs are
// dropped (the rewriter already removed their images).
func (p *Pipeline) Request(ctx context.Context, rawURL string) {
	ref, ok := rewrite.ParseMediaURL(rawURL)
	if !ok {
		return
	}
	p.downloads.Push(func() {
		if err := p.handle(ctx, rawURL, ref); err != nil {
			logger.Warn("media download failed", "url", rawURL, "error", err)
		}
	})
}

func (p *Pipeline) stripe(name string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return &p.locks[h.Sum32()%lockStripes]
}

// handle downloads one media file unless an equal or larger width was
// already placed. The width record is written before the download so a
// concurrent smaller request gives up immediately; a failed download
// rolls the record back.
func (p *Pipeline) handle(ctx context.Context, rawURL string, ref rewrite.MediaRef) error {
	mu := p.stripe(ref.FilenameBase)
	mu.Lock()
	defer mu.Unlock()

	current, err := p.store.HGet(ctx, p.dbs.Media, ref.FilenameBase)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}
	if err == nil && kvstore.DecodeWidth(current) >= ref.Width {
		metrics.MediaDeduped.Inc()
		return nil
	}
	if err := p.store.HSet(ctx, p.dbs.Media, ref.FilenameBase, kvstore.EncodeWidth(ref.Width)); err != nil {
		return err
	}

	dest := filepath.Join(p.htmlDir, rewrite.LocalMediaPath(ref.FilenameBase))
	ext := path.Ext(rewrite.MediaBase(ref.FilenameBase))
	cachePath := p.cache.MediaPath(rawURL, ext)

	if p.serveFromCache(ctx, cachePath, dest, ref.Width) {
		metrics.CacheHits.Inc()
		return nil
	}
	metrics.CacheMisses.Inc()

	body, _, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		// Roll the claim back so a later request retries the download.
		if delErr := p.store.HDel(ctx, p.dbs.Media, ref.FilenameBase); delErr != nil {
			logger.Warn("failed to roll back media record",
				"file", ref.FilenameBase, "error", delErr)
		}
		return err
	}
	metrics.MediaDownloaded.Inc()

	headers := map[string]string{htmlcache.WidthHeader: kvstore.EncodeWidth(ref.Width)}
	if err := p.cache.Put(cachePath, body, headers); err != nil {
		return err
	}
	if err := p.cache.LinkInto(cachePath, dest); err != nil {
		return err
	}
	// The entry now sits at exactly the requested width; an upgrade
	// record from an earlier run is stale.
	if err := p.store.HDel(ctx, p.dbs.MediaCheck, cachePath); err != nil {
		logger.Warn("failed to clear media check", "path", cachePath, "error", err)
	}

	if p.optimizer != nil {
		p.optimizer.Schedule(ctx, cachePath, func() {
			p.markOptimized(cachePath, headers)
		})
	}
	return nil
}

// serveFromCache links a cached body into the html tree when its
// recorded width covers the request. The check database carries width
// bookkeeping for future runs: an entry strictly larger than the
// request is recorded with its stored width, an exact match clears
// any earlier record. Entries that were cached before optimization
// existed are queued for a re-check.
func (p *Pipeline) serveFromCache(ctx context.Context, cachePath, dest string, width int) bool {
	headers, err := p.cache.Headers(cachePath)
	if err != nil {
		return false
	}
	cached := kvstore.DecodeWidth(headers[htmlcache.WidthHeader])
	if cached < width {
		return false
	}
	if err := p.cache.Touch(cachePath); err != nil {
		logger.Warn("failed to refresh cache entry", "path", cachePath, "error", err)
	}
	if err := p.cache.LinkInto(cachePath, dest); err != nil {
		logger.Warn("failed to link cached media", "path", cachePath, "error", err)
		return false
	}
	if cached > width {
		if err := p.store.HSet(ctx, p.dbs.MediaCheck, cachePath, kvstore.EncodeWidth(cached)); err != nil {
			logger.Warn("failed to record media check", "path", cachePath, "error", err)
		}
	} else if err := p.store.HDel(ctx, p.dbs.MediaCheck, cachePath); err != nil {
		logger.Warn("failed to clear media check", "path", cachePath, "error", err)
	}
	if headers[optimizedHeader] == "" {
		p.noteUnoptimized(cachePath)
	}
	return true
}

func (p *Pipeline) noteUnoptimized(cachePath string) {
	p.unoptMu.Lock()
	p.unoptimized[cachePath] = true
	p.unoptMu.Unlock()
}

// markOptimized flags a cache entry so future runs skip re-optimizing.
func (p *Pipeline) markOptimized(cachePath string, headers map[string]string) {
	headers[optimizedHeader] = "1"
	body, _, err := p.cache.Get(cachePath)
	if err != nil {
		return
	}
	if err := p.cache.Put(cachePath, body, headers); err != nil {
		logger.Warn("failed to update cache headers", "path", cachePath, "error", err)
	}
}

// Drain waits for every download, re-optimizes the cache entries
// recorded for a check, then waits for the optimizer.
func (p *Pipeline) Drain(ctx context.Context) error {
	if err := p.downloads.Wait(ctx); err != nil {
		return fmt.Errorf("media queue: %w", err)
	}
	if p.optimizer != nil {
		p.recheckCached(ctx)
		if err := p.optimizer.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// recheckCached optimizes the cache entries that were served from a
// pre-optimizer cache during this run.
func (p *Pipeline) recheckCached(ctx context.Context) {
	p.unoptMu.Lock()
	pending := make([]string, 0, len(p.unoptimized))
	for cp := range p.unoptimized {
		pending = append(pending, cp)
	}
	p.unoptimized = map[string]bool{}
	p.unoptMu.Unlock()

	for _, cachePath := range pending {
		cp := cachePath
		headers, err := p.cache.Headers(cp)
		if err != nil {
			continue
		}
		p.optimizer.Schedule(ctx, cp, func() {
			p.markOptimized(cp, headers)
		})
	}
}

// Close stops the download workers (and the optimizer's, if any).
func (p *Pipeline) Close() {
	p.downloads.Close()
	if p.optimizer != nil {
		p.optimizer.Close()
	}
}
