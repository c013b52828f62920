// Package dump sequences a full offliner run: site discovery, title
// enumeration, per-variant article and media production, and the final
// archive build. Each phase blocks until the previous one has fully
// quiesced.
package dump

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/config"
	"github.com/openzim/mwoffliner/pkg/crawler"
	"github.com/openzim/mwoffliner/pkg/fetch"
	"github.com/openzim/mwoffliner/pkg/htmlcache"
	"github.com/openzim/mwoffliner/pkg/kvstore"
	"github.com/openzim/mwoffliner/pkg/media"
	"github.com/openzim/mwoffliner/pkg/mwapi"
	"github.com/openzim/mwoffliner/pkg/queue"
)

// requiredBinaries must be on PATH before the run starts. zimwriterfs
// is checked separately; nozim-only runs do not need it.
var requiredBinaries = []string{"jpegoptim", "pngquant", "gifsicle", "advdef", "file", "stat", "convert"}

const zimwriterfsBinary = "zimwriterfs"

// Runner owns the state of one offliner run. Build it with New, then
// call Run once.
type Runner struct {
	cfg     *config.Config
	version string
	now     time.Time
	runID   string

	fetcher *fetch.Client
	api     *mwapi.Client
	store   kvstore.Store
	dbs     kvstore.Databases
	cache   *htmlcache.Cache
	crawl   *crawler.Crawler
	kvDir   string

	site     *mwapi.SiteInfo
	textDir  string
	subtitle string
	mainPage string
}

// New wires a runner from the validated configuration. version goes
// into the User-Agent header. The kvstore stays closed until the run
// knows it has work; a resume no-op must not leave databases behind.
func New(_ context.Context, cfg *config.Config, version string) (*Runner, error) {
	fetcher, err := fetch.New(version, cfg.AdminEmail, cfg.BaseURL(), cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:     cfg,
		version: version,
		now:     time.Now(),
		runID:   uuid.NewString(),
		fetcher: fetcher,
		api:     mwapi.New(fetcher, cfg.APIEndpoint(), cfg.RestEndpoint()),
		cache:   htmlcache.New(filepath.Join(cfg.CacheDirectory, cfg.CacheRadical())),
	}, nil
}

// openStore brings up the kvstore backend and the crawler on top of
// it. Called once per run, after the resume check decided there is
// work to do.
func (r *Runner) openStore(ctx context.Context) error {
	var err error
	if r.cfg.RedisSocket != "" {
		r.store, err = kvstore.OpenRedis(ctx, r.cfg.RedisSocket)
	} else {
		r.kvDir = filepath.Join(r.cfg.TmpDirectory, "kv-"+r.runID)
		r.store, err = kvstore.OpenBadger(r.kvDir)
	}
	if err != nil {
		return err
	}
	r.dbs = kvstore.NewDatabases(r.runID + "-")
	r.crawl = crawler.New(r.api, r.store, r.dbs, r.cfg.QueueWidth()*3)
	return nil
}

// Run executes every phase in order. Any returned error is fatal to
// the process.
func (r *Runner) Run(ctx context.Context) error {
	defer r.shutdown()

	if err := checkBinaries(r.cfg); err != nil {
		return err
	}
	if r.cfg.MwUsername != "" {
		if err := r.fetcher.Login(ctx, r.cfg.APIEndpoint(),
			r.cfg.MwUsername, r.cfg.MwPassword, r.cfg.MwDomain); err != nil {
			return err
		}
	}
	// The home page inspection and the siteinfo query are independent;
	// overlap them.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.inspectHomePage(gctx); err != nil {
			// Direction and subtitle are cosmetic; the run continues.
			logger.Warn("home page inspection failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		site, err := r.api.SiteInfo(gctx)
		if err != nil {
			return err
		}
		r.site = site
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	site := r.site
	logger.Info("site discovered",
		"name", site.General.SiteName, "lang", site.General.Lang, "main", site.General.MainPage)

	if err := r.createDirectories(); err != nil {
		return err
	}
	if err := r.cache.Start(); err != nil {
		return err
	}

	variants, err := r.cfg.Variants()
	if err != nil {
		return err
	}
	variants = r.checkResume(variants)
	if len(variants) == 0 {
		logger.Info("every requested archive already exists, nothing to do")
		return nil
	}
	if err := r.openStore(ctx); err != nil {
		return err
	}

	logger.Info("enumerating titles")
	if err := r.crawl.Run(ctx, site, r.cfg.ArticleList); err != nil {
		return err
	}
	r.mainPage, err = r.crawl.ResolveMainPage(ctx, site, r.cfg.CustomMainPage)
	if err != nil {
		return err
	}
	if err := r.store.Flush(ctx); err != nil {
		return err
	}

	for _, v := range variants {
		if err := r.runVariant(ctx, v); err != nil {
			return err
		}
	}

	if !r.cfg.SkipCacheCleaning {
		removed, err := r.cache.Sweep()
		if err != nil {
			return err
		}
		logger.Info("cache swept", "removed", removed)
	}
	if err := r.store.Del(ctx, r.dbs.All()...); err != nil {
		return err
	}
	logger.Info("run complete")
	return nil
}

// shutdown releases the run's long-lived resources. The store and
// crawler are nil when the run ended before openStore; the embedded
// backend's directory holds nothing worth keeping across runs.
func (r *Runner) shutdown() {
	if r.crawl != nil {
		r.crawl.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			logger.Warn("kvstore close failed", "error", err)
		}
	}
	if r.kvDir != "" {
		if err := os.RemoveAll(r.kvDir); err != nil {
			logger.Warn("failed to remove kv directory", "dir", r.kvDir, "error", err)
		}
	}
	r.fetcher.Close()
}

// checkBinaries verifies the external tools at startup so a missing
// optimizer fails the run before any network work.
func checkBinaries(cfg *config.Config) error {
	needed := append([]string{}, requiredBinaries...)
	variants, err := cfg.Variants()
	if err != nil {
		return err
	}
	for _, v := range variants {
		if !v.Nozim {
			needed = append(needed, zimwriterfsBinary)
			break
		}
	}
	for _, bin := range needed {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("required binary %q not found in PATH", bin)
		}
	}
	return nil
}

// inspectHomePage fetches the wiki's landing page once and reads the
// text direction and the description meta tag off it.
func (r *Runner) inspectHomePage(ctx context.Context) error {
	r.textDir = "ltr"
	body, _, err := r.fetcher.Fetch(ctx, r.cfg.MwURL)
	if err != nil {
		return err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("parse home page: %w", err)
	}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html", "body":
				for _, a := range n.Attr {
					if a.Key == "dir" && a.Val != "" {
						r.textDir = a.Val
					}
				}
			case "meta":
				var name, content string
				for _, a := range n.Attr {
					switch a.Key {
					case "name":
						name = a.Val
					case "content":
						content = a.Val
					}
				}
				if name == "description" && r.subtitle == "" {
					r.subtitle = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return nil
}

// dir is the wiki's text direction as read off the home page, with a
// left-to-right fallback when the inspection failed.
func (r *Runner) dir() string {
	if r.textDir == "" {
		return "ltr"
	}
	return r.textDir
}

// createDirectories bootstraps the output, tmp and cache roots.
func (r *Runner) createDirectories() error {
	for _, dir := range []string{r.cfg.OutputDirectory, r.cfg.TmpDirectory, r.cfg.CacheDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}
	return nil
}

// checkResume drops variants whose archive already exists when resume
// mode is on.
func (r *Runner) checkResume(variants []config.Variant) []config.Variant {
	if !r.cfg.Resume {
		return variants
	}
	kept := variants[:0]
	for _, v := range variants {
		if v.Nozim {
			kept = append(kept, v)
			continue
		}
		path := r.archivePath(v)
		if _, err := os.Stat(path); err == nil {
			logger.Info("archive exists, skipping variant", "variant", v.String(), "path", path)
			continue
		}
		kept = append(kept, v)
	}
	return kept
}

// archivePath is the final .zim location for a variant.
func (r *Runner) archivePath(v config.Variant) string {
	return filepath.Join(r.cfg.OutputDirectory, r.cfg.Radical(v, true, r.now)+".zim")
}

// runVariant produces one dump flavor end to end.
func (r *Runner) runVariant(ctx context.Context, v config.Variant) error {
	logger.Info("starting variant", "variant", v.String())
	htmlDir := filepath.Join(r.cfg.TmpDirectory, r.cfg.Radical(v, true, r.now))

	if err := os.RemoveAll(htmlDir); err != nil {
		return fmt.Errorf("failed to reset %q: %w", htmlDir, err)
	}
	for _, sub := range []string{"s", "j", "m"} {
		if err := os.MkdirAll(filepath.Join(htmlDir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create html tree: %w", err)
		}
	}

	if err := r.saveFavicon(ctx, htmlDir); err != nil {
		logger.Warn("favicon generation failed", "error", err)
	}
	if err := r.writeMainPage(htmlDir); err != nil {
		return err
	}
	if r.cfg.WriteHtmlRedirects {
		if err := r.saveHTMLRedirects(ctx, htmlDir); err != nil {
			return err
		}
	}

	optimizer := media.NewOptimizer(runtime.NumCPU() * 2)
	pipeline := media.NewPipeline(r.fetcher, r.cache, r.store, r.dbs, htmlDir,
		r.cfg.QueueWidth()*5, optimizer)
	articles := queue.New("articles", r.cfg.QueueWidth())

	saver := newSaver(r, v, htmlDir, pipeline)
	if err := saver.saveAll(ctx, articles); err != nil {
		articles.Close()
		pipeline.Close()
		return err
	}
	articles.Close()

	if err := pipeline.Drain(ctx); err != nil {
		pipeline.Close()
		return err
	}
	pipeline.Close()

	if !v.Nozim {
		if err := r.buildZim(ctx, v, htmlDir); err != nil {
			return err
		}
	}
	if !r.cfg.KeepHtml && !v.Nozim {
		if err := os.RemoveAll(htmlDir); err != nil {
			return fmt.Errorf("failed to remove html tree: %w", err)
		}
	}
	logger.Info("variant done", "variant", v.String())
	return nil
}
