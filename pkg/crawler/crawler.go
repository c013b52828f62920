// Package crawler enumerates the titles a run mirrors and records
// their details and redirects in the kvstore. Two modes exist:
// namespace mode walks every content namespace through
// generator=allpages, file mode resolves an explicit title list. In
// both modes each kept title spawns a backlink scan on the redirect
// queue.
package crawler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/kvstore"
	"github.com/openzim/mwoffliner/pkg/metrics"
	"github.com/openzim/mwoffliner/pkg/mwapi"
	"github.com/openzim/mwoffliner/pkg/queue"
)

// maxPendingRedirects is the redirect queue high-water mark. Above it
// the title producer sleeps one millisecond per excess entry so the
// backlink scans can catch up.
const maxPendingRedirects = 30000

// titleBatchSize is how many explicit titles one titles= query carries.
const titleBatchSize = 50

// Canonical converts an API title into its stored form: spaces become
// underscores, case is preserved. Underscored titles double as the
// filename stem input.
func Canonical(title string) string {
	return strings.ReplaceAll(title, " ", "_")
}

// Crawler fills the details and redirects databases for one run.
type Crawler struct {
	api       *mwapi.Client
	store     kvstore.Store
	dbs       kvstore.Databases
	redirects *queue.Queue

	// namespaces maps namespace names (lowercased) to content-ness,
	// set by Run from siteinfo. Drives IsMirrored.
	namespaces map[string]bool

	// namespaceMode is true when the run enumerates whole namespaces
	// rather than an explicit title list.
	namespaceMode bool
}

// New builds a crawler. width is the redirect queue's worker count.
func New(api *mwapi.Client, store kvstore.Store, dbs kvstore.Databases, width int) *Crawler {
	return &Crawler{
		api:        api,
		store:      store,
		dbs:        dbs,
		redirects:  queue.New("redirects", width),
		namespaces: make(map[string]bool),
	}
}

// Run enumerates titles into the details database. articleList, when
// non-empty, selects file mode. Returns once every title is recorded
// and the redirect queue has drained.
func (c *Crawler) Run(ctx context.Context, site *mwapi.SiteInfo, articleList string) error {
	for _, ns := range site.Namespaces {
		c.namespaces[strings.ToLower(ns.Name)] = ns.IsContent()
	}
	c.namespaceMode = articleList == ""

	var err error
	if articleList != "" {
		err = c.crawlList(ctx, articleList)
	} else {
		err = c.crawlNamespaces(ctx, site)
	}
	if err != nil {
		return err
	}

	if err := c.redirects.Wait(ctx); err != nil {
		return fmt.Errorf("redirect queue: %w", err)
	}
	return nil
}

// Close stops the redirect workers.
func (c *Crawler) Close() {
	c.redirects.Close()
}

// crawlNamespaces walks generator=allpages over every content
// namespace.
func (c *Crawler) crawlNamespaces(ctx context.Context, site *mwapi.SiteInfo) error {
	for _, ns := range site.Namespaces {
		if !ns.IsContent() {
			continue
		}
		logger.Info("crawling namespace", "id", ns.ID, "name", ns.Name)
		cont := ""
		for {
			pages, next, err := c.api.AllPages(ctx, ns.ID, cont)
			if err != nil {
				return err
			}
			for _, page := range pages {
				if err := c.recordPage(ctx, page); err != nil {
					return err
				}
			}
			if next == "" {
				break
			}
			cont = next
		}
	}
	return nil
}

// crawlList reads one title per line and resolves them in batches.
func (c *Crawler) crawlList(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open article list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var batch []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		title := strings.TrimSpace(scanner.Text())
		if title == "" {
			continue
		}
		batch = append(batch, title)
		if len(batch) == titleBatchSize {
			if err := c.resolveBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read article list: %w", err)
	}
	if len(batch) > 0 {
		return c.resolveBatch(ctx, batch)
	}
	return nil
}

// resolveBatch queries one titles= batch, records the resolved pages
// and stores the listed redirects directly.
func (c *Crawler) resolveBatch(ctx context.Context, titles []string) error {
	pages, redirects, err := c.api.TitleInfo(ctx, titles)
	if err != nil {
		return err
	}
	for _, rd := range redirects {
		if err := c.store.HSet(ctx, c.dbs.Redirects, Canonical(rd.From), Canonical(rd.To)); err != nil {
			return err
		}
		metrics.RedirectsRecorded.Inc()
	}
	for _, page := range pages {
		if err := c.recordPage(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

// recordPage stores one page's detail and schedules its backlink scan.
// Missing pages and pages without revisions are dropped.
func (c *Crawler) recordPage(ctx context.Context, page mwapi.Page) error {
	if page.Missing != nil || len(page.Revisions) == 0 {
		logger.Debug("dropping title", "title", page.Title, "missing", page.Missing != nil)
		metrics.ArticlesDropped.Inc()
		return nil
	}
	detail := kvstore.ArticleDetail{
		Timestamp: mwapi.ParseTimestamp(page.Revisions[0].Timestamp),
	}
	if len(page.Coordinates) > 0 {
		detail.Geo = fmt.Sprintf("%v;%v", page.Coordinates[0].Lat, page.Coordinates[0].Lon)
	}
	value, err := kvstore.EncodeDetail(detail)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, c.dbs.Details, Canonical(page.Title), value); err != nil {
		return err
	}
	c.scheduleRedirectScan(ctx, page.Title)
	return nil
}

// scheduleRedirectScan queues the backlink walk for one title,
// throttling the producer when the queue backs up.
func (c *Crawler) scheduleRedirectScan(ctx context.Context, title string) {
	if excess := c.redirects.Len() - maxPendingRedirects; excess > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(excess) * time.Millisecond):
		}
	}
	c.redirects.Push(func() {
		if err := c.scanRedirects(ctx, title); err != nil {
			logger.Warn("redirect scan failed", "title", title, "error", err)
		}
	})
}

// scanRedirects records every redirect pointing at title.
func (c *Crawler) scanRedirects(ctx context.Context, title string) error {
	cont := ""
	for {
		links, next, err := c.api.Backlinks(ctx, title, cont)
		if err != nil {
			return err
		}
		if len(links) > 0 {
			fields := make(map[string]string, len(links))
			for _, bl := range links {
				if bl.Title == title {
					continue
				}
				fields[Canonical(bl.Title)] = Canonical(title)
			}
			if len(fields) > 0 {
				if err := c.store.HMSet(ctx, c.dbs.Redirects, fields); err != nil {
					return err
				}
				metrics.RedirectsRecorded.Add(float64(len(fields)))
			}
		}
		if next == "" {
			return nil
		}
		cont = next
	}
}

// ResolveMainPage picks the welcome article: the custom override when
// set, else siteinfo's main page. A main page absent from the crawl is
// fetched and recorded so the archive always has its entry point.
func (c *Crawler) ResolveMainPage(ctx context.Context, site *mwapi.SiteInfo, custom string) (string, error) {
	title := custom
	if title == "" {
		title = site.General.MainPage
	}
	if title == "" {
		return "", fmt.Errorf("no main page: wiki reports none and no custom one is set")
	}
	ok, err := c.store.HExists(ctx, c.dbs.Details, Canonical(title))
	if err != nil {
		return "", err
	}
	if ok {
		return Canonical(title), nil
	}
	pages, _, err := c.api.TitleInfo(ctx, []string{title})
	if err != nil {
		return "", fmt.Errorf("main page lookup: %w", err)
	}
	for _, page := range pages {
		if page.Missing == nil && len(page.Revisions) > 0 {
			if err := c.recordPage(ctx, page); err != nil {
				return "", err
			}
			return Canonical(page.Title), nil
		}
	}
	return "", fmt.Errorf("main page %q does not exist on the wiki", title)
}

// IsMirrored reports whether a link target is part of this dump. A
// recorded detail always counts. In namespace mode a content-namespace
// prefix is enough on its own: every page of those namespaces was
// enumerated. Used by the rewriter to decide which links survive.
func (c *Crawler) IsMirrored(ctx context.Context) func(title string) bool {
	return func(title string) bool {
		title = Canonical(title)
		ok, err := c.store.HExists(ctx, c.dbs.Details, title)
		if err == nil && ok {
			return true
		}
		if c.namespaceMode {
			if i := strings.Index(title, ":"); i > 0 {
				// Namespace names use spaces where titles use underscores.
				prefix := strings.ToLower(strings.ReplaceAll(title[:i], "_", " "))
				if c.namespaces[prefix] {
					return true
				}
			}
		}
		// A redirect source counts too; it resolves inside the dump.
		ok, err = c.store.HExists(ctx, c.dbs.Redirects, title)
		return err == nil && ok
	}
}
