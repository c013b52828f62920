package dump

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/rewrite"
)

// writeRedirectIndex serializes the redirects database into the
// TAB-separated index the archive builder consumes. One line per
// redirect: marker, source filename stem, source title with spaces,
// destination filename stem. Lines are sorted so reruns produce the
// same file.
func (r *Runner) writeRedirectIndex(ctx context.Context, path string) error {
	pairs, err := r.store.HGetAll(ctx, r.dbs.Redirects)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(pairs))
	for src := range pairs {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create redirect index: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, src := range sources {
		dst := pairs[src]
		line := fmt.Sprintf("A\t%s\t%s\t%s\n",
			rewrite.ArticleBase(src),
			strings.ReplaceAll(src, "_", " "),
			rewrite.ArticleBase(dst))
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("failed to write redirect index: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush redirect index: %w", err)
	}
	logger.Info("redirect index written", "path", path, "count", len(sources))
	return nil
}

// saveHTMLRedirects materializes every redirect as its own HTML file
// instead of index entries. Slower archives, but readable without
// builder support for redirects.
func (r *Runner) saveHTMLRedirects(ctx context.Context, htmlDir string) error {
	pairs, err := r.store.HGetAll(ctx, r.dbs.Redirects)
	if err != nil {
		return err
	}
	for src, dst := range pairs {
		body := redirectHTML(r.dir(), strings.ReplaceAll(src, "_", " "), rewrite.ArticleFilename(dst))
		path := filepath.Join(htmlDir, rewrite.ArticleFilename(src))
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return fmt.Errorf("failed to write redirect page: %w", err)
		}
	}
	logger.Info("html redirects written", "count", len(pairs))
	return nil
}

// redirectHTML is the meta-refresh stub pointing one title at another
// file. dir carries the wiki's text direction so right-to-left titles
// render correctly.
func redirectHTML(dir, title, target string) string {
	return fmt.Sprintf(`<html dir="%s"><head><title>%s</title>`+
		`<meta http-equiv="refresh" content="0; url=%s" /></head>`+
		`<body></body></html>`, dir, title, target)
}
