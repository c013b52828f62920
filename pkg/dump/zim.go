package dump

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/config"
	"github.com/openzim/mwoffliner/pkg/rewrite"
)

// saveFavicon produces the 48px favicon.png at the html tree root. The
// source is either the configured file or the wiki's logo.
func (r *Runner) saveFavicon(ctx context.Context, htmlDir string) error {
	src := r.cfg.CustomZimFavicon
	if src == "" {
		logo := r.site.General.Logo
		if logo == "" {
			return fmt.Errorf("wiki reports no logo and no custom favicon is set")
		}
		body, _, err := r.fetcher.Fetch(ctx, logo)
		if err != nil {
			return err
		}
		tmp := filepath.Join(htmlDir, "favicon.src")
		if err := os.WriteFile(tmp, body, 0644); err != nil {
			return fmt.Errorf("failed to write favicon source: %w", err)
		}
		defer func() { _ = os.Remove(tmp) }()
		src = tmp
	}

	dest := filepath.Join(htmlDir, "favicon.png")
	cmd := exec.CommandContext(ctx, "convert", src, "-thumbnail", "48", dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("convert favicon: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// writeMainPage drops index.htm at the tree root: a redirect stub to
// the welcome article.
func (r *Runner) writeMainPage(htmlDir string) error {
	body := redirectHTML(r.dir(), strings.ReplaceAll(r.mainPage, "_", " "),
		rewrite.ArticleFilename(r.mainPage))
	path := filepath.Join(htmlDir, "index.htm")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write index.htm: %w", err)
	}
	return nil
}

// welcome is the single --welcome argument: the main page's own file
// when one was explicitly configured, else the index stub.
func (r *Runner) welcome() string {
	if r.cfg.CustomMainPage != "" {
		return rewrite.ArticleFilename(r.mainPage)
	}
	return "index.htm"
}

// buildZim invokes the archive builder over the finished html tree. A
// non-zero exit is fatal to the run.
func (r *Runner) buildZim(ctx context.Context, v config.Variant, htmlDir string) error {
	title := r.cfg.CustomZimTitle
	if title == "" {
		title = r.site.General.SiteName
	}
	description := r.cfg.CustomZimDescription
	if description == "" {
		description = r.subtitle
	}

	args := []string{
		"--welcome=" + r.welcome(),
		"--favicon=favicon.png",
		"--language=" + r.site.General.Lang,
		"--title=" + title,
		"--description=" + description,
		"--creator=" + r.cfg.Creator(),
		"--publisher=" + r.cfg.Publisher,
	}
	if r.cfg.WithZimFullTextIndex {
		args = append(args, "--withFullTextIndex")
	}
	if !r.cfg.WriteHtmlRedirects {
		indexPath := filepath.Join(r.cfg.TmpDirectory, r.cfg.Radical(v, true, r.now)+".redirects")
		if err := r.writeRedirectIndex(ctx, indexPath); err != nil {
			return err
		}
		defer func() { _ = os.Remove(indexPath) }()
		args = append(args, "--redirects="+indexPath)
	}
	archive := r.archivePath(v)
	args = append(args, htmlDir, archive)

	logger.Info("building archive", "path", archive)
	cmd := exec.CommandContext(ctx, zimwriterfsBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (%s)",
			zimwriterfsBinary, err, strings.TrimSpace(stderr.String()))
	}
	logger.Info("archive built", "path", archive)
	return nil
}
