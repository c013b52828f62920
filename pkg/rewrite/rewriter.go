// Package rewrite transforms fetched article HTML into its offline
// form: media sources point into the local media tree, geo tool links
// become geo: URIs, chrome elements are stripped, and filenames are
// derived deterministically from titles and media URLs.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element id/class sets driving the blacklist pass.
var (
	idBlacklist = map[string]bool{
		"purgelink": true,
	}
	classBlacklist = map[string]bool{
		"noprint": true, "metadata": true, "ambox": true, "stub": true,
		"topicon": true, "magnify": true, "navbar": true,
		"mwe-math-mathml-inline": true,
	}
	// Removed only when they contain no link; a hatnote that links
	// somewhere still carries navigation value.
	classBlacklistIfNoLink = map[string]bool{
		"mainarticle": true, "seealso": true, "dablink": true,
		"rellink": true, "hatnote": true,
	}
	classForceDisplay = map[string]bool{
		"thumb": true,
	}
)

const mathImageClass = "mwe-math-fallback-image-inline"
const mathTypeof = "mw:Extension/math"
const specialFilePathPrefix = "./Special:FilePath/"

// Options configure a Rewriter for one dump variant.
type Options struct {
	// Nopic removes every image except math fallbacks.
	Nopic bool

	// WebRootPath is the wiki's article path prefix, e.g. "/wiki/".
	WebRootPath string

	// BaseURL resolves relative media sources to absolute URLs for
	// the download queue.
	BaseURL *url.URL

	// IsMirrored reports whether a link target is part of this dump.
	IsMirrored func(title string) bool

	// KeepEmptyParagraphs disables the empty-<p> cleanup.
	KeepEmptyParagraphs bool
}

// Rewriter cleans article DOMs. Safe for concurrent use; all state is
// per-call.
type Rewriter struct {
	opts Options
}

// New builds a Rewriter.
func New(opts Options) *Rewriter {
	if opts.IsMirrored == nil {
		opts.IsMirrored = func(string) bool { return false }
	}
	return &Rewriter{opts: opts}
}

// Article rewrites every section of art in place and returns the
// absolute media URLs to download, deduplicated within this article.
func (r *Rewriter) Article(art *Article) ([]string, error) {
	seen := make(map[string]bool)
	var media []string

	for _, sec := range art.AllSections() {
		cleaned, urls, err := r.Section(sec.Text, seen)
		if err != nil {
			return nil, err
		}
		sec.Text = cleaned
		media = append(media, urls...)
	}

	if art.Lead != nil {
		if img := art.Lead.Image; img != nil {
			for width, u := range img.URLs {
				local, abs, ok := r.localizeMediaURL(u)
				if !ok {
					continue
				}
				img.URLs[width] = local
				if !seen[abs] {
					seen[abs] = true
					media = append(media, abs)
				}
			}
		}
		if p := art.Lead.Pronunciation; p != nil && p.URL != "" {
			if local, abs, ok := r.localizeMediaURL(p.URL); ok {
				p.URL = local
				if !seen[abs] {
					seen[abs] = true
					media = append(media, abs)
				}
			}
		}
	}
	return media, nil
}

// Section rewrites one section's HTML. seen deduplicates media URLs
// across the sections of one article.
func (r *Rewriter) Section(sectionHTML string, seen map[string]bool) (string, []string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(sectionHTML), body)
	if err != nil {
		return "", nil, fmt.Errorf("parse section: %w", err)
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	var media []string
	r.rewriteMedia(root, seen, &media)
	r.rewriteLinks(root)
	r.applyBlacklists(root)
	if !r.opts.KeepEmptyParagraphs {
		removeEmptyParagraphs(root)
	}

	var sb strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", nil, fmt.Errorf("render section: %w", err)
		}
	}
	return sb.String(), media, nil
}

// rewriteMedia applies the image pass: nopic filtering, link
// unwrapping, src localization and download scheduling.
func (r *Rewriter) rewriteMedia(root *html.Node, seen map[string]bool, media *[]string) {
	if r.opts.Nopic {
		for _, m := range collect(root, "map") {
			detach(m)
		}
	}
	for _, img := range collect(root, "img") {
		if r.opts.Nopic && !isMathImage(img) {
			detach(img)
			continue
		}
		src := attr(img, "src")
		if src == "" {
			detach(img)
			continue
		}
		if strings.HasPrefix(src, specialFilePathPrefix) {
			continue
		}

		local, abs, ok := r.localizeMediaURL(src)
		if !ok {
			detach(img)
			continue
		}

		r.unwrapImageLink(img)

		setAttr(img, "src", local)
		removeAttr(img, "resource")
		removeAttr(img, "srcset")

		if !seen[abs] {
			seen[abs] = true
			*media = append(*media, abs)
		}
	}
}

// localizeMediaURL maps a media URL to its local path and absolute
// source. ok is false when the URL defies the media naming scheme.
func (r *Rewriter) localizeMediaURL(src string) (local, abs string, ok bool) {
	ref, ok := ParseMediaURL(src)
	if !ok {
		return "", "", false
	}
	return LocalMediaPath(ref.FilenameBase), r.absoluteURL(src), true
}

// absoluteURL resolves protocol-relative and path-relative sources
// against the wiki base.
func (r *Rewriter) absoluteURL(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	if u.IsAbs() {
		return src
	}
	if r.opts.BaseURL == nil {
		return src
	}
	return r.opts.BaseURL.ResolveReference(u).String()
}

// unwrapImageLink removes the enclosing <a> unless it points at a
// mirrored article (then the link survives the image rewrite).
func (r *Rewriter) unwrapImageLink(img *html.Node) {
	link := ancestor(img, "a")
	if link == nil {
		return
	}
	target := ExtractTargetFromHref(attr(link, "href"), r.opts.WebRootPath)
	if target != "" && r.opts.IsMirrored(target) {
		return
	}
	unwrap(link)
}

// rewriteLinks translates geo tool links; everything else passes
// through unchanged.
func (r *Rewriter) rewriteLinks(root *html.Node) {
	for _, n := range collect(root, "a", "area") {
		href := attr(n, "href")
		if href == "" {
			continue
		}
		if geo, ok := TranslateGeoLink(href); ok {
			setAttr(n, "href", geo)
		}
	}
}

// applyBlacklists drops chrome elements by id and class, and clears
// forced inline hiding on thumbnails.
func (r *Rewriter) applyBlacklists(root *html.Node) {
	var doomed []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		if idBlacklist[attr(n, "id")] {
			doomed = append(doomed, n)
			return
		}
		classes := classList(n)
		for _, c := range classes {
			if classBlacklist[c] {
				doomed = append(doomed, n)
				return
			}
		}
		for _, c := range classes {
			if classBlacklistIfNoLink[c] && !hasDescendant(n, "a") {
				doomed = append(doomed, n)
				return
			}
		}
		for _, c := range classes {
			if classForceDisplay[c] {
				clearDisplay(n)
				break
			}
		}
	})
	for _, n := range doomed {
		detach(n)
	}
}

// isMathImage reports the nopic exception: math renderings survive.
func isMathImage(img *html.Node) bool {
	for _, c := range classList(img) {
		if c == mathImageClass {
			return true
		}
	}
	return attr(img, "typeof") == mathTypeof
}

// removeEmptyParagraphs drops <p> elements holding only whitespace.
func removeEmptyParagraphs(root *html.Node) {
	var doomed []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "p" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return
			}
			if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
				return
			}
		}
		doomed = append(doomed, n)
	})
	for _, n := range doomed {
		detach(n)
	}
}

// ExtractTargetFromHref resolves an href to the article title it
// points at: "./Title" and "{webRoot}Title" forms decode to the
// title, anything else is the empty string. Never panics on malformed
// input.
func ExtractTargetFromHref(href, webRootPath string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	path := u.EscapedPath()
	var target string
	switch {
	case strings.HasPrefix(path, "./"):
		target = path[2:]
	case webRootPath != "" && strings.HasPrefix(path, webRootPath):
		target = path[len(webRootPath):]
	default:
		return ""
	}
	decoded, err := url.PathUnescape(target)
	if err != nil {
		return target
	}
	return decoded
}
