// Package htmlcache is the content-addressed disk cache of fetched
// bodies. Entries are keyed by SHA1(url) truncated to 20 hex chars and
// stored as two files: the body and a ".h" sibling carrying the
// response headers as JSON. Media bodies live under "m/" with their
// original extension so external optimizers can infer the format.
//
// Staleness works on mtimes: Start writes a "ref" sentinel; every entry
// used during the run is utimes-refreshed; Sweep deletes whatever is
// still older than the sentinel.
package htmlcache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrMiss is returned by Get when the entry is absent or incomplete.
// A body whose ".h" sibling is missing counts as a miss: the pair is
// written body-first, so a crash can leave a headerless body behind.
var ErrMiss = errors.New("htmlcache: miss")

// WidthHeader is the pseudo-header recording a media entry's pixel width.
const WidthHeader = "width"

const sentinelName = "ref"

// Cache is a disk cache rooted at one run-radical directory.
type Cache struct {
	root string
}

// New returns a cache rooted at dir. Call Start before use.
func New(dir string) *Cache {
	return &Cache{root: dir}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Start creates the cache tree and (re)writes the staleness sentinel.
func (c *Cache) Start() error {
	if err := os.MkdirAll(filepath.Join(c.root, "m"), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	ref := filepath.Join(c.root, sentinelName)
	if err := os.WriteFile(ref, nil, 0644); err != nil {
		return fmt.Errorf("failed to write cache sentinel: %w", err)
	}
	now := time.Now()
	if err := os.Chtimes(ref, now, now); err != nil {
		return fmt.Errorf("failed to touch cache sentinel: %w", err)
	}
	return nil
}

// Key hashes a URL into the cache's 20-hex-char identifier.
func Key(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:20]
}

// PagePath returns the body path for a page URL.
func (c *Cache) PagePath(url string) string {
	return filepath.Join(c.root, Key(url))
}

// MediaPath returns the body path for a media URL. ext carries the
// leading dot and may be empty.
func (c *Cache) MediaPath(url, ext string) string {
	return filepath.Join(c.root, "m", Key(url)+ext)
}

// Get reads a cached entry. On hit both files are mtime-refreshed so
// the sweep keeps them.
func (c *Cache) Get(path string) ([]byte, map[string]string, error) {
	headers, err := c.Headers(path)
	if err != nil {
		return nil, nil, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrMiss
		}
		return nil, nil, fmt.Errorf("failed to read cache body: %w", err)
	}
	if err := c.Touch(path); err != nil {
		return nil, nil, err
	}
	return body, headers, nil
}

// Headers reads only the ".h" sibling of an entry.
func (c *Cache) Headers(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path + ".h")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to read cache headers: %w", err)
	}
	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		// Corrupt header blob invalidates the entry.
		return nil, ErrMiss
	}
	return headers, nil
}

// Put writes an entry: body first, headers second, so that a partial
// write is detectable (headerless body = miss).
func (c *Cache) Put(path string, body []byte, headers map[string]string) error {
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("failed to write cache body: %w", err)
	}
	blob, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("failed to encode cache headers: %w", err)
	}
	if err := os.WriteFile(path+".h", blob, 0644); err != nil {
		return fmt.Errorf("failed to write cache headers: %w", err)
	}
	return nil
}

// Touch refreshes the entry's mtimes so Sweep treats it as used.
func (c *Cache) Touch(path string) error {
	now := unix.NsecToTimeval(time.Now().UnixNano())
	tv := []unix.Timeval{now, now}
	if err := unix.Utimes(path, tv); err != nil {
		return fmt.Errorf("failed to utimes %s: %w", path, err)
	}
	if err := unix.Utimes(path+".h", tv); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to utimes %s.h: %w", path, err)
	}
	return nil
}

// LinkInto exposes a cached body at dest, preferring a symlink and
// falling back to a copy where the filesystem refuses links.
func (c *Cache) LinkInto(path, dest string) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve cache path: %w", err)
	}
	if err := os.Symlink(abs, dest); err == nil {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cache body for copy: %w", err)
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() { _ = dst.Close() }()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy cache body: %w", err)
	}
	return nil
}

// Sweep deletes every cache file whose mtime predates the sentinel.
// Entries touched during the run survive. Returns the removal count.
func (c *Cache) Sweep() (int, error) {
	refInfo, err := os.Stat(filepath.Join(c.root, sentinelName))
	if err != nil {
		return 0, fmt.Errorf("cache sentinel missing: %w", err)
	}
	cutoff := refInfo.ModTime()

	removed := 0
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == sentinelName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cache sweep failed: %w", err)
	}
	return removed, nil
}
