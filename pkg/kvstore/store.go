// Package kvstore holds the run's coordination state as a
// hash-of-hashes: named databases whose entries are field/value string
// pairs. Redirects, per-article details, media widths and the
// cached-media-to-check set all live here, scoped by a run-unique
// prefix and deleted on normal exit.
//
// Two backends exist: an embedded Badger store (default) and Redis
// (selected by the redis_socket option). Any backend error is fatal to
// the run; the store cannot be partially rebuilt mid-run.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by HGet when the field is absent.
var ErrNotFound = errors.New("kvstore: field not found")

// Store is the hash-of-hashes abstraction shared by all components.
//
// Thread Safety: implementations must be safe for concurrent use; each
// HSet/HMSet/HDel is atomic per database.
type Store interface {
	// HSet sets one field of the named database.
	HSet(ctx context.Context, db, field, value string) error

	// HMSet sets several fields of the named database atomically.
	HMSet(ctx context.Context, db string, fields map[string]string) error

	// HGet reads one field. Returns ErrNotFound when absent.
	HGet(ctx context.Context, db, field string) (string, error)

	// HKeys lists all fields of the database.
	HKeys(ctx context.Context, db string) ([]string, error)

	// HGetAll returns every field/value pair of the database.
	HGetAll(ctx context.Context, db string) (map[string]string, error)

	// HExists reports whether the field is present.
	HExists(ctx context.Context, db, field string) (bool, error)

	// HDel removes fields. Removing an absent field is not an error.
	HDel(ctx context.Context, db string, fields ...string) error

	// Del drops whole databases.
	Del(ctx context.Context, dbs ...string) error

	// Flush persists pending writes.
	Flush(ctx context.Context) error

	// Close releases the backend. The databases themselves survive
	// Close; Del removes them.
	Close() error
}

// Database name suffixes appended to the run prefix.
const (
	SuffixRedirects  = "r" // redirects[src] = dst
	SuffixDetails    = "d" // details[title] = {"t": ts, "g": "lat;lon"}
	SuffixMedia      = "m" // media[filenameBase] = width
	SuffixMediaCheck = "c" // cache entries to re-check next run
)

// Databases names the four per-run databases derived from a run-unique
// prefix.
type Databases struct {
	Redirects  string
	Details    string
	Media      string
	MediaCheck string
}

// NewDatabases derives the database names for a run prefix.
func NewDatabases(runPrefix string) Databases {
	return Databases{
		Redirects:  runPrefix + SuffixRedirects,
		Details:    runPrefix + SuffixDetails,
		Media:      runPrefix + SuffixMedia,
		MediaCheck: runPrefix + SuffixMediaCheck,
	}
}

// All returns the database names, for Del at end of run.
func (d Databases) All() []string {
	return []string{d.Redirects, d.Details, d.Media, d.MediaCheck}
}
