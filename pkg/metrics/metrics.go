// Package metrics instruments the run with Prometheus collectors.
// Collection always happens (counters are cheap); the exposition
// listener is opt-in via the metrics.enabled option.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var factory = promauto.With(registry)

var (
	// ArticlesSaved counts articles written to the html tree.
	ArticlesSaved = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "articles_saved_total",
		Help:      "Articles rewritten and saved to disk.",
	})

	// ArticlesDropped counts titles dropped (missing, no revision, no lead).
	ArticlesDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "articles_dropped_total",
		Help:      "Titles dropped from the article id map.",
	})

	// RedirectsRecorded counts redirect pairs stored for the index.
	RedirectsRecorded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "redirects_recorded_total",
		Help:      "Redirect source titles recorded.",
	})

	// MediaDownloaded counts media bodies fetched over HTTP.
	MediaDownloaded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "media_downloaded_total",
		Help:      "Media files downloaded.",
	})

	// MediaDeduped counts media requests satisfied by the width dedup.
	MediaDeduped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "media_deduped_total",
		Help:      "Media requests skipped because an equal or larger width was already handled.",
	})

	// MediaOptimized counts successful optimizer runs.
	MediaOptimized = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "media_optimized_total",
		Help:      "Media files shrunk by an external optimizer.",
	})

	// CacheHits / CacheMisses track the disk cache.
	CacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "cache_hits_total",
		Help:      "Disk cache hits.",
	})
	CacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "cache_misses_total",
		Help:      "Disk cache misses.",
	})

	// FetchOK / FetchFailed track the HTTP fetcher after retries.
	FetchOK = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "fetch_ok_total",
		Help:      "HTTP fetches that succeeded within the retry budget.",
	})
	FetchFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "mwoffliner",
		Name:      "fetch_failed_total",
		Help:      "HTTP fetches that exhausted the retry budget.",
	})

	// QueueDepth tracks pending items per work queue.
	QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mwoffliner",
		Name:      "queue_depth",
		Help:      "Pending items per bounded work queue.",
	}, []string{"queue"})
)

// Serve exposes /metrics on the given port until the process exits.
// Returns the server so the orchestrator can shut it down.
func Serve(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
