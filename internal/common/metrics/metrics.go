package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/railtracker/internal/common/logger"
)

// Collector owns a private registry. A nil *Collector is valid and records
// nothing, so components can be built without metrics in tests.
type Collector struct {
	reg *prometheus.Registry

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	QueryErrors *prometheus.CounterVec // operation label: upcoming|detail|stops

	ResolveDuration prometheus.Histogram
	TrainsResolved  prometheus.Histogram

	Polls            *prometheus.CounterVec // feed, result labels
	SnapshotEntities *prometheus.GaugeVec   // feed label

	Imports        *prometheus.CounterVec // result label: success|failure|skipped
	ImportDuration prometheus.Histogram

	Downloads     *prometheus.CounterVec // result label: success|failure|not_modified
	DownloadBytes prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtracker_cache_hits_total",
			Help: "Upcoming-train queries served from the result cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtracker_cache_misses_total",
			Help: "Upcoming-train queries resolved against the store.",
		}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtracker_query_errors_total",
			Help: "Resolution failures by operation.",
		}, []string{"operation"}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railtracker_resolve_duration_seconds",
			Help:    "Duration of uncached upcoming-train resolution.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TrainsResolved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railtracker_trains_per_query",
			Help:    "Trains returned per uncached query after dedup.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtracker_realtime_polls_total",
			Help: "Realtime feed polls by feed and result.",
		}, []string{"feed", "result"}),
		SnapshotEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "railtracker_realtime_snapshot_entities",
			Help: "Entities in the current realtime snapshot.",
		}, []string{"feed"}),
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtracker_static_imports_total",
			Help: "Static schedule import attempts by result.",
		}, []string{"result"}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railtracker_static_import_duration_seconds",
			Help:    "Duration of static schedule imports.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtracker_static_downloads_total",
			Help: "Static archive downloads by result.",
		}, []string{"result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtracker_static_download_bytes_total",
			Help: "Bytes of static archive downloaded.",
		}),
	}

	reg.MustRegister(
		c.CacheHits, c.CacheMisses, c.QueryErrors,
		c.ResolveDuration, c.TrainsResolved,
		c.Polls, c.SnapshotEntities,
		c.Imports, c.ImportDuration,
		c.Downloads, c.DownloadBytes,
	)

	return c
}

func (c *Collector) CacheHit() {
	if c != nil {
		c.CacheHits.Inc()
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.CacheMisses.Inc()
	}
}

func (c *Collector) QueryError(operation string) {
	if c != nil {
		c.QueryErrors.WithLabelValues(operation).Inc()
	}
}

func (c *Collector) ObserveResolve(d time.Duration, trains int) {
	if c != nil {
		c.ResolveDuration.Observe(d.Seconds())
		c.TrainsResolved.Observe(float64(trains))
	}
}

func (c *Collector) PollResult(feed, result string) {
	if c != nil {
		c.Polls.WithLabelValues(feed, result).Inc()
	}
}

func (c *Collector) SetSnapshotEntities(feed string, n int) {
	if c != nil {
		c.SnapshotEntities.WithLabelValues(feed).Set(float64(n))
	}
}

func (c *Collector) ImportResult(result string, d time.Duration) {
	if c != nil {
		c.Imports.WithLabelValues(result).Inc()
		if result == "success" {
			c.ImportDuration.Observe(d.Seconds())
		}
	}
}

func (c *Collector) StaticDownload(result string, bytes int64) {
	if c != nil {
		c.Downloads.WithLabelValues(result).Inc()
		c.DownloadBytes.Add(float64(bytes))
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics listening", "addr", addr)
	return srv
}
