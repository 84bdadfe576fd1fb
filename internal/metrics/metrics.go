// Package metrics registers the collector's Prometheus series:
//
//	#cryptomonitor_cycles_total{status}
//	#cryptomonitor_cycle_duration_seconds
//	#cryptomonitor_coins
//	#cryptomonitor_archive_total{sink,status}
//	#cryptomonitor_archive_failures_total{sink,stage}
//	#go_* and process_* system metrics
//
// Serve exposes them on /metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptomonitor/logger"
)

// Cycle outcomes.
const (
	StatusOK          = "ok"
	StatusFetchFailed = "fetch_failed"
	StatusNoCoins     = "no_coins"
	StatusFatal       = "fatal"
)

var (
	// Registry holds the collector's Prometheus series.
	Registry = prometheus.NewRegistry()

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptomonitor",
			Name:      "cycles_total",
			Help:      "Number of collection cycles by outcome.",
		},
		[]string{"status"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cryptomonitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of collection cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	coins = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cryptomonitor",
			Name:      "coins",
			Help:      "Number of coins quoted in the last successful fetch.",
		},
	)

	archives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptomonitor",
			Name:      "archive_total",
			Help:      "Archive attempts by sink and outcome.",
		},
		[]string{"sink", "status"},
	)

	archiveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptomonitor",
			Name:      "archive_failures_total",
			Help:      "Archive failures by sink and failing stage.",
		},
		[]string{"sink", "stage"},
	)
)

func init() {
	Registry.MustRegister(
		cycles,
		cycleDuration,
		coins,
		archives,
		archiveFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordCycle counts a finished cycle.
func RecordCycle(status string, duration time.Duration) {
	cycles.WithLabelValues(status).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// SetCoins records the number of coins of the last fetch.
func SetCoins(n int) {
	coins.Set(float64(n))
}

// RecordArchive counts a successful archive to sink.
func RecordArchive(sink string) {
	archives.WithLabelValues(sink, "ok").Inc()
}

// RecordArchiveFailure counts a failed archive to sink at stage.
func RecordArchiveFailure(sink, stage string) {
	archives.WithLabelValues(sink, "error").Inc()
	archiveFailures.WithLabelValues(sink, stage).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"addr": addr}).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
