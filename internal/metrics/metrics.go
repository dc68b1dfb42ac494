// Package metrics holds the process wide Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gitctx"

var (
	blobCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blob_cache_lookups_total",
		Help:      "Blob cache lookups by result (hit or miss).",
	}, []string{"result"})

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_requests_total",
		Help:      "Worker requests by type and terminal status.",
	}, []string{"type", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_request_duration_seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	sessionsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_loaded_total",
	}, []string{"source"})

	panicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panics_recovered_total",
	}, []string{"type"})
)

func BlobCacheHit()  { blobCacheLookups.WithLabelValues("hit").Inc() }
func BlobCacheMiss() { blobCacheLookups.WithLabelValues("miss").Inc() }

// ObserveRequest records one terminal worker response.
func ObserveRequest(reqType, status string, elapsed time.Duration) {
	requests.WithLabelValues(reqType, status).Inc()
	requestDuration.WithLabelValues(reqType).Observe(elapsed.Seconds())
}

func SessionLoaded(source string) { sessionsLoaded.WithLabelValues(source).Inc() }

func PanicRecovered(reqType string) { panicsRecovered.WithLabelValues(reqType).Inc() }

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", slog.Any("error", err))
		}
	}()

	slog.Info("metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
