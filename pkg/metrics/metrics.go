// Package metrics holds the Prometheus collectors for provider calls,
// image validations and runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_provider_requests_total",
			Help: "Outbound provider calls, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	RateLimitWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_rate_limit_waits_total",
			Help: "Retry-After sleeps taken after a rate-limit response, labeled by provider.",
		},
		[]string{"provider"},
	)
	KeyRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_key_rotations_total",
			Help: "Number of times the primary search API key cursor advanced.",
		},
	)
	ImageValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_image_validations_total",
			Help: "Candidate image validations, labeled by result (accepted or rejection reason).",
		},
		[]string{"result"},
	)
	ItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_items_processed_total",
			Help: "Catalog items processed, labeled by job type and log status.",
		},
		[]string{"job_type", "status"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enricher_batch_duration_seconds",
			Help:    "Wall time spent per batch including pacing sleeps.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(ProviderRequests)
	prometheus.MustRegister(RateLimitWaits)
	prometheus.MustRegister(KeyRotations)
	prometheus.MustRegister(ImageValidations)
	prometheus.MustRegister(ItemsProcessed)
	prometheus.MustRegister(BatchDuration)
}

// Expose serves /metrics on addr until ctx is cancelled
func Expose(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Exposing Prometheus metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("Metrics server failed: %v", err)
		return err
	}
	return nil
}
