// Package metrics exposes live run counters in Prometheus format.
//
// A Recorder owns its registry so parallel runs and tests never share
// collectors through the global default registry.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/lockerbench/internal/outcome"
)

const namespace = "lockerbench"

// Recorder turns outcomes into Prometheus series.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	winners  *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Remote calls by endpoint, status and result.",
		}, []string{"endpoint", "status", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of remote calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		winners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "race_winners",
			Help:      "Successful holds observed in the last race per resource.",
		}, []string{"resource"}),
	}
	r.registry.MustRegister(r.requests, r.latency, r.winners)
	return r
}

// Observe records one outcome. It is safe for concurrent use and matches
// the collector's observer signature.
func (r *Recorder) Observe(o outcome.Outcome) {
	result := "failure"
	if o.Success {
		result = "success"
	}
	r.requests.WithLabelValues(o.Endpoint, strconv.Itoa(o.StatusCode), result).Inc()
	r.latency.WithLabelValues(o.Endpoint).Observe(o.Latency.Seconds())
}

// RaceWinners records the winner count of a race.
func (r *Recorder) RaceWinners(resourceID, winners int) {
	r.winners.WithLabelValues(strconv.Itoa(resourceID)).Set(float64(winners))
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. A listen failure is
// returned immediately; a clean shutdown returns nil.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.serve(ctx, ln)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
