// Package metrics exports the agent counters to Prometheus. All methods
// are safe on a nil *Metrics, so components can run without metrics.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	Malformed      = "malformed"
	UnknownStation = "unknown_station"
	UnknownTopic   = "unknown_topic"
	Busy           = "busy"
)

type Metrics struct {
	reg *prometheus.Registry

	received   *prometheus.CounterVec
	decoded    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	stored     *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	state      prometheus.Gauge
	reconnects prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emadb_messages_received_total",
			Help: "Bus messages received, by kind.",
		}, []string{"kind"}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emadb_frames_decoded_total",
			Help: "Frames successfully decoded, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emadb_frames_dropped_total",
			Help: "Frames dropped, by kind and reason.",
		}, []string{"kind", "reason"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emadb_records_stored_total",
			Help: "Records accepted by the sinks, by kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emadb_queue_length",
			Help: "Messages held while the gate is closed, by kind.",
		}, []string{"kind"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emadb_mqtt_state",
			Help: "Subscriber state (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emadb_mqtt_connect_attempts_total",
			Help: "Connection attempts to the broker.",
		}),
	}
	m.reg.MustRegister(
		m.received, m.decoded, m.dropped, m.stored, m.queueDepth, m.state, m.reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding all agent metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Received(k ema.Kind) {
	if m != nil {
		m.received.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) Decoded(k ema.Kind) {
	if m != nil {
		m.decoded.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) Dropped(k ema.Kind, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(k.String(), reason).Inc()
	}
}

// DroppedTopic counts a message whose topic could not be classified.
func (m *Metrics) DroppedTopic() {
	if m != nil {
		m.dropped.WithLabelValues("unknown", UnknownTopic).Inc()
	}
}

func (m *Metrics) Stored(k ema.Kind, n int) {
	if m != nil && n > 0 {
		m.stored.WithLabelValues(k.String()).Add(float64(n))
	}
}

func (m *Metrics) QueueDepth(k ema.Kind, n int) {
	if m != nil {
		m.queueDepth.WithLabelValues(k.String()).Set(float64(n))
	}
}

func (m *Metrics) State(s int) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) ConnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("warning: metrics server shutdown: %s", err)
		}
	}()

	log.Printf("info: serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
