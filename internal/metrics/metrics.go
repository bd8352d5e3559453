// Package metrics exposes sync health as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agendas/api/internal/engine"
)

// Recorder implements engine.Observer and debounce.Observer.
type Recorder struct {
	registry      *prometheus.Registry
	loads         *prometheus.CounterVec
	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	editors       prometheus.Gauge
}

// New registers the series on a fresh registry together with the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendas",
			Name:      "scope_loads_total",
			Help:      "Scope loads by where the matrix came from.",
		}, []string{"source"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendas",
			Name:      "writes_total",
			Help:      "Debounced store writes by stream and result.",
		}, []string{"stream", "result"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agendas",
			Name:      "write_duration_seconds",
			Help:      "Duration of debounced store writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream"}),
		editors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agendas",
			Name:      "active_editors",
			Help:      "Signed-in editors holding a session.",
		}),
	}
	r.registry.MustRegister(
		r.loads, r.writes, r.writeDuration, r.editors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveLoad(source engine.Source) {
	r.loads.WithLabelValues(string(source)).Inc()
}

func (r *Recorder) ObserveWrite(stream string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.writes.WithLabelValues(stream, result).Inc()
	r.writeDuration.WithLabelValues(stream).Observe(elapsed.Seconds())
}

func (r *Recorder) SetEditors(n int) {
	r.editors.Set(float64(n))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
