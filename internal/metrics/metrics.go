package metrics

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "pathwatch"

// Registry owns the collectors for one process. A nil *Registry accepts every
// call and records nothing.
type Registry struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	rawEvents       *prometheus.CounterVec
	errors          *prometheus.CounterVec
	trackedEntries  prometheus.Gauge
	pendingWrites   prometheus.Gauge
	backendRestarts prometheus.Counter
	busPublished    *prometheus.CounterVec
	busDropped      *prometheus.CounterVec
	busSubscribers  *prometheus.GaugeVec
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Semantic events emitted, by op.",
		}, []string{"op"}),
		rawEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_events_total",
			Help:      "Raw backend notifications received.",
		}, []string{"backend", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors observed, by kind.",
		}, []string{"kind"}),
		trackedEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_entries",
			Help:      "Entries currently held in the path tree.",
		}),
		pendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_writes",
			Help:      "Files waiting for their size and mtime to settle.",
		}),
		backendRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_restarts_total",
			Help:      "Native backend restarts after notifier failures.",
		}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Events published on an event bus.",
		}, []string{"bus", "type"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Events dropped by an event bus.",
		}, []string{"bus", "type"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Active bus subscribers, by filter mode.",
		}, []string{"bus", "mode"}),
	}
	r.registry.MustRegister(
		r.events,
		r.rawEvents,
		r.errors,
		r.trackedEntries,
		r.pendingWrites,
		r.backendRestarts,
		r.busPublished,
		r.busDropped,
		r.busSubscribers,
	)
	return r
}

func (r *Registry) IncEvent(op string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(label(op)).Inc()
}

func (r *Registry) IncRawEvent(backend, kind string) {
	if r == nil {
		return
	}
	r.rawEvents.WithLabelValues(label(backend), label(kind)).Inc()
}

func (r *Registry) IncError(kind string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(label(kind)).Inc()
}

func (r *Registry) AddTrackedEntries(delta int) {
	if r == nil || delta == 0 {
		return
	}
	r.trackedEntries.Add(float64(delta))
}

func (r *Registry) AddPendingWrites(delta int) {
	if r == nil || delta == 0 {
		return
	}
	r.pendingWrites.Add(float64(delta))
}

func (r *Registry) IncBackendRestart() {
	if r == nil {
		return
	}
	r.backendRestarts.Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.busSubscribers.WithLabelValues(label(bus), "filtered").Set(float64(filtered))
	r.busSubscribers.WithLabelValues(label(bus), "unfiltered").Set(float64(unfiltered))
}

// Gatherer exposes the underlying registry for callers that add their own
// collectors.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// WritePrometheus writes every metric family in the text exposition format.
func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	encoder := expfmt.NewEncoder(writer, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return err
		}
	}
	return nil
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
