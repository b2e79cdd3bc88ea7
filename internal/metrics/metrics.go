// Package metrics exposes Prometheus collectors for the dashboard feed. All
// methods are safe on a nil *Metrics, so components can take one optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tangkapin/dashfeed/internal/channel"
)

const namespace = "dashfeed"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	delivered     *prometheus.CounterVec
	unrouted      *prometheus.CounterVec
	handlerPanics *prometheus.CounterVec

	events        *prometheus.CounterVec
	inboxDropped  prometheus.Counter
	snapshots     *prometheus.CounterVec
	unreadRecent  prometheus.Gauge
	stale         prometheus.Gauge
	alerts        *prometheus.CounterVec
	evidenceFails prometheus.Counter

	ingested    *prometheus.CounterVec
	sseClients  prometheus.Gauge
	sseDropped  prometheus.Counter
	broadcasted *prometheus.CounterVec
}

// New creates the collectors. When withRuntime is set the Go runtime and
// process collectors are registered too.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_delivered_total",
			Help:      "Events delivered to bound handlers",
		}, []string{"topic", "event"}),
		unrouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_unrouted_total",
			Help:      "Bus messages whose subject did not map to the topic",
		}, []string{"topic"}),
		handlerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_handler_panics_total",
			Help:      "Handler invocations that panicked",
		}, []string{"topic", "event"}),

		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Live events processed by sessions, by outcome",
		}, []string{"outcome"}),
		inboxDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_inbox_dropped_total",
			Help:      "Events dropped because a session inbox was full",
		}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_snapshot_fetches_total",
			Help:      "Snapshot fetch attempts, by result",
		}, []string{"result"}),
		unreadRecent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_unread_recent",
			Help:      "Unread notifications inside the decay window",
		}),
		stale: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_stale",
			Help:      "1 while the live transport is disconnected",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_presented_total",
			Help:      "Alerts presented, by priority",
		}, []string{"priority"}),
		evidenceFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_resolve_failures_total",
			Help:      "Evidence references that could not be resolved",
		}),

		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_ingested_total",
			Help:      "Incident events received by the relay, by result",
		}, []string{"result"}),
		sseClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sse_clients",
			Help:      "Connected SSE clients",
		}),
		sseDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_sse_dropped_total",
			Help:      "Messages dropped for slow SSE clients",
		}),
		broadcasted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_broadcast_total",
			Help:      "Messages fanned out to SSE clients, by topic",
		}, []string{"topic"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ChannelObserver returns a channel.Observer feeding the delivery counters.
func (m *Metrics) ChannelObserver() channel.Observer {
	if m == nil {
		return channel.Observer{}
	}
	return channel.Observer{
		Delivered: func(topic, event string) { m.delivered.WithLabelValues(topic, event).Inc() },
		Unrouted:  func(topic, _ string) { m.unrouted.WithLabelValues(topic).Inc() },
		Panicked:  func(topic, event string) { m.handlerPanics.WithLabelValues(topic, event).Inc() },
	}
}

// Event outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeBuffered  = "buffered"
	OutcomeEvicted   = "evicted"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
	OutcomeStale     = "stale"
)

// Event counts one processed live event.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

// InboxDropped counts an event lost to a full session inbox.
func (m *Metrics) InboxDropped() {
	if m == nil {
		return
	}
	m.inboxDropped.Inc()
}

// SnapshotFetch counts a fetch attempt; result is "ok", "error" or
// "unauthorized".
func (m *Metrics) SnapshotFetch(result string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(result).Inc()
}

// SetUnread records the unread-recent badge count.
func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unreadRecent.Set(float64(n))
}

// SetStale records the stale indicator.
func (m *Metrics) SetStale(stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.stale.Set(v)
}

// AlertPresented counts an alert shown at priority.
func (m *Metrics) AlertPresented(priority string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(priority).Inc()
}

// EvidenceFailed counts an evidence resolution failure.
func (m *Metrics) EvidenceFailed() {
	if m == nil {
		return
	}
	m.evidenceFails.Inc()
}

// Ingested counts an event posted to the relay; result is "published",
// "broadcast", "malformed" or "error".
func (m *Metrics) Ingested(result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(result).Inc()
}

// SSEClients adjusts the connected SSE client gauge by delta.
func (m *Metrics) SSEClients(delta int) {
	if m == nil {
		return
	}
	m.sseClients.Add(float64(delta))
}

// SSEDropped counts a message dropped for a slow client.
func (m *Metrics) SSEDropped() {
	if m == nil {
		return
	}
	m.sseDropped.Inc()
}

// Broadcast counts a message fanned out on topic.
func (m *Metrics) Broadcast(topic string) {
	if m == nil {
		return
	}
	m.broadcasted.WithLabelValues(topic).Inc()
}
