// Package relay is the upstream-facing fan-out point for incident events.
// Producers post events over HTTP; the relay validates them and publishes to
// the bus, and a bridge streams bus traffic to dashboards over SSE.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tangkapin/dashfeed/internal/events"
	"github.com/tangkapin/dashfeed/internal/metrics"
	"github.com/tangkapin/dashfeed/internal/model"
)

// ServiceName is the service reported by the gRPC health server.
const ServiceName = "dashfeed.relay"

const maxIngestBody = 1 << 20

// Relay validates, publishes and streams incident events.
type Relay struct {
	topic, event string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	keepalive    time.Duration

	publisher events.Publisher // nil when running without a bus
	hub       *hub
	health    *health.Server
	busUp     atomic.Bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithTopic overrides the topic and event events are published under.
func WithTopic(topic, event string) Option {
	return func(r *Relay) {
		r.topic = topic
		r.event = event
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics records relay activity and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithKeepalive overrides the SSE keepalive interval.
func WithKeepalive(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.keepalive = d
		}
	}
}

// New creates a relay with no bus attached. Events posted to it are
// broadcast straight to stream clients until SetPublisher is called.
func New(opts ...Option) *Relay {
	r := &Relay{
		topic:     events.TopicOfficersDashboard,
		event:     events.EventIncidentUpdate,
		logger:    slog.Default(),
		keepalive: sseKeepaliveInterval,
		hub:       newHub(),
		health:    health.NewServer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.hub.onDrop = r.metrics.SSEDropped
	r.setServing(true)
	return r
}

// SetPublisher attaches the bus. Call it before serving.
func (r *Relay) SetPublisher(p events.Publisher) {
	r.publisher = p
	r.busUp.Store(true)
	r.setServing(true)
}

// Listener returns a transport listener that tracks bus connectivity in the
// health endpoints.
func (r *Relay) Listener() events.ConnListener {
	return events.ConnListener{
		OnDisconnect: func(err *events.ConnectionError) {
			r.logger.Warn("bus disconnected", "error", err)
			r.busUp.Store(false)
			r.setServing(false)
		},
		OnReconnect: func() {
			r.logger.Info("bus reconnected")
			r.busUp.Store(true)
			r.setServing(true)
		},
	}
}

func (r *Relay) setServing(up bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !up {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus("", st)
	r.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks the relay NOT_SERVING for the rest of its life.
func (r *Relay) Shutdown() {
	r.health.Shutdown()
}

// Subject returns the bus subject events are published on.
func (r *Relay) Subject() string {
	return events.Subject(r.topic, r.event)
}

// Bridge streams bus messages for the relay's topic to stream clients until
// ctx is done.
func (r *Relay) Bridge(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicPattern(r.topic))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.topic, err)
	}
	defer cancel()
	r.logger.Info("bridge started", "topic", r.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n := r.hub.broadcast(msg.Subject, msg.Data)
			r.metrics.Broadcast(r.topic)
			r.logger.Debug("bridged event", "subject", msg.Subject, "clients", n)
		}
	}
}

// Ingest validates data as an incident envelope and publishes it in canonical
// form. Without a bus it is broadcast to stream clients directly.
func (r *Relay) Ingest(ctx context.Context, data []byte) (*model.Envelope, error) {
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		r.metrics.Ingested("malformed")
		return nil, err
	}
	payload, err := env.Encode()
	if err != nil {
		r.metrics.Ingested("error")
		return nil, fmt.Errorf("encoding event: %w", err)
	}

	subject := r.Subject()
	if r.publisher == nil {
		r.hub.broadcast(subject, payload)
		r.metrics.Ingested("broadcast")
		return &env, nil
	}
	if err := r.publisher.Publish(ctx, subject, payload); err != nil {
		r.metrics.Ingested("error")
		return nil, fmt.Errorf("publishing %s: %w", subject, err)
	}
	r.metrics.Ingested("published")
	return &env, nil
}

// handleIngest handles POST /v1/incidents.
func (r *Relay) handleIngest(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	env, err := r.Ingest(req.Context(), body)
	var malformed *model.MalformedEventError
	switch {
	case errors.As(err, &malformed):
		writeError(w, http.StatusBadRequest, malformed.Error())
		return
	case err != nil:
		r.logger.Error("ingest failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}

	r.logger.Info("incident ingested",
		"report_id", env.ReportID,
		"priority", env.Priority,
		"incident_type", env.Category(),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"report_id": env.ReportID,
		"subject":   r.Subject(),
	})
}

// handleHealth handles GET /v1/health.
func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	bus := "disabled"
	if r.publisher != nil {
		bus = "connected"
		if !r.busUp.Load() {
			bus = "disconnected"
		}
	}
	status := "ok"
	if bus == "disconnected" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"bus":         bus,
		"sse_clients": r.hub.size(),
	})
}

// NewHTTPHandler returns an http.Handler with all routes registered. When
// authToken is non-empty, requests other than health and metrics must carry
// Authorization: Bearer <token>.
func (r *Relay) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/incidents", r.handleIngest)
	mux.HandleFunc("GET /v1/events/stream", r.handleEventStream)
	mux.HandleFunc("GET /v1/health", r.handleHealth)
	mux.Handle("GET /metrics", r.metrics.Handler())
	return AuthMiddleware(authToken, mux)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
