package relay

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tangkapin/dashfeed/internal/idgen"
)

const (
	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second

	// sseClientBuffer is how many undelivered events a client may lag behind
	// before events are dropped for it.
	sseClientBuffer = 64
)

// sseEvent is one message fanned out to stream clients.
type sseEvent struct {
	Subject string
	Data    []byte
}

// hub fans out bus messages to connected stream clients. Delivery is
// at-most-once: a slow client misses events rather than stalling the others,
// and nothing is kept for clients that reconnect.
type hub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}

	onDrop func()
}

// sseClient is a single connected stream consumer.
type sseClient struct {
	id       string
	patterns []string // subject patterns to match (empty = all)
	ch       chan *sseEvent
}

func newHub() *hub {
	return &hub{clients: make(map[*sseClient]struct{})}
}

// broadcast sends an event to every client whose patterns match subject and
// returns how many received it.
func (h *hub) broadcast(subject string, payload []byte) int {
	evt := &sseEvent{Subject: subject, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if !c.matches(subject) {
			continue
		}
		select {
		case c.ch <- evt:
			n++
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return n
}

func (h *hub) subscribe(patterns []string) *sseClient {
	c := &sseClient{
		id:       idgen.Must(idgen.PrefixClient),
		patterns: patterns,
		ch:       make(chan *sseEvent, sseClientBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *sseClient) matches(subject string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if matchSubject(p, subject) {
			return true
		}
	}
	return false
}

// matchSubject matches a dot-separated subject against a pattern. "*" matches
// one segment and a trailing ">" matches one or more remaining segments.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patParts := strings.Split(pattern, ".")
	subParts := strings.Split(subject, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(subParts)
		}
		if i >= len(subParts) {
			return false
		}
		if pp != "*" && pp != subParts[i] {
			return false
		}
	}
	return len(patParts) == len(subParts)
}

// parsePatterns splits the comma-separated topics query parameter.
func parsePatterns(q string) []string {
	var out []string
	for _, p := range strings.Split(q, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// handleEventStream handles GET /v1/events/stream.
func (r *Relay) handleEventStream(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := r.hub.subscribe(parsePatterns(req.URL.Query().Get("topics")))
	defer r.hub.unsubscribe(client)
	r.metrics.SSEClients(1)
	defer r.metrics.SSEClients(-1)

	r.logger.Debug("stream client connected", "client", client.id, "topics", client.patterns)
	defer r.logger.Debug("stream client disconnected", "client", client.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	keepalive := time.NewTicker(r.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "event:%s\n", evt.Subject)
	for _, line := range strings.Split(string(evt.Data), "\n") {
		fmt.Fprintf(w, "data:%s\n", line)
	}
	fmt.Fprint(w, "\n")
}
