package events

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// SSESubscriber consumes the relay's server-sent event stream. It is the
// transport for dashboards that cannot reach the bus directly. Dropped
// connections are re-established with backoff; nothing is replayed.
type SSESubscriber struct {
	baseURL    string
	token      string
	httpClient *http.Client
	backoff    Backoff
	listener   ConnListener
	logger     *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	streams map[uint64]func() // open stream cancels
}

// SSEOption configures an SSESubscriber.
type SSEOption func(*SSESubscriber)

// WithSSEBackoff overrides the reconnect backoff.
func WithSSEBackoff(b Backoff) SSEOption {
	return func(s *SSESubscriber) { s.backoff = b }
}

// WithSSEListener registers connectivity callbacks.
func WithSSEListener(l ConnListener) SSEOption {
	return func(s *SSESubscriber) { s.listener = l }
}

// WithSSEHTTPClient replaces the HTTP client. The client must not set a
// response timeout, since streams are long-lived.
func WithSSEHTTPClient(c *http.Client) SSEOption {
	return func(s *SSESubscriber) { s.httpClient = c }
}

// WithSSELogger sets the logger.
func WithSSELogger(l *slog.Logger) SSEOption {
	return func(s *SSESubscriber) { s.logger = l }
}

// NewSSESubscriber creates a subscriber for the relay at baseURL
// (e.g. "http://localhost:8080"). When token is non-empty it is sent as a
// Bearer token.
func NewSSESubscriber(baseURL, token string, opts ...SSEOption) *SSESubscriber {
	s := &SSESubscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
		streams:    make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe opens a stream filtered to subject. The first connection attempt
// is made synchronously so configuration errors surface immediately.
func (s *SSESubscriber) Subscribe(subject string) (<-chan Message, func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	body, err := s.open(ctx, subject)
	if err != nil {
		cancelCtx()
		return nil, nil, err
	}

	ch := make(chan Message, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(ctx, subject, body, ch)
	}()

	var id uint64
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.streams, id)
			s.mu.Unlock()
			cancelCtx()
			<-done
			close(ch)
		})
	}
	s.mu.Lock()
	s.nextID++
	id = s.nextID
	s.streams[id] = cancel
	s.mu.Unlock()
	return ch, cancel, nil
}

// Close cancels every open stream.
func (s *SSESubscriber) Close() error {
	s.mu.Lock()
	cancels := slices.Collect(maps.Values(s.streams))
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return nil
}

func (s *SSESubscriber) open(ctx context.Context, subject string) (io.ReadCloser, error) {
	u := s.baseURL + "/v1/events/stream?" + url.Values{"topics": {subject}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("opening event stream: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

func (s *SSESubscriber) run(ctx context.Context, subject string, body io.ReadCloser, ch chan<- Message) {
	attempt := 0
	for {
		err := readEvents(body, ch)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		s.listener.disconnected(&ConnectionError{Transport: "sse", Err: err})

		for {
			attempt++
			delay := s.backoff.Delay(attempt)
			s.logger.Debug("sse reconnecting", "attempt", attempt, "delay", delay)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			body, err = s.open(ctx, subject)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("sse reconnect failed", "attempt", attempt, "error", err)
		}
		attempt = 0
		s.listener.reconnected()
	}
}

// readEvents parses a text/event-stream body until it ends. Comment lines
// (keepalives) and ids are ignored.
func readEvents(r io.Reader, ch chan<- Message) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		event string
		data  bytes.Buffer
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				select {
				case ch <- Message{Subject: event, Data: bytes.Clone(data.Bytes())}:
				default:
				}
			}
			event = ""
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	return scanner.Err()
}
