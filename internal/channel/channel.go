// Package channel is the dashboard-side view of the event bus: a Client owns
// topic subscriptions and delivers each event to the handlers bound to it.
//
// A Client is scoped to one dashboard session. Topics are reference counted:
// Connect on a topic that is already open returns the same Subscription, and
// the transport subscription is released only when the last Disconnect for
// that topic arrives.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/tangkapin/dashfeed/internal/events"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("channel client closed")

// Message is one event delivered to a handler.
type Message struct {
	Topic string
	Event string
	Data  []byte
}

// Handler wraps a callback. Binding identity is the *Handler pointer: binding
// the same *Handler twice is a no-op, while two handlers wrapping the same
// function are distinct bindings.
type Handler struct {
	fn func(Message)
}

// NewHandler returns a handler invoking fn.
func NewHandler(fn func(Message)) *Handler {
	return &Handler{fn: fn}
}

// Observer receives delivery statistics. Any field may be nil.
type Observer struct {
	Delivered func(topic, event string)
	Unrouted  func(topic, subject string)
	Panicked  func(topic, event string)
}

// Client manages topic subscriptions for one session.
type Client struct {
	sub      events.Subscriber
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	topics map[string]*Subscription
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver sets the delivery observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a client on top of a transport subscriber. The client does
// not own sub; closing the client releases its subscriptions only.
func NewClient(sub events.Subscriber, opts ...Option) *Client {
	c := &Client{
		sub:    sub,
		logger: slog.Default(),
		topics: make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect acquires a reference to topic, opening the transport subscription
// on first use.
func (c *Client) Connect(topic string) (*Subscription, error) {
	if err := events.ValidateName("topic", topic); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := c.topics[topic]; ok {
		s.refs++
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	// Opening the transport may block on network I/O, so it happens unlocked.
	ch, cancel, err := c.sub.Subscribe(events.TopicPattern(topic))
	if err != nil {
		return nil, fmt.Errorf("subscribing to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if s, ok := c.topics[topic]; ok {
		// A concurrent Connect won.
		s.refs++
		c.mu.Unlock()
		cancel()
		return s, nil
	}
	s := &Subscription{
		topic:    topic,
		refs:     1,
		bindings: make(map[string][]*Handler),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   c.logger.With("topic", topic),
		observer: c.observer,
	}
	c.topics[topic] = s
	go s.dispatch(ch)
	c.mu.Unlock()
	c.logger.Debug("topic connected", "topic", topic)
	return s, nil
}

// Disconnect releases one reference to topic. The transport subscription is
// torn down when the count reaches zero. Disconnecting a topic that is not
// connected is a no-op. It waits for the topic's dispatch goroutine to exit,
// so it must not be called from inside a handler.
func (c *Client) Disconnect(topic string) {
	c.mu.Lock()
	s, ok := c.topics[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.topics, topic)
	c.mu.Unlock()

	s.shutdown()
	c.logger.Debug("topic disconnected", "topic", topic)
}

// Refs returns the reference count for topic (0 when not connected).
func (c *Client) Refs(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.topics[topic]; ok {
		return s.refs
	}
	return 0
}

// Close releases every topic regardless of reference counts. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.topics))
	for _, s := range c.topics {
		subs = append(subs, s)
	}
	clear(c.topics)
	c.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
	return nil
}

// Subscription is the registry of handlers bound to one topic.
type Subscription struct {
	topic    string
	refs     int // guarded by Client.mu
	cancel   func()
	done     chan struct{}
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	bindings map[string][]*Handler
	once     sync.Once
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string {
	return s.topic
}

// On binds h to event. Binding an already-bound handler is a no-op.
func (s *Subscription) On(event string, h *Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.bindings[event], h) {
		return
	}
	s.bindings[event] = append(s.bindings[event], h)
}

// Off unbinds h from event. Unbinding a handler that is not bound is a no-op.
func (s *Subscription) Off(event string, h *Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.bindings[event]
	i := slices.Index(hs, h)
	if i < 0 {
		return
	}
	hs = slices.Delete(slices.Clone(hs), i, i+1)
	if len(hs) == 0 {
		delete(s.bindings, event)
		return
	}
	s.bindings[event] = hs
}

// Bound returns the number of handlers bound to event.
func (s *Subscription) Bound(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings[event])
}

// Done is closed once the subscription has been torn down and its dispatch
// goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// dispatch delivers messages in arrival order. Handlers for an event run in
// registration order on this goroutine.
func (s *Subscription) dispatch(ch <-chan events.Message) {
	defer close(s.done)
	for msg := range ch {
		event, ok := events.SplitSubject(s.topic, msg.Subject)
		if !ok {
			if s.observer.Unrouted != nil {
				s.observer.Unrouted(s.topic, msg.Subject)
			}
			s.logger.Debug("dropping message on unexpected subject", "subject", msg.Subject)
			continue
		}

		s.mu.Lock()
		hs := s.bindings[event]
		s.mu.Unlock()

		m := Message{Topic: s.topic, Event: event, Data: msg.Data}
		for _, h := range hs {
			s.invoke(h, m)
		}
		if len(hs) > 0 && s.observer.Delivered != nil {
			s.observer.Delivered(s.topic, event)
		}
	}
}

func (s *Subscription) invoke(h *Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in event handler",
				"event", m.Event,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			if s.observer.Panicked != nil {
				s.observer.Panicked(s.topic, m.Event)
			}
		}
	}()
	h.fn(m)
}
