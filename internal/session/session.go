// Package session runs one dashboard session: it subscribes to the incident
// topic, seeds the aggregator from the REST snapshot, folds live events into
// it, and surfaces the newest event as a transient alert.
//
// All aggregator and presenter mutations happen on the goroutine running Run.
// Transport callbacks and handler deliveries only hand work to that loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tangkapin/dashfeed/internal/aggregator"
	"github.com/tangkapin/dashfeed/internal/alert"
	"github.com/tangkapin/dashfeed/internal/channel"
	"github.com/tangkapin/dashfeed/internal/events"
	"github.com/tangkapin/dashfeed/internal/idgen"
	"github.com/tangkapin/dashfeed/internal/metrics"
	"github.com/tangkapin/dashfeed/internal/model"
	"github.com/tangkapin/dashfeed/internal/snapshot"
)

const (
	DefaultTickInterval   = 30 * time.Second
	DefaultResyncInterval = 5 * time.Minute
	DefaultRecentLimit    = 20

	defaultInboxSize = 256
	evidenceTimeout  = 5 * time.Second
)

// DefaultRetry is the snapshot fetch backoff.
var DefaultRetry = events.Backoff{Initial: time.Second, Max: 30 * time.Second}

var (
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("session already run")

	// ErrNotRunning is returned by View once Run has returned.
	ErrNotRunning = errors.New("session not running")
)

// SnapshotSource fetches the baseline state. *snapshot.Client implements it.
type SnapshotSource interface {
	Fetch(ctx context.Context) (*model.Snapshot, error)
}

// EvidenceResolver turns an evidence reference into a fetchable URL.
// *evidence.Resolver implements it.
type EvidenceResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Frame is what a dashboard renders.
type Frame struct {
	aggregator.View
	Session string       `json:"session"`
	Stale   bool         `json:"stale"`
	Alert   *alert.Alert `json:"alert,omitempty"`
}

// Session is one dashboard session.
type Session struct {
	id     string
	client *channel.Client
	source SnapshotSource

	topic, event string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	conn         *ConnState
	evidence     EvidenceResolver
	render       func(Frame)
	onAlert      func(*alert.Alert)

	tickInterval   time.Duration
	resyncInterval time.Duration
	retry          events.Backoff
	recentLimit    int
	inboxSize      int
	aggOpts        []aggregator.Option
	alertOpts      []alert.Option

	agg       *aggregator.Aggregator
	presenter *alert.Presenter

	inbox        chan []byte
	resolved     chan resolvedAlert
	alertChanged chan struct{}
	dismiss      chan struct{}
	views        chan chan Frame
	running      atomic.Bool
	done         chan struct{}

	// Owned by the Run goroutine.
	workers  sync.WaitGroup
	alertGen uint64
	held     *model.Envelope
}

// Option configures a Session.
type Option func(*Session)

// WithTopic overrides the topic and event the session listens to.
func WithTopic(topic, event string) Option {
	return func(s *Session) {
		s.topic = topic
		s.event = event
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records session activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithConnState shares a ConnState whose Listener was given to the transport.
func WithConnState(c *ConnState) Option {
	return func(s *Session) { s.conn = c }
}

// WithEvidence resolves evidence references before alerts are shown. Without
// it the raw reference is shown.
func WithEvidence(r EvidenceResolver) Option {
	return func(s *Session) { s.evidence = r }
}

// WithRender registers the render callback. It runs on the Run goroutine
// after every state change and on every tick.
func WithRender(fn func(Frame)) Option {
	return func(s *Session) { s.render = fn }
}

// WithAlertHandler registers a callback for alert transitions; nil means the
// alert was dismissed. It may run on a timer goroutine.
func WithAlertHandler(fn func(*alert.Alert)) Option {
	return func(s *Session) { s.onAlert = fn }
}

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithResyncInterval overrides DefaultResyncInterval.
func WithResyncInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.resyncInterval = d
		}
	}
}

// WithRetry overrides DefaultRetry.
func WithRetry(b events.Backoff) Option {
	return func(s *Session) { s.retry = b }
}

// WithRecentLimit caps the recent alerts in each Frame.
func WithRecentLimit(n int) Option {
	return func(s *Session) { s.recentLimit = n }
}

// WithInboxSize sets how many undelivered events are held before new ones
// are dropped.
func WithInboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// WithAggregator passes options to the session's aggregator. A logger set
// here is replaced by the session's own.
func WithAggregator(opts ...aggregator.Option) Option {
	return func(s *Session) { s.aggOpts = append(s.aggOpts, opts...) }
}

// WithAlerts passes options to the session's alert presenter.
func WithAlerts(opts ...alert.Option) Option {
	return func(s *Session) { s.alertOpts = append(s.alertOpts, opts...) }
}

// New creates a session reading from client and seeded from source. The
// session does not own client.
func New(client *channel.Client, source SnapshotSource, opts ...Option) *Session {
	s := &Session{
		id:             idgen.Must(idgen.PrefixSession),
		client:         client,
		source:         source,
		topic:          events.TopicOfficersDashboard,
		event:          events.EventIncidentUpdate,
		logger:         slog.Default(),
		tickInterval:   DefaultTickInterval,
		resyncInterval: DefaultResyncInterval,
		retry:          DefaultRetry,
		recentLimit:    DefaultRecentLimit,
		inboxSize:      defaultInboxSize,
		resolved:       make(chan resolvedAlert),
		alertChanged:   make(chan struct{}, 1),
		dismiss:        make(chan struct{}, 1),
		views:          make(chan chan Frame),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conn == nil {
		s.conn = NewConnState()
	}
	s.logger = s.logger.With("session", s.id)
	s.inbox = make(chan []byte, s.inboxSize)
	// The aggregator always logs with the session attribute.
	s.agg = aggregator.New(append(s.aggOpts, aggregator.WithLogger(s.logger))...)
	s.presenter = alert.NewPresenter(append(s.alertOpts, alert.OnChange(s.alertTransition))...)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Stale reports whether the live transport is down. It never blocks.
func (s *Session) Stale() bool { return s.conn.Stale() }

// Disconnected reports a transport disconnect.
func (s *Session) Disconnected(err *events.ConnectionError) { s.conn.Disconnected(err) }

// Reconnected reports a transport reconnect; the session resyncs.
func (s *Session) Reconnected() { s.conn.Reconnected() }

// DismissAlert hides the visible alert.
func (s *Session) DismissAlert() { signal(s.dismiss) }

type fetchResult struct {
	snap *model.Snapshot
	err  error
}

// resolvedAlert carries an envelope back to the loop once its evidence is
// resolved. gen identifies the event that requested it.
type resolvedAlert struct {
	gen uint64
	env model.Envelope
	url string
}

// Run subscribes, seeds and processes events until ctx is done or the
// snapshot source rejects the session's credentials, in which case the
// *snapshot.UnauthorizedError is returned. A canceled ctx returns nil. Run
// may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer close(s.done)

	sub, err := s.client.Connect(s.topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	defer s.client.Disconnect(s.topic)

	// Bind before fetching so nothing published during the fetch is missed.
	h := channel.NewHandler(s.enqueue)
	sub.On(s.event, h)
	defer sub.Off(s.event, h)
	defer s.presenter.Close()
	defer s.agg.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer s.workers.Wait()
	defer cancel()

	results := make(chan fetchResult, 1)
	fetching := false
	startFetch := func(reason string) {
		if fetching {
			return
		}
		fetching = true
		s.logger.Debug("fetching snapshot", "reason", reason)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.fetch(runCtx, results)
		}()
	}

	s.logger.Info("session started", "topic", s.topic, "event", s.event)
	startFetch("initial")

	tick := time.NewTicker(s.tickInterval)
	defer tick.Stop()
	resync := time.NewTicker(s.resyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped")
			return nil

		case data := <-s.inbox:
			s.handle(runCtx, data)
			s.emit()

		case res := <-results:
			fetching = false
			if res.err != nil {
				s.logger.Error("session terminated", "error", res.err)
				return res.err
			}
			replayed, err := s.agg.Seed(res.snap)
			if err != nil {
				s.logger.Warn("ignoring snapshot", "error", err)
				continue
			}
			s.metrics.SetUnread(s.agg.Unread())
			s.logger.Info("snapshot applied",
				"officers", len(res.snap.Officers),
				"incidents", len(res.snap.Incidents),
				"notifications", len(res.snap.Notifications),
				"replayed", replayed,
			)
			if s.held != nil {
				s.alert(runCtx, *s.held)
				s.held = nil
			}
			s.emit()

		case r := <-s.resolved:
			if r.gen != s.alertGen {
				s.logger.Debug("discarding superseded alert", "report_id", r.env.ReportID)
				continue
			}
			s.show(r.env, r.url)

		case <-resync.C:
			startFetch("interval")

		case <-s.conn.reconnected:
			s.logger.Info("transport reconnected, resyncing")
			startFetch("reconnect")

		case <-s.conn.changed:
			stale := s.conn.Stale()
			s.metrics.SetStale(stale)
			if stale {
				s.logger.Warn("transport disconnected, view is stale", "error", s.conn.LastError())
			}
			s.emit()

		case <-tick.C:
			s.metrics.SetUnread(s.agg.Tick())
			s.emit()

		case <-s.dismiss:
			s.presenter.Dismiss()

		case <-s.alertChanged:
			s.emit()

		case reply := <-s.views:
			reply <- s.frame()
		}
	}
}

// View returns the current frame. It blocks until Run serves the request.
func (s *Session) View(ctx context.Context) (Frame, error) {
	reply := make(chan Frame, 1)
	select {
	case s.views <- reply:
	case <-s.done:
		return Frame{}, ErrNotRunning
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	select {
	case f := <-reply:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// fetch retries the snapshot until it succeeds, the credentials are rejected,
// or ctx ends. At most one fetch runs at a time, so the send never blocks.
func (s *Session) fetch(ctx context.Context, out chan<- fetchResult) {
	for attempt := 1; ; attempt++ {
		snap, err := s.source.Fetch(ctx)
		if err == nil {
			s.metrics.SnapshotFetch("ok")
			out <- fetchResult{snap: snap}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if snapshot.IsUnauthorized(err) {
			s.metrics.SnapshotFetch("unauthorized")
			out <- fetchResult{err: err}
			return
		}
		s.metrics.SnapshotFetch("error")

		delay := s.retry.Delay(attempt)
		s.logger.Warn("snapshot fetch failed, retrying",
			"attempt", attempt, "retry_in", delay, "error", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// enqueue runs on the channel dispatch goroutine and must not block.
func (s *Session) enqueue(m channel.Message) {
	select {
	case s.inbox <- m.Data:
	default:
		s.metrics.InboxDropped()
		s.logger.Warn("session inbox full, dropping event", "topic", m.Topic, "event", m.Event)
	}
}

func (s *Session) handle(ctx context.Context, data []byte) {
	var res aggregator.Result
	env, err := model.DecodeEnvelope(data)
	if err == nil {
		res, err = s.agg.Apply(env)
		if err == nil {
			s.record(env, res)
		}
	}
	if err != nil {
		s.metrics.Event(metrics.OutcomeMalformed)
		s.logger.Warn("dropping malformed event", "error", err)
		return
	}

	switch {
	case res.Dropped:
	case res.Buffered:
		// No live alerts without a baseline; the newest one is shown once
		// the snapshot lands.
		s.held = &env
	default:
		s.alert(ctx, env)
	}
}

// alert supersedes any alert still waiting on evidence and presents env,
// directly or once its evidence reference resolves.
func (s *Session) alert(ctx context.Context, env model.Envelope) {
	s.alertGen++
	if env.EvidenceURL == "" || s.evidence == nil {
		s.show(env, env.EvidenceURL)
		return
	}
	gen := s.alertGen
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		r := resolvedAlert{gen: gen, env: env, url: s.resolveEvidence(ctx, env)}
		select {
		case s.resolved <- r:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) show(env model.Envelope, evidenceURL string) {
	s.presenter.Present(env, evidenceURL)
	s.metrics.AlertPresented(string(env.Priority))
}

func (s *Session) record(env model.Envelope, res aggregator.Result) {
	switch {
	case res.Dropped:
		s.metrics.Event(metrics.OutcomeDropped)
	case res.Buffered:
		s.metrics.Event(metrics.OutcomeBuffered)
		if res.Evicted {
			s.metrics.Event(metrics.OutcomeEvicted)
		}
	case res.Stale:
		s.metrics.Event(metrics.OutcomeStale)
		s.logger.Debug("event older than marker state", "report_id", env.ReportID)
	default:
		s.metrics.Event(metrics.OutcomeApplied)
	}
	if !res.Buffered && !res.Dropped {
		s.metrics.SetUnread(res.Unread)
	}
}

// resolveEvidence runs off the loop goroutine.
func (s *Session) resolveEvidence(ctx context.Context, env model.Envelope) string {
	ctx, cancel := context.WithTimeout(ctx, evidenceTimeout)
	defer cancel()
	u, err := s.evidence.Resolve(ctx, env.EvidenceURL)
	if err != nil {
		s.metrics.EvidenceFailed()
		s.logger.Warn("showing alert without evidence", "report_id", env.ReportID, "error", err)
		return ""
	}
	return u
}

func (s *Session) alertTransition(a *alert.Alert) {
	if s.onAlert != nil {
		s.onAlert(a)
	}
	signal(s.alertChanged)
}

func (s *Session) frame() Frame {
	f := Frame{
		View:    s.agg.View(s.recentLimit),
		Session: s.id,
		Stale:   s.conn.Stale(),
	}
	if a, ok := s.presenter.Current(); ok {
		f.Alert = &a
	}
	return f
}

func (s *Session) emit() {
	if s.render != nil {
		s.render(s.frame())
	}
}
