// Package alert shows transient incident alerts. At most one alert is visible;
// a newer event replaces the visible one, and every alert dismisses itself
// after a fixed time to live.
package alert

import (
	"sync"
	"time"

	"github.com/tangkapin/dashfeed/internal/model"
)

// DefaultTTL is how long an alert stays visible unless dismissed.
const DefaultTTL = 5 * time.Second

// Alert is the visible alert.
type Alert struct {
	Envelope    model.Envelope `json:"event"`
	Title       string         `json:"title"`
	EvidenceURL string         `json:"evidence_url,omitempty"` // resolved, browser-fetchable form of Envelope.EvidenceURL
	Critical    bool           `json:"critical"`               // render in the destructive style
	ShownAt     time.Time      `json:"shown_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Presenter holds the single visible alert.
type Presenter struct {
	ttl      time.Duration
	now      func() time.Time
	onChange func(*Alert)

	mu      sync.Mutex
	current *Alert
	gen     uint64
	timer   *time.Timer
	closed  bool
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(p *Presenter) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithClock overrides the clock used for ShownAt/ExpiresAt.
func WithClock(now func() time.Time) Option {
	return func(p *Presenter) { p.now = now }
}

// OnChange registers a callback invoked after every transition with the new
// visible alert, or nil once it is dismissed. It runs without the presenter
// lock held, possibly on the auto-dismiss timer goroutine.
func OnChange(fn func(*Alert)) Option {
	return func(p *Presenter) { p.onChange = fn }
}

// NewPresenter creates an empty presenter.
func NewPresenter(opts ...Option) *Presenter {
	p := &Presenter{
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Present replaces the visible alert with one for env. evidenceURL is the
// resolved evidence link; pass "" when there is none.
func (p *Presenter) Present(env model.Envelope, evidenceURL string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := p.now()
	a := &Alert{
		Envelope:    env,
		Title:       env.Title(),
		EvidenceURL: evidenceURL,
		Critical:    env.Priority.IsCritical(),
		ShownAt:     now,
		ExpiresAt:   now.Add(p.ttl),
	}
	p.gen++
	gen := p.gen
	p.current = a
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.ttl, func() { p.expire(gen) })
	cp := *a
	p.mu.Unlock()

	p.notify(&cp)
}

// Dismiss hides the visible alert. Dismissing when nothing is visible is a
// no-op.
func (p *Presenter) Dismiss() {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}
	p.clearLocked()
	p.mu.Unlock()

	p.notify(nil)
}

// Current returns a copy of the visible alert.
func (p *Presenter) Current() (Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Alert{}, false
	}
	return *p.current, true
}

// Close dismisses any visible alert and ignores later calls to Present.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.closed = true
	visible := p.current != nil
	p.clearLocked()
	p.mu.Unlock()

	if visible {
		p.notify(nil)
	}
}

// expire is the auto-dismiss path. A timer belonging to a replaced alert
// finds a newer generation and does nothing.
func (p *Presenter) expire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.current == nil {
		p.mu.Unlock()
		return
	}
	p.clearLocked()
	p.mu.Unlock()

	p.notify(nil)
}

func (p *Presenter) clearLocked() {
	p.current = nil
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Presenter) notify(a *Alert) {
	if p.onChange != nil {
		p.onChange(a)
	}
}
