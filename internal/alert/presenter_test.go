package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/tangkapin/dashfeed/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func env(id string, p model.Priority) model.Envelope {
	return model.Envelope{
		ReportID:     id,
		IncidentType: "theft",
		Location:     "Jl. Merdeka",
		Priority:     p,
		CreatedAt:    t0,
	}
}

type changes struct {
	mu   sync.Mutex
	seen []*Alert
	ch   chan struct{}
}

func newChanges() *changes {
	return &changes{ch: make(chan struct{}, 16)}
}

func (c *changes) record(a *Alert) {
	c.mu.Lock()
	c.seen = append(c.seen, a)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) last() *Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[len(c.seen)-1]
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *changes) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestPresent_ShowsAlert(t *testing.T) {
	p := NewPresenter(WithClock(func() time.Time { return t0 }))
	defer p.Close()

	p.Present(env("r1", model.PriorityHigh), "https://cdn.example/r1.jpg")

	a, ok := p.Current()
	if !ok {
		t.Fatal("expected a visible alert")
	}
	if a.Envelope.ReportID != "r1" {
		t.Errorf("ReportID = %q, want r1", a.Envelope.ReportID)
	}
	if a.Title != "Theft at Jl. Merdeka" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.EvidenceURL != "https://cdn.example/r1.jpg" {
		t.Errorf("EvidenceURL = %q", a.EvidenceURL)
	}
	if !a.Critical {
		t.Error("high priority should render as critical")
	}
	if !a.ExpiresAt.Equal(t0.Add(DefaultTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", a.ExpiresAt, t0.Add(DefaultTTL))
	}
}

func TestPresent_LowPriorityNotCritical(t *testing.T) {
	p := NewPresenter()
	defer p.Close()

	p.Present(env("r1", model.PriorityLow), "")
	a, _ := p.Current()
	if a.Critical {
		t.Error("low priority should not be critical")
	}
}

func TestPresent_NewerReplacesVisible(t *testing.T) {
	p := NewPresenter()
	defer p.Close()

	p.Present(env("r1", model.PriorityLow), "")
	p.Present(env("r2", model.PriorityCritical), "")

	a, ok := p.Current()
	if !ok || a.Envelope.ReportID != "r2" {
		t.Fatalf("Current = %+v, %v; want r2", a, ok)
	}
}

func TestPresent_AutoDismiss(t *testing.T) {
	rec := newChanges()
	p := NewPresenter(WithTTL(30*time.Millisecond), OnChange(rec.record))
	defer p.Close()

	p.Present(env("r1", model.PriorityMedium), "")
	rec.wait(t) // shown
	rec.wait(t) // expired

	if _, ok := p.Current(); ok {
		t.Error("alert should have been dismissed after ttl")
	}
	if rec.last() != nil {
		t.Error("last change should be a dismissal")
	}
}

func TestPresent_ReplacedAlertTimerDoesNotDismissNewer(t *testing.T) {
	p := NewPresenter(WithTTL(60 * time.Millisecond))
	defer p.Close()

	p.Present(env("r1", model.PriorityLow), "")
	time.Sleep(40 * time.Millisecond)
	p.Present(env("r2", model.PriorityLow), "")
	time.Sleep(40 * time.Millisecond)

	// r1's deadline has passed but r2 has its own full ttl.
	a, ok := p.Current()
	if !ok || a.Envelope.ReportID != "r2" {
		t.Fatalf("Current = %+v, %v; want r2 still visible", a, ok)
	}
}

func TestDismiss_Idempotent(t *testing.T) {
	rec := newChanges()
	p := NewPresenter(OnChange(rec.record))
	defer p.Close()

	p.Dismiss()
	if rec.count() != 0 {
		t.Fatalf("dismissing nothing notified %d times", rec.count())
	}

	p.Present(env("r1", model.PriorityLow), "")
	p.Dismiss()
	p.Dismiss()

	if _, ok := p.Current(); ok {
		t.Error("alert should be dismissed")
	}
	if rec.count() != 2 {
		t.Errorf("changes = %d, want 2 (show, dismiss)", rec.count())
	}
}

func TestClose_IgnoresLaterPresent(t *testing.T) {
	p := NewPresenter()
	p.Present(env("r1", model.PriorityLow), "")
	p.Close()
	p.Close()

	if _, ok := p.Current(); ok {
		t.Error("close should dismiss the visible alert")
	}
	p.Present(env("r2", model.PriorityLow), "")
	if _, ok := p.Current(); ok {
		t.Error("present after close should be ignored")
	}
}
