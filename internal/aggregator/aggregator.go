// Package aggregator folds the live incident stream into dashboard state:
// officer and incident map markers, the recent alerts list, and the unread
// badge count.
//
// An Aggregator moves through three states. Until the first snapshot is
// seeded, live events are buffered; seeding loads the baseline and replays
// the buffer in arrival order. Closing drops everything that arrives later.
//
// An Aggregator is not safe for concurrent use. Callers apply events and
// snapshots from a single goroutine.
package aggregator

import (
	"cmp"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/tangkapin/dashfeed/internal/model"
)

// State is the lifecycle state of an Aggregator.
type State int

const (
	Uninitialized State = iota
	Seeded
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Seeded:
		return "seeded"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	// DefaultDecayWindow is how long an unread notification counts toward the
	// badge.
	DefaultDecayWindow = time.Hour

	// DefaultBufferLimit caps the number of events held before seeding.
	DefaultBufferLimit = 1024
)

// ErrNilSnapshot is returned by Seed when given no snapshot.
var ErrNilSnapshot = errors.New("aggregator: nil snapshot")

// Result describes what Apply did with an event.
type Result struct {
	Buffered        bool // held until the first snapshot
	Evicted         bool // the oldest buffered event was dropped to make room
	Dropped         bool // aggregator is closed
	Stale           bool // older than a referenced marker's latest update
	NewNotification bool
	Critical        bool
	Unread          int
}

// Aggregator holds the derived dashboard state for one session.
type Aggregator struct {
	state       State
	now         func() time.Time
	window      time.Duration
	bufferLimit int
	logger      *slog.Logger

	pending       []model.Envelope
	officers      map[string]*entry
	incidents     map[string]*entry
	notifications []model.Notification // newest first
	unread        int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock used for decay.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithDecayWindow overrides DefaultDecayWindow.
func WithDecayWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithBufferLimit overrides DefaultBufferLimit.
func WithBufferLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.bufferLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New returns an uninitialized Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:         time.Now,
		window:      DefaultDecayWindow,
		bufferLimit: DefaultBufferLimit,
		logger:      slog.Default(),
		officers:    make(map[string]*entry),
		incidents:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return a.state
}

// Pending returns the number of buffered events.
func (a *Aggregator) Pending() int {
	return len(a.pending)
}

// Unread returns the unread-recent count as of the last recount.
func (a *Aggregator) Unread() int {
	return a.unread
}

// Seed loads snap as the baseline. The first call moves the aggregator to
// Seeded and replays buffered events, returning how many were replayed. Later
// calls are resyncs: marker sets and the notification list are replaced
// wholesale. Seeding a closed aggregator is a no-op.
func (a *Aggregator) Seed(snap *model.Snapshot) (int, error) {
	if snap == nil {
		return 0, ErrNilSnapshot
	}
	if a.state == Closed {
		return 0, nil
	}

	a.officers = indexMarkers(snap.Officers, model.MarkerOfficer)
	a.incidents = indexMarkers(snap.Incidents, model.MarkerIncident)
	a.notifications = a.notifications[:0:0]
	for _, n := range snap.Notifications {
		a.insertNotification(n)
	}

	replayed := 0
	if a.state == Uninitialized {
		a.state = Seeded
		pending := a.pending
		a.pending = nil
		for _, env := range pending {
			a.apply(env)
		}
		replayed = len(pending)
	}
	a.recount()
	a.logger.Debug("aggregator seeded",
		"officers", len(a.officers),
		"incidents", len(a.incidents),
		"notifications", len(a.notifications),
		"replayed", replayed,
	)
	return replayed, nil
}

// Apply folds one event into the state. Invalid events return a
// *model.MalformedEventError and leave the state untouched.
func (a *Aggregator) Apply(env model.Envelope) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, err
	}
	critical := env.Priority.IsCritical()

	switch a.state {
	case Closed:
		return Result{Dropped: true, Critical: critical}, nil
	case Uninitialized:
		res := Result{Buffered: true, Critical: critical}
		if len(a.pending) >= a.bufferLimit {
			a.logger.Warn("pre-seed buffer full, dropping oldest event",
				"dropped_report_id", a.pending[0].ReportID,
				"limit", a.bufferLimit,
			)
			a.pending = slices.Delete(a.pending, 0, 1)
			res.Evicted = true
		}
		a.pending = append(a.pending, env)
		return res, nil
	}

	res := a.apply(env)
	a.recount()
	res.Unread = a.unread
	res.Critical = critical
	return res, nil
}

// Tick recomputes the unread-recent count against the current clock and
// returns it. Call it on every render tick so notifications age out of the
// badge without new events arriving.
func (a *Aggregator) Tick() int {
	a.recount()
	return a.unread
}

// Close moves the aggregator to Closed and discards buffered events. It is
// idempotent.
func (a *Aggregator) Close() {
	a.state = Closed
	a.pending = nil
}

// entry is a marker plus the origination times of its fields. Each mutable
// field is last-write-wins by created_at on its own, and identity metadata
// comes from the earliest event seen, so the outcome does not depend on the
// order in which events arrive.
type entry struct {
	marker     model.Marker
	firstAt    time.Time
	statusAt   time.Time
	positionAt time.Time
}

// newEntry wraps a snapshot marker. Snapshot identity is authoritative, so
// firstAt stays zero and no live event rewrites it.
func newEntry(m model.Marker) *entry {
	return &entry{marker: m, statusAt: m.UpdatedAt, positionAt: m.UpdatedAt}
}

// patch describes the field writes decided for one marker.
type patch struct {
	insert   bool
	identity bool
	status   bool
	position bool
}

func decide(e *entry, at time.Time, hasStatus bool, pos *model.Coordinates) patch {
	if e == nil {
		return patch{insert: true, identity: true, status: hasStatus, position: pos != nil}
	}
	return patch{
		identity: at.Before(e.firstAt),
		status:   hasStatus && !at.Before(e.statusAt),
		position: pos != nil && !at.Before(e.positionAt),
	}
}

func (p patch) write(e *entry, at time.Time, meta map[string]string, st string, pos *model.Coordinates) {
	if p.identity {
		e.marker.Metadata = meta
		e.firstAt = at
	}
	if p.status {
		e.marker.Status = st
		e.statusAt = at
	}
	if p.position {
		c := *pos
		e.marker.Coordinates = &c
		e.positionAt = at
	}
	if at.After(e.marker.UpdatedAt) {
		e.marker.UpdatedAt = at
	}
}

// apply mutates state for a validated event in the Seeded state. All decisions
// are made before the first write.
func (a *Aggregator) apply(env model.Envelope) Result {
	var res Result

	incident := a.incidents[env.ReportID]
	incidentPatch := decide(incident, env.CreatedAt, true, env.Coordinates)
	res.Stale = incident != nil && env.CreatedAt.Before(incident.marker.UpdatedAt)

	var (
		officer      *entry
		officerPatch patch
	)
	if ref := env.Officer; ref != nil {
		officer = a.officers[ref.ID]
		officerPatch = decide(officer, env.CreatedAt, ref.Status != "", ref.Coordinates)
		res.Stale = res.Stale || (officer != nil && env.CreatedAt.Before(officer.marker.UpdatedAt))
	}

	if incidentPatch.insert {
		incident = &entry{marker: model.Marker{ID: env.ReportID, Kind: model.MarkerIncident}}
		a.incidents[env.ReportID] = incident
	}
	incidentPatch.write(incident, env.CreatedAt, incidentMetadata(env), string(env.Status), env.Coordinates)

	if ref := env.Officer; ref != nil {
		if officerPatch.insert {
			officer = &entry{marker: model.Marker{ID: ref.ID, Kind: model.MarkerOfficer}}
			a.officers[ref.ID] = officer
		}
		officerPatch.write(officer, env.CreatedAt, map[string]string{"report_id": env.ReportID}, ref.Status, ref.Coordinates)
	}

	res.NewNotification = a.insertNotification(model.NotificationFromEnvelope(env))
	return res
}

// insertNotification adds n unless an entry with the same ID exists, keeping
// the list ordered newest first. For a known ID the content of the earliest
// event wins (acknowledgment status is kept), so the result does not depend on
// arrival order.
func (a *Aggregator) insertNotification(n model.Notification) bool {
	if i := slices.IndexFunc(a.notifications, func(x model.Notification) bool { return x.ID == n.ID }); i >= 0 {
		if n.CreatedAt.Before(a.notifications[i].CreatedAt) {
			n.Status = a.notifications[i].Status
			a.notifications = slices.Delete(a.notifications, i, i+1)
			a.notifications = slices.Insert(a.notifications, a.position(n), n)
		}
		return false
	}
	a.notifications = slices.Insert(a.notifications, a.position(n), n)
	return true
}

func (a *Aggregator) position(n model.Notification) int {
	i, _ := slices.BinarySearchFunc(a.notifications, n, newestFirst)
	return i
}

func newestFirst(x, y model.Notification) int {
	if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(x.ID, y.ID)
}

func (a *Aggregator) recount() {
	a.unread = UnreadRecent(a.notifications, a.now(), a.window)
}

// UnreadRecent counts notifications that are unread and younger than window
// at now.
func UnreadRecent(ns []model.Notification, now time.Time, window time.Duration) int {
	n := 0
	for _, x := range ns {
		if x.IsUnread() && now.Sub(x.CreatedAt) < window {
			n++
		}
	}
	return n
}

func indexMarkers(ms []model.Marker, kind model.MarkerKind) map[string]*entry {
	out := make(map[string]*entry, len(ms))
	for _, m := range ms {
		c := m.Clone()
		if c.Kind == "" {
			c.Kind = kind
		}
		out[c.ID] = newEntry(c)
	}
	return out
}

func incidentMetadata(env model.Envelope) map[string]string {
	meta := map[string]string{
		"title":         env.Title(),
		"incident_type": string(env.Category()),
		"priority":      string(env.Priority),
	}
	if env.Location != "" {
		meta["location"] = env.Location
	}
	if env.EvidenceURL != "" {
		meta["evidence_url"] = env.EvidenceURL
	}
	return meta
}

// sortedMarkers returns deep copies ordered by ID.
func sortedMarkers(m map[string]*entry) []model.Marker {
	out := make([]model.Marker, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id].marker.Clone())
	}
	return out
}
