package model

import (
	"maps"
	"time"
)

// MarkerKind distinguishes the two live map layers.
type MarkerKind string

const (
	MarkerOfficer  MarkerKind = "officer"
	MarkerIncident MarkerKind = "incident"
)

// Marker is a live map entity keyed by ID. Coordinates is nil for entities
// whose position is not yet known.
type Marker struct {
	ID          string            `json:"id"`
	Kind        MarkerKind        `json:"kind"`
	Coordinates *Coordinates      `json:"coordinates,omitempty"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of m.
func (m Marker) Clone() Marker {
	out := m
	if m.Coordinates != nil {
		c := *m.Coordinates
		out.Coordinates = &c
	}
	out.Metadata = maps.Clone(m.Metadata)
	return out
}

// Notification is the dashboard's record of an incident it has been told
// about. Notifications are superseded by a fresh snapshot, never deleted
// locally.
type Notification struct {
	ID        string             `json:"id"`
	Title     string             `json:"title,omitempty"`
	Message   string             `json:"message,omitempty"`
	Location  string             `json:"location,omitempty"`
	Type      string             `json:"type,omitempty"`
	Priority  Priority           `json:"priority,omitempty"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// IsUnread reports whether the notification has not been acknowledged.
func (n Notification) IsUnread() bool {
	return n.Status != NotificationRead
}

// NotificationFromEnvelope synthesizes the unread notification for a live
// event.
func NotificationFromEnvelope(e Envelope) Notification {
	return Notification{
		ID:        e.ReportID,
		Title:     e.Title(),
		Location:  e.Location,
		Type:      string(e.Category()),
		Priority:  e.Priority,
		Status:    NotificationUnread,
		CreatedAt: e.CreatedAt,
	}
}
