package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the position is within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// OfficerRef points an incident event at the officer it concerns, e.g. when a
// report is assigned or the responding officer moves.
type OfficerRef struct {
	ID          string       `json:"id"`
	Status      string       `json:"status,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Envelope is the unit of transport on the incident channel. Envelopes are
// immutable values once decoded.
type Envelope struct {
	ReportID     string       `json:"report_id"`
	IncidentType IncidentType `json:"incident_type"`
	Location     string       `json:"location"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Priority     Priority     `json:"priority"`
	EvidenceURL  string       `json:"evidence_url,omitempty"`
	Status       ReportStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	Officer      *OfficerRef  `json:"officer,omitempty"`
}

// envelopeWire accepts both the canonical snake_case keys and the camelCase
// keys emitted by older publishers.
type envelopeWire struct {
	ReportID     string       `json:"report_id"`
	IncidentType string       `json:"incident_type"`
	Location     string       `json:"location"`
	Coordinates  *Coordinates `json:"coordinates"`
	Priority     string       `json:"priority"`
	EvidenceURL  string       `json:"evidence_url"`
	Status       string       `json:"status"`
	CreatedAt    *time.Time   `json:"created_at"`
	Officer      *OfficerRef  `json:"officer"`

	LegacyReportID     string     `json:"reportId"`
	LegacyIncidentType string     `json:"incidentType"`
	LegacyEvidenceURL  string     `json:"evidenceUrl"`
	LegacyTimestamp    *time.Time `json:"timestamp"`
}

// UnmarshalJSON decodes an envelope, preferring canonical keys over legacy
// ones when both are present. Priority is lower-cased.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		ReportID:     firstNonEmpty(w.ReportID, w.LegacyReportID),
		IncidentType: IncidentType(firstNonEmpty(w.IncidentType, w.LegacyIncidentType)),
		Location:     w.Location,
		Coordinates:  w.Coordinates,
		Priority:     Priority(strings.ToLower(strings.TrimSpace(w.Priority))),
		EvidenceURL:  firstNonEmpty(w.EvidenceURL, w.LegacyEvidenceURL),
		Status:       ReportStatus(w.Status),
		Officer:      w.Officer,
	}
	switch {
	case w.CreatedAt != nil:
		e.CreatedAt = *w.CreatedAt
	case w.LegacyTimestamp != nil:
		e.CreatedAt = *w.LegacyTimestamp
	}
	return nil
}

// DecodeEnvelope decodes and validates a raw payload. Every failure is a
// *MalformedEventError.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &MalformedEventError{Reason: "invalid JSON", Err: err}
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode returns the canonical wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope %s: %w", e.ReportID, err)
	}
	return data, nil
}

// Validate checks the envelope for missing or out-of-range fields. Unknown
// incident types and statuses are accepted.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.ReportID) == "" {
		return &MalformedEventError{Field: "report_id", Reason: "is required"}
	}
	if e.CreatedAt.IsZero() {
		return &MalformedEventError{Field: "created_at", Reason: "is required"}
	}
	if !e.Priority.IsValid() {
		return &MalformedEventError{Field: "priority", Reason: fmt.Sprintf("invalid value %q", e.Priority)}
	}
	if e.Coordinates != nil && !e.Coordinates.Valid() {
		return &MalformedEventError{Field: "coordinates", Reason: "out of range"}
	}
	if e.Officer != nil {
		if strings.TrimSpace(e.Officer.ID) == "" {
			return &MalformedEventError{Field: "officer.id", Reason: "is required"}
		}
		if e.Officer.Coordinates != nil && !e.Officer.Coordinates.Valid() {
			return &MalformedEventError{Field: "officer.coordinates", Reason: "out of range"}
		}
	}
	return nil
}

// Category is shorthand for e.IncidentType.Category().
func (e Envelope) Category() IncidentType {
	return e.IncidentType.Category()
}

// Title renders a short human label, e.g. "Theft at Jl. Sudirman".
func (e Envelope) Title() string {
	cat := string(e.Category())
	if e.IncidentType.IsKnown() {
		cat = strings.ReplaceAll(cat, "_", " ")
	} else if raw := strings.TrimSpace(string(e.IncidentType)); raw != "" {
		cat = raw
	}
	if r := []rune(cat); len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
		cat = string(r)
	}
	if e.Location == "" {
		return cat
	}
	return cat + " at " + e.Location
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
