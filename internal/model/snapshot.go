package model

import "time"

// Officer is a police officer as listed by the officers resource.
type Officer struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Phone      string      `json:"phone,omitempty"`
	Status     string      `json:"status"`
	Location   Coordinates `json:"location"`
	OfficeName string      `json:"office_name,omitempty"`
}

// Pagination describes one page of a paginated listing.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

// Page is a paginated listing.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// CrimeLocation is an incident placed on the map.
type CrimeLocation struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Location     string       `json:"location"`
	IncidentType IncidentType `json:"incident_type"`
	Status       ReportStatus `json:"status"`
	Coordinates  Coordinates  `json:"coordinates"`
	CreatedAt    time.Time    `json:"created_at"`
	Source       string       `json:"source,omitempty"`
	CCTVName     string       `json:"cctv_name,omitempty"`
}

// MapOfficer is an officer placed on the map.
type MapOfficer struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Status           string      `json:"status"`
	Coordinates      Coordinates `json:"coordinates"`
	AssignedTo       *string     `json:"assigned_to"`
	EstimatedArrival *string     `json:"estimated_arrival"`
}

// IncidentMapSummary aggregates the map contents.
type IncidentMapSummary struct {
	TotalIncidents int            `json:"total_incidents"`
	ActiveOfficers int            `json:"active_officers"`
	BusyOfficers   int            `json:"busy_officers"`
	IncidentTypes  map[string]int `json:"incident_types"`
}

// IncidentMap is the map resource: incidents and on-duty officers.
type IncidentMap struct {
	Summary        IncidentMapSummary `json:"summary"`
	CrimeLocations []CrimeLocation    `json:"crime_locations"`
	ActiveOfficers []MapOfficer       `json:"active_officers"`
}

// RecentAlert is one entry of the recent alerts resource.
type RecentAlert struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Priority      Priority  `json:"priority"`
	PriorityLabel string    `json:"priority_label"`
	Location      string    `json:"location"`
	LocationCode  string    `json:"location_code"`
	TimeAgo       string    `json:"time_ago"`
	Status        string    `json:"status"`
	IncidentType  string    `json:"incident_type"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	Message       string    `json:"message,omitempty"`
}

// RecentAlerts is the recent alerts resource.
type RecentAlerts struct {
	Alerts        []RecentAlert `json:"alerts"`
	TotalAlerts   int           `json:"total_alerts"`
	CriticalCount int           `json:"critical_count"`
	HighCount     int           `json:"high_count"`
}

// Report is a citizen or CCTV report as listed by the reports resource.
type Report struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Status       ReportStatus `json:"status"`
	Location     string       `json:"location"`
	CreatedAt    time.Time    `json:"created_at"`
	ReportImage  string       `json:"report_image,omitempty"`
	IncidentType IncidentType `json:"incident_type"`
	CCTVName     *string      `json:"cctv_name"`
}

// Stats is the headline counter block.
type Stats struct {
	ResponseTime  float64 `json:"response_time"`
	ResolvedCases int     `json:"resolve_Case"`
	TotalReports  int     `json:"total_report"`
	ActivePolice  int     `json:"active_police"`
}

// CaseStatusSummary breaks cases down by lifecycle status.
type CaseStatusSummary struct {
	TotalCases     int                  `json:"total_case"`
	ResolutionRate float64              `json:"resolution_rate"`
	CaseStatus     map[ReportStatus]int `json:"case_status"`
}

// User is the authenticated dashboard operator.
type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Status    string   `json:"status,omitempty"`
	Role      string   `json:"role"`
}

// Snapshot is the baseline dashboard state fetched from the REST resources.
type Snapshot struct {
	Officers      []Marker       `json:"officers"`
	Incidents     []Marker       `json:"incidents"`
	Notifications []Notification `json:"notifications"`
	FetchedAt     time.Time      `json:"fetched_at"`
}

// Marker converts a map officer into a live marker.
func (o MapOfficer) Marker() Marker {
	c := o.Coordinates
	meta := map[string]string{"name": o.Name}
	if o.AssignedTo != nil {
		meta["assigned_to"] = *o.AssignedTo
	}
	if o.EstimatedArrival != nil {
		meta["estimated_arrival"] = *o.EstimatedArrival
	}
	return Marker{
		ID:          o.ID,
		Kind:        MarkerOfficer,
		Coordinates: &c,
		Status:      o.Status,
		Metadata:    meta,
	}
}

// Marker converts a crime location into a live marker.
func (l CrimeLocation) Marker() Marker {
	c := l.Coordinates
	meta := map[string]string{
		"title":         l.Title,
		"location":      l.Location,
		"incident_type": string(l.IncidentType.Category()),
	}
	if l.Source != "" {
		meta["source"] = l.Source
	}
	if l.CCTVName != "" {
		meta["cctv_name"] = l.CCTVName
	}
	return Marker{
		ID:          l.ID,
		Kind:        MarkerIncident,
		Coordinates: &c,
		Status:      string(l.Status),
		Metadata:    meta,
		UpdatedAt:   l.CreatedAt,
	}
}
