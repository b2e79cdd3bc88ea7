package aggregator

import "github.com/tangkapin/dashfeed/internal/model"

// View is a read-only copy of the dashboard state.
type View struct {
	State        State                      `json:"-"`
	StateName    string                     `json:"state"`
	Officers     []model.Marker             `json:"officers"`
	Incidents    []model.Marker             `json:"incidents"`
	Recent       []model.Notification       `json:"recent_alerts"`
	TotalAlerts  int                        `json:"total_alerts"`
	UnreadRecent int                        `json:"unread_recent"`
	Pending      int                        `json:"pending"`
	ByCategory   map[model.IncidentType]int `json:"incident_types"`
	ByPriority   map[model.Priority]int     `json:"priorities"`
}

// CriticalCount returns the number of critical alerts in the list.
func (v View) CriticalCount() int {
	return v.ByPriority[model.PriorityCritical]
}

// HighCount returns the number of high priority alerts in the list.
func (v View) HighCount() int {
	return v.ByPriority[model.PriorityHigh]
}

// Officer returns the officer marker with the given ID.
func (v View) Officer(id string) (model.Marker, bool) {
	return findMarker(v.Officers, id)
}

// Incident returns the incident marker with the given ID.
func (v View) Incident(id string) (model.Marker, bool) {
	return findMarker(v.Incidents, id)
}

func findMarker(ms []model.Marker, id string) (model.Marker, bool) {
	for _, m := range ms {
		if m.ID == id {
			return m, true
		}
	}
	return model.Marker{}, false
}

// View returns a deep copy of the current state. recentLimit caps the recent
// alerts list; zero or negative means no cap.
func (a *Aggregator) View(recentLimit int) View {
	v := View{
		State:        a.state,
		StateName:    a.state.String(),
		Officers:     sortedMarkers(a.officers),
		Incidents:    sortedMarkers(a.incidents),
		TotalAlerts:  len(a.notifications),
		UnreadRecent: a.unread,
		Pending:      len(a.pending),
		ByCategory:   make(map[model.IncidentType]int),
		ByPriority:   make(map[model.Priority]int),
	}

	recent := a.notifications
	if recentLimit > 0 && len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	v.Recent = append([]model.Notification(nil), recent...)

	for _, m := range a.incidents {
		v.ByCategory[model.IncidentType(m.marker.Metadata["incident_type"]).Category()]++
	}
	for _, n := range a.notifications {
		if n.Priority != "" {
			v.ByPriority[n.Priority]++
		}
	}
	return v
}
