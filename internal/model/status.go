package model

// ReportStatus is the lifecycle tag of a report. The set is open-ended; the
// constants below are the values the dispatch backend currently emits.
type ReportStatus string

const (
	ReportNew        ReportStatus = "new"
	ReportAssigned   ReportStatus = "assigned"
	ReportInProgress ReportStatus = "in_progress"
	ReportVerified   ReportStatus = "verified"
	ReportCompleted  ReportStatus = "completed"
)

// String returns the string representation of the status.
func (s ReportStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further lifecycle transitions are expected.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportCompleted
}

// NotificationStatus is the acknowledgment state of a notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Officer availability values reported by the backend.
const (
	OfficerAvailable = "available"
	OfficerBusy      = "busy"
	OfficerOffDuty   = "off_duty"
)
