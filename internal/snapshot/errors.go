package snapshot

import "fmt"

const unauthorizedMessage = "Unauthorized access"

// SnapshotFetchError is a failed REST request. It blocks seeding; callers
// retry it.
type SnapshotFetchError struct {
	Endpoint   string // "GET /officer/incident-map"
	StatusCode int    // 0 when no response was received
	Message    string
	Err        error
}

func (e *SnapshotFetchError) Error() string {
	msg := e.Endpoint
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SnapshotFetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed.
func (e *SnapshotFetchError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// UnauthorizedError is a 401 or 403 response. The credentials need renewing;
// retrying is pointless.
type UnauthorizedError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}
