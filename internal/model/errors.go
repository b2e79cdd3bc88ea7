package model

import "fmt"

// MalformedEventError reports an event payload that failed decoding or is
// missing required fields. Malformed events are dropped; they never change
// dashboard state.
type MalformedEventError struct {
	Field  string // offending field, empty when the payload is not decodable at all
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return "malformed event: " + e.Reason
	}
	return fmt.Sprintf("malformed event: %s: %s", e.Field, e.Reason)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}
