// Package events carries incident events between publishers and dashboards.
// Topics map onto bus subjects as "<topic>.<event>", so a dashboard listening
// to a topic subscribes to "<topic>.>" and recovers the event name from the
// subject.
package events

import (
	"context"
	"fmt"
	"strings"
)

// Default channel names used by the dispatch backend.
const (
	TopicOfficersDashboard = "officers-dashboard"
	EventIncidentUpdate    = "incident-update"
)

// Message is one raw event delivered by a Subscriber.
type Message struct {
	Subject string
	Data    []byte
}

// Subject returns the bus subject for an event on a topic.
func Subject(topic, event string) string {
	return topic + "." + event
}

// TopicPattern returns the wildcard subject matching every event on topic.
func TopicPattern(topic string) string {
	return topic + ".>"
}

// SplitSubject recovers the event name from a subject on the given topic.
func SplitSubject(topic, subject string) (string, bool) {
	event, ok := strings.CutPrefix(subject, topic+".")
	if !ok || event == "" {
		return "", false
	}
	return event, true
}

// ValidateName rejects topic and event names that would not survive the
// subject mapping.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if strings.ContainsAny(name, ".*> \t\r\n") {
		return fmt.Errorf("%s name %q contains reserved characters", kind, name)
	}
	return nil
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// ConnectionError reports that the transport lost its connection. The
// transport keeps reconnecting; events published in the meantime are lost.
type ConnectionError struct {
	Transport string
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Transport + ": disconnected"
	}
	return fmt.Sprintf("%s: disconnected: %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConnListener receives transport connectivity changes. Either field may be nil.
type ConnListener struct {
	OnDisconnect func(*ConnectionError)
	OnReconnect  func()
}

func (l ConnListener) disconnected(err *ConnectionError) {
	if l.OnDisconnect != nil {
		l.OnDisconnect(err)
	}
}

func (l ConnListener) reconnected() {
	if l.OnReconnect != nil {
		l.OnReconnect()
	}
}
