package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestNoopPublisher_Publish(t *testing.T) {
	pub := &NoopPublisher{}
	err := pub.Publish(context.Background(), Subject(TopicOfficersDashboard, EventIncidentUpdate), map[string]string{})
	if err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
}

func TestNoopPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NoopPublisher)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestSubjectMapping(t *testing.T) {
	subject := Subject("officers-dashboard", "incident-update")
	if subject != "officers-dashboard.incident-update" {
		t.Fatalf("Subject = %q", subject)
	}
	event, ok := SplitSubject("officers-dashboard", subject)
	if !ok || event != "incident-update" {
		t.Errorf("SplitSubject = %q, %v", event, ok)
	}
	if _, ok := SplitSubject("officers-dashboard", "citizens.incident-update"); ok {
		t.Error("SplitSubject should reject a subject from another topic")
	}
	if _, ok := SplitSubject("officers-dashboard", "officers-dashboard."); ok {
		t.Error("SplitSubject should reject an empty event name")
	}
}

func TestValidateName(t *testing.T) {
	for _, tc := range []struct {
		name    string
		wantErr bool
	}{
		{"officers-dashboard", false},
		{"incident-update", false},
		{"", true},
		{"a.b", true},
		{"a*", true},
		{"a>", true},
		{"with space", true},
	} {
		err := ValidateName("topic", tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	subject := Subject(TopicOfficersDashboard, EventIncidentUpdate)
	ch := make(chan *nats.Msg, 2)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	event := map[string]string{"report_id": "rpt-1", "priority": "high"}
	if err := pub.Publish(context.Background(), subject, event); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := pub.Publish(context.Background(), subject, []byte(`{"report_id":"raw"}`)); err != nil {
		t.Fatalf("Publish raw error: %v", err)
	}
	pub.conn.Flush()

	select {
	case msg := <-ch:
		var got map[string]string
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["report_id"] != "rpt-1" {
			t.Errorf("got report_id=%q, want %q", got["report_id"], "rpt-1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
	select {
	case msg := <-ch:
		if string(msg.Data) != `{"report_id":"raw"}` {
			t.Errorf("raw payload = %q, want passthrough", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for raw message")
	}
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, "officers-dashboard.incident-update", []byte(`{}`)); err == nil {
		t.Error("expected error publishing with canceled context")
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err = pub.Publish(context.Background(), "officers-dashboard.incident-update", []byte(`{}`))
	if err == nil {
		t.Error("expected error publishing after close")
	}
}
