package events

import (
	"net"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv := runTestNATS(t, -1)
	return srv.ClientURL()
}

func runTestNATS(t *testing.T, port int) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: port}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv
}

func TestNATSSubscriber_ReceivesMessages(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicPattern(TopicOfficersDashboard))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	subject := Subject(TopicOfficersDashboard, EventIncidentUpdate)
	if err := pub.conn.Publish(subject, []byte(`{"report_id":"1"}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	pub.conn.Flush()

	select {
	case msg := <-ch:
		if string(msg.Data) != `{"report_id":"1"}` {
			t.Errorf("got %q, want %q", msg.Data, `{"report_id":"1"}`)
		}
		if msg.Subject != subject {
			t.Errorf("subject = %q, want %q", msg.Subject, subject)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNATSSubscriber_Cancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("officers-dashboard.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_OtherTopicsNotDelivered(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicPattern(TopicOfficersDashboard))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	_ = pub.conn.Publish("citizens-dashboard.incident-update", []byte(`{}`))
	_ = pub.conn.Publish("officers-dashboard.incident-update", []byte(`{"n":1}`))
	_ = pub.conn.Publish("officers-dashboard.officer-moved", []byte(`{"n":2}`))
	pub.conn.Flush()

	for i := range 2 {
		select {
		case msg := <-ch:
			if _, ok := SplitSubject(TopicOfficersDashboard, msg.Subject); !ok {
				t.Errorf("unexpected subject %q", msg.Subject)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %q", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSSubscriber_ImplementsSubscriber(t *testing.T) {
	var _ Subscriber = (*NATSSubscriber)(nil)
	var _ Subscriber = (*SSESubscriber)(nil)
}

func TestNATSSubscriber_DoubleCancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	_, cancel, err := sub.Subscribe("officers-dashboard.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()
	cancel()
}

func TestNATSSubscriber_CancelDuringMessages(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("officers-dashboard.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = pub.conn.Publish("officers-dashboard.incident-update", []byte(`{"report_id":"x"}`))
		}
		pub.conn.Flush()
	}()

	cancel()
	<-done

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_ConnListener(t *testing.T) {
	first := runTestNATS(t, -1)
	port := first.Addr().(*net.TCPAddr).Port

	disconnected := make(chan *ConnectionError, 1)
	reconnected := make(chan struct{}, 1)
	l := ConnListener{
		OnDisconnect: func(err *ConnectionError) {
			select {
			case disconnected <- err:
			default:
			}
		},
		OnReconnect: func() {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		},
	}
	opts := append(ConnListenerOptions(l), BackoffOption(Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}))
	sub, err := NewNATSSubscriber(first.ClientURL(), opts...)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	first.Shutdown()
	select {
	case err := <-disconnected:
		if err.Transport != "nats" {
			t.Errorf("Transport = %q, want nats", err.Transport)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	runTestNATS(t, port)
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	for _, tc := range []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 50 * time.Millisecond, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, 200 * time.Millisecond},
		{3, 200 * time.Millisecond, 400 * time.Millisecond},
		{10, 500 * time.Millisecond, time.Second},
	} {
		for range 20 {
			d := b.Delay(tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}
