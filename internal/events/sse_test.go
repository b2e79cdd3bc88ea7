package events

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadEvents_Parses(t *testing.T) {
	stream := strings.Join([]string{
		":keepalive",
		"",
		"id:1",
		"event:officers-dashboard.incident-update",
		`data:{"report_id":"a"}`,
		"",
		"event: officers-dashboard.incident-update",
		`data: {"report_id":`,
		`data: "b"}`,
		"",
		"event:ignored-no-data",
		"",
	}, "\n")
	ch := make(chan Message, 4)
	if err := readEvents(strings.NewReader(stream), ch); err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	close(ch)

	var got []Message
	for m := range ch {
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
	if got[0].Subject != "officers-dashboard.incident-update" || string(got[0].Data) != `{"report_id":"a"}` {
		t.Errorf("first = %+v", got[0])
	}
	if string(got[1].Data) != "{\"report_id\":\n\"b\"}" {
		t.Errorf("second data = %q", got[1].Data)
	}
}

func TestSSESubscriber_ReceivesAndSendsToken(t *testing.T) {
	var gotAuth, gotTopics atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotTopics.Store(r.URL.Query().Get("topics"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event:officers-dashboard.incident-update\ndata:{\"report_id\":\"r1\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	sub := NewSSESubscriber(srv.URL, "secret")
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicPattern(TopicOfficersDashboard))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	select {
	case msg := <-ch:
		if string(msg.Data) != `{"report_id":"r1"}` {
			t.Errorf("data = %q", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE message")
	}
	if got := gotAuth.Load(); got != "Bearer secret" {
		t.Errorf("Authorization = %v", got)
	}
	if got := gotTopics.Load(); got != "officers-dashboard.>" {
		t.Errorf("topics = %v", got)
	}
}

func TestSSESubscriber_InitialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sub := NewSSESubscriber(srv.URL, "wrong")
	if _, _, err := sub.Subscribe("officers-dashboard.>"); err == nil {
		t.Fatal("expected error for 401 stream")
	}
}

func TestSSESubscriber_Reconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event:officers-dashboard.incident-update\ndata:{\"conn\":%d}\n\n", n)
		w.(http.Flusher).Flush()
		if n == 1 {
			return // drop the first stream
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	disconnected := make(chan struct{}, 1)
	reconnected := make(chan struct{}, 1)
	sub := NewSSESubscriber(srv.URL, "",
		WithSSEBackoff(Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}),
		WithSSEListener(ConnListener{
			OnDisconnect: func(*ConnectionError) { disconnected <- struct{}{} },
			OnReconnect:  func() { reconnected <- struct{}{} },
		}),
	)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("officers-dashboard.>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	for _, want := range []string{`{"conn":1}`, `{"conn":2}`} {
		select {
		case msg := <-ch:
			if string(msg.Data) != want {
				t.Errorf("data = %q, want %q", msg.Data, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
}

func TestSSESubscriber_CancelClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	sub := NewSSESubscriber(srv.URL, "")
	for range 3 {
		ch, cancel, err := sub.Subscribe("officers-dashboard.>")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		cancel()
		cancel()
		if _, ok := <-ch; ok {
			t.Fatal("expected channel to be closed after cancel")
		}
	}
	sub.mu.Lock()
	open := len(sub.streams)
	sub.mu.Unlock()
	if open != 0 {
		t.Errorf("%d canceled streams still tracked", open)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
