package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tangkapin/dashfeed/internal/aggregator"
	"github.com/tangkapin/dashfeed/internal/alert"
	"github.com/tangkapin/dashfeed/internal/model"
	"github.com/tangkapin/dashfeed/internal/session"
	"github.com/tangkapin/dashfeed/internal/ui"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func plain(t *testing.T) {
	t.Helper()
	ui.SetColor(false)
	t.Cleanup(func() { ui.SetColor(true) })
}

func testFrame() session.Frame {
	knife := model.Envelope{
		ReportID:     "rpt-1",
		IncidentType: model.IncidentKnife,
		Location:     "Pasar Baru",
		Priority:     model.PriorityCritical,
		Status:       model.ReportNew,
		CreatedAt:    t0.Add(-2 * time.Minute),
	}
	return session.Frame{
		View: aggregator.View{
			StateName: "seeded",
			Officers: []model.Marker{
				{ID: "off-1", Kind: model.MarkerOfficer, Status: model.OfficerAvailable},
				{ID: "off-2", Kind: model.MarkerOfficer, Status: model.OfficerBusy},
			},
			Incidents:    []model.Marker{{ID: "rpt-1", Kind: model.MarkerIncident}},
			Recent:       []model.Notification{model.NotificationFromEnvelope(knife)},
			TotalAlerts:  1,
			UnreadRecent: 1,
			ByPriority:   map[model.Priority]int{model.PriorityCritical: 1},
		},
		Session: "ses-abc123",
		Alert: &alert.Alert{
			Envelope:    knife,
			Title:       knife.Title(),
			EvidenceURL: "https://cdn.example/rpt-1.jpg",
			Critical:    true,
		},
	}
}

func TestRenderFrame(t *testing.T) {
	plain(t)

	var buf bytes.Buffer
	renderFrame(&buf, testFrame(), t0, 120)
	out := buf.String()

	for _, want := range []string{
		"Officers Dashboard  ses-abc123",
		"Officers: 2 (1 available)",
		"Incidents: 1",
		"Alerts: 1 (1 unread, 1 critical, 0 high)",
		"! CRITICAL  Knife at Pasar Baru",
		"evidence: https://cdn.example/rpt-1.jpg",
		"2m",
		"Emergency",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "RECONNECTING") {
		t.Errorf("fresh frame rendered as stale:\n%s", out)
	}
}

func TestRenderFrame_StaleAndLoading(t *testing.T) {
	plain(t)

	f := testFrame()
	f.Stale = true
	var buf bytes.Buffer
	renderFrame(&buf, f, t0, 80)
	if !strings.Contains(buf.String(), "[RECONNECTING]") {
		t.Errorf("stale banner missing:\n%s", buf.String())
	}

	f = session.Frame{View: aggregator.View{StateName: "uninitialized", Pending: 3}, Session: "ses-x"}
	buf.Reset()
	renderFrame(&buf, f, t0, 80)
	out := buf.String()
	if !strings.Contains(out, "[loading]") || !strings.Contains(out, "3 events waiting for snapshot") {
		t.Errorf("loading frame:\n%s", out)
	}
}

func TestWriteFrameJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrameJSON(&buf, testFrame()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Errorf("expected a single NDJSON line, got %q", out)
	}
	for _, want := range []string{`"session":"ses-abc123"`, `"state":"seeded"`, `"critical":true`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestUnreadBadge(t *testing.T) {
	for n, want := range map[int]string{0: "0", 7: "7", 99: "99", 100: "99+", 250: "99+"} {
		if got := unreadBadge(n); got != want {
			t.Errorf("unreadBadge(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	for _, tc := range []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "-"},
		{t0.Add(-10 * time.Second), "now"},
		{t0.Add(-45 * time.Minute), "45m"},
		{t0.Add(-5 * time.Hour), "5h"},
		{t0.Add(-72 * time.Hour), "3d"},
	} {
		if got := formatAge(t0, tc.t); got != tc.want {
			t.Errorf("formatAge(%v) = %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	ui.SetColor(true)

	in := "Feed:\n  watch       Open a dashboard session\n\nFlags:\n      --recent int   number of recent alerts (default 20)\n"
	out := colorizeHelpOutput(in)
	if !strings.Contains(out, "\x1b[38;5;74mFeed:\x1b[0m") {
		t.Errorf("group header not colored: %q", out)
	}
	if !strings.Contains(out, "\x1b[38;5;250mwatch\x1b[0m") {
		t.Errorf("command not colored: %q", out)
	}
	if !strings.Contains(out, "\x1b[38;5;245mint\x1b[0m") {
		t.Errorf("flag type not colored: %q", out)
	}
	if !strings.Contains(out, "\x1b[38;5;245m(default 20)\x1b[0m") {
		t.Errorf("default not colored: %q", out)
	}
}
