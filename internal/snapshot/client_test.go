package snapshot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tangkapin/dashfeed/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", "tok-123", WithRetries(2, time.Millisecond))
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

const incidentMapBody = `{
  "success": true,
  "message": "ok",
  "data": {
    "summary": {"total_incidents": 1, "active_officers": 2, "busy_officers": 1, "incident_types": {"theft": 1}},
    "crime_locations": [
      {"id": "rpt-1", "title": "Theft", "location": "Jl. Merdeka", "incident_type": "Theft",
       "status": "new", "coordinates": {"latitude": -6.2, "longitude": 106.8},
       "created_at": "2026-03-01T09:00:00Z", "source": "cctv", "cctv_name": "CAM-04"}
    ],
    "active_officers": [
      {"id": "1", "name": "Budi", "status": "available", "coordinates": {"latitude": -6.21, "longitude": 106.81},
       "assigned_to": null, "estimated_arrival": null},
      {"id": "2", "name": "Sari", "status": "busy", "coordinates": {"latitude": -6.22, "longitude": 106.82},
       "assigned_to": "rpt-1", "estimated_arrival": "5 min"}
    ]
  }
}`

const notificationsBody = `{
  "success": true,
  "message": "ok",
  "data": {"data": [
    {"id": "n1", "title": "Theft", "message": "Theft at Jl. Merdeka", "location": "Jl. Merdeka",
     "type": "incident", "status": "unread", "created_at": "2026-03-01T09:00:00Z"}
  ]}
}`

func TestFetch_BuildsSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/api/officer/incident-map":
			writeBody(w, http.StatusOK, incidentMapBody)
		case "/api/officer/notification":
			writeBody(w, http.StatusOK, notificationsBody)
		default:
			http.NotFound(w, r)
		}
	}))

	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Officers) != 2 || len(snap.Incidents) != 1 || len(snap.Notifications) != 1 {
		t.Fatalf("snapshot sizes = %d/%d/%d", len(snap.Officers), len(snap.Incidents), len(snap.Notifications))
	}

	inc := snap.Incidents[0]
	if inc.ID != "rpt-1" || inc.Kind != model.MarkerIncident {
		t.Errorf("incident marker = %+v", inc)
	}
	if inc.Metadata["incident_type"] != "theft" {
		t.Errorf("incident_type = %q, want folded category", inc.Metadata["incident_type"])
	}
	if inc.Metadata["cctv_name"] != "CAM-04" {
		t.Errorf("cctv_name = %q", inc.Metadata["cctv_name"])
	}

	sari := snap.Officers[1]
	if sari.Status != model.OfficerBusy || sari.Metadata["assigned_to"] != "rpt-1" {
		t.Errorf("officer marker = %+v", sari)
	}
	if _, ok := snap.Officers[0].Metadata["assigned_to"]; ok {
		t.Error("null assigned_to should be omitted")
	}

	if !snap.Notifications[0].IsUnread() {
		t.Error("notification should be unread")
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestGet_SuccessFalseIsError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{"success": false, "message": "Failed to fetch incident map", "data": null}`)
	}))

	_, err := c.IncidentMap(context.Background())
	var fe *SnapshotFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *SnapshotFetchError", err)
	}
	if fe.Message != "Failed to fetch incident map" {
		t.Errorf("Message = %q", fe.Message)
	}
	if fe.Endpoint != "GET /officer/incident-map" {
		t.Errorf("Endpoint = %q", fe.Endpoint)
	}
}

func TestGet_UnauthorizedNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		_, err := c.Stats(context.Background())
		var ue *UnauthorizedError
		if !errors.As(err, &ue) {
			t.Fatalf("status %d: err = %v, want *UnauthorizedError", status, err)
		}
		if ue.Message != "Unauthorized access" {
			t.Errorf("status %d: Message = %q", status, ue.Message)
		}
		if !IsUnauthorized(err) {
			t.Errorf("status %d: IsUnauthorized = false", status)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("status %d: calls = %d, want 1", status, n)
		}
	}
}

func TestGet_UnauthorizedKeepsServerMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusUnauthorized, `{"success": false, "message": "Token expired"}`)
	}))

	_, err := c.Me(context.Background())
	var ue *UnauthorizedError
	if !errors.As(err, &ue) || ue.Message != "Token expired" {
		t.Fatalf("err = %v", err)
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeBody(w, http.StatusBadGateway, `upstream down`)
			return
		}
		writeBody(w, http.StatusOK, `{"success": true, "message": "ok", "data": {"response_time": 4.5, "resolve_Case": 10, "total_report": 12, "active_police": 3}}`)
	}))

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ResolvedCases != 10 || stats.ActivePolice != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestGet_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeBody(w, http.StatusServiceUnavailable, `{"success": false, "message": "maintenance"}`)
	}))

	_, err := c.CaseStatus(context.Background())
	var fe *SnapshotFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v", err)
	}
	if fe.StatusCode != http.StatusServiceUnavailable || fe.Message != "maintenance" {
		t.Errorf("err = %+v", fe)
	}
	if !fe.Temporary() {
		t.Error("503 should be temporary")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 1 + 2 retries", n)
	}
}

// flakyTransport fails the first n round trips before passing through.
type flakyTransport struct {
	fails atomic.Int32
	n     int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.fails.Add(1) <= f.n {
		return nil, errors.New("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestGet_TransportErrorsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, incidentMapBody)
	}))
	t.Cleanup(srv.Close)

	tr := &flakyTransport{n: 2}
	c := New(srv.URL+"/api", "tok-123", WithRetries(2, time.Millisecond), WithHTTPClient(&http.Client{Transport: tr}))
	if _, err := c.IncidentMap(context.Background()); err != nil {
		t.Fatalf("IncidentMap after transient failures: %v", err)
	}

	tr = &flakyTransport{n: 10}
	c = New(srv.URL+"/api", "tok-123", WithRetries(2, time.Millisecond), WithHTTPClient(&http.Client{Transport: tr}))
	_, err := c.IncidentMap(context.Background())
	var fe *SnapshotFetchError
	if !errors.As(err, &fe) || fe.Message != "request failed" {
		t.Fatalf("err = %v, want request failed", err)
	}
	if n := tr.fails.Load(); n != 3 {
		t.Errorf("attempts = %d, want 1 + 2 retries", n)
	}
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	_, err := c.Notifications(context.Background())
	var fe *SnapshotFetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
	if fe.Temporary() {
		t.Error("404 should not be temporary")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestGet_TransportErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "", WithRetries(0, time.Millisecond))
	_, err := c.AvailableOfficers(context.Background())
	var fe *SnapshotFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v", err)
	}
	if fe.StatusCode != 0 || fe.Err == nil || !fe.Temporary() {
		t.Errorf("err = %+v", fe)
	}
}

func TestPagedQueries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/api/officer/police":
			writeBody(w, http.StatusOK, `{"success": true, "message": "ok", "data": {
				"data": [{"id": "1", "name": "Budi", "status": "available", "location": {"latitude": 1, "longitude": 2}}],
				"pagination": {"total": 6, "page": 2, "limit": 5, "total_pages": 2}}}`)
		case "/api/officer/latest-report":
			writeBody(w, http.StatusOK, `{"success": true, "message": "ok", "data": {
				"data": [{"id": "rpt-9", "title": "Knife", "status": "assigned", "location": "Pasar",
				          "created_at": "2026-03-01T09:00:00Z", "incident_type": "knife", "cctv_name": null}],
				"pagination": {"total": 6, "page": 2, "limit": 5, "total_pages": 2}}}`)
		}
	}))

	officers, err := c.PoliceList(context.Background(), 2, 5)
	if err != nil {
		t.Fatalf("PoliceList: %v", err)
	}
	if len(officers.Data) != 1 || officers.Pagination.TotalPages != 2 {
		t.Errorf("officers = %+v", officers)
	}

	reports, err := c.LatestReports(context.Background(), 2, 5)
	if err != nil {
		t.Fatalf("LatestReports: %v", err)
	}
	if len(reports.Data) != 1 || reports.Data[0].Status != model.ReportAssigned {
		t.Errorf("reports = %+v", reports)
	}
}

func TestLoginLogout(t *testing.T) {
	var loggedOut atomic.Bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			if r.Method != http.MethodPost {
				t.Errorf("login method = %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"email":"ops@example.test"`) {
				t.Errorf("login body = %s", body)
			}
			writeBody(w, http.StatusOK, `{"success": true, "message": "ok", "data": {"token": "new-token", "user": {"id": "u1", "name": "Ops", "email": "ops@example.test", "role": "operator"}}}`)
		case "/api/logout":
			if r.Header.Get("Authorization") != "Bearer new-token" {
				t.Errorf("logout auth = %q", r.Header.Get("Authorization"))
			}
			loggedOut.Store(true)
			writeBody(w, http.StatusOK, `{"success": true, "message": "logged out"}`)
		}
	}))

	res, err := c.Login(context.Background(), "ops@example.test", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "new-token" || res.User.Role != "operator" {
		t.Errorf("login result = %+v", res)
	}
	if err := c.WithToken(res.Token).Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !loggedOut.Load() {
		t.Error("logout endpoint not called")
	}
}

func TestGet_ContextCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "", WithRetries(3, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Stats(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
