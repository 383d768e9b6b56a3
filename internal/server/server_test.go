package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"

	"fieldops/internal/app"
	"fieldops/internal/domain"
)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Open(workspace, logger)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	if err := a.Store.UpsertHome(context.Background(), domain.Home{ID: "h1", Code: "CED12", Name: "Cedar Lodge"}); err != nil {
		t.Fatalf("seed home: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var wrapped struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Error.Code != "" {
		return wrapped.Error.Code
	}
	var flat apiErrorBody
	_ = json.Unmarshal(data, &flat)
	return flat.Code
}

func startSession(t *testing.T, ts *testServer, body map[string]any) {
	t.Helper()
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session: status=%d body=%s", res.StatusCode, data)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.StatusCode, data)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/templates", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.StatusCode, data)
	}
	var items []TemplateSummary
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode: %v body=%s", err, data)
	}
	if len(items) < 4 {
		t.Fatalf("templates = %d, want the full catalog", len(items))
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// No session yet.
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/session", nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "no_session" {
		t.Fatalf("status=%d code=%s", res.StatusCode, errorCode(t, data))
	}

	startSession(t, ts, map[string]any{"home_id": "h1", "type": "meet-greet"})

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/session", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get session: status=%d body=%s", res.StatusCode, data)
	}
	var sessResp SessionResponse
	if err := json.Unmarshal(data, &sessResp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sessResp.Session.Type != domain.ActivityMeetGreet {
		t.Fatalf("session = %+v", sessResp.Session)
	}

	// Dependency gate surfaces as 422.
	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/tasks/mg-welcome/toggle", map[string]any{"completed": true})
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("dependency gate: status=%d code=%s", res.StatusCode, errorCode(t, data))
	}

	// Unknown task is 404.
	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/tasks/ghost/toggle", map[string]any{"completed": true})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown task: status=%d body=%s", res.StatusCode, data)
	}

	res, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/tasks/mg-arrival/toggle", map[string]any{"completed": true})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle: status=%d", res.StatusCode)
	}

	// Completion gate: required tasks missing.
	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/complete", nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "incomplete_required_tasks" {
		t.Fatalf("complete gate: status=%d code=%s", res.StatusCode, errorCode(t, data))
	}

	// Exit keeps the draft and ends the in-process session.
	res, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/exit", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("exit: status=%d", res.StatusCode)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/session", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("session after exit: status=%d", res.StatusCode)
	}

	// The activity stays active on the device.
	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/active", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("active: status=%d", res.StatusCode)
	}
	var active ActiveResponse
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("decode active: %v", err)
	}
	if active.Active == nil || active.Active.ActivityType != domain.ActivityMeetGreet {
		t.Fatalf("active = %+v", active.Active)
	}
}

func TestConflictOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	startSession(t, ts, map[string]any{"home_id": "h1", "type": "meet-greet"})
	res, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session/exit", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("exit: status=%d", res.StatusCode)
	}

	// A different activity conflicts.
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session", map[string]any{"home_id": "h1", "type": "turnover"})
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "activity_conflict" {
		t.Fatalf("conflict: status=%d code=%s body=%s", res.StatusCode, errorCode(t, data), data)
	}

	// Retrying with a resolution succeeds.
	startSession(t, ts, map[string]any{"home_id": "h1", "type": "turnover", "resolution": "save-switch"})

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/session", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session: status=%d", res.StatusCode)
	}
	var sessResp SessionResponse
	if err := json.Unmarshal(data, &sessResp); err != nil {
		t.Fatal(err)
	}
	if sessResp.Session.Type != domain.ActivityTurnover {
		t.Fatalf("session type = %s", sessResp.Session.Type)
	}
}

func TestStartValidation(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session", map[string]any{"home_id": "h1", "type": "inspection"})
	if res.StatusCode == http.StatusCreated {
		t.Fatal("unknown type must not start a session")
	}
	res, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/session", map[string]any{"type": "turnover"})
	if res.StatusCode == http.StatusCreated {
		t.Fatal("missing home must not start a session")
	}
}

func TestGuestReportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/guest-reports", map[string]any{"home_id": "h1", "activity_id": "act-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.StatusCode, data)
	}
	done, err := ts.App.Store.GuestReportDone(context.Background(), "h1", "act-1")
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
}

func TestDirectoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/homes/h1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.StatusCode, data)
	}
	var home domain.Home
	if err := json.Unmarshal(data, &home); err != nil {
		t.Fatal(err)
	}
	if home.Code != "CED12" {
		t.Fatalf("home = %+v", home)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/homes/ghost", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("ghost home: status=%d", res.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	startSession(t, ts, map[string]any{"home_id": "h1", "type": "meet-greet"})
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/events?n=5", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.StatusCode, data)
	}
	var items []domain.Event
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode events: %v body=%s", err, data)
	}
	if len(items) == 0 {
		t.Fatal("expected at least the activity.started event")
	}
}
