package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/runstore"
)

func testPlan() *domain.BatchPlan {
	return domain.NewBatchPlan([]*domain.SampleTask{
		{Name: "Run1", OutputDirectory: "/data", AcquireScript: "a.txt", ProcessScript: "p.txt"},
		{Name: "Run2", OutputDirectory: "/data", AcquireScript: "a.txt", ProcessScript: "p.txt"},
	}, true)
}

func newTestStore(t *testing.T) *runstore.Store {
	t.Helper()
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatalf("runstore.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStatusHandler(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)

	var idle StatusResponse
	json.NewDecoder(do(t, server, "GET", "/api/status").Body).Decode(&idle)
	if idle.Running {
		t.Error("idle server reports a running batch")
	}

	live := server.Live()
	live.Begin("run-1", testPlan(), time.Now(), func() {})
	live.StateChanged(domain.StateAcquire, 1)
	live.PhaseProgress(0, domain.PhaseAcquisition, domain.StatusComplete)
	live.Failure(errors.New("sampler reported an error"))

	w := do(t, server, "GET", "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if !status.Running || status.RunID != "run-1" {
		t.Errorf("status = %+v", status)
	}
	if status.Step != "acquire #2" {
		t.Errorf("Step = %q, want %q", status.Step, "acquire #2")
	}
	if status.Acquired != 1 || status.Processed != 0 || status.Total != 2 {
		t.Errorf("counts = %d/%d of %d", status.Acquired, status.Processed, status.Total)
	}
	if len(status.Failures) != 1 {
		t.Errorf("Failures = %v", status.Failures)
	}

	live.BatchOutcome(domain.OutcomeDriverFailure)
	json.NewDecoder(do(t, server, "GET", "/api/status").Body).Decode(&status)
	if status.Running || status.Outcome != string(domain.OutcomeDriverFailure) {
		t.Errorf("after outcome: running=%v outcome=%q", status.Running, status.Outcome)
	}
}

func TestSamplesHandler(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	server.Live().Begin("run-1", testPlan(), time.Now(), nil)
	server.Live().PhaseProgress(1, domain.PhaseProcessing, domain.StatusCancelled)

	var samples []SampleResponse
	json.NewDecoder(do(t, server, "GET", "/api/samples").Body).Decode(&samples)

	if len(samples) != 2 {
		t.Fatalf("sample count = %d, want 2", len(samples))
	}
	if samples[1].Processing != domain.StatusCancelled {
		t.Errorf("Processing = %q, want cancelled", samples[1].Processing)
	}
	if samples[0].Directory != "/data/Run1" {
		t.Errorf("Directory = %q, want /data/Run1", samples[0].Directory)
	}
}

func TestAbortHandler(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)

	if w := do(t, server, "POST", "/api/abort"); w.Code != http.StatusConflict {
		t.Errorf("idle abort = %d, want 409", w.Code)
	}
	if w := do(t, server, "GET", "/api/abort"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET abort = %d, want 405", w.Code)
	}

	aborted := 0
	server.Live().Begin("run-1", testPlan(), time.Now(), func() { aborted++ })
	if w := do(t, server, "POST", "/api/abort"); w.Code != http.StatusAccepted {
		t.Errorf("abort = %d, want 202", w.Code)
	}
	if aborted != 1 {
		t.Errorf("abort called %d times, want 1", aborted)
	}

	server.Live().BatchOutcome(domain.OutcomeUserAborted)
	if w := do(t, server, "POST", "/api/abort"); w.Code != http.StatusConflict {
		t.Errorf("abort after outcome = %d, want 409", w.Code)
	}
}

func TestAbortHandler_CrossOrigin(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	aborted := 0
	server.Live().Begin("run-1", testPlan(), time.Now(), func() { aborted++ })

	post := func(origin string) int {
		req := httptest.NewRequest("POST", "/api/abort", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		return w.Code
	}

	if code := post("http://evil.example"); code != http.StatusForbidden {
		t.Errorf("foreign origin abort = %d, want 403", code)
	}
	if code := post("null"); code != http.StatusForbidden {
		t.Errorf("opaque origin abort = %d, want 403", code)
	}
	if aborted != 0 {
		t.Fatalf("foreign origin aborted the run %d times", aborted)
	}

	// httptest requests target example.com
	if code := post("http://example.com"); code != http.StatusAccepted {
		t.Errorf("same origin abort = %d, want 202", code)
	}
	if aborted != 1 {
		t.Errorf("abort called %d times, want 1", aborted)
	}
}

func TestRunsHandlers(t *testing.T) {
	store := newTestStore(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run, err := store.CreateRun(testPlan(), started)
	if err != nil {
		t.Fatal(err)
	}
	store.UpdateSampleStatus(run.ID, 0, domain.PhaseAcquisition, domain.StatusComplete)
	store.AddEvent(run.ID, "state", "acquire #1")
	store.FinishRun(run.ID, domain.OutcomeCompleted, started.Add(90*time.Second))

	server := NewServer(store, nil, ":0", nil)

	var runs []RunResponse
	json.NewDecoder(do(t, server, "GET", "/api/runs").Body).Decode(&runs)
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Duration != "1m30s" {
		t.Errorf("Duration = %q, want 1m30s", runs[0].Duration)
	}

	w := do(t, server, "GET", "/api/runs/"+run.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("get run = %d, want 200", w.Code)
	}
	var detail RunResponse
	json.NewDecoder(w.Body).Decode(&detail)
	if len(detail.Samples) != 2 || detail.Samples[0].Acquisition != domain.StatusComplete {
		t.Errorf("samples = %+v", detail.Samples)
	}
	if len(detail.Events) != 1 || detail.Events[0].Message != "acquire #1" {
		t.Errorf("events = %+v", detail.Events)
	}

	if w := do(t, server, "GET", "/api/runs/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", w.Code)
	}
	if w := do(t, server, "GET", "/api/runs?limit=x"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestRunsHandlers_NoStore(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	if w := do(t, server, "GET", "/api/runs"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("runs without store = %d, want 503", w.Code)
	}
}

func TestWebSocket(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	aborted := make(chan struct{}, 1)
	server.Live().Begin("run-1", testPlan(), time.Now(), func() { aborted <- struct{}{} })

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first SSEEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "status" {
		t.Errorf("first event = %q, want status", first.Type)
	}

	server.Live().StateChanged(domain.StateProcess, 0)
	var next SSEEvent
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Type != "state" {
		t.Errorf("event = %q, want state", next.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "abort"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("abort message did not cancel the run")
	}
}

func TestWebSocket_RefusesForeignOrigin(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	aborted := make(chan struct{}, 1)
	server.Live().Begin("run-1", testPlan(), time.Now(), func() { aborted <- struct{}{} })

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"

	header := http.Header{"Origin": {"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.WriteJSON(map[string]string{"type": "abort"})
		conn.Close()
		t.Fatal("websocket from a foreign origin was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want 403", resp)
	}

	select {
	case <-aborted:
		t.Fatal("foreign origin aborted the run")
	case <-time.After(50 * time.Millisecond):
	}

	header = http.Header{"Origin": {ts.URL}}
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("same origin dial: %v", err)
	}
	conn.Close()
}

func TestSSE(t *testing.T) {
	server := NewServer(nil, nil, ":0", nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if got := readEvent(); got != "status" {
		t.Errorf("first event = %q, want status", got)
	}
	server.Live().BatchOutcome(domain.OutcomeCompleted)
	if got := readEvent(); got != "outcome" {
		t.Errorf("event = %q, want outcome", got)
	}
}

func TestSSEHub_DropsSlowClients(t *testing.T) {
	hub := NewSSEHub()
	client := hub.register()

	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(SSEEvent{Type: "state"})
	}

	if hub.Clients() != 0 {
		t.Errorf("Clients = %d, want 0", hub.Clients())
	}
	n := 0
	for range client {
		n++
	}
	if n != clientBuffer {
		t.Errorf("buffered events = %d, want %d", n, clientBuffer)
	}
}

func TestSSEHub_RunClosesClients(t *testing.T) {
	hub := NewSSEHub()
	client := hub.register()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	if _, ok := <-client; ok {
		t.Error("client channel still open")
	}
	late := hub.register()
	if _, ok := <-late; ok {
		t.Error("client registered after shutdown is open")
	}
}
