package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/tastecall/internal/calllog"
	"github.com/ent0n29/tastecall/internal/config"
	"github.com/ent0n29/tastecall/internal/monitor"
	"github.com/ent0n29/tastecall/internal/observability"
	"github.com/ent0n29/tastecall/internal/relay"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/tools"
	"github.com/ent0n29/tastecall/internal/transport"
)

type stubDialer struct {
	mu    sync.Mutex
	conns []*transport.MockConn
}

func (d *stubDialer) DialModel(context.Context, session.Credentials) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := transport.NewMockConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *stubDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type testServer struct {
	*httptest.Server
	relay  *relay.Relay
	dialer *stubDialer
	store  *calllog.InMemoryStore
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	table, err := tools.NewTable(tools.Function{
		Name: "search_entities",
		Handler: func(context.Context, map[string]any, *tools.EntityContext) (string, error) {
			return "[]", nil
		},
	})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	mon := monitor.NewChannel(metrics)
	store := calllog.NewInMemoryStore(10)
	dialer := &stubDialer{}
	rl := relay.New(relay.Config{Credentials: session.Credentials{APIKey: "sk-test"}},
		session.NewRegistry(), table, dialer, mon, store, metrics)

	srv := New(cfg, rl, mon, table, store, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, relay: rl, dialer: dialer, store: store}
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	var health map[string]any
	if code := getJSON(t, ts.URL+"/healthz", &health); code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}
	if health["transcript_store"] != "in-memory" {
		t.Fatalf("unexpected health: %+v", health)
	}

	var ready map[string]any
	if code := getJSON(t, ts.URL+"/readyz", &ready); code != http.StatusOK {
		t.Fatalf("readyz status = %d", code)
	}
	if ready["functions"] != float64(1) || ready["sessions"] != float64(0) {
		t.Fatalf("unexpected ready: %+v", ready)
	}
}

func TestIncomingCallReturnsStreamInstructions(t *testing.T) {
	ts := newTestServer(t, config.Config{PublicHost: "https://calls.example.com/"})

	res, err := http.Post(ts.URL+"/incoming-call", "application/x-www-form-urlencoded", strings.NewReader("CallSid=CA1"))
	if err != nil {
		t.Fatalf("POST /incoming-call error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q", ct)
	}
	want := `<Response><Connect><Stream url="wss://calls.example.com/media-stream"></Stream></Connect></Response>`
	if !strings.Contains(string(body), want) {
		t.Fatalf("body = %s, want it to contain %s", body, want)
	}
}

func TestIncomingCallFallsBackToRequestHost(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	res, err := http.Get(ts.URL + "/incoming-call")
	if err != nil {
		t.Fatalf("GET /incoming-call error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	host := strings.TrimPrefix(ts.URL, "http://")
	if !strings.Contains(string(body), `url="wss://`+host+`/media-stream"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestMediaStreamCallLifecycle(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/media-stream"), nil)
	if err != nil {
		t.Fatalf("dial media-stream: %v", err)
	}
	defer conn.Close()

	for _, frame := range []string{
		`{"event":"connected"}`,
		`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	eventually(t, func() bool { return ts.dialer.dialed() == 1 })

	var listed struct {
		Count    int           `json:"count"`
		Sessions []sessionView `json:"sessions"`
	}
	getJSON(t, ts.URL+"/v1/sessions", &listed)
	if listed.Count != 1 || listed.Sessions[0].StreamSID != "MZ1" || listed.Sessions[0].CallSID != "CA1" {
		t.Fatalf("unexpected sessions: %+v", listed)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"close"}`)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	eventually(t, func() bool { return ts.relay.Registry().Count() == 0 })
}

func TestSessionMessageValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	res, err := http.Post(ts.URL+"/v1/sessions/MZ9/messages", "application/json", bytes.NewReader([]byte(`{"text":"hi"}`)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	res, err = http.Post(ts.URL+"/v1/sessions/MZ9/messages", "application/json", bytes.NewReader([]byte(`{"text":"  "}`)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestEndUnknownSession(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/MZ404", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	for _, text := range []string{"hello", "I liked Dune", "any sci-fi books?"} {
		if err := ts.store.SaveTranscript(context.Background(), calllog.TranscriptRecord{StreamSID: "MZ1", Role: "user", Text: text}); err != nil {
			t.Fatalf("SaveTranscript() error = %v", err)
		}
	}

	var out struct {
		Count   int                        `json:"count"`
		Records []calllog.TranscriptRecord `json:"records"`
	}
	if code := getJSON(t, ts.URL+"/v1/calls/MZ1/transcript?limit=2", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out.Count != 2 || out.Records[1].Text != "any sci-fi books?" {
		t.Fatalf("unexpected transcript: %+v", out)
	}

	if code := getJSON(t, ts.URL+"/v1/calls/MZ1/transcript?limit=zero", nil); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", code, http.StatusBadRequest)
	}

	var empty struct {
		Count   int   `json:"count"`
		Records []any `json:"records"`
	}
	getJSON(t, ts.URL+"/v1/calls/unknown/transcript", &empty)
	if empty.Count != 0 || empty.Records == nil {
		t.Fatalf("unexpected empty transcript: %+v", empty)
	}
}

func TestMonitorReceivesConnectionEstablished(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), nil)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "connection.established" || msg["timestamp"] == "" {
		t.Fatalf("unexpected first frame: %+v", msg)
	}
}

func TestWebsocketRejectsCrossOrigin(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, res, err := websocket.DefaultDialer.Dial(ts.wsURL("/media-stream"), header)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", res)
	}
}

func TestStatusReportsMissingKeys(t *testing.T) {
	ts := newTestServer(t, config.Config{RealtimeVoice: "alloy"})

	var status statusResponse
	if code := getJSON(t, ts.URL+"/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	byID := map[string]statusCheck{}
	for _, c := range status.Checks {
		byID[c.ID] = c
	}
	if byID["openai_key"].Status != "error" {
		t.Fatalf("openai_key check = %+v", byID["openai_key"])
	}
	if byID["recommend_api"].Status != "warn" || byID["transcript_store"].Status != "warn" {
		t.Fatalf("unexpected checks: %+v", status.Checks)
	}
	if len(status.Functions) != 1 || status.Functions[0] != "search_entities" {
		t.Fatalf("functions = %v", status.Functions)
	}
}
