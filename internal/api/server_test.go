package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/history"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/logging"
	"github.com/nerrad567/vimrgb-core/internal/layout"
	"github.com/nerrad567/vimrgb-core/internal/session"
	"github.com/nerrad567/vimrgb-core/internal/theme"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

// fakeSession records calls and serves canned data.
type fakeSession struct {
	mu        sync.Mutex
	modes     []string
	status    session.Status
	layouts   map[string]layout.Layout
	reloadErr error
	reloads   int
	changes   []string
}

func (f *fakeSession) OnModeChanged(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, mode)
}

func (f *fakeSession) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Layout(mode string) (layout.Layout, error) {
	if f.layouts == nil {
		return layout.Layout{}, layout.ErrNotLoaded
	}
	l, ok := f.layouts[mode]
	if !ok {
		return layout.Layout{Mode: mode}, nil
	}
	return l, nil
}

func (f *fakeSession) Modes() []string { return f.modes }

func (f *fakeSession) Devices() []hardware.Device {
	return []hardware.Device{{
		Index: 0,
		Name:  "sim",
		LEDs: []hardware.LED{
			{ID: 1, Key: "a", Capability: hardware.CapabilityColor},
			{ID: 2, Key: "h", Capability: hardware.CapabilityPosition},
		},
	}}
}

type fakeHistory struct {
	entries []history.Entry
	got     history.Filter
	err     error
}

func (f *fakeHistory) Recent(_ context.Context, filter history.Filter) ([]history.Entry, error) {
	f.got = filter
	return f.entries, f.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testConfig() config.APIConfig {
	return config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		WebSocket: config.APIWebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

func newTestSession() *fakeSession {
	return &fakeSession{
		modes: []string{"default", "insert", "normal"},
		status: session.Status{
			SessionID: "s-1",
			Mode:      "normal",
			State:     "running",
			Connected: true,
		},
		layouts: map[string]layout.Layout{
			"insert": {
				Mode: "insert",
				Assignments: []layout.Assignment{
					{DeviceIndex: 0, LEDID: 1, Key: "a", Color: theme.RGB(255, 0, 0)},
				},
			},
		},
	}
}

func testServer(t *testing.T, mutate func(*Deps)) (*Server, *fakeSession) {
	t.Helper()

	sess := newTestSession()
	deps := Deps{
		Config:  testConfig(),
		Logger:  logging.Discard(),
		Session: sess,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, sess
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, w.Body.String())
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Session: newTestSession()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without session should fail")
	}
}

func TestHealth(t *testing.T) {
	failing := checkFunc(func(context.Context) error { return errors.New("mqtt: not connected") })
	passing := checkFunc(func(context.Context) error { return nil })

	tests := []struct {
		name         string
		connected    bool
		checks       map[string]HealthChecker
		wantCode     int
		wantStatus   string
		wantKeyboard string
	}{
		{name: "healthy", connected: true, wantCode: http.StatusOK, wantStatus: "ok", wantKeyboard: "connected"},
		{name: "keyboard down", connected: false, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded", wantKeyboard: "disconnected"},
		{
			name:         "component failing",
			connected:    true,
			checks:       map[string]HealthChecker{"mqtt": failing, "database": passing},
			wantCode:     http.StatusServiceUnavailable,
			wantStatus:   "degraded",
			wantKeyboard: "connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess := testServer(t, func(d *Deps) { d.Checks = tt.checks })
			sess.status.Connected = tt.connected

			w := do(t, srv, http.MethodGet, "/api/v1/health", "")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var resp HealthResponse
			decode(t, w, &resp)
			if resp.Status != tt.wantStatus || resp.Keyboard != tt.wantKeyboard {
				t.Errorf("health = %+v", resp)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q, want test", resp.Version)
			}
			if tt.checks != nil {
				if resp.Components["mqtt"] != "mqtt: not connected" || resp.Components["database"] != "ok" {
					t.Errorf("components = %v", resp.Components)
				}
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Request-ID", "client-42")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "client-42" {
		t.Errorf("X-Request-ID = %q, want client-42", id)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", w.Code)
	}
	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestStatusModesDevices(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	var st session.Status
	decode(t, w, &st)
	if st.SessionID != "s-1" || st.Mode != "normal" || !st.Connected {
		t.Errorf("status = %+v", st)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/modes", "")
	var modes struct {
		Current string   `json:"current"`
		Modes   []string `json:"modes"`
	}
	decode(t, w, &modes)
	if modes.Current != "normal" || len(modes.Modes) != 3 {
		t.Errorf("modes = %+v", modes)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/devices", "")
	var devices struct {
		Devices []hardware.Device `json:"devices"`
		Count   int               `json:"count"`
		LEDs    int               `json:"leds"`
	}
	decode(t, w, &devices)
	if devices.Count != 1 || devices.LEDs != 2 || devices.Devices[0].Name != "sim" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestSetMode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMode string
	}{
		{name: "queued", body: `{"mode":"insert"}`, wantCode: http.StatusAccepted, wantMode: "insert"},
		{name: "trimmed", body: `{"mode":"  visual "}`, wantCode: http.StatusAccepted, wantMode: "visual"},
		{name: "blank", body: `{"mode":"   "}`, wantCode: http.StatusBadRequest},
		{name: "too long", body: `{"mode":"` + strings.Repeat("x", maxModeLength+1) + `"}`, wantCode: http.StatusBadRequest},
		{name: "invalid json", body: `{mode`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess := testServer(t, nil)

			w := do(t, srv, http.MethodPost, "/api/v1/mode", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}

			sess.mu.Lock()
			defer sess.mu.Unlock()
			if tt.wantMode == "" {
				if len(sess.changes) != 0 {
					t.Errorf("session received %v, want nothing", sess.changes)
				}
				return
			}
			if len(sess.changes) != 1 || sess.changes[0] != tt.wantMode {
				t.Errorf("session received %v, want [%s]", sess.changes, tt.wantMode)
			}
		})
	}
}

func TestReload(t *testing.T) {
	srv, sess := testServer(t, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	sess.reloadErr = errors.New("theme: parsing theme.yaml: bad indent")
	w = do(t, srv, http.MethodPost, "/api/v1/reload", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status code = %d, want 422", w.Code)
	}
	var resp Error
	decode(t, w, &resp)
	if !strings.Contains(resp.Message, "bad indent") {
		t.Errorf("message = %q", resp.Message)
	}
	if sess.reloads != 2 {
		t.Errorf("reloads = %d, want 2", sess.reloads)
	}
}

func TestGetLayout(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		w := do(t, srv, http.MethodGet, "/api/v1/layouts/insert", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want 200", w.Code)
		}
		var l layout.Layout
		decode(t, w, &l)
		if l.Mode != "insert" || len(l.Assignments) != 1 || l.Assignments[0].Key != "a" {
			t.Errorf("layout = %+v", l)
		}
	})

	t.Run("escaped mode", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		w := do(t, srv, http.MethodGet, "/api/v1/layouts/%5EV", "")
		var l layout.Layout
		decode(t, w, &l)
		if l.Mode != "^V" {
			t.Errorf("mode = %q, want ^V", l.Mode)
		}
	})

	t.Run("no theme", func(t *testing.T) {
		srv, sess := testServer(t, nil)
		sess.layouts = nil
		w := do(t, srv, http.MethodGet, "/api/v1/layouts/insert", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status code = %d, want 503", w.Code)
		}
	})
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		w := do(t, srv, http.MethodGet, "/api/v1/history", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status code = %d, want 404", w.Code)
		}
	})

	t.Run("filtered", func(t *testing.T) {
		h := &fakeHistory{entries: []history.Entry{{ID: 7, Mode: "insert", Outcome: "applied"}}}
		srv, _ := testServer(t, func(d *Deps) { d.History = h })

		w := do(t, srv, http.MethodGet, "/api/v1/history?mode=insert&outcome=applied&limit=5", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want 200", w.Code)
		}
		if h.got.Mode != "insert" || h.got.Outcome != "applied" || h.got.Limit != 5 {
			t.Errorf("filter = %+v", h.got)
		}
		var resp struct {
			Entries []history.Entry `json:"entries"`
			Count   int             `json:"count"`
		}
		decode(t, w, &resp)
		if resp.Count != 1 || resp.Entries[0].ID != 7 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		srv, _ := testServer(t, func(d *Deps) { d.History = &fakeHistory{} })
		w := do(t, srv, http.MethodGet, "/api/v1/history?limit=-1", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want 400", w.Code)
		}
	})

	t.Run("query error", func(t *testing.T) {
		srv, _ := testServer(t, func(d *Deps) { d.History = &fakeHistory{err: errors.New("disk I/O error")} })
		w := do(t, srv, http.MethodGet, "/api/v1/history", "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status code = %d, want 500", w.Code)
		}
	})
}

func TestMetrics(t *testing.T) {
	srv, sess := testServer(t, nil)
	sess.status.Applied = 12
	sess.status.Queue = updater.QueueStats{Pushed: 20, Coalesced: 8}

	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Session.Applied != 12 || m.Session.Queue.Coalesced != 8 {
		t.Errorf("session metrics = %+v", m.Session)
	}
	if m.Database != nil {
		t.Errorf("database metrics = %+v, want nil without a pool", m.Database)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" layout.applied,,b, layout.applied ")
	if len(got) != 2 || got[0] != "b" || got[1] != "layout.applied" {
		t.Errorf("splitList() = %v", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() after Close = %q", srv.Addr())
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _ := testServer(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close()

	_, portStr, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, _ := strconv.Atoi(portStr) //nolint:errcheck // listener address
	second, _ := testServer(t, func(d *Deps) {
		cfg := testConfig()
		cfg.Port = port
		d.Config = cfg
	})
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a bound port should fail")
	}
}

// startWS starts a real listener and dials the event stream.
func startWS(t *testing.T, query string) (*Server, *websocket.Conn) {
	t.Helper()

	srv, _ := testServer(t, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws"+query, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocket_LayoutAppliedStream(t *testing.T) {
	srv, ws := startWS(t, "?channels="+ChannelLayoutApplied)

	srv.LayoutApplied(updater.Result{
		Mode:     "insert",
		Outcome:  updater.OutcomeFailed,
		LEDs:     2,
		Attempts: 2,
		Duration: 1500 * time.Microsecond,
		Err:      errors.New("hardware: device gone"),
		At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelLayoutApplied {
		t.Fatalf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload["mode"] != "insert" || payload["outcome"] != "failed" || payload["error"] != "hardware: device gone" {
		t.Errorf("payload = %v", payload)
	}
	if payload["duration_ms"] != 1.5 {
		t.Errorf("duration_ms = %v, want 1.5", payload["duration_ms"])
	}
}

func TestWebSocket_SubscribeAndPing(t *testing.T) {
	srv, ws := startWS(t, "")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Channels: []string{ChannelLayoutApplied}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	srv.LayoutApplied(updater.Result{Mode: "normal", Outcome: updater.OutcomeApplied})
	if msg := readMessage(t, ws); msg.EventType != ChannelLayoutApplied {
		t.Errorf("event = %+v", msg)
	}

	if err := ws.WriteJSON(map[string]string{"type": "bogus", "id": "b1"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError || msg.ID != "b1" {
		t.Errorf("bogus reply = %+v", msg)
	}
}

func TestWebSocket_SessionStatus(t *testing.T) {
	t.Run("query subscription gets snapshot then updates", func(t *testing.T) {
		srv, ws := startWS(t, "?channels="+ChannelSessionStatus)

		msg := readMessage(t, ws)
		if msg.EventType != ChannelSessionStatus {
			t.Fatalf("first message = %+v, want session snapshot", msg)
		}
		payload, ok := msg.Payload.(map[string]any)
		if !ok || payload["session_id"] != "s-1" || payload["mode"] != "normal" {
			t.Fatalf("snapshot payload = %v", msg.Payload)
		}

		srv.LayoutApplied(updater.Result{Mode: "normal", Outcome: updater.OutcomeApplied})
		if msg := readMessage(t, ws); msg.EventType != ChannelSessionStatus {
			t.Errorf("update = %+v, want only session.status", msg)
		}
	})

	t.Run("subscribe message gets snapshot", func(t *testing.T) {
		_, ws := startWS(t, "")

		if err := ws.WriteJSON(WSMessage{
			Type:    WSTypeSubscribe,
			ID:      "s1",
			Payload: WSSubscribePayload{Channels: []string{ChannelSessionStatus}},
		}); err != nil {
			t.Fatalf("write subscribe: %v", err)
		}
		if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "s1" {
			t.Fatalf("subscribe reply = %+v", msg)
		}
		if msg := readMessage(t, ws); msg.EventType != ChannelSessionStatus {
			t.Errorf("snapshot = %+v", msg)
		}
	})
}

func TestHub_SkipsUnsubscribed(t *testing.T) {
	hub := NewHub(testConfig().WebSocket, logging.Discard())
	subscribed := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelLayoutApplied: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelLayoutApplied, map[string]string{"mode": "insert"})

	if !hub.HasSubscribers(ChannelLayoutApplied) || hub.HasSubscribers(ChannelSessionStatus) {
		t.Error("HasSubscribers() disagrees with client subscriptions")
	}

	if len(subscribed.send) != 1 {
		t.Error("subscribed client got no message")
	}
	if len(other.send) != 0 {
		t.Error("unsubscribed client got a message")
	}

	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}
