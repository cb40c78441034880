package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/krittin/examscan/internal/domain"
)

// dialWS connects to the fixture's /ws route, optionally presenting a
// session cookie.
func dialWS(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/ws"
	header := http.Header{}
	header.Set("User-Agent", testUserAgent)
	if token != "" {
		header.Set("Cookie", sessionCookie+"="+token)
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wsFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

func sendFrame(t *testing.T, ws *websocket.Conn, event string) {
	t.Helper()
	if err := ws.WriteJSON(wsFrame{Event: event}); err != nil {
		t.Fatalf("Failed to send %s frame: %v", event, err)
	}
}

func frameData(t *testing.T, frame wsFrame) map[string]interface{} {
	t.Helper()
	data, ok := frame.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("frame data is %T, want an object: %+v", frame.Data, frame)
	}
	return data
}

func TestWebSocket_ConnectDeliversSnapshot(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createUserSession(t, "user-a", "a@example.com")
	seedAnswers(t, ts, "user-a", 3)

	// A job already in flight must appear in the snapshot.
	ts.bus.Publish(domain.NewJobStartedEvent("user-a", "job-1"))

	server := httptest.NewServer(ts.router)
	defer server.Close()

	ws := dialWS(t, server.URL, token)
	sendFrame(t, ws, "connect")

	frame := readFrame(t, ws)
	if frame.Event != "connected" {
		t.Fatalf("event = %q, want connected", frame.Event)
	}
	data := frameData(t, frame)
	if data["success"] != true {
		t.Fatalf("connect rejected: %+v", data)
	}

	user := data["user"].(map[string]interface{})
	if user["handle"] != "tester" {
		t.Errorf("user handle = %v", user["handle"])
	}

	answers := data["scanned_answers"].([]interface{})
	if len(answers) != 3 {
		t.Errorf("snapshot has %d answers, want 3", len(answers))
	}
	newest := answers[0].(map[string]interface{})
	if newest["question_name"] != "Quiz 2" {
		t.Errorf("snapshot starts with %v, want the newest (Quiz 2)", newest["question_name"])
	}

	jobs := data["active_jobs"].([]interface{})
	if len(jobs) != 1 || jobs[0] != "job-1" {
		t.Errorf("active_jobs = %v, want [job-1]", jobs)
	}

	if ts.server.hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", ts.server.hub.ClientCount())
	}
}

func TestWebSocket_ConnectWithBadSessionFails(t *testing.T) {
	ts := newTestServer(t)

	server := httptest.NewServer(ts.router)
	defer server.Close()

	// The upgrade itself succeeds; auth happens on the connect frame.
	ws := dialWS(t, server.URL, "never-issued")
	sendFrame(t, ws, "connect")

	frame := readFrame(t, ws)
	if frame.Event != "connected" {
		t.Fatalf("event = %q, want connected", frame.Event)
	}
	data := frameData(t, frame)
	if data["success"] != false {
		t.Errorf("connect with a bad session should fail: %+v", data)
	}
	if data["message"] == nil || data["message"] == "" {
		t.Error("failure frame should carry a message")
	}
	if ts.server.coordinator.ConnectionCount() != 0 {
		t.Errorf("rejected connect registered presence: %d", ts.server.coordinator.ConnectionCount())
	}
}

func TestWebSocket_ConnectWithoutCookieFails(t *testing.T) {
	ts := newTestServer(t)

	server := httptest.NewServer(ts.router)
	defer server.Close()

	// A missing cookie is treated the same as an invalid one: the
	// socket opens and the connect frame is answered with a failure.
	ws := dialWS(t, server.URL, "")
	sendFrame(t, ws, "connect")

	frame := readFrame(t, ws)
	if frame.Event != "connected" {
		t.Fatalf("event = %q, want connected", frame.Event)
	}
	data := frameData(t, frame)
	if data["success"] != false {
		t.Errorf("connect without a session should fail: %+v", data)
	}
	if ts.server.coordinator.ConnectionCount() != 0 {
		t.Errorf("rejected connect registered presence: %d", ts.server.coordinator.ConnectionCount())
	}
}

func TestWebSocket_JobEventsArePushed(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createUserSession(t, "user-a", "a@example.com")

	server := httptest.NewServer(ts.router)
	defer server.Close()

	ws := dialWS(t, server.URL, token)
	sendFrame(t, ws, "connect")
	readFrame(t, ws) // connected

	ts.bus.Publish(domain.NewJobStartedEvent("user-a", "job-1"))

	frame := readFrame(t, ws)
	if frame.Event != "scan-started" {
		t.Fatalf("event = %q, want scan-started", frame.Event)
	}
	if data := frameData(t, frame); data["job_id"] != "job-1" {
		t.Errorf("scan-started data = %+v", data)
	}

	ts.bus.Publish(domain.NewJobCompletedEvent("user-a", "job-1", []domain.ScannedAnswer{{ID: "ans-1"}}))

	frame = readFrame(t, ws)
	if frame.Event != "scan-completed" {
		t.Fatalf("event = %q, want scan-completed", frame.Event)
	}
	data := frameData(t, frame)
	if data["success"] != true {
		t.Errorf("scan-completed data = %+v", data)
	}
	if results := data["results"].([]interface{}); len(results) != 1 {
		t.Errorf("results = %v", results)
	}

	// Another user's events never reach this connection.
	ts.bus.Publish(domain.NewJobStartedEvent("user-b", "job-2"))
	ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var stray wsFrame
	if err := ws.ReadJSON(&stray); err == nil {
		t.Errorf("received a stray frame: %+v", stray)
	}
}

func TestWebSocket_DisconnectFrame(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createUserSession(t, "user-a", "a@example.com")

	server := httptest.NewServer(ts.router)
	defer server.Close()

	ws := dialWS(t, server.URL, token)
	sendFrame(t, ws, "connect")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "disconnect")

	frame := readFrame(t, ws)
	if frame.Event != "disconnected" {
		t.Fatalf("event = %q, want disconnected", frame.Event)
	}
	if data := frameData(t, frame); data["success"] != true {
		t.Errorf("disconnected data = %+v", data)
	}

	// After the in-band disconnect, job events are no longer delivered
	// even though the socket is still open.
	ts.bus.Publish(domain.NewJobStartedEvent("user-a", "job-1"))
	ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var stray wsFrame
	if err := ws.ReadJSON(&stray); err == nil {
		t.Errorf("received a frame after disconnect: %+v", stray)
	}
}

func TestWebSocket_TransportDropReleasesPresence(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createUserSession(t, "user-a", "a@example.com")

	server := httptest.NewServer(ts.router)
	defer server.Close()

	ws := dialWS(t, server.URL, token)
	sendFrame(t, ws, "connect")
	readFrame(t, ws) // connected

	if ts.server.coordinator.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", ts.server.coordinator.ConnectionCount())
	}

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ts.server.coordinator.ConnectionCount() == 0 && ts.server.hub.ClientCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("connection not released: presence=%d clients=%d",
		ts.server.coordinator.ConnectionCount(), ts.server.hub.ClientCount())
}

func TestWebSocketHub_PushToUnknownHandle(t *testing.T) {
	ts := newTestServer(t)

	// Must not panic or block.
	ts.server.hub.Push("no-such-handle", "scan-started", gin.H{"success": true})
}

// newLoopbackConn upgrades against a throwaway server and returns the
// server side of the socket.
func newLoopbackConn(t *testing.T) *websocket.Conn {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	conn := <-connCh
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHub_KeepAliveExitsOnTeardown(t *testing.T) {
	ts := newTestServer(t)
	hub := ts.server.hub
	conn := newLoopbackConn(t)

	hub.mu.Lock()
	hub.clients["conn-1"] = conn
	hub.mu.Unlock()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		hub.keepAlive("conn-1", conn, 5*time.Millisecond, done)
		close(exited)
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("keepAlive kept running after connection teardown")
	}
}

func TestWebSocketHub_KeepAliveExitsOnDeregistration(t *testing.T) {
	ts := newTestServer(t)
	hub := ts.server.hub
	conn := newLoopbackConn(t)

	hub.mu.Lock()
	hub.clients["conn-2"] = conn
	hub.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		hub.keepAlive("conn-2", conn, 5*time.Millisecond, make(chan struct{}))
		close(exited)
	}()

	hub.mu.Lock()
	delete(hub.clients, "conn-2")
	hub.mu.Unlock()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("keepAlive kept running for a deregistered handle")
	}
}

func TestGetWebSocketUpgrader_WildcardCORS(t *testing.T) {
	os.Setenv("EXAMSCAN_CORS_ORIGIN", "*")
	defer os.Unsetenv("EXAMSCAN_CORS_ORIGIN")

	u := getWebSocketUpgrader()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://any-origin.example.com")
	if !u.CheckOrigin(req) {
		t.Error("Wildcard CORS should allow any origin")
	}
}

func TestGetWebSocketUpgrader_SpecificOrigins(t *testing.T) {
	os.Setenv("EXAMSCAN_CORS_ORIGIN", "https://allowed1.com, https://allowed2.com")
	defer os.Unsetenv("EXAMSCAN_CORS_ORIGIN")

	u := getWebSocketUpgrader()

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://allowed1.com", true},
		{"https://allowed2.com", true},
		{"https://notallowed.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		req.Header.Set("Origin", tt.origin)
		if got := u.CheckOrigin(req); got != tt.allowed {
			t.Errorf("CheckOrigin(%q) = %v, want %v", tt.origin, got, tt.allowed)
		}
	}
}

func TestGetWebSocketUpgrader_SameOriginDefault(t *testing.T) {
	os.Unsetenv("EXAMSCAN_CORS_ORIGIN")

	u := getWebSocketUpgrader()

	req1 := httptest.NewRequest("GET", "/ws", nil)
	req1.Host = "localhost:4820"
	if !u.CheckOrigin(req1) {
		t.Error("Request without Origin header should be allowed")
	}

	req2 := httptest.NewRequest("GET", "/ws", nil)
	req2.Host = "localhost:4820"
	req2.Header.Set("Origin", "http://localhost:4820")
	if !u.CheckOrigin(req2) {
		t.Error("Same-origin request should be allowed")
	}

	req3 := httptest.NewRequest("GET", "/ws", nil)
	req3.Host = "localhost:4820"
	req3.Header.Set("Origin", "https://evil.example.com")
	if u.CheckOrigin(req3) {
		t.Error("Cross-origin request should be rejected by default")
	}
}
