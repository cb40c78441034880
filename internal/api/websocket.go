package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/krittin/examscan/internal/auth"
	"github.com/krittin/examscan/internal/config"
	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/metrics"
	"github.com/krittin/examscan/internal/services"
	"github.com/krittin/examscan/internal/store"
)

// getWebSocketUpgrader returns an upgrader with origin validation
// based on EXAMSCAN_CORS_ORIGIN environment variable
func getWebSocketUpgrader() websocket.Upgrader {
	corsOrigins := os.Getenv("EXAMSCAN_CORS_ORIGIN")
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" && corsOrigins != "*" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if corsOrigins == "*" {
				return true
			}
			if corsOrigins == "" {
				// Same-origin check: origin should match host
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // No origin header = same-origin request
				}
				return strings.Contains(origin, r.Host)
			}
			return allowedOrigins[r.Header.Get("Origin")]
		},
	}
}

var upgrader = getWebSocketUpgrader()

// wsFrame is the envelope for every frame in both directions.
type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// WebSocketHub owns the live connections. Each connection gets an
// opaque handle; the coordinator addresses pushes by handle, never by
// raw socket. Handles are not reused across reconnects.
type WebSocketHub struct {
	mu      sync.Mutex
	clients map[string]*websocket.Conn // handle -> socket

	coordinator *services.Coordinator
	sessions    *auth.Sessions
	store       *store.Store
	metrics     *metrics.MetricsService
}

func NewWebSocketHub(coordinator *services.Coordinator, sessions *auth.Sessions, st *store.Store, m *metrics.MetricsService) *WebSocketHub {
	return &WebSocketHub{
		clients:     make(map[string]*websocket.Conn),
		coordinator: coordinator,
		sessions:    sessions,
		store:       st,
		metrics:     m,
	}
}

// Push delivers one frame to one connection. Pushing to a handle that
// has since closed is a no-op.
func (h *WebSocketHub) Push(connID, event string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, ok := h.clients[connID]
	if !ok {
		return
	}
	if err := ws.WriteJSON(wsFrame{Event: event, Data: payload}); err != nil {
		logger.Debugf("WebSocket write to %s failed: %v", connID, err)
	}
}

func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	handle := uuid.New().String()

	h.mu.Lock()
	h.clients[handle] = ws
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetConnections(count)
	}
	logger.Debugf("WebSocket %s connected (Total: %d)", handle, count)

	// Set up ping/pong to keep connection alive
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.keepAlive(handle, ws, pingPeriod, done)

	defer func() {
		close(done)

		h.mu.Lock()
		delete(h.clients, handle)
		count := len(h.clients)
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.SetConnections(count)
		}

		// Transport-level drop counts as a disconnect.
		h.coordinator.Disconnect(handle)
		if err := ws.Close(); err != nil {
			logger.Debugf("WebSocket close error: %v", err)
		}
		logger.Debugf("WebSocket %s disconnected", handle)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Debugf("WebSocket %s sent malformed frame: %v", handle, err)
			continue
		}

		switch frame.Event {
		case "connect":
			h.handleConnect(handle, c.Request)
		case "disconnect":
			h.coordinator.Disconnect(handle)
			h.Push(handle, "disconnected", gin.H{
				"success": true,
				"message": "disconnected",
			})
		default:
			logger.Debugf("WebSocket %s sent unknown event %q", handle, frame.Event)
		}
	}
}

// keepAlive pings the socket on a fixed cadence until the connection is
// torn down. Writes share the hub mutex with Push.
func (h *WebSocketHub) keepAlive(handle string, ws *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.mu.Lock()
			if _, exists := h.clients[handle]; !exists {
				h.mu.Unlock()
				return
			}
			err := ws.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping error: %v", err)
				return
			}
		}
	}
}

// handleConnect authenticates the connection against its session cookie
// and, on success, registers presence and replies with the user's
// profile and their recent scanned answers.
func (h *WebSocketHub) handleConnect(handle string, r *http.Request) {
	fail := func(message string, err error) {
		if err != nil {
			logger.Debugf("WebSocket %s connect rejected: %v", handle, err)
		}
		h.Push(handle, "connected", gin.H{"success": false, "message": message})
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		fail("authentication required", err)
		return
	}

	userID, err := h.sessions.Validate(cookie.Value, r.UserAgent())
	if err != nil {
		fail("session is invalid or expired", err)
		return
	}

	user, err := h.sessions.LookupUser(userID)
	if err != nil {
		fail("user not found", err)
		return
	}

	snapshot, err := h.recentAnswers(userID)
	if err != nil {
		fail("failed to load scan history", err)
		return
	}

	h.coordinator.Connect(handle, userID)

	h.Push(handle, "connected", gin.H{
		"success":         true,
		"user":            user.Profile(),
		"scanned_answers": snapshot,
		"active_jobs":     h.coordinator.ActiveJobs(userID),
	})
}

// recentAnswers returns the user's latest scanned answers, newest first,
// capped by the configured snapshot limit.
func (h *WebSocketHub) recentAnswers(userID string) ([]domain.ScannedAnswer, error) {
	answers := []domain.ScannedAnswer{}
	err := h.store.Query(store.ScannedAnswers, []store.Condition{
		store.Where("owner_user_id", "==", userID),
	}, store.Options{
		Limit:    config.Get().SnapshotLimit,
		SortBy:   "scanned_at",
		SortDesc: true,
	}, &answers)
	return answers, err
}

// ClientCount returns the number of open WebSocket connections
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
