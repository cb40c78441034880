// Package api provides the REST handlers, the session middleware, and
// the websocket hub that fronts the scan pipeline.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krittin/examscan/internal/auth"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/metrics"
	"github.com/krittin/examscan/internal/services"
	"github.com/krittin/examscan/internal/storage"
	"github.com/krittin/examscan/internal/store"
)

type RESTServer struct {
	router      *gin.Engine
	httpServer  *http.Server
	store       *store.Store
	eventBus    eventbus.Publisher
	coordinator *services.Coordinator
	submitter   *services.Submitter
	sessions    *auth.Sessions
	uploads     *storage.Uploads
	metrics     *metrics.MetricsService
	hub         *WebSocketHub
	startTime   time.Time
}

// ServerDeps contains all dependencies required for the REST server
type ServerDeps struct {
	Store       *store.Store
	EventBus    eventbus.Publisher
	Coordinator *services.Coordinator
	Submitter   *services.Submitter
	Sessions    *auth.Sessions
	Uploads     *storage.Uploads
	Metrics     *metrics.MetricsService
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	// Set Gin to release mode for production (suppresses debug warnings)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		// Use existing request ID from header if provided, otherwise generate one
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = fmt.Sprintf("%d-%d", time.Now().UnixNano(), c.Request.ContentLength)
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	// Custom recovery middleware with enhanced logging
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	}))

	// CORS middleware - configurable via EXAMSCAN_CORS_ORIGIN env var.
	// If not set, defaults to same-origin (no CORS header = browser enforces same-origin).
	// Set to "*" only for development, or specify allowed origins comma-separated.
	corsOrigins := os.Getenv("EXAMSCAN_CORS_ORIGIN")
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		// If no match, don't set Access-Control-Allow-Origin (same-origin policy applies)

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s := &RESTServer{
		router:      r,
		store:       deps.Store,
		eventBus:    deps.EventBus,
		coordinator: deps.Coordinator,
		submitter:   deps.Submitter,
		sessions:    deps.Sessions,
		uploads:     deps.Uploads,
		metrics:     deps.Metrics,
		startTime:   time.Now(),
	}
	s.hub = NewWebSocketHub(deps.Coordinator, deps.Sessions, deps.Store, deps.Metrics)
	deps.Coordinator.AttachPusher(s.hub)

	s.setupRoutes()

	return s
}

func (s *RESTServer) setupRoutes() {
	// Prometheus scrape endpoint at root level (standard convention)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api")
	{
		// Health check endpoint (no authentication required)
		api.GET("/health", s.handleHealth)

		// System info endpoint (no authentication required - useful for debugging)
		api.GET("/system/info", s.handleSystemInfo)

		// Public auth endpoints with rate limiting
		api.POST("/auth/google", AuthLimiter.Middleware(), s.handleGoogleAuth)
		api.GET("/auth/signup-session", s.handleGetSignupSession)
		api.POST("/auth/signup", AuthLimiter.Middleware(), s.handleSignup)
		api.POST("/auth/logout", s.handleLogout)

		// Protected endpoints (require a valid login session cookie)
		protected := api.Group("")
		protected.Use(s.sessionMiddleware())
		{
			protected.GET("/answers", s.handleListAnswers)
			protected.GET("/answers/active", s.handleActiveScans)
			protected.POST("/answers/scan", ScanLimiter.Middleware(), s.handleScanUpload)
		}

		// The socket is served openly: the hub authenticates the connect
		// frame in-band, so a bad session gets a failure frame over the
		// socket instead of a handshake rejection.
		api.GET("/ws", func(c *gin.Context) {
			s.hub.HandleConnection(c)
		})
	}
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// sessionCookie is the cookie carrying the login session token.
const sessionCookie = "session_token"

// sessionMiddleware authenticates a request by its session cookie and
// user agent, then stores the bound user id in the context.
func (s *RESTServer) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookie)
		if err != nil || token == "" {
			respondUnauthorized(c, nil)
			c.Abort()
			return
		}

		userID, err := s.sessions.Validate(token, c.Request.UserAgent())
		if err != nil {
			respondUnauthorized(c, err)
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}
