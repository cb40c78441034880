package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krittin/examscan/internal/config"
)

// handleHealth is the liveness probe.
func (s *RESTServer) handleHealth(c *gin.Context) {
	if err := s.store.DB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": config.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleSystemInfo returns runtime facts useful when debugging a
// deployment. Intentionally free of user data.
func (s *RESTServer) handleSystemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":      config.Version,
		"go_version":   runtime.Version(),
		"platform":     runtime.GOOS + "/" + runtime.GOARCH,
		"goroutines":   runtime.NumGoroutine(),
		"uptime":       time.Since(s.startTime).Round(time.Second).String(),
		"connections":  s.hub.ClientCount(),
		"pending_jobs": s.submitter.PendingCount(),
	})
}
