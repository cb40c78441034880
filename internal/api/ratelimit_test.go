package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request over burst should be denied")
	}
}

func TestRateLimiter_PerIPBuckets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 1)

	if !rl.Allow("10.0.0.1") {
		t.Error("first request from .1 should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("second request from .1 should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("another IP has its own bucket")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond, 2)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}

	// Backdate the last check instead of sleeping.
	rl.mu.Lock()
	rl.clients["10.0.0.1"].lastCheck = time.Now().Add(-150 * time.Millisecond)
	rl.mu.Unlock()

	if !rl.Allow("10.0.0.1") {
		t.Error("bucket should refill after the interval")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rl := NewRateLimiter(2, time.Minute, 2)
	r.GET("/limited", rl.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/limited", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/limited", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}
