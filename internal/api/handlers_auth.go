package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/krittin/examscan/internal/config"
	"github.com/krittin/examscan/internal/logger"
)

// setSessionCookie installs the login session cookie. HttpOnly keeps
// the token out of reach of page scripts.
func setSessionCookie(c *gin.Context, token string) {
	maxAge := int(config.Get().SessionTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token, maxAge, "/", "", false, true)
}

func clearSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
}

// handleGoogleAuth is the login-or-signup entry point. A known email
// gets a fresh login session (any prior one is invalidated); an unknown
// email gets a short-lived signup session to complete registration with.
func (s *RESTServer) handleGoogleAuth(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid email address"})
		return
	}

	user, found, err := s.sessions.FindUserByEmail(email)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	if !found {
		sessionID, err := s.sessions.CreateSignupSession(email, req.Username, c.Request.UserAgent(), c.ClientIP())
		if err != nil {
			respondDatabaseError(c, err)
			return
		}
		logger.Infof("Signup session created for new email")
		c.JSON(http.StatusOK, gin.H{
			"success":           true,
			"status":            "signup",
			"signup_session_id": sessionID,
		})
		return
	}

	// One live session per user: a fresh login replaces any earlier one.
	if err := s.sessions.InvalidateUserSessions(user.ID); err != nil {
		respondDatabaseError(c, err)
		return
	}

	token, err := s.sessions.CreateLoginSession(user.ID, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	setSessionCookie(c, token)
	logger.Infof("User %s logged in", user.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "login"})
}

// handleGetSignupSession returns the pending signup a client started, so
// the signup form can prefill the email.
func (s *RESTServer) handleGetSignupSession(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondBadRequest(c, nil, false)
		return
	}

	session, err := s.sessions.LookupSignupSession(id, c.Request.UserAgent())
	if err != nil {
		respondUnauthorized(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"email":         session.Email,
		"username":      session.Username,
		"expiration_at": session.ExpirationAt,
	})
}

// handleSignup completes registration: the signup session is consumed,
// the user is created, and a login session is minted in one step.
func (s *RESTServer) handleSignup(c *gin.Context) {
	var req struct {
		SignupSessionID string `json:"signup_session_id" binding:"required"`
		Username        string `json:"username" binding:"required"`
		Handle          string `json:"handle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	session, err := s.sessions.LookupSignupSession(req.SignupSessionID, c.Request.UserAgent())
	if err != nil {
		respondUnauthorized(c, err)
		return
	}

	token, err := s.sessions.CompleteSignup(session, req.Username, req.Handle, c.ClientIP())
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "login"})
}

// handleLogout invalidates the presented session. Logging out with no
// or an unknown session still succeeds.
func (s *RESTServer) handleLogout(c *gin.Context) {
	token, err := c.Cookie(sessionCookie)
	if err != nil && !errors.Is(err, http.ErrNoCookie) {
		respondBadRequest(c, err, false)
		return
	}

	if err := s.sessions.InvalidateToken(token); err != nil {
		respondDatabaseError(c, err)
		return
	}

	clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
