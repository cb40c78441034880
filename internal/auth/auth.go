// Package auth manages login and signup sessions and validates session
// tokens presented by HTTP requests and realtime connections.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/store"
)

// Validation failure reasons. Callers treat them all as "not
// authenticated"; they differ only for logging.
var (
	ErrNoSession         = errors.New("session is unavailable")
	ErrUserAgentMismatch = errors.New("session user agent mismatch")
	ErrUserNotFound      = errors.New("user not found")
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns a random alphanumeric string of the given length
// drawn from crypto/rand.
func GenerateToken(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// there is no reasonable fallback for token material.
			panic(fmt.Sprintf("auth: crypto/rand failed: %v", err))
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out)
}

// Sessions provides session creation, validation, and invalidation over
// the document store.
type Sessions struct {
	store      *store.Store
	sessionTTL time.Duration
	signupTTL  time.Duration
}

func NewSessions(s *store.Store, sessionTTL, signupTTL time.Duration) *Sessions {
	return &Sessions{store: s, sessionTTL: sessionTTL, signupTTL: signupTTL}
}

// Validate checks a session token against the store: the session must
// exist, be available, not be expired, and have been minted for the same
// user agent. Returns the bound user id.
func (s *Sessions) Validate(token, userAgent string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}

	var session domain.LoginSession
	found, err := s.store.QueryOne(store.LoginSessions, []store.Condition{
		store.Where("session_token", "==", token),
		store.Where("is_available", "==", true),
		store.Where("expiration_at", ">=", time.Now()),
	}, &session)
	if err != nil {
		return "", fmt.Errorf("session lookup failed: %w", err)
	}
	if !found {
		return "", ErrNoSession
	}
	if session.UserAgent != userAgent {
		return "", ErrUserAgentMismatch
	}

	return session.UserID, nil
}

// LookupUser loads the user bound to a validated session.
func (s *Sessions) LookupUser(userID string) (domain.User, error) {
	var user domain.User
	found, err := s.store.QueryOne(store.Users, []store.Condition{
		store.Where("id", "==", userID),
	}, &user)
	if err != nil {
		return domain.User{}, fmt.Errorf("user lookup failed: %w", err)
	}
	if !found {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateLoginSession mints a fresh login session for the user and
// returns its token.
func (s *Sessions) CreateLoginSession(userID, userAgent, ip string) (string, error) {
	now := time.Now().UTC().Truncate(time.Second)
	session := domain.LoginSession{
		ID:           GenerateToken(128),
		SessionToken: GenerateToken(128),
		UserID:       userID,
		CreatedAt:    now,
		ExpirationAt: now.Add(s.sessionTTL),
		IsAvailable:  true,
		UserAgent:    userAgent,
		IPAddress:    ip,
	}

	if err := s.store.Create(store.LoginSessions, session.ID, session); err != nil {
		return "", err
	}
	return session.SessionToken, nil
}

// InvalidateToken marks the session carrying this token unavailable.
// Invalidating an unknown token is a no-op.
func (s *Sessions) InvalidateToken(token string) error {
	if token == "" {
		return nil
	}
	_, err := s.store.Update(store.LoginSessions, []store.Condition{
		store.Where("session_token", "==", token),
	}, map[string]interface{}{
		"is_available": false,
		"ended_at":     time.Now(),
	})
	return err
}

// InvalidateUserSessions marks every available session of the user
// unavailable. Used on fresh logins so one token is live at a time.
func (s *Sessions) InvalidateUserSessions(userID string) error {
	_, err := s.store.Update(store.LoginSessions, []store.Condition{
		store.Where("user_id", "==", userID),
		store.Where("is_available", "==", true),
	}, map[string]interface{}{
		"is_available": false,
		"ended_at":     time.Now(),
	})
	return err
}

// CreateSignupSession records a pending signup for an unknown email and
// returns the session id handed back to the client.
func (s *Sessions) CreateSignupSession(email, username, userAgent, ip string) (string, error) {
	now := time.Now().UTC().Truncate(time.Second)
	session := domain.SignupSession{
		ID:           GenerateToken(128),
		Email:        email,
		Username:     username,
		UserAgent:    userAgent,
		IPAddress:    ip,
		CreatedAt:    now,
		ExpirationAt: now.Add(s.signupTTL),
		IsAvailable:  true,
	}

	if err := s.store.Create(store.SignupSessions, session.ID, session); err != nil {
		return "", err
	}
	return session.ID, nil
}

// LookupSignupSession fetches an available, unexpired signup session.
// The user agent must match the one the session was created with.
func (s *Sessions) LookupSignupSession(id, userAgent string) (domain.SignupSession, error) {
	var session domain.SignupSession
	found, err := s.store.QueryOne(store.SignupSessions, []store.Condition{
		store.Where("id", "==", id),
		store.Where("is_available", "==", true),
		store.Where("expiration_at", ">=", time.Now()),
	}, &session)
	if err != nil {
		return domain.SignupSession{}, fmt.Errorf("signup session lookup failed: %w", err)
	}
	if !found {
		return domain.SignupSession{}, ErrNoSession
	}
	if session.UserAgent != userAgent {
		return domain.SignupSession{}, ErrUserAgentMismatch
	}
	return session, nil
}

// CompleteSignup creates the user from a signup session, consumes the
// session, and mints a login session. Returns the new session token.
func (s *Sessions) CompleteSignup(session domain.SignupSession, username, handle, ip string) (string, error) {
	user := domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		Handle:    handle,
		Email:     session.Email,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.Create(store.Users, user.ID, user); err != nil {
		return "", err
	}

	if _, err := s.store.Update(store.SignupSessions, []store.Condition{
		store.Where("id", "==", session.ID),
	}, map[string]interface{}{
		"is_available": false,
	}); err != nil {
		return "", err
	}

	return s.CreateLoginSession(user.ID, session.UserAgent, ip)
}

// FindUserByEmail returns the user with this email, if one exists.
func (s *Sessions) FindUserByEmail(email string) (domain.User, bool, error) {
	var user domain.User
	found, err := s.store.QueryOne(store.Users, []store.Condition{
		store.Where("email", "==", email),
	}, &user)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("user lookup failed: %w", err)
	}
	return user, found, nil
}
