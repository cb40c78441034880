package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func sessionCookieFrom(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	return nil
}

func TestHandleGoogleAuth_KnownEmailLogsIn(t *testing.T) {
	ts := newTestServer(t)
	ts.createUserSession(t, "user-a", "a@example.com")

	w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"a@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	response := decodeBody(t, w)
	if response["status"] != "login" {
		t.Errorf("status = %v, want login", response["status"])
	}

	cookie := sessionCookieFrom(w)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("Expected a session cookie on login")
	}
	if !cookie.HttpOnly {
		t.Error("Session cookie should be HttpOnly")
	}

	// The minted session authenticates subsequent requests.
	if w := ts.do(t, "GET", "/api/answers/active", cookie.Value, nil, ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with new session, got %d", w.Code)
	}
}

func TestHandleGoogleAuth_LoginInvalidatesOldSession(t *testing.T) {
	ts := newTestServer(t)
	oldToken := ts.createUserSession(t, "user-a", "a@example.com")

	w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"a@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if w := ts.do(t, "GET", "/api/answers/active", oldToken, nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Old session should be invalid, got status %d", w.Code)
	}
}

func TestHandleGoogleAuth_EmailIsNormalized(t *testing.T) {
	ts := newTestServer(t)
	ts.createUserSession(t, "user-a", "a@example.com")

	w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"  A@Example.COM "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if response := decodeBody(t, w); response["status"] != "login" {
		t.Errorf("status = %v, want login", response["status"])
	}
}

func TestHandleGoogleAuth_UnknownEmailStartsSignup(t *testing.T) {
	ts := newTestServer(t)

	w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"new@example.com","username":"Newbie"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	response := decodeBody(t, w)
	if response["status"] != "signup" {
		t.Errorf("status = %v, want signup", response["status"])
	}
	if response["signup_session_id"] == nil || response["signup_session_id"] == "" {
		t.Error("Expected a signup_session_id")
	}
	if sessionCookieFrom(w) != nil {
		t.Error("Signup redirect should not set a session cookie")
	}
}

func TestHandleGoogleAuth_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.doJSON(t, "POST", "/api/auth/google", "", `{not json}`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want 400", w.Code)
	}
	if w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"username":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing email: status = %d, want 400", w.Code)
	}
	if w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"not-an-email"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid email: status = %d, want 400", w.Code)
	}
}

func TestSignupFlow(t *testing.T) {
	ts := newTestServer(t)

	// Step 1: unknown email opens a signup session.
	w := ts.doJSON(t, "POST", "/api/auth/google", "", `{"email":"new@example.com","username":"Newbie"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("google auth: status %d: %s", w.Code, w.Body.String())
	}
	signupID := decodeBody(t, w)["signup_session_id"].(string)

	// Step 2: the signup form fetches the pending session to prefill.
	w = ts.do(t, "GET", "/api/auth/signup-session?id="+signupID, "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signup-session: status %d: %s", w.Code, w.Body.String())
	}
	if response := decodeBody(t, w); response["email"] != "new@example.com" {
		t.Errorf("email = %v", response["email"])
	}

	// Step 3: completing signup creates the user and logs them in.
	w = ts.doJSON(t, "POST", "/api/auth/signup", "",
		`{"signup_session_id":"`+signupID+`","username":"Newbie","handle":"newbie"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("signup: status %d: %s", w.Code, w.Body.String())
	}

	cookie := sessionCookieFrom(w)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("Expected a session cookie after signup")
	}
	if w := ts.do(t, "GET", "/api/answers/active", cookie.Value, nil, ""); w.Code != http.StatusOK {
		t.Errorf("new session rejected: status %d", w.Code)
	}

	// The signup session is single-use.
	w = ts.doJSON(t, "POST", "/api/auth/signup", "",
		`{"signup_session_id":"`+signupID+`","username":"Newbie","handle":"newbie2"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused signup session: status %d, want 401", w.Code)
	}
}

func TestHandleGetSignupSession_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, "GET", "/api/auth/signup-session", "", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", w.Code)
	}
	if w := ts.do(t, "GET", "/api/auth/signup-session?id=unknown", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown id: status = %d, want 401", w.Code)
	}
}

func TestHandleLogout(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createUserSession(t, "user-a", "a@example.com")

	w := ts.do(t, "POST", "/api/auth/logout", token, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	cookie := sessionCookieFrom(w)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Error("Logout should clear the session cookie")
	}

	if w := ts.do(t, "GET", "/api/answers/active", token, nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Session should be dead after logout, got status %d", w.Code)
	}
}

func TestHandleLogout_WithoutSession(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/auth/logout", "", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Logout without a session should still succeed, got %d", w.Code)
	}
}
