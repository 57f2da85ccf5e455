package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/parley-labs/parley/backend/internal/sessions"
	"github.com/parley-labs/parley/backend/internal/users"
)

func TestUnauthenticatedHomeRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != loginPath {
		t.Fatalf("expected redirect to %s, got %q", loginPath, location)
	}
}

func TestLoginRedirectsToProviderWithFreshState(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody))
	if first.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", first.Code)
	}
	firstLocation, err := url.Parse(first.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect: %v", err)
	}
	if !strings.HasPrefix(firstLocation.Path, "/authorize") {
		t.Fatalf("expected provider authorize redirect, got %q", firstLocation.Path)
	}
	firstState := firstLocation.Query().Get("state")
	if firstState == "" {
		t.Fatalf("expected a state parameter")
	}

	second := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody))
	secondLocation, err := url.Parse(second.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse second redirect: %v", err)
	}
	if secondLocation.Query().Get("state") == firstState {
		t.Fatalf("expected a fresh state per login attempt")
	}
}

func TestLoginWhenAuthenticatedRedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	cookie, _ := env.loginAs(t, "ada@example.com", "Ada Lovelace")

	request := httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody)
	request.AddCookie(cookie)
	recorder := env.do(t, request)

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/" {
		t.Fatalf("expected redirect to /, got %q", location)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=bogus", http.NoBody))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", recorder.Code)
	}
}

func TestCallbackRejectsProviderError(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", http.NoBody))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for provider error, got %d", recorder.Code)
	}
}

func TestCallbackSurfacesProviderOutage(t *testing.T) {
	env := newTestEnv(t)
	env.provider.tokenStatus = http.StatusInternalServerError

	state := beginLoginState(t, env)
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+state, http.NoBody))

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the provider is down, got %d", recorder.Code)
	}
}

func TestLoginCallbackFlowEstablishesSession(t *testing.T) {
	env := newTestEnv(t)

	state := beginLoginState(t, env)
	callback := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code&state="+state, http.NoBody))
	if callback.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 after callback, got %d: %s", callback.Code, callback.Body.String())
	}
	if location := callback.Header().Get("Location"); location != "/" {
		t.Fatalf("expected redirect to /, got %q", location)
	}

	cookie := sessionCookie(t, callback)
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be HttpOnly")
	}

	home := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	home.AddCookie(cookie)
	recorder := env.do(t, home)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid session, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Ada Lovelace") {
		t.Fatalf("expected greeting with the display name, got %s", recorder.Body.String())
	}
}

func TestExpiredSessionRedirectsAndInvalidates(t *testing.T) {
	env := newTestEnv(t)
	cookie, _ := env.loginAs(t, "ada@example.com", "Ada Lovelace")

	env.clock.now = env.clock.now.Add(31 * time.Minute)

	request := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	request.AddCookie(cookie)
	recorder := env.do(t, request)

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for an expired session, got %d", recorder.Code)
	}
	if _, err := env.sessions.Get(context.Background(), cookie.Value); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expired session must be invalidated after the check, got %v", err)
	}
}

func TestHomeWithDeletedUserFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	cookie, user := env.loginAs(t, "ada@example.com", "Ada Lovelace")

	if err := env.db.Delete(&users.User{}, "id = ?", user.ID).Error; err != nil {
		t.Fatalf("failed to delete the user: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	request.AddCookie(cookie)
	recorder := env.do(t, request)

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for a session without a backing user, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != loginPath {
		t.Fatalf("expected redirect to %s, got %q", loginPath, location)
	}
	if _, err := env.sessions.Get(context.Background(), cookie.Value); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("orphaned session must be invalidated, got %v", err)
	}
}

func TestAPIRouteReturnsUnauthorizedJSON(t *testing.T) {
	env := newTestEnv(t)

	request := httptest.NewRequest(http.MethodPost, "/chat/sessions/new", strings.NewReader(`{"title":"T"}`))
	request.Header.Set("Content-Type", "application/json")
	recorder := env.do(t, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an API route, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	cookie, _ := env.loginAs(t, "ada@example.com", "Ada Lovelace")

	request := httptest.NewRequest(http.MethodGet, "/auth/logout", http.NoBody)
	request.AddCookie(cookie)
	recorder := env.do(t, request)

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 after logout, got %d", recorder.Code)
	}
	if _, err := env.sessions.Get(context.Background(), cookie.Value); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("logout must invalidate the session, got %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = env.do(t, httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the login burst, got %d", last.Code)
	}
}

func beginLoginState(t *testing.T, env *testEnv) string {
	t.Helper()
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody))
	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 from login, got %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse login redirect: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatalf("expected a state parameter in the login redirect")
	}
	return state
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	response := recorder.Result()
	defer response.Body.Close()
	for _, cookie := range response.Cookies() {
		if cookie.Name == testCookieName && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected a session cookie to be set")
	return nil
}
