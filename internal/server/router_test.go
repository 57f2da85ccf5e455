package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parley-labs/parley/backend/internal/chat"
	"github.com/parley-labs/parley/backend/internal/database"
	"github.com/parley-labs/parley/backend/internal/identity"
	"github.com/parley-labs/parley/backend/internal/sessions"
	"github.com/parley-labs/parley/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testCookieName = "parley_session"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type providerFixture struct {
	server      *httptest.Server
	tokenStatus int
	profileBody map[string]interface{}
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()
	fixture := &providerFixture{
		tokenStatus: http.StatusOK,
		profileBody: map[string]interface{}{
			"id":                "subject-1",
			"displayName":       "Ada Lovelace",
			"mail":              "ada@example.com",
			"userPrincipalName": "ada@example.com",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fixture.tokenStatus)
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"access_token": "provider-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fixture.profileBody) //nolint:errcheck
	})
	fixture.server = httptest.NewServer(mux)
	t.Cleanup(fixture.server.Close)
	return fixture
}

type testEnv struct {
	handler  http.Handler
	db       *gorm.DB
	sessions *sessions.Store
	users    *users.Directory
	chat     *chat.Service
	clock    *testClock
	provider *providerFixture
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "parley.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)}
	provider := newProviderFixture(t)

	identityClient, err := identity.NewClient(identity.Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURL:  "http://localhost:8080/auth/callback",
		AuthorizeURL: provider.server.URL + "/authorize",
		TokenURL:     provider.server.URL + "/token",
		ProfileURL:   provider.server.URL + "/me",
	})
	if err != nil {
		t.Fatalf("failed to construct identity client: %v", err)
	}

	sessionStore, err := sessions.NewStore(sessions.StoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct session store: %v", err)
	}
	userDirectory, err := users.NewDirectory(users.DirectoryConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct user directory: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: chat.NewUUIDProvider(),
		Responder:  chat.EchoResponder{},
	})
	if err != nil {
		t.Fatalf("failed to construct chat service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Identity:   identityClient,
		Sessions:   sessionStore,
		Users:      userDirectory,
		Chat:       chatService,
		CookieName: testCookieName,
		SessionTTL: 30 * time.Minute,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{
		handler:  handler,
		db:       db,
		sessions: sessionStore,
		users:    userDirectory,
		chat:     chatService,
		clock:    clock,
		provider: provider,
	}
}

// loginAs creates a directory user and a live session, returning the session
// cookie and the user.
func (env *testEnv) loginAs(t *testing.T, email, displayName string) (*http.Cookie, users.User) {
	t.Helper()
	user, err := env.users.Upsert(context.Background(), users.Claim{
		Email:       email,
		DisplayName: displayName,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	token, err := env.sessions.Create(context.Background(), sessions.Identity{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}, "provider-access-token", 30*time.Minute)
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: token}, user
}

func (env *testEnv) do(t *testing.T, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}
