// Package server wires the HTTP surface: the auth endpoints, the session
// guard, and the guarded chat and training routes.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parley-labs/parley/backend/internal/chat"
	"github.com/parley-labs/parley/backend/internal/identity"
	"github.com/parley-labs/parley/backend/internal/metrics"
	"github.com/parley-labs/parley/backend/internal/sessions"
	"github.com/parley-labs/parley/backend/internal/users"
	"go.uber.org/zap"
)

const (
	loginPath = "/auth/login"

	defaultCookieName = "parley_session"
	defaultSessionTTL = 30 * time.Minute
)

var (
	errMissingIdentityClient = errors.New("identity client dependency required")
	errMissingSessionStore   = errors.New("session store dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
	errMissingChatService    = errors.New("chat service dependency required")
)

// Dependencies carries every collaborator consumed by the HTTP layer. All
// handles are constructed once at process start; there are no ambient
// singletons.
type Dependencies struct {
	Identity   *identity.Client
	Sessions   *sessions.Store
	Users      *users.Directory
	Chat       *chat.Service
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	CookieName string
	SessionTTL time.Duration
	Clock      func() time.Time
}

// NewHTTPHandler assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identity == nil {
		return nil, errMissingIdentityClient
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionStore
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Chat == nil {
		return nil, errMissingChatService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	cookieName := deps.CookieName
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	handler := &httpHandler{
		identity:     deps.Identity,
		sessions:     deps.Sessions,
		users:        deps.Users,
		chat:         deps.Chat,
		logger:       logger,
		metrics:      collector,
		cookieName:   cookieName,
		sessionTTL:   sessionTTL,
		clock:        clock,
		loginLimiter: newClientLimiter(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.observeRequest)

	router.GET("/metrics", gin.WrapH(collector.Handler()))

	router.GET("/auth/login", handler.handleLogin)
	router.GET("/auth/callback", handler.handleCallback)
	router.GET("/auth/logout", handler.handleLogout)

	browser := router.Group("/")
	browser.Use(handler.requireSession(false))
	browser.GET("/", handler.handleHome)

	api := router.Group("/")
	api.Use(handler.requireSession(true))
	api.POST("/chat/sessions/new", handler.handleCreateChatSession)
	api.GET("/chat/sessions/:id/messages", handler.handleListChatMessages)
	api.POST("/chat/sessions/:id/message", handler.handleSendChatMessage)
	api.PUT("/training/acknowledge", handler.handleAcknowledgeTraining)

	return router, nil
}

type httpHandler struct {
	identity     *identity.Client
	sessions     *sessions.Store
	users        *users.Directory
	chat         *chat.Service
	logger       *zap.Logger
	metrics      metrics.Recorder
	cookieName   string
	sessionTTL   time.Duration
	clock        func() time.Time
	loginLimiter *clientLimiter
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.metrics.RecordHTTPStatus(c.Writer.Status())
	h.metrics.RecordRequestLatency(time.Since(start))
}
