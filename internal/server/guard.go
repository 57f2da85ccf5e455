package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parley-labs/parley/backend/internal/sessions"
	"go.uber.org/zap"
)

const principalContextKey = "parley_principal"

// Principal is the authenticated identity exposed to guarded handlers.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
}

// requireSession is the single authorization gate for "is there a logged-in
// user". Browser routes are redirected to login on failure; API routes get a
// 401 JSON body. Failure is fail-closed: store errors and incomplete records
// count as unauthenticated, and an expired session is invalidated on sight.
func (h *httpHandler) requireSession(api bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := h.resolveSession(c)
		if !ok {
			h.metrics.RecordGuardRedirect()
			if api {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
			c.Redirect(http.StatusSeeOther, loginPath)
			c.Abort()
			return
		}
		c.Set(principalContextKey, principal)
		c.Next()
	}
}

func (h *httpHandler) resolveSession(c *gin.Context) (Principal, bool) {
	cookie, err := c.Request.Cookie(h.cookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, false
	}

	record, err := h.sessions.Get(c.Request.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, sessions.ErrNotFound) {
			h.logger.Warn("session lookup failed", zap.Error(err))
		}
		return Principal{}, false
	}

	if record.ExpiredAt(h.clock()) {
		if err := h.sessions.Invalidate(c.Request.Context(), cookie.Value); err != nil {
			h.logger.Warn("expired session invalidation failed", zap.Error(err))
		}
		h.clearSessionCookie(c)
		return Principal{}, false
	}

	if record.UserID == "" || record.Email == "" {
		return Principal{}, false
	}

	return Principal{
		UserID:      record.UserID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
	}, true
}

func currentPrincipal(c *gin.Context) (Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
