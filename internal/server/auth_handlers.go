package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/parley-labs/parley/backend/internal/chat"
	"github.com/parley-labs/parley/backend/internal/identity"
	"github.com/parley-labs/parley/backend/internal/sessions"
	"github.com/parley-labs/parley/backend/internal/users"
	"go.uber.org/zap"
)

func (h *httpHandler) handleLogin(c *gin.Context) {
	if _, ok := h.resolveSession(c); ok {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	if !h.loginLimiter.allow(c.ClientIP()) {
		h.metrics.RecordLoginFailure("rate_limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
		return
	}

	redirectURL, err := h.identity.BeginLogin()
	if err != nil {
		h.logger.Error("failed to begin login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_unavailable"})
		return
	}
	c.Redirect(http.StatusSeeOther, redirectURL)
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	if providerError := c.Query("error"); providerError != "" {
		h.metrics.RecordLoginFailure("provider_denied")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "authentication_failed",
			"detail": providerError,
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		h.metrics.RecordLoginFailure("missing_code")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_authorization_code"})
		return
	}

	if !h.identity.ConsumeState(c.Query("state")) {
		h.metrics.RecordLoginFailure("invalid_state")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}

	claim, providerToken, err := h.identity.CompleteLogin(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, identity.ErrIncompleteProfile) {
			h.metrics.RecordLoginFailure("incomplete_profile")
			c.JSON(http.StatusBadRequest, gin.H{"error": "incomplete_profile"})
			return
		}
		h.metrics.RecordLoginFailure("provider_error")
		h.logger.Error("identity provider call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "detail": err.Error()})
		return
	}

	user, err := h.users.Upsert(c.Request.Context(), users.Claim{
		Subject:     claim.Subject,
		Email:       claim.Email,
		DisplayName: claim.DisplayName,
	})
	if err != nil {
		h.metrics.RecordLoginFailure("directory_error")
		h.logger.Error("user upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	ttl := h.sessionTTL
	if providerToken.TTL > 0 && providerToken.TTL < ttl {
		ttl = providerToken.TTL
	}

	token, err := h.sessions.Create(c.Request.Context(), sessions.Identity{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Subject:     claim.Subject,
	}, providerToken.AccessToken, ttl)
	if err != nil {
		h.metrics.RecordLoginFailure("session_store_error")
		h.logger.Error("session creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.setSessionCookie(c, token, int(ttl.Seconds()))
	h.metrics.RecordLoginSuccess()
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if cookie, err := c.Request.Cookie(h.cookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Invalidate(c.Request.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout invalidation failed", zap.Error(err))
		}
	}
	h.clearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, loginPath)
}

func (h *httpHandler) handleHome(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), principal.UserID)
	if errors.Is(err, users.ErrNotFound) {
		// Session points at a user that no longer exists; fail closed.
		if cookie, cookieErr := c.Request.Cookie(h.cookieName); cookieErr == nil && cookie.Value != "" {
			if invalidateErr := h.sessions.Invalidate(c.Request.Context(), cookie.Value); invalidateErr != nil {
				h.logger.Warn("orphaned session invalidation failed", zap.Error(invalidateErr))
			}
		}
		h.clearSessionCookie(c)
		c.Redirect(http.StatusSeeOther, loginPath)
		return
	}
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err), zap.String("user_id", principal.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", chat.DefaultPageSize)
	if pageSize > chat.MaxPageSize {
		pageSize = chat.MaxPageSize
	}
	chatSessions, total, err := h.chat.ListSessions(c.Request.Context(), principal.UserID, page, pageSize)
	if err != nil {
		h.logger.Error("session listing failed", zap.Error(err), zap.String("user_id", principal.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	sessionPayloads := make([]gin.H, 0, len(chatSessions))
	for _, chatSession := range chatSessions {
		sessionPayloads = append(sessionPayloads, gin.H{
			"id":           chatSession.ID,
			"title":        chatSession.Title,
			"created_at":   chatSession.CreatedAt,
			"last_updated": chatSession.LastUpdatedAt,
		})
	}

	greetingName := user.DisplayName
	if greetingName == "" {
		greetingName = user.Email
	}

	c.JSON(http.StatusOK, gin.H{
		"greeting": "Welcome back, " + greetingName,
		"user": gin.H{
			"id":                    user.ID,
			"email":                 user.Email,
			"display_name":          user.DisplayName,
			"training_acknowledged": user.TrainingAcknowledged(),
		},
		"sessions":    sessionPayloads,
		"page":        page,
		"page_size":   pageSize,
		"total":       total,
		"total_pages": totalPages(total, pageSize),
	})
}

func (h *httpHandler) handleAcknowledgeTraining(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	user, err := h.users.AcknowledgeTraining(c.Request.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("training acknowledgment failed", zap.Error(err), zap.String("user_id", principal.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Training acknowledged",
		"acknowledged_at": user.TrainingAcknowledgedAt,
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func totalPages(total int64, pageSize int) int64 {
	if pageSize < 1 {
		return 0
	}
	return int64(math.Ceil(float64(total) / float64(pageSize)))
}
