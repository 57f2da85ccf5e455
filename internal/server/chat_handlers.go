package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/parley-labs/parley/backend/internal/chat"
	"go.uber.org/zap"
)

type createChatSessionRequest struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateChatSession(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var request createChatSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	chatSession, err := h.chat.CreateSession(c.Request.Context(), principal.UserID, request.Title)
	if err != nil {
		h.logger.Error("chat session creation failed", zap.Error(err), zap.String("user_id", principal.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": chatSession.ID,
		"title":      chatSession.Title,
		"created_at": chatSession.CreatedAt,
	})
}

func (h *httpHandler) handleListChatMessages(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.chat.AuthorizeOwner(c.Request.Context(), sessionID, principal.UserID); err != nil {
		h.respondChatError(c, err)
		return
	}

	skip := nonNegativeQueryInt(c, "skip", 0)
	limit := nonNegativeQueryInt(c, "limit", 50)
	messages, err := h.chat.ListMessages(c.Request.Context(), sessionID, skip, limit)
	if err != nil {
		h.respondChatError(c, err)
		return
	}

	messagePayloads := make([]gin.H, 0, len(messages))
	for _, message := range messages {
		messagePayloads = append(messagePayloads, gin.H{
			"id":        message.ID,
			"role":      message.AuthorRole,
			"content":   message.Content,
			"timestamp": message.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"order":      "newest_first",
		"messages":   messagePayloads,
	})
}

type sendChatMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *httpHandler) handleSendChatMessage(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var request sendChatMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.chat.AuthorizeOwner(c.Request.Context(), sessionID, principal.UserID); err != nil {
		h.respondChatError(c, err)
		return
	}

	exchange, err := h.chat.AppendExchange(c.Request.Context(), sessionID, request.Message)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	h.metrics.RecordMessageAppended()

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"message":    exchange.UserMessage.Content,
		"response":   exchange.AssistantMessage.Content,
		"timestamp":  exchange.UserMessage.CreatedAt,
	})
}

func (h *httpHandler) respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("chat operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func nonNegativeQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
