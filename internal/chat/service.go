// Package chat implements the append-only chat session/message ledger and
// the ownership check gating every access to it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultTitle names sessions created without an explicit title.
	DefaultTitle = "New Chat"

	// DefaultPageSize and MaxPageSize bound session listing; callers that
	// report pagination math must clamp to the same bounds.
	DefaultPageSize = 20
	MaxPageSize     = 100

	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var (
	// ErrSessionNotFound indicates no chat session exists for the id.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrForbidden indicates the session exists but belongs to another user.
	ErrForbidden = errors.New("chat: not the session owner")

	errMissingDatabase   = errors.New("chat: database handle is required")
	errMissingIDProvider = errors.New("chat: id provider is required")
	errMissingResponder  = errors.New("chat: responder is required")
	errMissingOwnerID    = errors.New("chat: owner user id is required")
	errMissingSessionID  = errors.New("chat: session id is required")
	errMissingContent    = errors.New("chat: message content is required")

	noOpLogger = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "chat.service.new"
	opCreateSession  = "chat.create_session"
	opAppendExchange = "chat.append_exchange"
	opListSessions   = "chat.list_sessions"
	opListMessages   = "chat.list_messages"
	opAuthorize      = "chat.authorize_owner"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for sessions and messages.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the ledger service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Responder  Responder
	Logger     *zap.Logger
}

// Service is the chat session/message ledger.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	responder  Responder
	logger     *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Responder == nil {
		return nil, newServiceError(opServiceNew, "missing_responder", errMissingResponder)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		responder:  cfg.Responder,
		logger:     logger,
	}, nil
}

// CreateSession creates a chat session owned by ownerID. An empty title
// defaults to DefaultTitle.
func (s *Service) CreateSession(ctx context.Context, ownerID, title string) (Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Session{}, newServiceError(opCreateSession, "missing_owner", errMissingOwnerID)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSession, "id_generation_failed", err)
		return Session{}, newServiceError(opCreateSession, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	session := Session{
		ID:            sessionID,
		OwnerUserID:   ownerID,
		Title:         title,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreateSession, "insert_failed", err, zap.String("owner_user_id", ownerID))
		return Session{}, newServiceError(opCreateSession, "insert_failed", err)
	}
	return session, nil
}

// AuthorizeOwner resolves the session and enforces that userID owns it.
// Every read or mutation of a session or its messages goes through this
// check; there is no bypass.
func (s *Service) AuthorizeOwner(ctx context.Context, sessionID, userID string) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, ErrSessionNotFound
	}
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		s.logError(opAuthorize, "select_failed", err, zap.String("chat_session_id", sessionID))
		return Session{}, newServiceError(opAuthorize, "select_failed", err)
	}
	if session.OwnerUserID != userID {
		return Session{}, ErrForbidden
	}
	return session, nil
}

// Exchange is one stored user message and the generated reply that followed it.
type Exchange struct {
	UserMessage      Message
	AssistantMessage Message
}

// AppendExchange appends the user message, invokes the responder, appends
// the reply and stamps the session's last_updated_at, all inside one
// transaction holding a write lock on the session row so concurrent appends
// to the same session are linearized.
func (s *Service) AppendExchange(ctx context.Context, sessionID, content string) (Exchange, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Exchange{}, ErrSessionNotFound
	}
	if strings.TrimSpace(content) == "" {
		return Exchange{}, newServiceError(opAppendExchange, "missing_content", errMissingContent)
	}

	var exchange Exchange
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).
			Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			s.logError(opAppendExchange, "session_select_failed", err, zap.String("chat_session_id", sessionID))
			return newServiceError(opAppendExchange, "session_select_failed", err)
		}

		userMessage, err := s.appendMessage(tx, session.ID, RoleUser, content)
		if err != nil {
			return err
		}

		reply, err := s.responder.Reply(ctx, session, content)
		if err != nil {
			s.logError(opAppendExchange, "reply_failed", err, zap.String("chat_session_id", sessionID))
			return newServiceError(opAppendExchange, "reply_failed", err)
		}

		assistantMessage, err := s.appendMessage(tx, session.ID, RoleAssistant, reply)
		if err != nil {
			return err
		}

		if err := tx.Model(&Session{}).
			Where("id = ?", session.ID).
			Update("last_updated_at", assistantMessage.CreatedAt).Error; err != nil {
			s.logError(opAppendExchange, "stamp_failed", err, zap.String("chat_session_id", sessionID))
			return newServiceError(opAppendExchange, "stamp_failed", err)
		}

		exchange = Exchange{UserMessage: userMessage, AssistantMessage: assistantMessage}
		return nil
	})
	if txErr != nil {
		return Exchange{}, txErr
	}
	return exchange, nil
}

func (s *Service) appendMessage(tx *gorm.DB, sessionID string, role Role, content string) (Message, error) {
	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendExchange, "id_generation_failed", err, zap.String("chat_session_id", sessionID))
		return Message{}, newServiceError(opAppendExchange, "id_generation_failed", err)
	}
	message := Message{
		ID:            messageID,
		ChatSessionID: sessionID,
		AuthorRole:    role,
		Content:       content,
		CreatedAt:     s.clock().UTC(),
	}
	if err := tx.Create(&message).Error; err != nil {
		s.logError(opAppendExchange, "message_insert_failed", err, zap.String("chat_session_id", sessionID))
		return Message{}, newServiceError(opAppendExchange, "message_insert_failed", err)
	}
	return message, nil
}

// ListSessions returns one page of the owner's sessions ordered by
// last_updated_at descending, plus the total count computed independently of
// the page slice.
func (s *Service) ListSessions(ctx context.Context, ownerID string, page, pageSize int) ([]Session, int64, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, 0, newServiceError(opListSessions, "missing_owner", errMissingOwnerID)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Session{}).
		Where("owner_user_id = ?", ownerID).
		Count(&total).Error; err != nil {
		s.logError(opListSessions, "count_failed", err, zap.String("owner_user_id", ownerID))
		return nil, 0, newServiceError(opListSessions, "count_failed", err)
	}

	var sessions []Session
	if err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("last_updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&sessions).Error; err != nil {
		s.logError(opListSessions, "query_failed", err, zap.String("owner_user_id", ownerID))
		return nil, 0, newServiceError(opListSessions, "query_failed", err)
	}

	return sessions, total, nil
}

// ListMessages returns the session's messages ordered newest-first, matching
// the listing endpoint. Callers wanting conversational replay reverse the
// slice. The caller is responsible for the ownership check.
func (s *Service) ListMessages(ctx context.Context, sessionID string, skip, limit int) ([]Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newServiceError(opListMessages, "missing_session", errMissingSessionID)
	}
	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("chat_session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Offset(skip).
		Limit(limit).
		Find(&messages).Error; err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("chat_session_id", sessionID))
		return nil, newServiceError(opListMessages, "query_failed", err)
	}
	return messages, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
}
