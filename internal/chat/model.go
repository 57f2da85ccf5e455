package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message written by the session owner.
	RoleUser Role = "user"
	// RoleAssistant marks a generated reply.
	RoleAssistant Role = "assistant"
)

// Session is a chat session owned by exactly one user. LastUpdatedAt is
// bumped on every message append and drives listing order.
type Session struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	OwnerUserID   string    `gorm:"column:owner_user_id;size:36;not null;index:idx_chat_sessions_owner_updated,priority:1"`
	Title         string    `gorm:"column:title;size:320;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	LastUpdatedAt time.Time `gorm:"column:last_updated_at;not null;index:idx_chat_sessions_owner_updated,priority:2"`
}

// TableName exposes the table backing chat sessions.
func (Session) TableName() string {
	return "chat_sessions"
}

// Message is one append-only entry in a session's history.
type Message struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	ChatSessionID string    `gorm:"column:chat_session_id;size:36;not null;index:idx_chat_messages_session_time,priority:1"`
	AuthorRole    Role      `gorm:"column:author_role;size:16;not null"`
	Content       string    `gorm:"column:content;type:text;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_chat_messages_session_time,priority:2"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "chat_messages"
}
