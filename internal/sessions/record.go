package sessions

import "time"

// Identity is the claim subset held in a session record, resolved to a
// directory user at login time.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Subject     string
}

// Record is a server-held session, looked up by its opaque cookie token.
// ExpiresAt is computed once at creation and never extended.
type Record struct {
	Token       string    `gorm:"column:token;primaryKey;size:64;not null"`
	UserID      string    `gorm:"column:user_id;size:36;not null;index"`
	Email       string    `gorm:"column:email;size:320;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Subject     string    `gorm:"column:subject;size:190"`
	AccessToken string    `gorm:"column:access_token;type:text"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing session records.
func (Record) TableName() string {
	return "auth_sessions"
}

// Identity returns the identity fields stored at creation.
func (r Record) Identity() Identity {
	return Identity{
		UserID:      r.UserID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Subject:     r.Subject,
	}
}

// ExpiredAt reports whether the record is expired at the given instant.
func (r Record) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
