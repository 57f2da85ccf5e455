package users

import "time"

// User is the directory record upserted on every successful login. Email is
// the canonical key; SubjectID is a secondary unique key supplied by the
// identity provider (nullable so users predating subject capture stay valid).
type User struct {
	ID                     string     `gorm:"column:id;primaryKey;size:36;not null"`
	Email                  string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName            string     `gorm:"column:display_name;size:320"`
	SubjectID              *string    `gorm:"column:subject_id;size:190;uniqueIndex"`
	LastLoginAt            time.Time  `gorm:"column:last_login_at;not null"`
	TrainingAcknowledgedAt *time.Time `gorm:"column:training_acknowledged_at"`
	CreatedAt              time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing directory users.
func (User) TableName() string {
	return "users"
}

// TrainingAcknowledged reports whether the user has acknowledged training.
func (u User) TrainingAcknowledged() bool {
	return u.TrainingAcknowledgedAt != nil
}
