// Package users maintains the directory of known users, keyed by email and
// refreshed on every successful login.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidClaim indicates the login claim carried no usable email.
	ErrInvalidClaim = errors.New("users: claim email required")
	// ErrNotFound indicates no directory user exists for the identifier.
	ErrNotFound = errors.New("users: not found")

	errMissingDatabase = errors.New("users: database handle is required")
)

// Claim is the identity input to an upsert.
type Claim struct {
	Subject     string
	Email       string
	DisplayName string
}

// DirectoryConfig describes the dependencies for the user directory.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Directory upserts and resolves directory users.
type Directory struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewDirectory constructs a Directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Upsert resolves the claim to a directory user, creating the user on first
// login. Display name and subject id are only overwritten with non-empty
// values; last_login_at is stamped on every call.
func (d *Directory) Upsert(ctx context.Context, claim Claim) (User, error) {
	email := strings.TrimSpace(claim.Email)
	if email == "" {
		return User{}, ErrInvalidClaim
	}
	displayName := strings.TrimSpace(claim.DisplayName)
	subject := strings.TrimSpace(claim.Subject)
	now := d.clock().UTC()

	var user User
	err := d.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			LastLoginAt: now,
		}
		if subject != "" {
			user.SubjectID = &subject
		}
		if err := d.db.WithContext(ctx).Create(&user).Error; err != nil {
			return User{}, fmt.Errorf("users: create: %w", err)
		}
		d.logger.Info("user created", zap.String("user_id", user.ID))
		return user, nil
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup: %w", err)
	}

	updates := map[string]interface{}{"last_login_at": now}
	if displayName != "" && displayName != user.DisplayName {
		updates["display_name"] = displayName
		user.DisplayName = displayName
	}
	if subject != "" && (user.SubjectID == nil || *user.SubjectID != subject) {
		updates["subject_id"] = subject
		user.SubjectID = &subject
	}
	if err := d.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	user.LastLoginAt = now
	return user, nil
}

// GetByID resolves a directory user by its identifier.
func (d *Directory) GetByID(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrNotFound
	}
	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return user, nil
}

// AcknowledgeTraining stamps the user's training acknowledgment. Repeated
// acknowledgments keep the earliest stamp.
func (d *Directory) AcknowledgeTraining(ctx context.Context, userID string) (User, error) {
	user, err := d.GetByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.TrainingAcknowledgedAt != nil {
		return user, nil
	}
	now := d.clock().UTC()
	if err := d.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", user.ID).
		Update("training_acknowledged_at", now).Error; err != nil {
		return User{}, fmt.Errorf("users: acknowledge training: %w", err)
	}
	user.TrainingAcknowledgedAt = &now
	return user, nil
}
