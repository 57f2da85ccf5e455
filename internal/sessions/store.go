// Package sessions persists server-side login sessions keyed by the opaque
// token delivered in the session cookie.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const tokenByteLength = 32

var (
	// ErrNotFound indicates no session exists for the presented token.
	ErrNotFound = errors.New("sessions: not found")

	errMissingDatabase = errors.New("sessions: database handle is required")
	errMissingIdentity = errors.New("sessions: identity user id and email are required")
	errInvalidTTL      = errors.New("sessions: ttl must be positive")
)

// StoreConfig describes the dependencies of the session store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store issues, resolves and invalidates session records.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// Create issues a fresh opaque token and stores the session record with an
// absolute expiry of now+ttl. The returned token is the cookie value.
func (s *Store) Create(ctx context.Context, identity Identity, accessToken string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.UserID) == "" || strings.TrimSpace(identity.Email) == "" {
		return "", errMissingIdentity
	}
	if ttl <= 0 {
		return "", errInvalidTTL
	}

	now := s.clock().UTC()
	record := Record{
		Token:       newToken(),
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Subject:     identity.Subject,
		AccessToken: accessToken,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("sessions: create: %w", err)
	}
	return record.Token, nil
}

// Get resolves the token to its stored record. Expiry is not enforced here;
// callers compare Record.ExpiresAt against their clock.
func (s *Store) Get(ctx context.Context, token string) (Record, error) {
	if strings.TrimSpace(token) == "" {
		return Record{}, ErrNotFound
	}
	var record Record
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("sessions: get: %w", err)
	}
	return record, nil
}

// Invalidate removes the record for the token. Invalidating an absent token
// is a no-op, which keeps concurrent expiry handling idempotent.
func (s *Store) Invalidate(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("sessions: invalidate: %w", err)
	}
	return nil
}

func newToken() string {
	buf := make([]byte, tokenByteLength)
	rand.Read(buf) //nolint:errcheck
	return base64.RawURLEncoding.EncodeToString(buf)
}
