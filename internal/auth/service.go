package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = errors.New("auth: bad credentials")
	ErrRevoked        = errors.New("auth: refresh token revoked or unknown")
)

// TokenStore persists devices and refresh tokens.
type TokenStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes token and reports whether it was live.
	ConsumeRefreshToken(ctx context.Context, token string) (bool, error)
}

// Service issues tokens to devices and staff.
type Service struct {
	iss       *Issuer
	store     TokenStore
	staffUser string
	staffHash []byte
}

// NewService creates a service. staffHash is a bcrypt hash; empty disables
// staff login.
func NewService(iss *Issuer, store TokenStore, staffUser, staffHash string) *Service {
	return &Service{iss: iss, store: store, staffUser: staffUser, staffHash: []byte(staffHash)}
}

// RegisterDevice records a kiosk and issues its tokens.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) (TokenPair, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return TokenPair{}, errors.New("device id required")
	}
	if err := s.store.UpsertDevice(ctx, deviceID); err != nil {
		return TokenPair{}, err
	}
	return s.issue(ctx, deviceID, RoleDevice)
}

// StaffLogin checks the password against the configured bcrypt hash.
func (s *Service) StaffLogin(ctx context.Context, username, password string) (TokenPair, error) {
	if len(s.staffHash) == 0 {
		return TokenPair{}, ErrBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.staffUser)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passErr := bcrypt.CompareHashAndPassword(s.staffHash, []byte(password))
	if !userOK || passErr != nil {
		return TokenPair{}, ErrBadCredentials
	}
	return s.issue(ctx, username, RoleStaff)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.iss.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	live, err := s.store.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if !live {
		return TokenPair{}, ErrRevoked
	}
	return s.issue(ctx, claims.Subject, claims.Role)
}

func (s *Service) issue(ctx context.Context, subject, role string) (TokenPair, error) {
	pair, err := s.iss.Issue(subject, role)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, subject, pair.RefreshToken, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// HashPassword produces a bcrypt hash for STAFF_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}

// Repository persists devices and refresh tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live token in one statement.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
