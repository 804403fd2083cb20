package domain

import (
	"time"
)

// User represents a registered user in the system.
type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Name         string            `json:"name"`
	Phone        string            `json:"phone,omitempty"`
	IsVerified   bool              `json:"is_verified"`
	IsActive     bool              `json:"is_active"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RefreshToken represents a stored refresh token for a user session.
// Tokens are single use: a successful refresh revokes the old row and
// issues a replacement.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// TokenPair holds an access and refresh token pair together with the
// access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
