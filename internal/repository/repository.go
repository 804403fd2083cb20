package repository

import (
	"context"
	"time"

	"github.com/AdityaNittala03/gonews-auth/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user from the store by their identifier.
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository defines the interface for refresh token persistence operations.
type RefreshTokenRepository interface {
	// Create stores a new refresh token hash.
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// GetByHash retrieves a refresh token record by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Revoke revokes a specific refresh token by its hash.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeByUserID revokes all refresh tokens for the given user.
	RevokeByUserID(ctx context.Context, userID string) error
}

// OTPRepository defines the interface for OTP challenge persistence.
// Challenges are keyed by (email, purpose) and expire automatically.
type OTPRepository interface {
	// SaveChallenge stores a challenge with the given time-to-live,
	// replacing any existing challenge for the same email and purpose.
	SaveChallenge(ctx context.Context, challenge *domain.OTPChallenge, ttl time.Duration) error

	// GetChallenge retrieves the pending challenge for the email and purpose.
	GetChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error)

	// ConsumeAttempt atomically checks codeHash against the pending
	// challenge: a mismatch burns one attempt (ErrUnauthorized), the
	// challenge is deleted once maxAttempts is reached (ErrRateLimited),
	// and a match marks it verified and returns it. Missing or expired
	// challenges yield ErrNotFound. Implementations must make the
	// read-check-write atomic so concurrent submissions cannot stretch
	// the attempt budget.
	ConsumeAttempt(ctx context.Context, email string, purpose domain.OTPPurpose, codeHash string, maxAttempts int) (*domain.OTPChallenge, error)

	// DeleteChallenge removes the challenge for the email and purpose.
	DeleteChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) error

	// IncrementResend bumps the resend counter for the email and purpose
	// within the given window, returning the new count.
	IncrementResend(ctx context.Context, email string, purpose domain.OTPPurpose, window time.Duration) (int64, error)
}
