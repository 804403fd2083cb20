package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
)

// defaultRefreshThreshold is how close to expiry an access token may get
// before AccessToken refreshes it proactively.
const defaultRefreshThreshold = 30 * time.Second

// ErrRefreshFailed is returned when the stored refresh token could not be
// exchanged for a new pair. The session has been cleared by the time callers
// see it.
var ErrRefreshFailed = errors.New("token refresh failed")

// TokenRefresher exchanges the stored refresh token for a fresh token pair
// when the access token nears expiry. Refreshes are serialized: concurrent
// callers share a single in-flight exchange instead of racing the backend
// with the same single-use refresh token.
type TokenRefresher struct {
	api       *Client
	store     TokenStore
	threshold time.Duration
	logger    *slog.Logger

	mu sync.Mutex
}

// RefresherOption configures a TokenRefresher.
type RefresherOption func(*TokenRefresher)

// WithRefreshThreshold sets how close to expiry a token may get before it is
// refreshed proactively.
func WithRefreshThreshold(d time.Duration) RefresherOption {
	return func(r *TokenRefresher) { r.threshold = d }
}

// WithRefresherLogger sets the refresher's logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *TokenRefresher) { r.logger = logger }
}

// NewTokenRefresher creates a refresher over the given API client and store.
func NewTokenRefresher(api *Client, store TokenStore, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		api:       api,
		store:     store,
		threshold: defaultRefreshThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AccessToken returns a usable access token, refreshing it first if it is
// expired or about to expire. If no session exists it returns ErrNoSession.
// If the refresh fails the stored pair is cleared and ErrRefreshFailed is
// returned: the session cannot be recovered without a new login.
func (r *TokenRefresher) AccessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Tokens()
	if err != nil {
		return "", err
	}

	if time.Until(rec.ExpiresAt) > r.threshold {
		return rec.AccessToken, nil
	}

	if err := r.refreshLocked(ctx, rec.RefreshToken); err != nil {
		// The pair is unusable. Clear it so the session invariant holds:
		// stored tokens exist only while they can authenticate requests.
		if clearErr := r.store.ClearTokens(); clearErr != nil {
			r.logger.Error("failed to clear tokens after refresh failure",
				slog.String("error", clearErr.Error()),
			)
		}
		return "", errors.Join(ErrRefreshFailed, err)
	}

	rec, err = r.store.Tokens()
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// Refresh forces a token exchange with the stored refresh token, storing the
// new pair on success. Existing tokens are left untouched on failure.
func (r *TokenRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Tokens()
	if err != nil {
		return err
	}
	return r.refreshLocked(ctx, rec.RefreshToken)
}

// refreshLocked performs the exchange. Callers must hold r.mu. An empty
// refresh token fails immediately without a network call.
func (r *TokenRefresher) refreshLocked(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.Unauthorized("no refresh token available")
	}

	grant, err := r.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("exchange refresh token: %w", err)
	}

	if err := r.store.StoreTokens(grant.AccessToken, grant.RefreshToken, time.Duration(grant.ExpiresIn)*time.Second); err != nil {
		return fmt.Errorf("store refreshed tokens: %w", err)
	}

	r.logger.Debug("access token refreshed",
		slog.Time("expires_at", grant.expiresAt(time.Now())),
	)
	return nil
}
