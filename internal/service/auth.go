package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
	"github.com/AdityaNittala03/gonews-auth/internal/auth"
	"github.com/AdityaNittala03/gonews-auth/internal/domain"
	"github.com/AdityaNittala03/gonews-auth/internal/event"
	"github.com/AdityaNittala03/gonews-auth/internal/repository"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

const (
	otpLength      = 6
	otpTTL         = 10 * time.Minute
	otpMaxAttempts = 5

	// Resend limiter: at most otpResendMax sends per email+purpose
	// within otpResendWindow.
	otpResendWindow = 15 * time.Minute
	otpResendMax    = 5
)

// AuthService implements the business logic for authentication, OTP flows,
// and profile operations.
type AuthService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	otpRepo          repository.OTPRepository
	jwtManager       *auth.JWTManager
	producer         *event.Producer
	logger           *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	otpRepo repository.OTPRepository,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		otpRepo:          otpRepo,
		jwtManager:       jwtManager,
		producer:         producer,
		logger:           logger,
	}
}

// --- Input types ---

// RegisterInput holds the parameters for starting a registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// UpdateProfileInput holds the parameters for updating a user's profile.
type UpdateProfileInput struct {
	Name        *string
	Phone       *string
	Preferences map[string]string
}

// --- Registration flow ---

// Register starts the registration flow: it stores a pending OTP challenge
// carrying the requested account details and emits an otp_requested event.
// No user row is created until the challenge is verified and completed.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) error {
	if input.Email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if input.Name == "" {
		return apperrors.InvalidInput("name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return err
	}

	if _, err := s.userRepo.GetByEmail(ctx, input.Email); err == nil {
		return apperrors.AlreadyExists("user", "email", input.Email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check existing user: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	pending := &domain.PendingRegistration{
		Name:         input.Name,
		PasswordHash: string(hashedPassword),
	}
	if err := s.issueOTP(ctx, input.Email, domain.OTPPurposeRegistration, pending); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "registration started",
		slog.String("email", input.Email),
	)

	return nil
}

// VerifyRegistrationOTP checks the submitted code and marks the registration
// challenge verified.
func (s *AuthService) VerifyRegistrationOTP(ctx context.Context, email, code string) error {
	_, err := s.verifyOTP(ctx, email, domain.OTPPurposeRegistration, code)
	return err
}

// CompleteRegistration finalizes a verified registration: it creates the user
// row from the pending details, issues a token pair, and removes the challenge.
// It fails unless the challenge has been verified first.
func (s *AuthService) CompleteRegistration(ctx context.Context, email string) (*domain.User, *domain.TokenPair, error) {
	if email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}

	challenge, err := s.otpRepo.GetChallenge(ctx, email, domain.OTPPurposeRegistration)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized("no pending registration for this email")
		}
		return nil, nil, fmt.Errorf("get registration challenge: %w", err)
	}

	if !challenge.Verified {
		return nil, nil, apperrors.Unauthorized("registration has not been verified")
	}
	if challenge.PendingReg == nil {
		return nil, nil, apperrors.Unauthorized("registration challenge is incomplete")
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: challenge.PendingReg.PasswordHash,
		Name:         challenge.PendingReg.Name,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.otpRepo.DeleteChallenge(ctx, email, domain.OTPPurposeRegistration); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete registration challenge",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}

	tokens, err := s.generateTokenPair(ctx, user, false)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, tokens, nil
}

// --- Session operations ---

// Login authenticates a user with email and password, returning tokens.
// RememberMe extends the refresh token lifetime.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	if !user.IsActive {
		return nil, nil, apperrors.Unauthorized("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	tokens, err := s.generateTokenPair(ctx, user, input.RememberMe)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.Bool("remember_me", input.RememberMe),
	)

	return user, tokens, nil
}

// RefreshToken validates a refresh token and rotates it: the presented token
// is revoked and a new pair is issued. Revoked, expired, or unknown tokens
// are rejected.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	tokenHash := hashToken(refreshToken)
	storedToken, err := s.refreshTokenRepo.GetByHash(ctx, tokenHash)
	if err != nil {
		return nil, apperrors.Unauthorized("refresh token not found")
	}

	if storedToken.RevokedAt != nil {
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}

	if time.Now().UTC().After(storedToken.ExpiresAt) {
		return nil, apperrors.Unauthorized("refresh token has expired")
	}

	if err := s.refreshTokenRepo.Revoke(ctx, tokenHash); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke old refresh token",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}

	// Preserve the session kind: a token minted with the extended lifetime
	// gets the extended lifetime again on rotation.
	rememberMe := storedToken.ExpiresAt.Sub(storedToken.CreatedAt) > s.jwtManager.RefreshExpiry(false)

	tokens, err := s.generateTokenPair(ctx, user, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
	)

	return tokens, nil
}

// Logout revokes the presented refresh token. It is idempotent: unknown or
// already-revoked tokens do not produce an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	if err := s.refreshTokenRepo.Revoke(ctx, hashToken(refreshToken)); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke refresh token on logout",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// --- Password reset flow ---

// ForgotPassword starts the password reset flow. It never reveals whether an
// account exists for the email.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		s.logger.InfoContext(ctx, "password reset requested for unknown email",
			slog.String("email", email),
		)
		return nil
	}

	if err := s.issueOTP(ctx, user.Email, domain.OTPPurposePasswordReset, nil); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
	)

	return nil
}

// VerifyPasswordResetOTP checks the submitted code and returns the reset
// token the caller presents at the final reset step. The verified code
// doubles as the reset token.
func (s *AuthService) VerifyPasswordResetOTP(ctx context.Context, email, code string) (string, error) {
	if _, err := s.verifyOTP(ctx, email, domain.OTPPurposePasswordReset, code); err != nil {
		return "", err
	}
	return code, nil
}

// ResetPassword sets a new password for the account after the reset OTP has
// been verified, and revokes every refresh token the user holds.
func (s *AuthService) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if resetToken == "" {
		return apperrors.InvalidInput("reset token is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	challenge, err := s.otpRepo.GetChallenge(ctx, email, domain.OTPPurposePasswordReset)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unauthorized("invalid or expired reset token")
		}
		return fmt.Errorf("get reset challenge: %w", err)
	}

	if !challenge.Verified || challenge.CodeHash != hashToken(resetToken) {
		return apperrors.Unauthorized("invalid or expired reset token")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user for password reset: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.otpRepo.DeleteChallenge(ctx, email, domain.OTPPurposePasswordReset); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete reset challenge",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}

	// Force re-login everywhere.
	if err := s.refreshTokenRepo.RevokeByUserID(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password reset",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishUserPasswordReset(ctx, user.ID, user.Email); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_reset event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// ResendOTP re-sends the code for a pending challenge. Sends are limited per
// email and purpose within a rolling window.
func (s *AuthService) ResendOTP(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if !purpose.Valid() {
		return apperrors.InvalidInput("otp_type must be registration or password_reset")
	}

	challenge, err := s.otpRepo.GetChallenge(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unauthorized("no pending verification for this email")
		}
		return fmt.Errorf("get challenge for resend: %w", err)
	}

	count, err := s.otpRepo.IncrementResend(ctx, email, purpose, otpResendWindow)
	if err != nil {
		return fmt.Errorf("check resend limit: %w", err)
	}
	if count > otpResendMax {
		return apperrors.RateLimited("too many codes requested, try again later")
	}

	// A resend issues a fresh code with a fresh expiry and attempt budget,
	// carrying over any pending registration details.
	if err := s.issueOTP(ctx, email, purpose, challenge.PendingReg); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "otp resent",
		slog.String("email", email),
		slog.String("purpose", string(purpose)),
	)

	return nil
}

// ChangePassword allows an authenticated user to change their password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	// Revoke all existing refresh tokens for this user (force re-login).
	if err := s.refreshTokenRepo.RevokeByUserID(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password change",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// --- Profile operations ---

// GetProfile retrieves a user by their ID.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// UpdateProfile updates a user's profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, apperrors.InvalidInput("name must not be empty")
		}
		user.Name = *input.Name
	}

	if input.Phone != nil {
		user.Phone = *input.Phone
	}

	if input.Preferences != nil {
		user.Preferences = input.Preferences
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	// Publish user updated event (non-blocking on failure).
	if err := s.producer.PublishUserUpdated(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.updated event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user profile updated",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// --- Helpers ---

// issueOTP generates a fresh code, stores the challenge, and emits the
// otp_requested event carrying the plain code for the notification pipeline.
func (s *AuthService) issueOTP(ctx context.Context, email string, purpose domain.OTPPurpose, pending *domain.PendingRegistration) error {
	code, err := generateOTPCode()
	if err != nil {
		return fmt.Errorf("generate otp code: %w", err)
	}

	now := time.Now().UTC()
	challenge := &domain.OTPChallenge{
		Email:      email,
		Purpose:    purpose,
		CodeHash:   hashToken(code),
		Attempts:   0,
		Verified:   false,
		ExpiresAt:  now.Add(otpTTL),
		CreatedAt:  now,
		PendingReg: pending,
	}

	if err := s.otpRepo.SaveChallenge(ctx, challenge, otpTTL); err != nil {
		return fmt.Errorf("save otp challenge: %w", err)
	}

	// Publish the code for delivery (non-blocking on failure: the user can
	// always request a resend).
	if err := s.producer.PublishOTPRequested(ctx, email, purpose, code); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish otp_requested event",
			slog.String("email", email),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// verifyOTP checks the submitted code against the pending challenge. The
// attempt accounting happens atomically in the repository so parallel
// submissions cannot stretch the budget; this layer only maps the sentinels
// onto caller-facing errors.
func (s *AuthService) verifyOTP(ctx context.Context, email string, purpose domain.OTPPurpose, code string) (*domain.OTPChallenge, error) {
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if len(code) != otpLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("code must be %d digits", otpLength))
	}

	challenge, err := s.otpRepo.ConsumeAttempt(ctx, email, purpose, hashToken(code), otpMaxAttempts)
	switch {
	case err == nil:
		return challenge, nil
	case errors.Is(err, apperrors.ErrRateLimited):
		return nil, apperrors.RateLimited("too many incorrect codes, request a new one")
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrUnauthorized):
		return nil, apperrors.Unauthorized("invalid or expired code")
	default:
		return nil, fmt.Errorf("consume otp attempt: %w", err)
	}
}

// generateTokenPair creates an access/refresh token pair and stores the
// refresh token hash.
func (s *AuthService) generateTokenPair(ctx context.Context, user *domain.User, rememberMe bool) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Email, user.IsVerified)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	refreshClaims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("validate refresh token for expiry: %w", err)
	}

	if err := s.refreshTokenRepo.Create(ctx, user.ID, hashToken(refreshToken), refreshClaims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.AccessExpiry().Seconds()),
	}, nil
}

// hashToken returns the SHA256 hex digest of the given token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// generateOTPCode produces a zero-padded 6-digit numeric code.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
