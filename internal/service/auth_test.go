package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
	pkgkafka "github.com/AdityaNittala03/gonews-auth/pkg/kafka"
	"github.com/AdityaNittala03/gonews-auth/internal/auth"
	"github.com/AdityaNittala03/gonews-auth/internal/domain"
	"github.com/AdityaNittala03/gonews-auth/internal/event"
	redisrepo "github.com/AdityaNittala03/gonews-auth/internal/repository/redis"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// --- Mock OTP Repository ---

type mockOTPRepository struct {
	mock.Mock
}

func (m *mockOTPRepository) SaveChallenge(ctx context.Context, challenge *domain.OTPChallenge, ttl time.Duration) error {
	args := m.Called(ctx, challenge, ttl)
	return args.Error(0)
}

func (m *mockOTPRepository) GetChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	args := m.Called(ctx, email, purpose)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OTPChallenge), args.Error(1)
}

func (m *mockOTPRepository) ConsumeAttempt(ctx context.Context, email string, purpose domain.OTPPurpose, codeHash string, maxAttempts int) (*domain.OTPChallenge, error) {
	args := m.Called(ctx, email, purpose, codeHash, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OTPChallenge), args.Error(1)
}

func (m *mockOTPRepository) DeleteChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	args := m.Called(ctx, email, purpose)
	return args.Error(0)
}

func (m *mockOTPRepository) IncrementResend(ctx context.Context, email string, purpose domain.OTPPurpose, window time.Duration) (int64, error) {
	args := m.Called(ctx, email, purpose, window)
	return args.Get(0).(int64), args.Error(1)
}

// --- Stub Kafka Publisher ---

type publishedEvent struct {
	topic string
	event *pkgkafka.Event
}

type stubPublisher struct {
	events []publishedEvent
}

func (p *stubPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return nil
}

// lastOTPCode extracts the plain code from the most recent otp_requested event.
func (p *stubPublisher) lastOTPCode(t *testing.T) string {
	t.Helper()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].topic == event.TopicOTPRequested {
			var data event.OTPRequestedData
			require.NoError(t, p.events[i].event.UnmarshalData(&data))
			return data.Code
		}
	}
	t.Fatal("no otp_requested event published")
	return ""
}

// --- Fixture ---

type fixture struct {
	svc       *AuthService
	userRepo  *mockUserRepository
	tokenRepo *mockRefreshTokenRepository
	otpRepo   *mockOTPRepository
	pub       *stubPublisher
	jwt       *auth.JWTManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userRepo := &mockUserRepository{}
	tokenRepo := &mockRefreshTokenRepository{}
	otpRepo := &mockOTPRepository{}
	pub := &stubPublisher{}
	jwtManager := auth.NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour, 30*24*time.Hour)
	producer := event.NewProducer(pub, logger)

	return &fixture{
		svc:       NewAuthService(userRepo, tokenRepo, otpRepo, jwtManager, producer, logger),
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		otpRepo:   otpRepo,
		pub:       pub,
		jwt:       jwtManager,
	}
}

func hashedPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func activeUser(t *testing.T, password string) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:           "u-1",
		Email:        "alice@gonews.com",
		PasswordHash: hashedPassword(t, password),
		Name:         "Alice Smith",
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// --- Registration flow ---

func TestRegister_StartsChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var saved *domain.OTPChallenge
	f.userRepo.On("GetByEmail", ctx, "alice@gonews.com").Return(nil, apperrors.ErrNotFound)
	f.otpRepo.On("SaveChallenge", ctx, mock.AnythingOfType("*domain.OTPChallenge"), 10*time.Minute).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*domain.OTPChallenge)
		}).
		Return(nil)

	err := f.svc.Register(ctx, RegisterInput{
		Name:     "Alice Smith",
		Email:    "alice@gonews.com",
		Password: "Password1",
	})
	require.NoError(t, err)

	require.NotNil(t, saved)
	assert.Equal(t, domain.OTPPurposeRegistration, saved.Purpose)
	assert.False(t, saved.Verified)
	require.NotNil(t, saved.PendingReg)
	assert.Equal(t, "Alice Smith", saved.PendingReg.Name)
	assert.NotEmpty(t, saved.PendingReg.PasswordHash)
	assert.NotEqual(t, "Password1", saved.PendingReg.PasswordHash)

	// The published code must hash to the stored challenge hash.
	code := f.pub.lastOTPCode(t)
	assert.Len(t, code, 6)
	assert.Equal(t, saved.CodeHash, hashToken(code))

	// No user row yet.
	f.userRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.userRepo.On("GetByEmail", ctx, "alice@gonews.com").Return(activeUser(t, "Password1"), nil)

	err := f.svc.Register(ctx, RegisterInput{
		Name:     "Alice Smith",
		Email:    "alice@gonews.com",
		Password: "Password1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Alice",
		Email:    "alice@gonews.com",
		Password: "short",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestVerifyRegistrationOTP_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := "123456"
	challenge := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposeRegistration,
		CodeHash:  hashToken(code),
		Verified:  true,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("ConsumeAttempt", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, hashToken(code), otpMaxAttempts).
		Return(challenge, nil)

	err := f.svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", code)
	require.NoError(t, err)
}

func TestVerifyRegistrationOTP_WrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.otpRepo.On("ConsumeAttempt", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, hashToken("654321"), otpMaxAttempts).
		Return(nil, apperrors.ErrUnauthorized)

	err := f.svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "654321")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestVerifyRegistrationOTP_AttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.otpRepo.On("ConsumeAttempt", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, hashToken("654321"), otpMaxAttempts).
		Return(nil, apperrors.ErrRateLimited)

	err := f.svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "654321")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
}

func TestVerifyRegistrationOTP_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An expired or missing challenge surfaces as the same uniform message
	// a wrong code gets.
	f.otpRepo.On("ConsumeAttempt", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, hashToken("123456"), otpMaxAttempts).
		Return(nil, apperrors.ErrNotFound)

	err := f.svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

// Walks the attempt budget against the real Redis-backed store: four wrong
// codes are tolerated, the fifth deletes the challenge, and the correct code
// is useless afterwards.
func TestVerifyRegistrationOTP_AttemptCapEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	otpRepo := redisrepo.NewOTPRepository(rdb)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtManager := auth.NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour, 30*24*time.Hour)
	svc := NewAuthService(&mockUserRepository{}, &mockRefreshTokenRepository{}, otpRepo, jwtManager, event.NewProducer(&stubPublisher{}, logger), logger)

	ctx := context.Background()
	now := time.Now().UTC()
	challenge := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposeRegistration,
		CodeHash:  hashToken("123456"),
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, otpRepo.SaveChallenge(ctx, challenge, 10*time.Minute))

	for i := 0; i < otpMaxAttempts-1; i++ {
		err := svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "000000")
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}

	err := svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "000000")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	err = svc.VerifyRegistrationOTP(ctx, "alice@gonews.com", "123456")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCompleteRegistration_RequiresVerifiedChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenge := &domain.OTPChallenge{
		Email:      "alice@gonews.com",
		Purpose:    domain.OTPPurposeRegistration,
		CodeHash:   hashToken("123456"),
		Verified:   false,
		ExpiresAt:  time.Now().UTC().Add(5 * time.Minute),
		PendingReg: &domain.PendingRegistration{Name: "Alice", PasswordHash: "h"},
	}

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(challenge, nil)

	user, tokens, err := f.svc.CompleteRegistration(ctx, "alice@gonews.com")
	assert.Nil(t, user)
	assert.Nil(t, tokens)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	f.userRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCompleteRegistration_NoChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(nil, apperrors.ErrNotFound)

	_, _, err := f.svc.CompleteRegistration(ctx, "alice@gonews.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestCompleteRegistration_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenge := &domain.OTPChallenge{
		Email:      "alice@gonews.com",
		Purpose:    domain.OTPPurposeRegistration,
		CodeHash:   hashToken("123456"),
		Verified:   true,
		ExpiresAt:  time.Now().UTC().Add(5 * time.Minute),
		PendingReg: &domain.PendingRegistration{Name: "Alice Smith", PasswordHash: hashedPassword(t, "Password1")},
	}

	var created *domain.User
	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(challenge, nil)
	f.userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.User)
		}).
		Return(nil)
	f.otpRepo.On("DeleteChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(nil)
	f.tokenRepo.On("Create", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	user, tokens, err := f.svc.CompleteRegistration(ctx, "alice@gonews.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, tokens)

	assert.Equal(t, "alice@gonews.com", user.Email)
	assert.Equal(t, "Alice Smith", user.Name)
	assert.True(t, user.IsVerified)
	assert.True(t, user.IsActive)
	require.NotNil(t, created)
	assert.Equal(t, created.ID, user.ID)

	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, int64(900), tokens.ExpiresIn)

	claims, err := f.jwt.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.True(t, claims.IsVerified)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	f.tokenRepo.On("Create", ctx, u.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	user, tokens, err := f.svc.Login(ctx, LoginInput{Email: u.Email, Password: "Password1"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	u.Email = "demo@gonews.com"
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)

	user, tokens, err := f.svc.Login(ctx, LoginInput{Email: u.Email, Password: "WrongPass1"})
	assert.Nil(t, user)
	assert.Nil(t, tokens)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.userRepo.On("GetByEmail", ctx, "nobody@gonews.com").Return(nil, apperrors.ErrNotFound)

	_, _, err := f.svc.Login(ctx, LoginInput{Email: "nobody@gonews.com", Password: "Password1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	u.IsActive = false
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)

	_, _, err := f.svc.Login(ctx, LoginInput{Email: u.Email, Password: "Password1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestLogin_RememberMeExtendsRefreshLifetime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	var storedExpiry time.Time
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	f.tokenRepo.On("Create", ctx, u.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			storedExpiry = args.Get(3).(time.Time)
		}).
		Return(nil)

	_, _, err := f.svc.Login(ctx, LoginInput{Email: u.Email, Password: "Password1", RememberMe: true})
	require.NoError(t, err)

	// Extended sessions outlive the 7 day default noticeably.
	assert.True(t, storedExpiry.After(time.Now().UTC().Add(20*24*time.Hour)))
}

// --- Refresh / logout ---

func TestRefreshToken_RotatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	refresh, err := f.jwt.GenerateRefreshToken(u.ID, false)
	require.NoError(t, err)

	now := time.Now().UTC()
	stored := &domain.RefreshToken{
		ID:        "rt-1",
		UserID:    u.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
	}

	f.tokenRepo.On("GetByHash", ctx, hashToken(refresh)).Return(stored, nil)
	f.tokenRepo.On("Revoke", ctx, hashToken(refresh)).Return(nil)
	f.userRepo.On("GetByID", ctx, u.ID).Return(u, nil)
	f.tokenRepo.On("Create", ctx, u.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	tokens, err := f.svc.RefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEqual(t, refresh, tokens.RefreshToken)
	f.tokenRepo.AssertCalled(t, "Revoke", ctx, hashToken(refresh))
}

func TestRefreshToken_Revoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh, err := f.jwt.GenerateRefreshToken("u-1", false)
	require.NoError(t, err)

	now := time.Now().UTC()
	revokedAt := now.Add(-time.Hour)
	stored := &domain.RefreshToken{
		ID:        "rt-1",
		UserID:    "u-1",
		TokenHash: hashToken(refresh),
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now.Add(-48 * time.Hour),
		RevokedAt: &revokedAt,
	}

	f.tokenRepo.On("GetByHash", ctx, hashToken(refresh)).Return(stored, nil)

	_, err = f.svc.RefreshToken(ctx, refresh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestRefreshToken_Unknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh, err := f.jwt.GenerateRefreshToken("u-1", false)
	require.NoError(t, err)

	f.tokenRepo.On("GetByHash", ctx, hashToken(refresh)).Return(nil, apperrors.ErrNotFound)

	_, err = f.svc.RefreshToken(ctx, refresh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestRefreshToken_Garbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RefreshToken(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.tokenRepo.On("Revoke", ctx, mock.AnythingOfType("string")).Return(errors.New("not found"))

	// Revocation failures are swallowed; logout always succeeds.
	assert.NoError(t, f.svc.Logout(ctx, "some-token"))
	assert.NoError(t, f.svc.Logout(ctx, ""))
}

// --- Password reset flow ---

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.userRepo.On("GetByEmail", ctx, "nobody@gonews.com").Return(nil, apperrors.ErrNotFound)

	err := f.svc.ForgotPassword(ctx, "nobody@gonews.com")
	assert.NoError(t, err)
	f.otpRepo.AssertNotCalled(t, "SaveChallenge", mock.Anything, mock.Anything, mock.Anything)
}

func TestForgotPassword_IssuesChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	var saved *domain.OTPChallenge
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	f.otpRepo.On("SaveChallenge", ctx, mock.AnythingOfType("*domain.OTPChallenge"), 10*time.Minute).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*domain.OTPChallenge)
		}).
		Return(nil)

	require.NoError(t, f.svc.ForgotPassword(ctx, u.Email))
	require.NotNil(t, saved)
	assert.Equal(t, domain.OTPPurposePasswordReset, saved.Purpose)
	assert.Nil(t, saved.PendingReg)

	code := f.pub.lastOTPCode(t)
	assert.Equal(t, saved.CodeHash, hashToken(code))
}

func TestVerifyPasswordResetOTP_ReturnsResetToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := "123456"
	challenge := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposePasswordReset,
		CodeHash:  hashToken(code),
		Verified:  true,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("ConsumeAttempt", ctx, "alice@gonews.com", domain.OTPPurposePasswordReset, hashToken(code), otpMaxAttempts).
		Return(challenge, nil)

	resetToken, err := f.svc.VerifyPasswordResetOTP(ctx, "alice@gonews.com", code)
	require.NoError(t, err)
	assert.Equal(t, code, resetToken)
}

func TestResetPassword_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "OldPassword1")
	oldHash := u.PasswordHash
	code := "123456"
	challenge := &domain.OTPChallenge{
		Email:     u.Email,
		Purpose:   domain.OTPPurposePasswordReset,
		CodeHash:  hashToken(code),
		Verified:  true,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("GetChallenge", ctx, u.Email, domain.OTPPurposePasswordReset).Return(challenge, nil)
	f.userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	f.userRepo.On("Update", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	f.otpRepo.On("DeleteChallenge", ctx, u.Email, domain.OTPPurposePasswordReset).Return(nil)
	f.tokenRepo.On("RevokeByUserID", ctx, u.ID).Return(nil)

	err := f.svc.ResetPassword(ctx, u.Email, code, "NewPassword1")
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, u.PasswordHash)
	f.tokenRepo.AssertCalled(t, "RevokeByUserID", ctx, u.ID)
}

func TestResetPassword_UnverifiedChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := "123456"
	challenge := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposePasswordReset,
		CodeHash:  hashToken(code),
		Verified:  false,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposePasswordReset).Return(challenge, nil)

	err := f.svc.ResetPassword(ctx, "alice@gonews.com", code, "NewPassword1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestResetPassword_WrongToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenge := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposePasswordReset,
		CodeHash:  hashToken("123456"),
		Verified:  true,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposePasswordReset).Return(challenge, nil)

	err := f.svc.ResetPassword(ctx, "alice@gonews.com", "654321", "NewPassword1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

// --- Resend ---

func TestResendOTP_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := &domain.OTPChallenge{
		Email:      "alice@gonews.com",
		Purpose:    domain.OTPPurposeRegistration,
		CodeHash:   hashToken("123456"),
		ExpiresAt:  time.Now().UTC().Add(5 * time.Minute),
		PendingReg: &domain.PendingRegistration{Name: "Alice", PasswordHash: "h"},
	}

	var saved *domain.OTPChallenge
	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(existing, nil)
	f.otpRepo.On("IncrementResend", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, 15*time.Minute).Return(int64(2), nil)
	f.otpRepo.On("SaveChallenge", ctx, mock.AnythingOfType("*domain.OTPChallenge"), 10*time.Minute).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*domain.OTPChallenge)
		}).
		Return(nil)

	err := f.svc.ResendOTP(ctx, "alice@gonews.com", domain.OTPPurposeRegistration)
	require.NoError(t, err)

	// A fresh code replaces the old one, pending details carry over.
	require.NotNil(t, saved)
	assert.NotEqual(t, existing.CodeHash, saved.CodeHash)
	require.NotNil(t, saved.PendingReg)
	assert.Equal(t, "Alice", saved.PendingReg.Name)
}

func TestResendOTP_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposeRegistration,
		CodeHash:  hashToken("123456"),
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposeRegistration).Return(existing, nil)
	f.otpRepo.On("IncrementResend", ctx, "alice@gonews.com", domain.OTPPurposeRegistration, 15*time.Minute).Return(int64(6), nil)

	err := f.svc.ResendOTP(ctx, "alice@gonews.com", domain.OTPPurposeRegistration)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
	f.otpRepo.AssertNotCalled(t, "SaveChallenge", mock.Anything, mock.Anything, mock.Anything)
}

func TestResendOTP_NoPendingChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.otpRepo.On("GetChallenge", ctx, "alice@gonews.com", domain.OTPPurposePasswordReset).Return(nil, apperrors.ErrNotFound)

	err := f.svc.ResendOTP(ctx, "alice@gonews.com", domain.OTPPurposePasswordReset)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

// --- Change password / profile ---

func TestChangePassword_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "OldPassword1")
	f.userRepo.On("GetByID", ctx, u.ID).Return(u, nil)
	f.userRepo.On("Update", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	f.tokenRepo.On("RevokeByUserID", ctx, u.ID).Return(nil)

	err := f.svc.ChangePassword(ctx, u.ID, "OldPassword1", "NewPassword1")
	require.NoError(t, err)
	f.tokenRepo.AssertCalled(t, "RevokeByUserID", ctx, u.ID)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "OldPassword1")
	f.userRepo.On("GetByID", ctx, u.ID).Return(u, nil)

	err := f.svc.ChangePassword(ctx, u.ID, "WrongPassword1", "NewPassword1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestChangePassword_SameAsOld(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ChangePassword(context.Background(), "u-1", "Password1", "Password1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestUpdateProfile_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	f.userRepo.On("GetByID", ctx, u.ID).Return(u, nil)
	f.userRepo.On("Update", ctx, mock.AnythingOfType("*domain.User")).Return(nil)

	name := "Alice Jones"
	phone := "+19998887777"
	got, err := f.svc.UpdateProfile(ctx, u.ID, UpdateProfileInput{
		Name:        &name,
		Phone:       &phone,
		Preferences: map[string]string{"digest": "daily"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Jones", got.Name)
	assert.Equal(t, "+19998887777", got.Phone)
	assert.Equal(t, "daily", got.Preferences["digest"])
}

func TestUpdateProfile_EmptyName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := activeUser(t, "Password1")
	f.userRepo.On("GetByID", ctx, u.ID).Return(u, nil)

	empty := ""
	_, err := f.svc.UpdateProfile(ctx, u.ID, UpdateProfileInput{Name: &empty})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
