package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
	"github.com/AdityaNittala03/gonews-auth/internal/domain"
)

func newOTPTestFixture(t *testing.T) (*OTPRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewOTPRepository(client), mr
}

func sampleChallenge() *domain.OTPChallenge {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.OTPChallenge{
		Email:     "alice@gonews.com",
		Purpose:   domain.OTPPurposeRegistration,
		CodeHash:  "hash-123",
		Attempts:  0,
		Verified:  false,
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
		PendingReg: &domain.PendingRegistration{
			Name:         "Alice Smith",
			PasswordHash: "bcrypt-hash",
		},
	}
}

func TestOTPRepository_SaveAndGetChallenge(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	got, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	require.NoError(t, err)
	assert.Equal(t, ch.Email, got.Email)
	assert.Equal(t, ch.CodeHash, got.CodeHash)
	assert.Equal(t, 0, got.Attempts)
	require.NotNil(t, got.PendingReg)
	assert.Equal(t, "Alice Smith", got.PendingReg.Name)
}

func TestOTPRepository_GetChallenge_NotFound(t *testing.T) {
	repo, _ := newOTPTestFixture(t)

	got, err := repo.GetChallenge(context.Background(), "nobody@gonews.com", domain.OTPPurposeRegistration)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestOTPRepository_ChallengeExpires(t *testing.T) {
	repo, mr := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	mr.FastForward(11 * time.Minute)

	_, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestOTPRepository_PurposesAreIsolated(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	_, err := repo.GetChallenge(ctx, ch.Email, domain.OTPPurposePasswordReset)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestOTPRepository_ConsumeAttempt_MatchMarksVerified(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	got, err := repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, ch.CodeHash, 5)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	// The verified flag persists for the completion step that follows.
	stored, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	require.NotNil(t, stored.PendingReg)
	assert.Equal(t, "Alice Smith", stored.PendingReg.Name)
}

func TestOTPRepository_ConsumeAttempt_WrongCodeBurnsAttempts(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	for i := 1; i <= 4; i++ {
		_, err := repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, "wrong-hash", 5)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

		stored, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
		require.NoError(t, err)
		assert.Equal(t, i, stored.Attempts)
	}

	// The fifth mismatch exhausts the budget and deletes the challenge.
	_, err := repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, "wrong-hash", 5)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	_, err = repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The right code is useless once the challenge is gone.
	_, err = repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, ch.CodeHash, 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOTPRepository_ConsumeAttempt_Expired(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	ch.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	_, err := repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, ch.CodeHash, 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The expired record was removed, not just rejected.
	_, err = repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOTPRepository_ConsumeAttempt_Missing(t *testing.T) {
	repo, _ := newOTPTestFixture(t)

	_, err := repo.ConsumeAttempt(context.Background(), "nobody@gonews.com", domain.OTPPurposeRegistration, "hash", 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// Parallel wrong guesses must not stretch the attempt budget: every burned
// attempt is recorded exactly once, the budget tops out at maxAttempts, and
// at most one submission observes the exhaustion.
func TestOTPRepository_ConsumeAttempt_ConcurrentGuessesHonorCap(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()
	const maxAttempts = 5

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))

	const guesses = 40
	results := make(chan error, guesses)
	var wg sync.WaitGroup
	for range guesses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ConsumeAttempt(ctx, ch.Email, ch.Purpose, "wrong-hash", maxAttempts)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var burned, exhausted, gone int
	for err := range results {
		switch {
		case errors.Is(err, apperrors.ErrUnauthorized):
			burned++
		case errors.Is(err, apperrors.ErrRateLimited):
			exhausted++
		case errors.Is(err, apperrors.ErrNotFound):
			gone++
		default:
			t.Fatalf("unexpected consume result: %v", err)
		}
	}

	assert.LessOrEqual(t, burned, maxAttempts-1, "more wrong guesses were accepted than the cap allows")
	assert.LessOrEqual(t, exhausted, 1, "exhaustion must fire at most once")
	assert.Equal(t, guesses, burned+exhausted+gone)

	stored, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	if exhausted == 1 {
		assert.Equal(t, maxAttempts-1, burned)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	} else if err == nil {
		// No submission reached the cap; every recorded attempt must match
		// a burned guess with no lost increments.
		assert.Equal(t, burned, stored.Attempts)
	}
}

func TestOTPRepository_DeleteChallenge(t *testing.T) {
	repo, _ := newOTPTestFixture(t)
	ctx := context.Background()

	ch := sampleChallenge()
	require.NoError(t, repo.SaveChallenge(ctx, ch, 10*time.Minute))
	require.NoError(t, repo.DeleteChallenge(ctx, ch.Email, ch.Purpose))

	_, err := repo.GetChallenge(ctx, ch.Email, ch.Purpose)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestOTPRepository_IncrementResend(t *testing.T) {
	repo, mr := newOTPTestFixture(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := repo.IncrementResend(ctx, "alice@gonews.com", domain.OTPPurposeRegistration, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	// Counter resets after the window passes.
	mr.FastForward(16 * time.Minute)

	count, err := repo.IncrementResend(ctx, "alice@gonews.com", domain.OTPPurposeRegistration, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
