package redis

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
	"github.com/AdityaNittala03/gonews-auth/internal/domain"
)

const (
	challengeKeyPrefix = "otp:"
	resendKeyPrefix    = "otp_resend:"
)

// OTPRepository implements repository.OTPRepository using Redis. Challenges
// live under otp:{purpose}:{email} and expire with the key, so abandoned
// flows clean themselves up.
type OTPRepository struct {
	client *redis.Client
}

// NewOTPRepository creates a new Redis-backed OTP repository.
func NewOTPRepository(client *redis.Client) *OTPRepository {
	return &OTPRepository{client: client}
}

func challengeKey(email string, purpose domain.OTPPurpose) string {
	return fmt.Sprintf("%s%s:%s", challengeKeyPrefix, purpose, email)
}

func resendKey(email string, purpose domain.OTPPurpose) string {
	return fmt.Sprintf("%s%s:%s", resendKeyPrefix, purpose, email)
}

// SaveChallenge stores a challenge with the given TTL, replacing any existing
// challenge for the same email and purpose.
func (r *OTPRepository) SaveChallenge(ctx context.Context, challenge *domain.OTPChallenge, ttl time.Duration) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal otp challenge: %w", err)
	}

	key := challengeKey(challenge.Email, challenge.Purpose)
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set otp challenge: %w", err)
	}

	return nil
}

// GetChallenge retrieves the pending challenge for the email and purpose.
func (r *OTPRepository) GetChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	data, err := r.client.Get(ctx, challengeKey(email, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("redis get otp challenge: %w", err)
	}

	var challenge domain.OTPChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("unmarshal otp challenge: %w", err)
	}

	return &challenge, nil
}

// consumeRetries bounds how often ConsumeAttempt restarts after losing a
// WATCH race to a concurrent submission for the same challenge.
const consumeRetries = 4

// ConsumeAttempt atomically checks codeHash against the pending challenge.
// A mismatch burns one attempt and the challenge is deleted once maxAttempts
// is reached; a match marks the challenge verified in place. The whole
// read-check-write runs inside a WATCH transaction so concurrent submissions
// cannot share an attempt counter snapshot.
//
// Sentinels: ErrNotFound for a missing or expired challenge, ErrUnauthorized
// for a wrong code with attempts remaining, ErrRateLimited when this attempt
// exhausted the budget.
func (r *OTPRepository) ConsumeAttempt(ctx context.Context, email string, purpose domain.OTPPurpose, codeHash string, maxAttempts int) (*domain.OTPChallenge, error) {
	key := challengeKey(email, purpose)

	for range consumeRetries {
		var consumed *domain.OTPChallenge

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var challenge domain.OTPChallenge
			if err := json.Unmarshal(data, &challenge); err != nil {
				return fmt.Errorf("unmarshal otp challenge: %w", err)
			}

			ttl := time.Until(challenge.ExpiresAt)
			if ttl <= 0 {
				return r.deleteInTx(ctx, tx, key, apperrors.ErrNotFound)
			}

			if subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(codeHash)) != 1 {
				challenge.Attempts++
				if challenge.Attempts >= maxAttempts {
					return r.deleteInTx(ctx, tx, key, apperrors.ErrRateLimited)
				}
				if err := r.setInTx(ctx, tx, key, &challenge, ttl); err != nil {
					return err
				}
				return apperrors.ErrUnauthorized
			}

			challenge.Verified = true
			if err := r.setInTx(ctx, tx, key, &challenge, ttl); err != nil {
				return err
			}
			consumed = &challenge
			return nil
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil:
			return consumed, nil
		case errors.Is(err, redis.Nil):
			return nil, apperrors.ErrNotFound
		case errors.Is(err, apperrors.ErrNotFound),
			errors.Is(err, apperrors.ErrUnauthorized),
			errors.Is(err, apperrors.ErrRateLimited):
			return nil, err
		default:
			return nil, fmt.Errorf("redis consume otp attempt: %w", err)
		}
	}

	// The retry budget fell to contention; fail closed without burning an
	// attempt rather than guessing at the challenge state.
	return nil, apperrors.ErrNotFound
}

// setInTx queues a SET of the re-encoded challenge inside the transaction,
// carrying the remaining TTL forward.
func (r *OTPRepository) setInTx(ctx context.Context, tx *redis.Tx, key string, challenge *domain.OTPChallenge, ttl time.Duration) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal otp challenge: %w", err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		return nil
	})
	return err
}

// deleteInTx queues a DEL inside the transaction and returns sentinel once
// the delete committed.
func (r *OTPRepository) deleteInTx(ctx context.Context, tx *redis.Tx, key string, sentinel error) error {
	if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	}); err != nil {
		return err
	}
	return sentinel
}

// DeleteChallenge removes the challenge for the email and purpose.
func (r *OTPRepository) DeleteChallenge(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	if err := r.client.Del(ctx, challengeKey(email, purpose)).Err(); err != nil {
		return fmt.Errorf("redis del otp challenge: %w", err)
	}

	return nil
}

// IncrementResend bumps the resend counter for the email and purpose. The
// window starts with the first resend and is not extended by later ones.
func (r *OTPRepository) IncrementResend(ctx context.Context, email string, purpose domain.OTPPurpose, window time.Duration) (int64, error) {
	key := resendKey(email, purpose)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr otp resend counter: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("redis expire otp resend counter: %w", err)
		}
	}

	return count, nil
}
