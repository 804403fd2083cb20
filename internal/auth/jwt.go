// Package auth signs and verifies the HS256 tokens issued by the service.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "gonews-auth"

// Claims carried by an access token.
type Claims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	jwt.RegisteredClaims
}

// RefreshClaims carried by a refresh token. Only the user identity; the
// rest of the session lives server-side.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates both token kinds with a shared secret.
type JWTManager struct {
	secret           []byte
	accessExpiry     time.Duration
	refreshExpiry    time.Duration
	refreshExpiryExt time.Duration
}

// NewJWTManager builds a manager. refreshExpiryExt is the longer refresh
// lifetime granted to remember-me sessions.
func NewJWTManager(secret string, accessExpiry, refreshExpiry, refreshExpiryExt time.Duration) *JWTManager {
	return &JWTManager{
		secret:           []byte(secret),
		accessExpiry:     accessExpiry,
		refreshExpiry:    refreshExpiry,
		refreshExpiryExt: refreshExpiryExt,
	}
}

// AccessExpiry reports the configured access token lifetime.
func (m *JWTManager) AccessExpiry() time.Duration { return m.accessExpiry }

// RefreshExpiry reports the refresh token lifetime for the session kind.
func (m *JWTManager) RefreshExpiry(rememberMe bool) time.Duration {
	if rememberMe {
		return m.refreshExpiryExt
	}
	return m.refreshExpiry
}

// GenerateAccessToken signs a short-lived token embedding the user's
// identity and verification state.
func (m *JWTManager) GenerateAccessToken(userID, email string, isVerified bool) (string, error) {
	claims := &Claims{
		UserID:           userID,
		Email:            email,
		IsVerified:       isVerified,
		RegisteredClaims: m.registered(userID, m.accessExpiry),
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken signs a long-lived token identifying the user.
func (m *JWTManager) GenerateRefreshToken(userID string, rememberMe bool) (string, error) {
	claims := &RefreshClaims{
		UserID:           userID,
		RegisteredClaims: m.registered(userID, m.RefreshExpiry(rememberMe)),
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies signature and expiry and returns the claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}

// ValidateRefreshToken verifies signature and expiry and returns the claims.
func (m *JWTManager) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse refresh token: %w", err)
	}
	return claims, nil
}

func (m *JWTManager) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    tokenIssuer,
	}
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}
