package domain

import (
	"time"
)

// OTPPurpose distinguishes the flows an OTP challenge can belong to.
type OTPPurpose string

const (
	OTPPurposeRegistration  OTPPurpose = "registration"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// Valid reports whether the purpose is one of the known values.
func (p OTPPurpose) Valid() bool {
	return p == OTPPurposeRegistration || p == OTPPurposePasswordReset
}

// OTPChallenge is a pending one-time-password verification, keyed by
// email and purpose. The code itself is never stored, only its hash.
//
// For registration challenges, the requested account details ride along
// so no user row exists until the challenge is verified and completed.
type OTPChallenge struct {
	Email      string     `json:"email"`
	Purpose    OTPPurpose `json:"purpose"`
	CodeHash   string     `json:"code_hash"`
	Attempts   int        `json:"attempts"`
	Verified   bool       `json:"verified"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	PendingReg *PendingRegistration `json:"pending_registration,omitempty"`
}

// PendingRegistration holds the account details captured at registration
// time, pending OTP verification.
type PendingRegistration struct {
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
}
