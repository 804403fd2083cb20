package client

import (
	"context"
	"errors"
	"sync"
)

// OTP purposes accepted by the resend endpoint.
const (
	OTPTypeRegistration  = "registration"
	OTPTypePasswordReset = "password_reset"
)

// ErrFlowOrder is returned when a flow step is invoked before the preceding
// step has succeeded. Flows only move forward; restart with a new flow value.
var ErrFlowOrder = errors.New("flow steps must run in order")

// flowStep tracks progress through a 3-step OTP flow.
type flowStep int

const (
	stepStart flowStep = iota
	stepCodeSent
	stepCodeVerified
	stepDone
)

// RegistrationFlow walks the three-step registration: send code, verify code,
// complete. Completion hands the resulting session to the SessionManager,
// which is the only path to StateAuthenticated besides Login.
type RegistrationFlow struct {
	session *SessionManager

	mu       sync.Mutex
	step     flowStep
	name     string
	email    string
	password string
}

// NewRegistrationFlow creates a registration flow bound to the session
// manager. One flow value covers one registration attempt.
func NewRegistrationFlow(session *SessionManager) *RegistrationFlow {
	return &RegistrationFlow{session: session}
}

// SendCode starts the registration; the backend emails a 6-digit code. It
// does not authenticate.
func (f *RegistrationFlow) SendCode(ctx context.Context, name, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.session.api.Register(ctx, name, email, password); err != nil {
		return err
	}

	f.name = name
	f.email = email
	f.password = password
	f.step = stepCodeSent
	return nil
}

// VerifyCode submits the emailed code. Expiry and attempt limits are enforced
// by the backend.
func (f *RegistrationFlow) VerifyCode(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeSent {
		return ErrFlowOrder
	}

	if err := f.session.api.VerifyRegistrationOTP(ctx, f.email, code); err != nil {
		return err
	}

	f.step = stepCodeVerified
	return nil
}

// Complete finalizes the account. On success the session manager transitions
// to StateAuthenticated with the new profile.
func (f *RegistrationFlow) Complete(ctx context.Context) (*Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeVerified {
		return nil, ErrFlowOrder
	}

	result, err := f.session.api.CompleteRegistration(ctx, f.email, f.name, f.password)
	if err != nil {
		return nil, err
	}

	if err := f.session.completeAuthentication(result); err != nil {
		return nil, err
	}

	f.step = stepDone
	f.password = ""
	return result.User, nil
}

// ResendCode asks the backend to email a fresh code. Sends are rate-limited
// server-side per email.
func (f *RegistrationFlow) ResendCode(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeSent {
		return ErrFlowOrder
	}
	return f.session.api.ResendOTP(ctx, f.email, OTPTypeRegistration)
}

// PasswordResetFlow walks the three-step password reset: send code, verify
// code, set new password. The verified code doubles as the reset token for
// the final step.
type PasswordResetFlow struct {
	api *Client

	mu         sync.Mutex
	step       flowStep
	email      string
	resetToken string
}

// NewPasswordResetFlow creates a password reset flow over the API client.
func NewPasswordResetFlow(api *Client) *PasswordResetFlow {
	return &PasswordResetFlow{api: api}
}

// SendCode starts the reset; the backend emails a code if the account exists
// (and reports success either way, so the flow never leaks account
// existence).
func (f *PasswordResetFlow) SendCode(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.api.ForgotPassword(ctx, email); err != nil {
		return err
	}

	f.email = email
	f.step = stepCodeSent
	return nil
}

// VerifyCode submits the emailed code and keeps the returned reset token for
// the final step.
func (f *PasswordResetFlow) VerifyCode(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeSent {
		return ErrFlowOrder
	}

	resetToken, err := f.api.VerifyPasswordResetOTP(ctx, f.email, code)
	if err != nil {
		return err
	}

	f.resetToken = resetToken
	f.step = stepCodeVerified
	return nil
}

// Reset sets the new password. Existing sessions are revoked server-side;
// the user must log in again.
func (f *PasswordResetFlow) Reset(ctx context.Context, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeVerified {
		return ErrFlowOrder
	}

	if err := f.api.ResetPassword(ctx, f.email, f.resetToken, newPassword); err != nil {
		return err
	}

	f.step = stepDone
	f.resetToken = ""
	return nil
}

// ResendCode asks the backend to email a fresh reset code.
func (f *PasswordResetFlow) ResendCode(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step < stepCodeSent {
		return ErrFlowOrder
	}
	return f.api.ResendOTP(ctx, f.email, OTPTypePasswordReset)
}
