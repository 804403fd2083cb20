// Package client is the Go SDK for the GoNews auth service. It wraps the
// HTTP API with typed requests and responses, and layers a persistent token
// store, an auto-refreshing token source, and a session state machine on top.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AdityaNittala03/gonews-auth/pkg/httpclient"
)

// Doer abstracts the underlying HTTP client so the API client can run with
// or without circuit breaker protection.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a typed HTTP client for the auth service API.
type Client struct {
	baseURL string
	http    Doer
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates an API client for the auth service at baseURL. The default
// transport retries transient network failures and 5xx responses with
// jittered backoff behind a circuit breaker, so a persistently failing
// backend is not hammered; 4xx responses are never retried. WithHTTPClient
// replaces the whole transport for callers that need different behavior.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		inner := httpclient.New(httpclient.DefaultConfig())
		c.http = httpclient.NewCircuitBreakerClient(inner, httpclient.DefaultCircuitBreakerConfig("gonews-auth"), c.logger)
	}
	return c
}

// --- Wire types ---

// Profile is the user record returned by the auth service.
type Profile struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Phone       string            `json:"phone,omitempty"`
	IsVerified  bool              `json:"is_verified"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// TokenGrant is a freshly minted token pair.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthResult is the combined token and user payload returned by login and
// registration completion. The token fields sit alongside the user in the
// response body.
type AuthResult struct {
	TokenGrant
	User *Profile `json:"user"`
}

// envelope is the service's standard response wrapper.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// --- Request bodies ---

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type completeRegistrationRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

type resendOTPRequest struct {
	Email   string `json:"email"`
	OTPType string `json:"otp_type"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UpdateProfileRequest is the body for profile updates. Nil fields are left
// unchanged.
type UpdateProfileRequest struct {
	Name        *string           `json:"name,omitempty"`
	Phone       *string           `json:"phone,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// --- API operations ---

// Register starts the registration flow. The backend emails a verification
// code; no account exists until the flow is completed.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	return c.call(ctx, http.MethodPost, "/auth/register", registerRequest{
		Name:     name,
		Email:    email,
		Password: password,
	}, "", nil)
}

// VerifyRegistrationOTP submits the emailed code for a pending registration.
func (c *Client) VerifyRegistrationOTP(ctx context.Context, email, code string) error {
	return c.call(ctx, http.MethodPost, "/auth/verify-registration-otp", verifyOTPRequest{
		Email: email,
		Code:  code,
	}, "", nil)
}

// CompleteRegistration finalizes a verified registration and returns the
// created user with a token pair.
func (c *Client) CompleteRegistration(ctx context.Context, email, name, password string) (*AuthResult, error) {
	var result AuthResult
	err := c.call(ctx, http.MethodPost, "/auth/complete-registration", completeRegistrationRequest{
		Email:    email,
		Name:     name,
		Password: password,
	}, "", &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (*AuthResult, error) {
	var result AuthResult
	err := c.call(ctx, http.MethodPost, "/auth/login", loginRequest{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
	}, "", &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshToken exchanges a refresh token for a new token pair. The presented
// token is revoked server-side.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	var grant TokenGrant
	err := c.call(ctx, http.MethodPost, "/auth/refresh-token", refreshTokenRequest{
		RefreshToken: refreshToken,
	}, "", &grant)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// Logout revokes the refresh token server-side. The call is idempotent.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.call(ctx, http.MethodPost, "/auth/logout", logoutRequest{
		RefreshToken: refreshToken,
	}, "", nil)
}

// ForgotPassword starts the password reset flow. It succeeds regardless of
// whether an account exists for the email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/auth/forgot-password", forgotPasswordRequest{
		Email: email,
	}, "", nil)
}

// VerifyPasswordResetOTP submits the emailed reset code and returns the reset
// token for the final step.
func (c *Client) VerifyPasswordResetOTP(ctx context.Context, email, code string) (string, error) {
	var data struct {
		ResetToken string `json:"reset_token"`
	}
	err := c.call(ctx, http.MethodPost, "/auth/verify-password-reset-otp", verifyOTPRequest{
		Email: email,
		Code:  code,
	}, "", &data)
	if err != nil {
		return "", err
	}
	return data.ResetToken, nil
}

// ResetPassword sets a new password using a verified reset token.
func (c *Client) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	return c.call(ctx, http.MethodPost, "/auth/reset-password", resetPasswordRequest{
		Email:       email,
		ResetToken:  resetToken,
		NewPassword: newPassword,
	}, "", nil)
}

// ResendOTP re-sends the verification code for a pending registration or
// password reset. The backend rate-limits sends per email.
func (c *Client) ResendOTP(ctx context.Context, email, otpType string) error {
	return c.call(ctx, http.MethodPost, "/auth/resend-otp", resendOTPRequest{
		Email:   email,
		OTPType: otpType,
	}, "", nil)
}

// ChangePassword changes the password for the authenticated user.
func (c *Client) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	return c.call(ctx, http.MethodPost, "/auth/change-password", changePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}, accessToken, nil)
}

// GetProfile fetches the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	if err := c.call(ctx, http.MethodGet, "/users/me", nil, accessToken, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile updates the authenticated user's profile.
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, req UpdateProfileRequest) (*Profile, error) {
	var profile Profile
	if err := c.call(ctx, http.MethodPut, "/users/me", req, accessToken, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// call executes one API request. Non-2xx responses are translated into typed
// errors; 2xx responses have their data payload unwrapped into out.
func (c *Client) call(ctx context.Context, method, path string, body any, accessToken string, out any) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, path)
	}

	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%s response has no data payload", path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data payload: %w", path, err)
	}
	return nil
}

// expiresAt converts a relative expires_in to an absolute deadline.
func (g *TokenGrant) expiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(g.ExpiresIn) * time.Second)
}
