package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
)

// AuthStateKind enumerates the session states.
type AuthStateKind int

const (
	// StateInitial is the state before Bootstrap has run.
	StateInitial AuthStateKind = iota
	// StateLoading means a transition is in flight.
	StateLoading
	// StateAuthenticated means a valid session exists; Profile is set.
	StateAuthenticated
	// StateUnauthenticated means no session exists.
	StateUnauthenticated
	// StateError means the last login or registration failed; Message is set.
	// It is cleared back to StateUnauthenticated via ClearError.
	StateError
)

func (k AuthStateKind) String() string {
	switch k {
	case StateInitial:
		return "initial"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// AuthState is a tagged union: Profile is non-nil only for
// StateAuthenticated, Message is non-empty only for StateError.
type AuthState struct {
	Kind    AuthStateKind
	Profile *Profile
	Message string
}

// SessionManager orchestrates login, logout, and session bootstrap, holding
// the current AuthState. All transitions are serialized by an internal mutex:
// overlapping calls run one after another rather than racing.
type SessionManager struct {
	api       *Client
	store     TokenStore
	refresher *TokenRefresher
	logger    *slog.Logger

	mu       sync.Mutex
	state    AuthState
	onChange func(AuthState)
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithStateListener registers a callback invoked on every state change, with
// the transition lock held. Listeners must not call back into the manager.
func WithStateListener(fn func(AuthState)) SessionOption {
	return func(m *SessionManager) { m.onChange = fn }
}

// WithSessionLogger sets the manager's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) { m.logger = logger }
}

// NewSessionManager creates a session manager in StateInitial. Call Bootstrap
// to resume any persisted session.
func NewSessionManager(api *Client, store TokenStore, refresher *TokenRefresher, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		api:       api,
		store:     store,
		refresher: refresher,
		logger:    slog.Default(),
		state:     AuthState{Kind: StateInitial},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current session state.
func (m *SessionManager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a non-expired access token is stored.
func (m *SessionManager) IsAuthenticated() bool {
	rec, err := m.store.Tokens()
	if err != nil {
		return false
	}
	return !rec.Expired(time.Now())
}

// AccessToken returns a usable access token for API calls, refreshing it if
// needed. See TokenRefresher.AccessToken for failure semantics.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	return m.refresher.AccessToken(ctx)
}

// setState transitions to a new state. Callers must hold m.mu.
func (m *SessionManager) setState(s AuthState) {
	m.logger.Debug("session state change",
		slog.String("from", m.state.Kind.String()),
		slog.String("to", s.Kind.String()),
	)
	m.state = s
	if m.onChange != nil {
		m.onChange(s)
	}
}

// Bootstrap resumes a persisted session: if a usable token exists, the
// profile is fetched and the state becomes Authenticated. Anything else,
// including refresh or fetch failure, lands in Unauthenticated.
func (m *SessionManager) Bootstrap(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setState(AuthState{Kind: StateLoading})

	token, err := m.refresher.AccessToken(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.logger.Info("no resumable session", slog.String("reason", err.Error()))
		}
		m.setState(AuthState{Kind: StateUnauthenticated})
		return
	}

	profile, err := m.api.GetProfile(ctx, token)
	if err != nil {
		m.logger.Warn("profile fetch failed during bootstrap", slog.String("error", err.Error()))
		m.setState(AuthState{Kind: StateUnauthenticated})
		return
	}

	if err := m.store.StoreUser(profile); err != nil {
		m.logger.Error("failed to persist profile", slog.String("error", err.Error()))
	}
	m.setState(AuthState{Kind: StateAuthenticated, Profile: profile})
}

// Login authenticates with email and password. On success the tokens and
// profile are persisted and the state becomes Authenticated; on failure the
// state becomes Error with the backend's message.
func (m *SessionManager) Login(ctx context.Context, email, password string, rememberMe bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setState(AuthState{Kind: StateLoading})

	result, err := m.api.Login(ctx, email, password, rememberMe)
	if err != nil {
		m.setState(AuthState{Kind: StateError, Message: errorMessage(err)})
		return err
	}

	if err := m.adoptSession(result); err != nil {
		m.setState(AuthState{Kind: StateError, Message: errorMessage(err)})
		return err
	}

	m.setState(AuthState{Kind: StateAuthenticated, Profile: result.User})
	return nil
}

// Logout ends the session. The local session always clears, even when the
// remote revocation fails (local-first logout: staying signed in locally
// after a failed remote call is the worse outcome).
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setState(AuthState{Kind: StateLoading})

	if rec, err := m.store.Tokens(); err == nil && rec.RefreshToken != "" {
		if err := m.api.Logout(ctx, rec.RefreshToken); err != nil {
			m.logger.Warn("remote logout failed, clearing local session anyway",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := m.store.ClearTokens(); err != nil {
		m.logger.Error("failed to clear local session", slog.String("error", err.Error()))
	}
	m.setState(AuthState{Kind: StateUnauthenticated})
}

// ClearError acknowledges a failed login or registration, moving Error back
// to Unauthenticated. It does nothing in any other state.
func (m *SessionManager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != StateError {
		return
	}
	m.setState(AuthState{Kind: StateUnauthenticated})
}

// adoptSession persists the tokens and profile from a completed login or
// registration. Callers must hold m.mu.
func (m *SessionManager) adoptSession(result *AuthResult) error {
	if result.AccessToken == "" || result.User == nil {
		return errors.New("auth response missing tokens or user")
	}
	if err := m.store.StoreTokens(result.AccessToken, result.RefreshToken, time.Duration(result.ExpiresIn)*time.Second); err != nil {
		return err
	}
	if err := m.store.StoreUser(result.User); err != nil {
		return err
	}
	return nil
}

// completeAuthentication is used by the OTP registration flow once step 3
// returns a token pair.
func (m *SessionManager) completeAuthentication(result *AuthResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.adoptSession(result); err != nil {
		m.setState(AuthState{Kind: StateError, Message: errorMessage(err)})
		return err
	}
	m.setState(AuthState{Kind: StateAuthenticated, Profile: result.User})
	return nil
}

// errorMessage extracts a human-readable message from an error for display.
// The backend's own message is preferred over Go error chain formatting.
func errorMessage(err error) string {
	if err == nil {
		return "an unknown error occurred"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
