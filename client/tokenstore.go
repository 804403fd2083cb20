package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoSession is returned when no token pair or profile is stored.
var ErrNoSession = errors.New("no stored session")

// ErrNilProfile rejects StoreUser(nil) before it can clobber the snapshot.
var ErrNilProfile = errors.New("token store: nil profile")

// StorageError wraps an I/O failure of the token store so callers can tell
// "absent" apart from "broken".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TokenRecord is the persisted token pair with its absolute expiry.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token's lifetime has passed.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TokenStore persists the session token pair and the last-known user profile.
// Implementations must return ErrNoSession when nothing is stored and a
// *StorageError for I/O failures.
type TokenStore interface {
	// StoreTokens saves a token pair, computing the absolute expiry from now.
	// Overwrites any previous pair.
	StoreTokens(accessToken, refreshToken string, expiresIn time.Duration) error

	// Tokens returns the stored token pair, or ErrNoSession.
	Tokens() (*TokenRecord, error)

	// ClearTokens removes the token pair and the profile snapshot. Clearing
	// an empty store is not an error.
	ClearTokens() error

	// StoreUser saves the profile snapshot. A nil profile is rejected with
	// an error rather than clearing the snapshot; use ClearTokens for that.
	StoreUser(profile *Profile) error

	// User returns the stored profile snapshot, or ErrNoSession.
	User() (*Profile, error)
}

// --- In-memory store ---

// MemoryTokenStore keeps the session in process memory. Useful for tests and
// short-lived processes.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens *TokenRecord
	user   *Profile
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) StoreTokens(accessToken, refreshToken string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &TokenRecord{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn),
	}
	return nil
}

func (s *MemoryTokenStore) Tokens() (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return nil, ErrNoSession
	}
	rec := *s.tokens
	return &rec, nil
}

func (s *MemoryTokenStore) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	s.user = nil
	return nil
}

func (s *MemoryTokenStore) StoreUser(profile *Profile) error {
	if profile == nil {
		return ErrNilProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *profile
	s.user = &p
	return nil
}

func (s *MemoryTokenStore) User() (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, ErrNoSession
	}
	p := *s.user
	return &p, nil
}

// --- File-backed store ---

// sessionFile is the on-disk layout of the persisted session.
type sessionFile struct {
	Tokens *TokenRecord `json:"tokens,omitempty"`
	User   *Profile     `json:"user,omitempty"`
}

// FileTokenStore persists the session as a JSON file with owner-only
// permissions. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated session behind.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileTokenStore creates a token store backed by the JSON file at path.
// Parent directories are created on first write.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) StoreTokens(accessToken, refreshToken string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	if sf == nil {
		sf = &sessionFile{}
	}
	sf.Tokens = &TokenRecord{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn),
	}
	return s.write(sf)
}

func (s *FileTokenStore) Tokens() (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read()
	if err != nil {
		return nil, err
	}
	if sf.Tokens == nil {
		return nil, ErrNoSession
	}
	rec := *sf.Tokens
	return &rec, nil
}

func (s *FileTokenStore) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

func (s *FileTokenStore) StoreUser(profile *Profile) error {
	if profile == nil {
		return ErrNilProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	if sf == nil {
		sf = &sessionFile{}
	}
	p := *profile
	sf.User = &p
	return s.write(sf)
}

func (s *FileTokenStore) User() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read()
	if err != nil {
		return nil, err
	}
	if sf.User == nil {
		return nil, ErrNoSession
	}
	p := *sf.User
	return &p, nil
}

// read loads the session file. Callers must hold s.mu.
func (s *FileTokenStore) read() (*sessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, &StorageError{Op: "read", Err: err}
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}
	return &sf, nil
}

// write atomically replaces the session file. Callers must hold s.mu.
func (s *FileTokenStore) write(sf *sessionFile) error {
	data, err := json.Marshal(sf)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &StorageError{Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &StorageError{Op: "chmod", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return &StorageError{Op: "rename", Err: err}
	}
	return nil
}
