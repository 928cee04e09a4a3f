package carelink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials indicates the credential file is absent or unusable.
var ErrNoCredentials = errors.New("carelink: no credentials")

// Credentials holds the token material produced by the Carelink Connect
// login script (logindata.json).
type Credentials struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	Scope         string `json:"scope"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	MagIdentifier string `json:"mag-identifier"`
}

func (c Credentials) validate() error {
	missing := ""
	switch {
	case c.AccessToken == "":
		missing = "access_token"
	case c.RefreshToken == "":
		missing = "refresh_token"
	case c.ClientID == "":
		missing = "client_id"
	case c.ClientSecret == "":
		missing = "client_secret"
	case c.MagIdentifier == "":
		missing = "mag-identifier"
	}
	if missing != "" {
		return fmt.Errorf("%w: field %s missing", ErrNoCredentials, missing)
	}
	return nil
}

// ExpiresAt extracts the expiry claim from the access token. The token is
// issued by Medtronic, so the signature is not (and cannot be) verified here.
func (c Credentials) ExpiresAt() (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("carelink: parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("carelink: access token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}

// CredentialStore keeps the current session token material in sync with the
// credential file. The file is re-read when its mtime changes so a freshly
// generated logindata.json is picked up without a restart.
type CredentialStore struct {
	path string

	mu      sync.RWMutex
	creds   Credentials
	modTime time.Time
}

// NewCredentialStore builds a store for the given credential file path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load reads and validates the credential file.
func (s *CredentialStore) Load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("carelink: decode %s: %w", filepath.Base(s.path), err)
	}
	if err := creds.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.creds = creds
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

// Current returns the credentials, reloading the file first if it was
// replaced on disk since the last read.
func (s *CredentialStore) Current() (Credentials, error) {
	s.mu.RLock()
	loaded := s.creds.AccessToken != ""
	modTime := s.modTime
	creds := s.creds
	s.mu.RUnlock()

	info, err := os.Stat(s.path)
	if err == nil && (!loaded || info.ModTime().After(modTime)) {
		if err := s.Load(); err != nil {
			if !loaded {
				return Credentials{}, err
			}
			return creds, nil
		}
		s.mu.RLock()
		creds = s.creds
		s.mu.RUnlock()
		return creds, nil
	}

	if !loaded {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

// Update persists refreshed token material atomically and replaces the
// in-memory copy.
func (s *CredentialStore) Update(creds Credentials) error {
	if err := creds.validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "    ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("carelink: write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("carelink: replace credentials: %w", err)
	}

	info, statErr := os.Stat(s.path)

	s.mu.Lock()
	s.creds = creds
	if statErr == nil {
		s.modTime = info.ModTime()
	}
	s.mu.Unlock()
	return nil
}
