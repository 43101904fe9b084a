// Package auth holds the user credential: the JWT issued by the backend and
// the identity it was issued for. The credential lives in one durable kv
// record and is cleared on logout. Clients attach it as a Bearer header;
// a 401-class response means the credential expired and the user must log
// in again.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geoping/geoping/pkg/kv"
)

// ErrUnauthorized signals an expired or rejected credential. Oracle and
// collector clients wrap their 401-class responses in this error so callers
// can route the user to re-login instead of retrying.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ErrNoCredentials is returned when no credential is stored.
var ErrNoCredentials = errors.New("auth: not logged in")

// Credentials is the stored token plus the identity it belongs to.
type Credentials struct {
	Token    string `json:"token"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// AuthorizationHeader returns the value for the Authorization header,
// or "" when no token is present.
func (c Credentials) AuthorizationHeader() string {
	if c.Token == "" {
		return ""
	}
	return "Bearer " + c.Token
}

var keyCredentials = kv.Key{"auth", "credentials"}

// Store persists the single credential record.
type Store struct {
	kv kv.Store
}

// NewStore creates a credential store over the given kv backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// Save writes the credential, replacing any previous one.
func (s *Store) Save(ctx context.Context, creds Credentials) error {
	if creds.Token == "" {
		return errors.New("auth: token is empty")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("auth: encode credentials: %w", err)
	}
	return s.kv.Set(ctx, keyCredentials, raw)
}

// Load returns the stored credential, or ErrNoCredentials.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	raw, err := s.kv.Get(ctx, keyCredentials)
	if errors.Is(err, kv.ErrNotFound) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("auth: decode credentials: %w", err)
	}
	return creds, nil
}

// Clear removes the stored credential (logout).
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, keyCredentials)
}
