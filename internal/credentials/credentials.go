// Package credentials holds the bearer token the client sends with every
// request and the identity decoded from it.
package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GuestKey is the identity key used when no user is signed in.
const GuestKey = "guest"

var (
	ErrMissingToken = errors.New("not signed in")
	ErrTokenExpired = errors.New("session expired, sign in again")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the user a token was issued for.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Store keeps the current token. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	token    string
	identity *Identity
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set replaces the current token. The signature is not verified here;
// the server does that on every request.
func (s *Store) Set(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	id, err := parseIdentity(token)
	if err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	s.token = token
	s.identity = &id
	s.mu.Unlock()
	return id, nil
}

// Token returns the token to send, failing fast when none is usable.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", ErrMissingToken
	}
	if exp := s.identity.ExpiresAt; !exp.IsZero() && !s.now().Before(exp) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// Identity returns the signed-in identity, if any.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// IdentityKey returns the user id, or GuestKey when signed out.
func (s *Store) IdentityKey() string {
	id, ok := s.Identity()
	if !ok || id.UserID == "" {
		return GuestKey
	}
	return id.UserID
}

// Clear forgets the token.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.identity = nil
	s.mu.Unlock()
}

func parseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var id Identity
	switch v := claims["user_id"].(type) {
	case float64:
		id.UserID = strconv.FormatInt(int64(v), 10)
	case string:
		id.UserID = v
	}
	if id.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			id.UserID = sub
		}
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	id.Username, _ = claims["username"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}
