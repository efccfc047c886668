package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestStoreSetParsesIdentity(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := sign(t, jwt.MapClaims{"user_id": 42, "username": "ada", "exp": exp.Unix()})

	s := NewStore()
	id, err := s.Set("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "42", id.UserID)
	assert.Equal(t, "ada", id.Username)
	assert.True(t, exp.Equal(id.ExpiresAt))

	got, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Equal(t, "42", s.IdentityKey())
}

func TestStoreMissingToken(t *testing.T) {
	s := NewStore()
	_, err := s.Token()
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, GuestKey, s.IdentityKey())

	_, err = s.Set("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestStoreExpiredToken(t *testing.T) {
	token := sign(t, jwt.MapClaims{"user_id": "7", "exp": time.Now().Add(time.Minute).Unix()})

	s := NewStore()
	_, err := s.Set(token)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestStoreRejectsGarbage(t *testing.T) {
	s := NewStore()
	_, err := s.Set("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Set(sign(t, jwt.MapClaims{"username": "nobody"}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, ok := s.Identity()
	assert.False(t, ok)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	_, err := s.Set(sign(t, jwt.MapClaims{"sub": "u-1"}))
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.IdentityKey())

	s.Clear()
	assert.Equal(t, GuestKey, s.IdentityKey())
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrMissingToken)
}
