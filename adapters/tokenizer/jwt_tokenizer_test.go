package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/gatekeeper/core"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestJWTTokenizer(t *testing.T) {
	key := newKey(t)
	tk := NewJWTTokenizer(key)
	now := time.Now().Truncate(time.Second)
	session := &core.Session{
		ID:        "session-1",
		UserID:    "user-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}

	token, err := tk.SessionToToken(session)
	require.NoError(t, err)

	t.Run("Round_Trip", func(t *testing.T) {
		got, err := tk.TokenToSession(token)
		require.NoError(t, err)
		assert.Equal(t, "session-1", got.ID)
		assert.True(t, got.ExpiresAt.Equal(session.ExpiresAt))
		assert.Empty(t, got.UserID, "user id must not travel in the token")
	})

	t.Run("Token_Does_Not_Carry_User", func(t *testing.T) {
		claims := jwt.MapClaims{}
		_, _, err := jwt.NewParser().ParseUnverified(token, claims)
		require.NoError(t, err)
		_, hasSub := claims["sub"]
		assert.False(t, hasSub)
	})

	t.Run("Rejections_Are_Uniform", func(t *testing.T) {
		other, err := NewJWTTokenizer(newKey(t)).SessionToToken(session)
		require.NoError(t, err)

		expired, err := tk.SessionToToken(&core.Session{ID: "old", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]

		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
			ID:        "session-1",
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		for name, tok := range map[string]string{
			"foreign_key": other,
			"expired":     expired,
			"tampered":    tampered,
			"alg_none":    unsigned,
			"garbage":     "not-a-token",
			"empty":       "",
		} {
			_, err := tk.TokenToSession(tok)
			assert.ErrorIs(t, err, core.ErrSessionInvalid, name)
		}
	})
}

func TestLoadSigningKey(t *testing.T) {
	t.Run("Ephemeral_When_Empty", func(t *testing.T) {
		key, ephemeral, err := LoadSigningKey("")
		require.NoError(t, err)
		assert.True(t, ephemeral)
		assert.NotNil(t, key)
	})

	t.Run("Parses_PEM", func(t *testing.T) {
		key := newKey(t)
		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		encoded := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

		loaded, ephemeral, err := LoadSigningKey(string(encoded))
		require.NoError(t, err)
		assert.False(t, ephemeral)
		assert.True(t, key.Equal(loaded))
	})

	t.Run("Rejects_Garbage", func(t *testing.T) {
		_, _, err := LoadSigningKey("-----BEGIN NOTHING-----")
		assert.Error(t, err)
	})
}
