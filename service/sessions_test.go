package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/gatekeeper/core"
)

func TestSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.svc.IssueSession(ctx, "user-1", core.AuthMethodWallet)
	require.NoError(t, err)

	t.Run("Cookie", func(t *testing.T) {
		c := issued.Cookie
		assert.Equal(t, issued.Token, c.Value)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, int((24 * time.Hour).Seconds()), c.MaxAge)
	})

	t.Run("Token_Is_Opaque", func(t *testing.T) {
		parts := strings.Split(issued.Token, ".")
		require.Len(t, parts, 3)
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		require.NoError(t, err)
		assert.NotContains(t, string(payload), "user-1")
	})

	t.Run("Validate", func(t *testing.T) {
		session, err := h.svc.ValidateSession(ctx, issued.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", session.UserID)
	})

	t.Run("Malformed_Tokens", func(t *testing.T) {
		for _, token := range []string{"", "garbage", issued.Token + "x", strings.ToUpper(issued.Token)} {
			_, err := h.svc.ValidateSession(ctx, token)
			assert.Equal(t, core.ErrSessionInvalid, err)
		}
	})

	t.Run("Revoke", func(t *testing.T) {
		other, err := h.svc.IssueSession(ctx, "user-2", core.AuthMethodOAuth)
		require.NoError(t, err)

		require.NoError(t, h.svc.RevokeSession(ctx, other.Token))
		_, err = h.svc.ValidateSession(ctx, other.Token)
		assert.Equal(t, core.ErrSessionInvalid, err)
		assert.ErrorIs(t, h.svc.RevokeSession(ctx, other.Token), core.ErrSessionInvalid)

		_, logouts := h.events.counts()
		assert.Equal(t, 1, logouts)
	})

	t.Run("Expired", func(t *testing.T) {
		h.clock.advance(24 * time.Hour)
		_, err := h.svc.ValidateSession(ctx, issued.Token)
		assert.Equal(t, core.ErrSessionInvalid, err)
	})

	t.Run("Clear_Cookie", func(t *testing.T) {
		c := h.svc.ClearSessionCookie()
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	})
}
