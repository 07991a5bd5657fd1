package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/gatekeeper/core"
)

func TestPasswordFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, user, err := h.svc.SignUp(ctx, " Carol@Example.com ", "correct horse", "Carol")
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", user.Email)
	assert.Equal(t, core.AuthMethodPassword, user.AuthMethod)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$argon2id$"))
	assert.NotEmpty(t, issued.Token)

	t.Run("Login", func(t *testing.T) {
		issued, got, err := h.svc.LoginWithPassword(ctx, "CAROL@example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		session, err := h.svc.ValidateSession(ctx, issued.Token)
		require.NoError(t, err)
		assert.Equal(t, core.AuthMethodPassword, session.Method)
	})

	t.Run("Wrong_Password_And_Unknown_Email_Look_Alike", func(t *testing.T) {
		_, _, errWrong := h.svc.LoginWithPassword(ctx, "carol@example.com", "wrong horse")
		_, _, errUnknown := h.svc.LoginWithPassword(ctx, "nobody@example.com", "correct horse")
		assert.ErrorIs(t, errWrong, core.ErrInvalidCredentials)
		assert.Equal(t, errWrong, errUnknown)
	})

	t.Run("Duplicate_Sign_Up", func(t *testing.T) {
		_, _, err := h.svc.SignUp(ctx, "carol@example.com", "another horse", "")
		assert.ErrorIs(t, err, core.ErrIdentityConflict)
	})

	t.Run("Password_Policy", func(t *testing.T) {
		_, _, err := h.svc.SignUp(ctx, "dave@example.com", "short", "")
		assert.ErrorIs(t, err, core.ErrWeakPassword)

		_, _, err = h.svc.SignUp(ctx, "dave@example.com", strings.Repeat("x", maxPasswordLength+1), "")
		assert.ErrorIs(t, err, core.ErrWeakPassword)
	})

	t.Run("Overlong_Password_Skips_Hashing", func(t *testing.T) {
		before := h.hasher.verifies.Load()
		_, _, err := h.svc.LoginWithPassword(ctx, "carol@example.com", "correct horse"+strings.Repeat("x", maxPasswordLength))
		assert.Equal(t, core.ErrInvalidCredentials, err)
		assert.Equal(t, before, h.hasher.verifies.Load())

		_, _, err = h.svc.LoginWithPassword(ctx, "carol@example.com", strings.Repeat("é", maxPasswordLength+1))
		assert.Equal(t, core.ErrInvalidCredentials, err)
		assert.Equal(t, before, h.hasher.verifies.Load())
	})

	t.Run("Invalid_Email", func(t *testing.T) {
		for _, email := range []string{"", "dave", "Dave <dave@example.com>"} {
			_, _, err := h.svc.SignUp(ctx, email, "correct horse", "")
			assert.ErrorIs(t, err, core.ErrInvalidEmail, email)
		}
	})

	t.Run("OAuth_User_Has_No_Password", func(t *testing.T) {
		_, err := h.svc.Reconciler().ResolveOrCreate(ctx, core.OAuthIdentity{ProviderIdentity: core.ProviderIdentity{
			Provider: "fake", SubjectID: "42", Email: "grace@example.com",
		}})
		require.NoError(t, err)

		_, _, err = h.svc.LoginWithPassword(ctx, "grace@example.com", "")
		assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	})
}
