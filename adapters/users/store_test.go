package users

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

func runUserStoreSuite(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	email := "alice-" + suffix + "@example.com"
	wallet := "0x" + suffix + "00000000000000000000000000000000"

	user := &core.User{
		ID:          uuid.NewString(),
		Email:       email,
		AuthMethod:  core.AuthMethodOAuth,
		DisplayName: "Alice",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		LastLoginAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Create(ctx, user))

	t.Run("Lookup_By_Each_Key", func(t *testing.T) {
		byID, err := s.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, email, byID.Email)
		assert.Equal(t, core.AuthMethodOAuth, byID.AuthMethod)

		byEmail, err := s.GetByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)

		_, err = s.GetByWallet(ctx, wallet)
		assert.ErrorIs(t, err, core.ErrUserNotFound)
		_, err = s.GetByEmail(ctx, "")
		assert.ErrorIs(t, err, core.ErrUserNotFound)
	})

	t.Run("Duplicate_Email_Rejected", func(t *testing.T) {
		err := s.Create(ctx, &core.User{ID: uuid.NewString(), Email: email, AuthMethod: core.AuthMethodPassword})
		assert.ErrorIs(t, err, core.ErrDuplicateUser)
	})

	t.Run("Attach_Wallet", func(t *testing.T) {
		got, err := s.AttachWallet(ctx, user.ID, wallet)
		require.NoError(t, err)
		assert.Equal(t, wallet, got.WalletAddress)
		assert.Equal(t, email, got.Email)

		byWallet, err := s.GetByWallet(ctx, wallet)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byWallet.ID)

		_, err = s.AttachWallet(ctx, user.ID, wallet)
		assert.NoError(t, err, "same wallet is a no-op")

		_, err = s.AttachWallet(ctx, user.ID, "0x"+suffix+"ffffffffffffffffffffffffffffffff")
		assert.ErrorIs(t, err, core.ErrDuplicateUser)

		other := &core.User{ID: uuid.NewString(), AuthMethod: core.AuthMethodPassword, Email: "other-" + suffix + "@example.com"}
		require.NoError(t, s.Create(ctx, other))
		_, err = s.AttachWallet(ctx, other.ID, wallet)
		assert.ErrorIs(t, err, core.ErrDuplicateUser)

		_, err = s.AttachWallet(ctx, uuid.NewString(), wallet)
		assert.ErrorIs(t, err, core.ErrUserNotFound)
	})

	t.Run("Record_Login_Fills_Only_Empty_Fields", func(t *testing.T) {
		at := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
		got, err := s.RecordLogin(ctx, user.ID, at, "Someone Else", "https://img.test/a.png")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.DisplayName)
		assert.Equal(t, "https://img.test/a.png", got.AvatarURL)
		assert.Equal(t, wallet, got.WalletAddress)
		assert.True(t, at.Equal(got.LastLoginAt))

		_, err = s.RecordLogin(ctx, uuid.NewString(), at, "", "")
		assert.ErrorIs(t, err, core.ErrUserNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runUserStoreSuite(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()

	runUserStoreSuite(t, s)
}
