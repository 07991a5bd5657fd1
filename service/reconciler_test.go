package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/gatekeeper/adapters/users"
	"github.com/layer-3/gatekeeper/core"
)

// racyStore holds the first lookup of every worker until all of them have
// missed, so that each one attempts an insert.
type racyStore struct {
	*users.MemoryStore
	arrived sync.WaitGroup
	mu      sync.Mutex
	pending int
}

func newRacyStore(workers int) *racyStore {
	s := &racyStore{MemoryStore: users.NewMemoryStore(), pending: workers}
	s.arrived.Add(workers)
	return s
}

func (s *racyStore) GetByWallet(ctx context.Context, address string) (*core.User, error) {
	s.mu.Lock()
	first := s.pending > 0
	if first {
		s.pending--
	}
	s.mu.Unlock()

	if first {
		s.arrived.Done()
		s.arrived.Wait()
		return nil, core.ErrUserNotFound
	}
	return s.MemoryStore.GetByWallet(ctx, address)
}

func TestResolveOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Concurrent_First_Login_Converges", func(t *testing.T) {
		const workers = 16
		store := newRacyStore(workers)
		r := NewReconciler(store, zaptest.NewLogger(t))

		ids := make(chan string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				user, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0x00000000000000000000000000000000000000aa"})
				if assert.NoError(t, err) {
					ids <- user.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		var first string
		for id := range ids {
			if first == "" {
				first = id
			}
			assert.Equal(t, first, id)
		}
		assert.NotEmpty(t, first)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("OAuth_Without_Email", func(t *testing.T) {
		r := NewReconciler(users.NewMemoryStore(), nil)
		_, err := r.ResolveOrCreate(ctx, core.OAuthIdentity{ProviderIdentity: core.ProviderIdentity{Provider: "fake", SubjectID: "1"}})
		assert.ErrorIs(t, err, core.ErrIdentityConflict)
	})

	t.Run("OAuth_Email_Verification_Unknown", func(t *testing.T) {
		r := NewReconciler(users.NewMemoryStore(), nil)
		user, err := r.ResolveOrCreate(ctx, core.OAuthIdentity{ProviderIdentity: core.ProviderIdentity{
			Provider: "fake", SubjectID: "1", Email: "eve@example.com",
		}})
		require.NoError(t, err)
		assert.Equal(t, "eve@example.com", user.Email)
	})

	t.Run("Does_Not_Merge_Across_Keys", func(t *testing.T) {
		store := users.NewMemoryStore()
		r := NewReconciler(store, nil)

		byEmail, err := r.ResolveOrCreate(ctx, core.OAuthIdentity{ProviderIdentity: core.ProviderIdentity{Email: "frank@example.com"}})
		require.NoError(t, err)
		byWallet, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0x00000000000000000000000000000000000000bb"})
		require.NoError(t, err)

		assert.NotEqual(t, byEmail.ID, byWallet.ID)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("Wallet_Case_Converges", func(t *testing.T) {
		store := users.NewMemoryStore()
		r := NewReconciler(store, zaptest.NewLogger(t))

		mixed, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0xABCDEF0000000000000000000000000000000001"})
		require.NoError(t, err)
		lower, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0xabcdef0000000000000000000000000000000001"})
		require.NoError(t, err)

		assert.Equal(t, mixed.ID, lower.ID)
		assert.Equal(t, "0xabcdef0000000000000000000000000000000001", lower.WalletAddress)
		assert.Equal(t, 1, store.Len())

		_, err = r.ResolveOrCreate(ctx, core.WalletProof{Address: "0xnot-an-address"})
		assert.ErrorIs(t, err, core.ErrInvalidAddress)
	})

	t.Run("Login_Keeps_Concurrent_Wallet_Link", func(t *testing.T) {
		store := &interleavingStore{MemoryStore: users.NewMemoryStore()}
		r := NewReconciler(store, zaptest.NewLogger(t))

		registered, err := r.Register(ctx, core.PasswordIdentity{Email: "grace@example.com", PasswordHash: "hash"})
		require.NoError(t, err)

		const address = "0x00000000000000000000000000000000000000dd"
		store.afterEmailLookup = func() {
			_, err := r.LinkWallet(ctx, registered.ID, core.WalletProof{Address: address})
			require.NoError(t, err)
		}

		user, err := r.ResolveOrCreate(ctx, core.PasswordIdentity{Email: "grace@example.com", DisplayName: "Grace"})
		require.NoError(t, err)
		assert.Equal(t, address, user.WalletAddress)
		assert.Equal(t, "Grace", user.DisplayName)

		stored, err := store.GetByID(ctx, registered.ID)
		require.NoError(t, err)
		assert.Equal(t, address, stored.WalletAddress)
	})

	t.Run("Store_Failure_Is_Not_Conflict", func(t *testing.T) {
		r := NewReconciler(failingStore{users.NewMemoryStore()}, nil)
		_, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0x00000000000000000000000000000000000000cc"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, core.ErrIdentityConflict)
	})
}

type failingStore struct {
	*users.MemoryStore
}

func (failingStore) GetByWallet(context.Context, string) (*core.User, error) {
	return nil, errors.New("connection reset")
}

// interleavingStore runs afterEmailLookup once, between the reconciler's
// email lookup and its write.
type interleavingStore struct {
	*users.MemoryStore
	afterEmailLookup func()
	once             sync.Once
}

func (s *interleavingStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	user, err := s.MemoryStore.GetByEmail(ctx, email)
	if err == nil && s.afterEmailLookup != nil {
		s.once.Do(s.afterEmailLookup)
	}
	return user, err
}

func TestLinkWalletNormalizesAddress(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemoryStore()
	r := NewReconciler(store, zaptest.NewLogger(t))

	user, err := r.Register(ctx, core.PasswordIdentity{Email: "ivan@example.com", PasswordHash: "hash"})
	require.NoError(t, err)

	linked, err := r.LinkWallet(ctx, user.ID, core.WalletProof{Address: "0xABCDEF00000000000000000000000000000000EE"})
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef00000000000000000000000000000000ee", linked.WalletAddress)

	again, err := r.LinkWallet(ctx, user.ID, core.WalletProof{Address: "0xabcdef00000000000000000000000000000000ee"})
	require.NoError(t, err)
	assert.Equal(t, linked.WalletAddress, again.WalletAddress)

	owner, err := r.ResolveOrCreate(ctx, core.WalletProof{Address: "0xAbCdEf00000000000000000000000000000000eE"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner.ID)

	_, err = r.LinkWallet(ctx, user.ID, core.WalletProof{Address: "not-an-address"})
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}
