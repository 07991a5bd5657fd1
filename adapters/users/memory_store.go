package users

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/gatekeeper/core"
)

// MemoryStore keeps users in process memory with the same uniqueness rules
// as the Postgres schema.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]core.User
	byEmail  map[string]string
	byWallet map[string]string
}

// NewMemoryStore creates an empty user store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]core.User),
		byEmail:  make(map[string]string),
		byWallet: make(map[string]string),
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(s.byEmail, email)
}

func (s *MemoryStore) GetByWallet(ctx context.Context, address string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(s.byWallet, address)
}

func (s *MemoryStore) lookup(index map[string]string, key string) (*core.User, error) {
	if key == "" {
		return nil, core.ErrUserNotFound
	}
	id, ok := index[key]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	u := s.byID[id]
	return &u, nil
}

// Create inserts a new user, failing with core.ErrDuplicateUser when the id,
// email or wallet address is taken.
func (s *MemoryStore) Create(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[user.ID]; ok {
		return core.ErrDuplicateUser
	}
	if s.taken(user) {
		return core.ErrDuplicateUser
	}
	s.index(user)
	return nil
}

// RecordLogin stamps a login on a user and fills empty profile fields
func (s *MemoryStore) RecordLogin(ctx context.Context, id string, at time.Time, displayName, avatarURL string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	u.LastLoginAt = at
	if u.DisplayName == "" {
		u.DisplayName = displayName
	}
	if u.AvatarURL == "" {
		u.AvatarURL = avatarURL
	}
	s.byID[id] = u
	return &u, nil
}

// AttachWallet sets the wallet of a user without touching other fields
func (s *MemoryStore) AttachWallet(ctx context.Context, id, address string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	if u.WalletAddress == address {
		return &u, nil
	}
	if u.WalletAddress != "" {
		return nil, core.ErrDuplicateUser
	}
	if owner, ok := s.byWallet[address]; ok && owner != id {
		return nil, core.ErrDuplicateUser
	}
	u.WalletAddress = address
	s.byID[id] = u
	s.byWallet[address] = id
	return &u, nil
}

// taken reports whether another user already holds user's email or wallet
func (s *MemoryStore) taken(user *core.User) bool {
	if id, ok := s.byEmail[user.Email]; ok && user.Email != "" && id != user.ID {
		return true
	}
	if id, ok := s.byWallet[user.WalletAddress]; ok && user.WalletAddress != "" && id != user.ID {
		return true
	}
	return false
}

func (s *MemoryStore) index(user *core.User) {
	s.byID[user.ID] = *user
	if user.Email != "" {
		s.byEmail[user.Email] = user.ID
	}
	if user.WalletAddress != "" {
		s.byWallet[user.WalletAddress] = user.ID
	}
}

// Len returns the number of stored users
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID)
}
