package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/gatekeeper/core"
)

type challengeEntry struct {
	challenge core.Challenge
	consumed  bool
}

// MemoryStore is an in-memory implementation of the challenge, transaction
// and session stores. State is lost on restart and not shared between
// instances, so it suits tests and single-node deployments.
type MemoryStore struct {
	mu           sync.Mutex
	challenges   map[string]*challengeEntry
	transactions map[string]core.OAuthTransaction
	sessions     map[string]core.Session
	now          func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:   make(map[string]*challengeEntry),
		transactions: make(map[string]core.OAuthTransaction),
		sessions:     make(map[string]core.Session),
		now:          time.Now,
	}
}

// WithClock replaces the time source used for expiry checks
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// SaveChallenge stores a challenge keyed by its nonce
func (s *MemoryStore) SaveChallenge(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[challenge.Nonce] = &challengeEntry{challenge: *challenge}
	return nil
}

// GetChallenge returns a live, unconsumed challenge
func (s *MemoryStore) GetChallenge(ctx context.Context, nonce string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.liveChallenge(nonce)
	if err != nil {
		return nil, err
	}
	if entry.consumed {
		return nil, core.ErrChallengeConsumed
	}
	c := entry.challenge
	return &c, nil
}

// ConsumeChallenge flips the consumed flag under the store lock
func (s *MemoryStore) ConsumeChallenge(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.liveChallenge(nonce)
	if err != nil {
		return err
	}
	if entry.consumed {
		return core.ErrChallengeConsumed
	}
	// Consumed entries stay until expiry so replays report as consumed
	entry.consumed = true
	return nil
}

func (s *MemoryStore) liveChallenge(nonce string) (*challengeEntry, error) {
	entry, ok := s.challenges[nonce]
	if !ok {
		return nil, core.ErrChallengeExpired
	}
	if entry.challenge.Expired(s.now()) {
		delete(s.challenges, nonce)
		return nil, core.ErrChallengeExpired
	}
	return entry, nil
}

// SaveTransaction stores an OAuth transaction keyed by its id
func (s *MemoryStore) SaveTransaction(ctx context.Context, txn *core.OAuthTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions[txn.ID] = *txn
	return nil
}

// ConsumeTransaction deletes the transaction and returns it if it was live
func (s *MemoryStore) ConsumeTransaction(ctx context.Context, id string) (*core.OAuthTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, core.ErrInvalidOAuthState
	}
	delete(s.transactions, id)
	if txn.Expired(s.now()) {
		return nil, core.ErrInvalidOAuthState
	}
	return &txn, nil
}

// SaveSession stores a session keyed by its id
func (s *MemoryStore) SaveSession(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = *session
	return nil
}

// GetSession returns a live session
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionInvalid
	}
	if session.Expired(s.now()) {
		delete(s.sessions, id)
		return nil, core.ErrSessionInvalid
	}
	return &session, nil
}

// DeleteSession removes a session; unknown ids are not an error
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Sweep drops every expired record and returns how many were removed
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for nonce, entry := range s.challenges {
		if entry.challenge.Expired(now) {
			delete(s.challenges, nonce)
			removed++
		}
	}
	for id, txn := range s.transactions {
		if txn.Expired(now) {
			delete(s.transactions, id)
			removed++
		}
	}
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired records every interval until ctx is done.
// Expiry is already enforced on read; this only bounds memory.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
