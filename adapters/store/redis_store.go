package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/gatekeeper/core"
)

// RedisStore is a Redis implementation of the challenge, transaction and
// session stores. Redis key expiry mirrors each record's ExpiresAt.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "gatekeeper:",
	}
}

func (s *RedisStore) challengeKey(nonce string) string {
	return s.prefix + "challenge:" + nonce
}

func (s *RedisStore) challengeUsedKey(nonce string) string {
	return s.prefix + "challenge:" + nonce + ":used"
}

func (s *RedisStore) transactionKey(id string) string {
	return s.prefix + "oauth:txn:" + id
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) put(ctx context.Context, key string, value any, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired, nothing a reader could see
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// SaveChallenge stores a challenge keyed by its nonce
func (s *RedisStore) SaveChallenge(ctx context.Context, challenge *core.Challenge) error {
	return s.put(ctx, s.challengeKey(challenge.Nonce), challenge, challenge.ExpiresAt)
}

// GetChallenge returns a live, unconsumed challenge
func (s *RedisStore) GetChallenge(ctx context.Context, nonce string) (*core.Challenge, error) {
	var getCmd *redis.StringCmd
	var usedCmd *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, s.challengeKey(nonce))
		usedCmd = pipe.Exists(ctx, s.challengeUsedKey(nonce))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	payload, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if usedCmd.Val() > 0 {
		return nil, core.ErrChallengeConsumed
	}

	var challenge core.Challenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &challenge, nil
}

// ConsumeChallenge claims the per-nonce "used" marker with SET NX, which
// only one caller can win.
func (s *RedisStore) ConsumeChallenge(ctx context.Context, nonce string) error {
	ttl, err := s.client.PTTL(ctx, s.challengeKey(nonce)).Result()
	if err != nil {
		return fmt.Errorf("failed to load challenge ttl: %w", err)
	}
	// PTTL reports -2 for missing keys
	if ttl <= 0 {
		return core.ErrChallengeExpired
	}

	won, err := s.client.SetNX(ctx, s.challengeUsedKey(nonce), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !won {
		return core.ErrChallengeConsumed
	}
	return nil
}

// SaveTransaction stores an OAuth transaction keyed by its id
func (s *RedisStore) SaveTransaction(ctx context.Context, txn *core.OAuthTransaction) error {
	return s.put(ctx, s.transactionKey(txn.ID), txn, txn.ExpiresAt)
}

// ConsumeTransaction fetches and deletes the transaction with GETDEL
func (s *RedisStore) ConsumeTransaction(ctx context.Context, id string) (*core.OAuthTransaction, error) {
	payload, err := s.client.GetDel(ctx, s.transactionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrInvalidOAuthState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume transaction: %w", err)
	}

	var txn core.OAuthTransaction
	if err := json.Unmarshal(payload, &txn); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if txn.Expired(time.Now()) {
		return nil, core.ErrInvalidOAuthState
	}
	return &txn, nil
}

// SaveSession stores a session keyed by its id
func (s *RedisStore) SaveSession(ctx context.Context, session *core.Session) error {
	return s.put(ctx, s.sessionKey(session.ID), session, session.ExpiresAt)
}

// GetSession returns a live session
func (s *RedisStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	payload, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session core.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, core.ErrSessionInvalid
	}
	return &session, nil
}

// DeleteSession removes a session
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
