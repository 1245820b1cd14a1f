package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// single-entity reads. Transactions go to the primary and invalidate every
// key they wrote once they commit. Lists always hit the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *margin.UserAccount) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.Owner))
	return nil
}

func (s *CachedStore) WithinUser(ctx context.Context, owner string, fn func(tx Tx) error) error {
	var keys []string
	err := s.primary.WithinUser(ctx, owner, func(tx Tx) error {
		keys = keys[:0]
		return fn(&invalidatingTx{Tx: tx, keys: &keys})
	})
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	var u margin.UserAccount
	if s.cached(ctx, userKey(owner), &u) {
		return &u, nil
	}

	fresh, err := s.primary.GetUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.store(ctx, userKey(owner), fresh)
	return fresh, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	var p position.Position
	if s.cached(ctx, positionKey(id), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, positionKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]*margin.UserAccount, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) ListPositions(ctx context.Context, filter Filter) ([]*position.Position, error) {
	return s.primary.ListPositions(ctx, filter)
}

// Close closes the Redis client and the primary.
func (s *CachedStore) Close() error {
	rerr := s.rdb.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return rerr
}

// --- helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

// invalidatingTx records the cache keys of everything saved through it.
type invalidatingTx struct {
	Tx
	keys *[]string
}

func (t *invalidatingTx) SaveUser(ctx context.Context, u *margin.UserAccount) error {
	if err := t.Tx.SaveUser(ctx, u); err != nil {
		return err
	}
	*t.keys = append(*t.keys, userKey(u.Owner))
	return nil
}

func (t *invalidatingTx) SavePosition(ctx context.Context, p *position.Position) error {
	if err := t.Tx.SavePosition(ctx, p); err != nil {
		return err
	}
	*t.keys = append(*t.keys, positionKey(p.ID))
	return nil
}

func userKey(owner string) string  { return fmt.Sprintf("user:%s", owner) }
func positionKey(id string) string { return fmt.Sprintf("position:%s", id) }
