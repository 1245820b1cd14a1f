package store

import (
	"context"
	"fmt"
	"sync"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
)

// MemoryStore is an in-memory Store. Maps are guarded by mu for the short
// copy in/out; transactions are serialized per owner by locks.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*margin.UserAccount
	positions map[string]*position.Position
	byOwner   map[string][]string
	locks     *keyedLocker
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*margin.UserAccount),
		positions: make(map[string]*position.Position),
		byOwner:   make(map[string][]string),
		locks:     newKeyedLocker(),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *margin.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Owner]; ok {
		return fmt.Errorf("%w: %s", common.ErrUserAlreadyExists, u.Owner)
	}
	cp := *u
	s.users[u.Owner] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, owner string) (*margin.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUserNotFound, owner)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]*margin.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*margin.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrPositionNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, filter Filter) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*position.Position
	if filter.Owner != "" {
		for _, id := range s.byOwner[filter.Owner] {
			if p := s.positions[id]; filter.match(p) {
				cp := *p
				out = append(out, &cp)
			}
		}
	} else {
		for _, p := range s.positions {
			if filter.match(p) {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	sortPositions(out)
	return out, nil
}

func (s *MemoryStore) WithinUser(ctx context.Context, owner string, fn func(tx Tx) error) error {
	unlock := s.locks.Lock(owner)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		owner:     owner,
		positions: make(map[string]*position.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// ========================================================

type memoryTx struct {
	store     *MemoryStore
	owner     string
	user      *margin.UserAccount
	positions map[string]*position.Position
	dirty     map[string]bool
	userDirty bool
}

func (tx *memoryTx) User(ctx context.Context) (*margin.UserAccount, error) {
	if tx.user != nil {
		return tx.user, nil
	}
	u, err := tx.store.GetUser(ctx, tx.owner)
	if err != nil {
		return nil, err
	}
	tx.user = u
	return u, nil
}

func (tx *memoryTx) Position(ctx context.Context, id string) (*position.Position, error) {
	if p, ok := tx.positions[id]; ok {
		return p, nil
	}
	p, err := tx.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Owner != tx.owner {
		return nil, fmt.Errorf("%w: %s not owned by %s", common.ErrPositionNotFound, id, tx.owner)
	}
	tx.positions[id] = p
	return p, nil
}

func (tx *memoryTx) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	tx.store.mu.RLock()
	ids := append([]string(nil), tx.store.byOwner[tx.owner]...)
	tx.store.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var out []*position.Position
	for _, id := range ids {
		p, err := tx.Position(ctx, id)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	for id, p := range tx.positions {
		if !seen[id] && p.IsOpen() {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

func (tx *memoryTx) SaveUser(_ context.Context, u *margin.UserAccount) error {
	if u.Owner != tx.owner {
		return fmt.Errorf("%w: account %s outside transaction for %s", common.ErrUnauthorized, u.Owner, tx.owner)
	}
	tx.user = u
	tx.userDirty = true
	return nil
}

func (tx *memoryTx) SavePosition(_ context.Context, p *position.Position) error {
	if p.Owner != tx.owner {
		return fmt.Errorf("%w: position %s outside transaction for %s", common.ErrUnauthorized, p.ID, tx.owner)
	}
	tx.positions[p.ID] = p
	if tx.dirty == nil {
		tx.dirty = make(map[string]bool)
	}
	tx.dirty[p.ID] = true
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.userDirty {
		cp := *tx.user
		s.users[tx.owner] = &cp
	}
	for id := range tx.dirty {
		cp := *tx.positions[id]
		if _, exists := s.positions[id]; !exists {
			s.byOwner[tx.owner] = append(s.byOwner[tx.owner], id)
		}
		s.positions[id] = &cp
	}
}
