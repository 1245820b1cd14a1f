package store

import (
	"context"
	"sort"

	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
)

// Store persists user accounts and positions.
//
// Every mutation goes through WithinUser: fn runs while the owner is
// serialized against every other WithinUser call for the same owner, and
// its writes are committed only if fn returns nil.
type Store interface {
	CreateUser(ctx context.Context, u *margin.UserAccount) error
	GetUser(ctx context.Context, owner string) (*margin.UserAccount, error)
	ListUsers(ctx context.Context) ([]*margin.UserAccount, error)
	GetPosition(ctx context.Context, id string) (*position.Position, error)
	ListPositions(ctx context.Context, filter Filter) ([]*position.Position, error)
	WithinUser(ctx context.Context, owner string, fn func(tx Tx) error) error
	Close() error
}

// Tx is the view of one owner's records inside WithinUser. Entities returned
// by Tx are private copies; changes are persisted with SaveUser/SavePosition.
type Tx interface {
	User(ctx context.Context) (*margin.UserAccount, error)
	Position(ctx context.Context, id string) (*position.Position, error)
	OpenPositions(ctx context.Context) ([]*position.Position, error)
	SaveUser(ctx context.Context, u *margin.UserAccount) error
	SavePosition(ctx context.Context, p *position.Position) error
}

// Filter narrows ListPositions. Zero values match everything.
type Filter struct {
	Owner    string
	Symbol   string
	OpenOnly bool
}

func (f Filter) match(p *position.Position) bool {
	if f.Owner != "" && p.Owner != f.Owner {
		return false
	}
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if f.OpenOnly && !p.IsOpen() {
		return false
	}
	return true
}

func sortPositions(ps []*position.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt != ps[j].OpenedAt {
			return ps[i].OpenedAt < ps[j].OpenedAt
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortUsers(us []*margin.UserAccount) {
	sort.Slice(us, func(i, j int) bool { return us[i].Owner < us[j].Owner })
}
