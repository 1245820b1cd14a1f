package engine

import (
	"context"
	"fmt"
	"time"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
	"frizo/position_engine/pkg/utils"
	"github.com/shopspring/decimal"
)

func (e *Engine) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	return e.store.GetPosition(ctx, id)
}

func (e *Engine) GetUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	return e.store.GetUser(ctx, owner)
}

func (e *Engine) ListPositions(ctx context.Context, filter store.Filter) ([]*position.Position, error) {
	return e.store.ListPositions(ctx, filter)
}

func (e *Engine) ListUsers(ctx context.Context) ([]*margin.UserAccount, error) {
	return e.store.ListUsers(ctx)
}

// UserPnL summarizes one owner's positions.
type UserPnL struct {
	Owner              string          `json:"owner"`
	OpenPositions      int             `json:"open_positions"`
	ClosedPositions    int             `json:"closed_positions"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
}

// UserPnL returns realized and unrealized PnL across owner's positions.
func (e *Engine) UserPnL(ctx context.Context, owner string) (*UserPnL, error) {
	if _, err := e.store.GetUser(ctx, owner); err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositions(ctx, store.Filter{Owner: owner})
	if err != nil {
		return nil, err
	}

	out := &UserPnL{Owner: owner}
	for _, p := range positions {
		if p.IsOpen() {
			out.OpenPositions++
			out.TotalUnrealizedPnL = out.TotalUnrealizedPnL.Add(decimal.NewFromInt(p.UnrealizedPnL))
		} else {
			out.ClosedPositions++
			out.TotalRealizedPnL = out.TotalRealizedPnL.Add(decimal.NewFromInt(p.RealizedPnL))
		}
	}
	out.TotalPnL = out.TotalUnrealizedPnL.Add(out.TotalRealizedPnL)
	return out, nil
}

// Metrics is an aggregate snapshot across all users and positions.
type Metrics struct {
	UserCount           int                   `json:"user_count"`
	PositionCount       int                   `json:"position_count"`
	OpenPositions       int                   `json:"open_positions"`
	ClosedPositions     int                   `json:"closed_positions"`
	LiquidatedPositions int                   `json:"liquidated_positions"`
	TotalVolume         decimal.Decimal       `json:"total_volume"`
	TotalCollateral     decimal.Decimal       `json:"total_collateral"`
	LockedCollateral    decimal.Decimal       `json:"locked_collateral"`
	TotalRealizedPnL    decimal.Decimal       `json:"total_realized_pnl"`
	TotalUnrealizedPnL  decimal.Decimal       `json:"total_unrealized_pnl"`
	MaxLeverage         uint16                `json:"max_leverage"`
	LeverageTiers       []margin.LeverageTier `json:"leverage_tiers"`
}

// Metrics computes the aggregate snapshot. Volume is Σ entry price × size
// over every position ever opened.
func (e *Engine) Metrics(ctx context.Context) (*Metrics, error) {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositions(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		UserCount:     len(users),
		PositionCount: len(positions),
		MaxLeverage:   e.tiers.MaxLeverage(),
		LeverageTiers: e.tiers.Tiers(),
	}
	for _, u := range users {
		m.TotalCollateral = m.TotalCollateral.Add(decimal.NewFromUint64(u.TotalCollateral))
		m.LockedCollateral = m.LockedCollateral.Add(decimal.NewFromUint64(u.LockedCollateral))
	}
	for _, p := range positions {
		m.TotalVolume = m.TotalVolume.Add(p.Notional())
		switch p.Status {
		case position.StatusOpen:
			m.OpenPositions++
			m.TotalUnrealizedPnL = m.TotalUnrealizedPnL.Add(decimal.NewFromInt(p.UnrealizedPnL))
		case position.StatusClosed:
			m.ClosedPositions++
			m.TotalRealizedPnL = m.TotalRealizedPnL.Add(decimal.NewFromInt(p.RealizedPnL))
		case position.StatusLiquidated:
			m.LiquidatedPositions++
			m.TotalRealizedPnL = m.TotalRealizedPnL.Add(decimal.NewFromInt(p.RealizedPnL))
		}
	}
	return m, nil
}

// VerifyLedger checks that owner's locked collateral equals the sum of the
// margins of their open positions, and that the open count matches.
func (e *Engine) VerifyLedger(ctx context.Context, owner string) error {
	return e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
		user, err := tx.User(ctx)
		if err != nil {
			return err
		}
		open, err := tx.OpenPositions(ctx)
		if err != nil {
			return err
		}

		sum := decimal.Zero
		for _, p := range open {
			sum = sum.Add(decimal.NewFromUint64(p.Margin))
		}
		if !sum.Equal(decimal.NewFromUint64(user.LockedCollateral)) {
			return fmt.Errorf("%w: %s locked %d, open margins %s", common.ErrLedgerInvariant, owner, user.LockedCollateral, sum)
		}
		if int(user.PositionCount) != len(open) {
			return fmt.Errorf("%w: %s counts %d open positions, found %d", common.ErrLedgerInvariant, owner, user.PositionCount, len(open))
		}
		return nil
	})
}

// UpdateMarkPrice marks every open position on symbol to price and returns
// the positions whose mark has crossed their liquidation price. Liquidating
// them is left to the caller.
func (e *Engine) UpdateMarkPrice(ctx context.Context, symbol string, price uint64) (liquidatable []*position.Position, err error) {
	defer func(start time.Time) { e.observe("update_mark_price", start, err) }(time.Now())

	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", common.ErrInvalidSymbol)
	}
	if price == 0 {
		return nil, fmt.Errorf("%w: mark price must be positive", common.ErrInvalidPrice)
	}

	open, err := e.store.ListPositions(ctx, store.Filter{Symbol: symbol, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	owners := make(map[string][]string)
	var order []string
	for _, p := range open {
		if _, ok := owners[p.Owner]; !ok {
			order = append(order, p.Owner)
		}
		owners[p.Owner] = append(owners[p.Owner], p.ID)
	}

	now := e.clock.Now()
	var marked []*position.Position
	for _, owner := range order {
		var batch []*position.Position
		err := e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
			batch = batch[:0]
			for _, id := range owners[owner] {
				p, err := tx.Position(ctx, id)
				if err != nil {
					return err
				}
				// closed since the listing
				if !p.IsOpen() {
					continue
				}
				if err := p.Mark(price, now); err != nil {
					return err
				}
				if err := tx.SavePosition(ctx, p); err != nil {
					return err
				}
				batch = append(batch, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("mark %s positions of %s: %w", symbol, owner, err)
		}
		marked = append(marked, batch...)
	}

	for _, p := range marked {
		e.notifier.Publish(newEvent(EventMarkPrice, p, price, p.UnrealizedPnL))
	}
	liquidatable = utils.Filter(marked, func(p *position.Position) bool { return p.IsLiquidatable() })
	if len(liquidatable) > 0 {
		e.log.Warn("positions past liquidation price",
			"symbol", symbol,
			"mark_price", price,
			"count", len(liquidatable),
			"ids", utils.Map(liquidatable, func(p *position.Position) string { return p.ID }),
		)
	}
	return liquidatable, nil
}
