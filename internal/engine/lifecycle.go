package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/metrics"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
)

// InitializeUser creates the collateral account for owner.
func (e *Engine) InitializeUser(ctx context.Context, owner string) (user *margin.UserAccount, err error) {
	defer func(start time.Time) { e.observe("initialize_user", start, err) }(time.Now())

	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	user = margin.NewUserAccount(owner, e.clock.Now())
	if err := e.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	e.log.Info("user initialized", "owner", owner)
	return user, nil
}

// Deposit adds free collateral to owner's account.
func (e *Engine) Deposit(ctx context.Context, owner string, amount uint64) (user *margin.UserAccount, err error) {
	defer func(start time.Time) { e.observe("deposit", start, err) }(time.Now())

	err = e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
		u, err := tx.User(ctx)
		if err != nil {
			return err
		}
		if err := u.Deposit(amount); err != nil {
			return err
		}
		u.Touch(e.clock.Now())
		user = u
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("collateral deposited", "owner", owner, "amount", amount, "total", user.TotalCollateral)
	return user, nil
}

// Withdraw removes free collateral from owner's account.
func (e *Engine) Withdraw(ctx context.Context, owner string, amount uint64) (user *margin.UserAccount, err error) {
	defer func(start time.Time) { e.observe("withdraw", start, err) }(time.Now())

	err = e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
		u, err := tx.User(ctx)
		if err != nil {
			return err
		}
		if err := u.Withdraw(amount); err != nil {
			return err
		}
		u.Touch(e.clock.Now())
		user = u
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("collateral withdrawn", "owner", owner, "amount", amount, "total", user.TotalCollateral)
	return user, nil
}

// ========================================================
// Open

// OpenPosition resolves the tier, prices margin and liquidation, creates the
// position and locks its margin in one transaction.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (res *OpenResult, err error) {
	defer func(start time.Time) { e.observe("open_position", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > e.tiers.MaxLeverage() && req.Leverage <= e.tierCeiling() {
		return nil, fmt.Errorf("%w: %dx above the %dx maximum", common.ErrInvalidLeverage, req.Leverage, e.tiers.MaxLeverage())
	}

	tier, err := e.tiers.Resolve(req.Leverage, req.Size)
	if err != nil {
		return nil, err
	}
	required, err := margin.RequiredMargin(req.EntryPrice, req.Size, req.Leverage)
	if err != nil {
		return nil, err
	}
	liq, err := margin.LiquidationPrice(req.EntryPrice, req.Leverage, tier.MaintenanceMarginRate, req.Side)
	if err != nil {
		return nil, err
	}
	if liq.Clamped {
		metrics.LiquidationPriceClamps.Inc()
		e.log.Warn("liquidation price clamped to zero",
			"owner", req.Owner, "symbol", req.Symbol, "leverage", req.Leverage,
			"maintenance_rate", tier.MaintenanceMarginRate.String())
	}

	res = &OpenResult{
		Tier:               tier,
		Margin:             required,
		MaintenanceMargin:  margin.MaintenanceMargin(req.EntryPrice, req.Size, tier),
		LiquidationPrice:   liq.Price,
		LiquidationClamped: liq.Clamped,
	}

	err = e.store.WithinUser(ctx, req.Owner, func(tx store.Tx) error {
		user, err := tx.User(ctx)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		pos, err := position.New(position.Params{
			Owner:            req.Owner,
			Symbol:           req.Symbol,
			Side:             req.Side,
			Size:             req.Size,
			EntryPrice:       req.EntryPrice,
			Leverage:         req.Leverage,
			Margin:           required,
			LiquidationPrice: liq.Price,
			MaintenanceRate:  tier.MaintenanceMarginRate,
			Now:              now,
		})
		if err != nil {
			return err
		}

		if err := user.Lock(required); err != nil {
			return err
		}
		if err := user.TrackOpened(); err != nil {
			return err
		}
		user.Touch(now)

		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		res.Position, res.User = pos, user
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	metrics.PositionsOpened.WithLabelValues(req.Side.String()).Inc()
	metrics.OpenPositions.Inc()
	e.notifier.Publish(newEvent(EventPositionOpened, res.Position, req.EntryPrice, 0))
	e.log.Info("position opened",
		"id", res.Position.ID,
		"owner", req.Owner,
		"symbol", req.Symbol,
		"side", req.Side.String(),
		"size", req.Size,
		"entry_price", req.EntryPrice,
		"leverage", req.Leverage,
		"tier", tier.MaxLeverage,
		"margin", required,
		"liquidation_price", liq.Price,
	)
	return res, nil
}

func (e *Engine) tierCeiling() uint16 {
	tiers := e.tiers.Tiers()
	return tiers[len(tiers)-1].MaxLeverage
}

// ========================================================
// Modify

// ModifyPosition applies size and margin deltas to an open position. A size
// change re-resolves the tier and re-derives the liquidation price; a margin
// change locks or releases the delta.
func (e *Engine) ModifyPosition(ctx context.Context, req ModifyRequest) (res *ModifyResult, err error) {
	defer func(start time.Time) { e.observe("modify_position", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	owner, err := e.ownerOf(ctx, req.PositionID, req.Owner)
	if err != nil {
		return nil, err
	}

	res = &ModifyResult{}
	err = e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
		pos, err := tx.Position(ctx, req.PositionID)
		if err != nil {
			return err
		}
		size, err := pos.ResizedBy(req.SizeDelta)
		if err != nil {
			return err
		}
		newMargin, err := pos.MarginAfter(req.MarginDelta)
		if err != nil {
			return err
		}

		tier, err := e.tiers.Resolve(pos.Leverage, size)
		if err != nil {
			return err
		}
		liqPrice, rate := pos.LiquidationPrice, pos.MaintenanceRate
		if size != pos.Size || !tier.MaintenanceMarginRate.Equal(rate) {
			liq, err := margin.LiquidationPrice(pos.EntryPrice, pos.Leverage, tier.MaintenanceMarginRate, pos.Side)
			if err != nil {
				return err
			}
			liqPrice, rate = liq.Price, tier.MaintenanceMarginRate
		}

		user, err := tx.User(ctx)
		if err != nil {
			return err
		}
		switch {
		case req.MarginDelta > 0:
			err = user.Lock(newMargin - pos.Margin)
		case req.MarginDelta < 0:
			err = user.Release(pos.Margin - newMargin)
		}
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if err := pos.Modify(size, newMargin, liqPrice, rate, now); err != nil {
			return err
		}
		user.Touch(now)

		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		res.Position, res.User, res.Tier = pos, user, tier
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Publish(newEvent(EventPositionModified, res.Position, 0, 0))
	e.log.Info("position modified",
		"id", res.Position.ID,
		"owner", owner,
		"size_delta", req.SizeDelta,
		"margin_delta", req.MarginDelta,
		"size", res.Position.Size,
		"margin", res.Position.Margin,
		"liquidation_price", res.Position.LiquidationPrice,
	)
	return res, nil
}

// ========================================================
// Close / Liquidate

// ClosePosition settles a position at the exit price, releases its margin
// and books the realized PnL.
func (e *Engine) ClosePosition(ctx context.Context, req CloseRequest) (res *SettleResult, err error) {
	defer func(start time.Time) { e.observe("close_position", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	owner, err := e.ownerOf(ctx, req.PositionID, req.Owner)
	if err != nil {
		return nil, err
	}

	res, err = e.settle(ctx, owner, req.PositionID, func(p *position.Position, now int64) (int64, error) {
		return p.Close(req.ExitPrice, now)
	})
	if err != nil {
		return nil, err
	}

	e.afterSettle(EventPositionClosed, res)
	return res, nil
}

// LiquidatePosition settles a position as liquidated. The decision to
// liquidate is the caller's; no price check is made here.
func (e *Engine) LiquidatePosition(ctx context.Context, req LiquidateRequest) (res *SettleResult, err error) {
	defer func(start time.Time) { e.observe("liquidate_position", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	owner, err := e.ownerOf(ctx, req.PositionID, "")
	if err != nil {
		return nil, err
	}

	res, err = e.settle(ctx, owner, req.PositionID, func(p *position.Position, now int64) (int64, error) {
		return p.Liquidate(req.Price, now)
	})
	if errors.Is(err, common.ErrInvalidPrice) && req.Price == 0 {
		e.log.Warn("liquidation needs an explicit price",
			"id", req.PositionID, "owner", owner)
	}
	if err != nil {
		return nil, err
	}

	e.afterSettle(EventPositionLiquidated, res)
	return res, nil
}

type settleFunc func(p *position.Position, now int64) (int64, error)

func (e *Engine) settle(ctx context.Context, owner, id string, transition settleFunc) (*SettleResult, error) {
	res := &SettleResult{}
	err := e.store.WithinUser(ctx, owner, func(tx store.Tx) error {
		pos, err := tx.Position(ctx, id)
		if err != nil {
			return err
		}
		user, err := tx.User(ctx)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		pnl, err := transition(pos, now)
		if err != nil {
			return err
		}
		if err := user.Release(pos.Margin); err != nil {
			return err
		}
		if err := user.ApplyPnL(pnl); err != nil {
			return err
		}
		if err := user.TrackClosed(); err != nil {
			return err
		}
		user.Touch(now)

		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		res.Position, res.User = pos, user
		res.RealizedPnL, res.SettlementPrice, res.ReleasedMargin = pnl, pos.ClosePrice, pos.Margin
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) afterSettle(t EventType, res *SettleResult) {
	p := res.Position
	metrics.PositionsSettled.WithLabelValues(p.Status.String()).Inc()
	metrics.OpenPositions.Dec()
	e.notifier.Publish(newEvent(t, p, res.SettlementPrice, res.RealizedPnL))
	e.log.Info("position "+p.Status.String(),
		"id", p.ID,
		"owner", p.Owner,
		"price", res.SettlementPrice,
		"realized_pnl", res.RealizedPnL,
		"released_margin", res.ReleasedMargin,
		"total_pnl", res.User.TotalPnL,
	)
}

// ownerOf returns the owner of id, rejecting a caller that is not the owner.
func (e *Engine) ownerOf(ctx context.Context, id, caller string) (string, error) {
	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return "", err
	}
	if caller != "" && caller != pos.Owner {
		return "", fmt.Errorf("%w: %s does not own %s", common.ErrUnauthorized, caller, id)
	}
	return pos.Owner, nil
}
