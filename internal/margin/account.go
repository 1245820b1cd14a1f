package margin

import (
	"fmt"
	"math"

	"frizo/position_engine/internal/common"
)

// UserAccount (保證金帳戶) is the collateral ledger of one owner.
//
// LockedCollateral always equals the sum of Margin over the owner's open
// positions. The account carries no lock of its own; callers mutate it
// inside the store's per-owner transaction.
type UserAccount struct {
	Owner string `json:"owner"`

	TotalCollateral  uint64 `json:"total_collateral"`  // 總保證金
	LockedCollateral uint64 `json:"locked_collateral"` // 倉位鎖定保證金
	PositionCount    uint32 `json:"position_count"`    // open positions
	TotalPnL         int64  `json:"total_pnl"`         // 已實現盈虧 (aggregate)

	CreatedAt    int64 `json:"created_at"`
	LastActivity int64 `json:"last_activity"`
}

func NewUserAccount(owner string, now int64) *UserAccount {
	return &UserAccount{
		Owner:        owner,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Available is collateral not locked by open positions.
func (a *UserAccount) Available() uint64 {
	if a.LockedCollateral > a.TotalCollateral {
		return 0
	}
	return a.TotalCollateral - a.LockedCollateral
}

// Lock reserves amount of collateral for a position margin.
func (a *UserAccount) Lock(amount uint64) error {
	if amount > math.MaxUint64-a.LockedCollateral {
		return fmt.Errorf("%w: lock %d on top of %d", common.ErrCalculationOverflow, amount, a.LockedCollateral)
	}
	if amount > a.Available() {
		return fmt.Errorf("%w: lock %d, available %d", common.ErrInsufficientCollateral, amount, a.Available())
	}
	a.LockedCollateral += amount
	return nil
}

// Release returns amount of locked collateral to the free balance.
func (a *UserAccount) Release(amount uint64) error {
	if amount > a.LockedCollateral {
		return fmt.Errorf("%w: release %d, locked %d", common.ErrCalculationUnderflow, amount, a.LockedCollateral)
	}
	a.LockedCollateral -= amount
	return nil
}

// ApplyPnL adds a realized PnL delta to the aggregate PnL.
func (a *UserAccount) ApplyPnL(delta int64) error {
	if (delta > 0 && a.TotalPnL > math.MaxInt64-delta) ||
		(delta < 0 && a.TotalPnL < math.MinInt64-delta) {
		return fmt.Errorf("%w: pnl %d + %d", common.ErrCalculationOverflow, a.TotalPnL, delta)
	}
	a.TotalPnL += delta
	return nil
}

// Deposit
func (a *UserAccount) Deposit(amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: deposit must be positive", common.ErrInvalidAmount)
	}
	if amount > math.MaxUint64-a.TotalCollateral {
		return fmt.Errorf("%w: deposit %d on top of %d", common.ErrCalculationOverflow, amount, a.TotalCollateral)
	}
	a.TotalCollateral += amount
	return nil
}

// Withdraw removes free collateral; locked collateral cannot be withdrawn.
func (a *UserAccount) Withdraw(amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: withdraw must be positive", common.ErrInvalidAmount)
	}
	if amount > a.Available() {
		return fmt.Errorf("%w: withdraw %d, available %d", common.ErrInsufficientCollateral, amount, a.Available())
	}
	a.TotalCollateral -= amount
	return nil
}

// TrackOpened increments the open position count.
func (a *UserAccount) TrackOpened() error {
	if a.PositionCount == math.MaxUint32 {
		return fmt.Errorf("%w: position count", common.ErrCalculationOverflow)
	}
	a.PositionCount++
	return nil
}

// TrackClosed decrements the open position count.
func (a *UserAccount) TrackClosed() error {
	if a.PositionCount == 0 {
		return fmt.Errorf("%w: position count", common.ErrCalculationUnderflow)
	}
	a.PositionCount--
	return nil
}

// Touch records activity at now.
func (a *UserAccount) Touch(now int64) {
	a.LastActivity = now
}
