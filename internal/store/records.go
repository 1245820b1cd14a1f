package store

import (
	"fmt"

	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"github.com/shopspring/decimal"
)

// userRecord and positionRecord are the row shapes of the SQL stores.
// Unsigned amounts are kept as decimal text so the full uint64 range
// survives signed 64-bit columns.
type userRecord struct {
	Owner            string          `gorm:"primaryKey"`
	TotalCollateral  decimal.Decimal `gorm:"type:text;not null"`
	LockedCollateral decimal.Decimal `gorm:"type:text;not null"`
	PositionCount    uint32          `gorm:"not null"`
	TotalPnL         int64           `gorm:"column:total_pnl;not null"`
	CreatedAt        int64           `gorm:"autoCreateTime:false"`
	LastActivity     int64
}

func (userRecord) TableName() string { return "users" }

type positionRecord struct {
	ID               string          `gorm:"primaryKey"`
	Owner            string          `gorm:"index;not null"`
	Symbol           string          `gorm:"index"`
	Side             string          `gorm:"not null"`
	Status           string          `gorm:"index;not null"`
	Size             decimal.Decimal `gorm:"type:text;not null"`
	EntryPrice       decimal.Decimal `gorm:"type:text;not null"`
	MarkPrice        decimal.Decimal `gorm:"type:text"`
	ClosePrice       decimal.Decimal `gorm:"type:text"`
	LiquidationPrice decimal.Decimal `gorm:"type:text"`
	Leverage         uint16
	MaintenanceRate  decimal.Decimal `gorm:"type:text"`
	Margin           decimal.Decimal `gorm:"type:text;not null"`
	UnrealizedPnL    int64           `gorm:"column:unrealized_pnl"`
	RealizedPnL      int64           `gorm:"column:realized_pnl"`
	OpenedAt         int64
	ClosedAt         int64
	UpdatedAt        int64 `gorm:"autoUpdateTime:false"`
}

func (positionRecord) TableName() string { return "positions" }

func u64(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v)
}

func toU64(d decimal.Decimal, field string) (uint64, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%s: %s is not an unsigned integer", field, d)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%s: %s exceeds uint64", field, d)
	}
	return b.Uint64(), nil
}

func newUserRecord(u *margin.UserAccount) *userRecord {
	return &userRecord{
		Owner:            u.Owner,
		TotalCollateral:  u64(u.TotalCollateral),
		LockedCollateral: u64(u.LockedCollateral),
		PositionCount:    u.PositionCount,
		TotalPnL:         u.TotalPnL,
		CreatedAt:        u.CreatedAt,
		LastActivity:     u.LastActivity,
	}
}

func (r *userRecord) account() (*margin.UserAccount, error) {
	total, err := toU64(r.TotalCollateral, "total_collateral")
	if err != nil {
		return nil, err
	}
	locked, err := toU64(r.LockedCollateral, "locked_collateral")
	if err != nil {
		return nil, err
	}
	return &margin.UserAccount{
		Owner:            r.Owner,
		TotalCollateral:  total,
		LockedCollateral: locked,
		PositionCount:    r.PositionCount,
		TotalPnL:         r.TotalPnL,
		CreatedAt:        r.CreatedAt,
		LastActivity:     r.LastActivity,
	}, nil
}

func newPositionRecord(p *position.Position) *positionRecord {
	return &positionRecord{
		ID:               p.ID,
		Owner:            p.Owner,
		Symbol:           p.Symbol,
		Side:             p.Side.String(),
		Status:           p.Status.String(),
		Size:             u64(p.Size),
		EntryPrice:       u64(p.EntryPrice),
		MarkPrice:        u64(p.MarkPrice),
		ClosePrice:       u64(p.ClosePrice),
		LiquidationPrice: u64(p.LiquidationPrice),
		Leverage:         p.Leverage,
		MaintenanceRate:  p.MaintenanceRate,
		Margin:           u64(p.Margin),
		UnrealizedPnL:    p.UnrealizedPnL,
		RealizedPnL:      p.RealizedPnL,
		OpenedAt:         p.OpenedAt,
		ClosedAt:         p.ClosedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (r *positionRecord) position() (*position.Position, error) {
	side, err := position.ParseSide(r.Side)
	if err != nil {
		return nil, err
	}
	status, err := position.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	p := &position.Position{
		ID:              r.ID,
		Owner:           r.Owner,
		Symbol:          r.Symbol,
		Side:            side,
		Status:          status,
		Leverage:        r.Leverage,
		MaintenanceRate: r.MaintenanceRate,
		UnrealizedPnL:   r.UnrealizedPnL,
		RealizedPnL:     r.RealizedPnL,
		OpenedAt:        r.OpenedAt,
		ClosedAt:        r.ClosedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	fields := []struct {
		name string
		src  decimal.Decimal
		dst  *uint64
	}{
		{"size", r.Size, &p.Size},
		{"entry_price", r.EntryPrice, &p.EntryPrice},
		{"mark_price", r.MarkPrice, &p.MarkPrice},
		{"close_price", r.ClosePrice, &p.ClosePrice},
		{"liquidation_price", r.LiquidationPrice, &p.LiquidationPrice},
		{"margin", r.Margin, &p.Margin},
	}
	for _, f := range fields {
		v, err := toU64(f.src, f.name)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", r.ID, err)
		}
		*f.dst = v
	}
	return p, nil
}
