package position

import (
	"fmt"
	"math"

	"frizo/position_engine/internal/common"
	"github.com/shopspring/decimal"
)

// Position 倉位
type Position struct {
	// basic info
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Symbol string `json:"symbol"`
	Side   Side   `json:"side"`
	Status Status `json:"status"`

	// position info
	Size             uint64 `json:"size"`
	EntryPrice       uint64 `json:"entry_price"`       // 開倉價格
	MarkPrice        uint64 `json:"mark_price"`        // 標記價格
	ClosePrice       uint64 `json:"close_price"`       // 平倉/強平結算價格
	LiquidationPrice uint64 `json:"liquidation_price"` // 強平價格

	// margin info
	Leverage        uint16          `json:"leverage"`
	MaintenanceRate decimal.Decimal `json:"maintenance_rate"` // tier maintenance rate used for LiquidationPrice
	Margin          uint64          `json:"margin"`           // 鎖定保證金

	// PnL info
	UnrealizedPnL int64 `json:"unrealized_pnl"` // 未實現盈虧
	RealizedPnL   int64 `json:"realized_pnl"`   // 已實現盈虧

	// Timestamp (clock units)
	OpenedAt  int64 `json:"opened_at"`
	ClosedAt  int64 `json:"closed_at,omitempty"`
	UpdatedAt int64 `json:"updated_at"`
}

// Params describes a position about to be opened. Margin and LiquidationPrice
// are computed by the caller from the resolved tier.
type Params struct {
	ID               string
	Owner            string
	Symbol           string
	Side             Side
	Size             uint64
	EntryPrice       uint64
	Leverage         uint16
	Margin           uint64
	LiquidationPrice uint64
	MaintenanceRate  decimal.Decimal
	Now              int64
}

// New create an open position
func New(p Params) (*Position, error) {
	if p.Owner == "" {
		return nil, fmt.Errorf("%w: empty owner", common.ErrUserNotFound)
	}
	if !p.Side.Valid() {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidSide, int(p.Side))
	}
	if p.Size == 0 {
		return nil, fmt.Errorf("%w: size must be positive", common.ErrInvalidPositionSize)
	}
	if p.EntryPrice == 0 {
		return nil, fmt.Errorf("%w: entry price must be positive", common.ErrInvalidPrice)
	}
	if p.Leverage == 0 {
		return nil, fmt.Errorf("%w: leverage must be positive", common.ErrInvalidLeverage)
	}

	id := p.ID
	if id == "" {
		id = common.GeneratePositionID(p.Owner)
	}

	return &Position{
		ID:               id,
		Owner:            p.Owner,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Status:           StatusOpen,
		Size:             p.Size,
		EntryPrice:       p.EntryPrice,
		LiquidationPrice: p.LiquidationPrice,
		Leverage:         p.Leverage,
		MaintenanceRate:  p.MaintenanceRate,
		Margin:           p.Margin,
		OpenedAt:         p.Now,
		UpdatedAt:        p.Now,
	}, nil
}

// IsOpen reports whether the position still accepts transitions.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

func (p *Position) ensureOpen() error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", common.ErrPositionAlreadyClosed, p.ID, p.Status)
	}
	return nil
}

// ========================================================
// Modify

// ResizedBy returns the size after applying delta without mutating p.
func (p *Position) ResizedBy(delta int64) (uint64, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	if delta >= 0 {
		if uint64(delta) > math.MaxUint64-p.Size {
			return 0, fmt.Errorf("%w: size %d + %d", common.ErrCalculationOverflow, p.Size, delta)
		}
		return p.Size + uint64(delta), nil
	}

	dec := magnitude(delta)
	switch {
	case dec > p.Size:
		return 0, fmt.Errorf("%w: size %d - %d", common.ErrCalculationUnderflow, p.Size, dec)
	case dec == p.Size:
		return 0, fmt.Errorf("%w: size would drop to zero, close the position instead", common.ErrInvalidPositionSize)
	}
	return p.Size - dec, nil
}

// MarginAfter returns the margin after applying delta without mutating p.
// A decrease larger than the margin currently locked for the position fails
// with ErrCannotReduceMargin.
func (p *Position) MarginAfter(delta int64) (uint64, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	if delta >= 0 {
		if uint64(delta) > math.MaxUint64-p.Margin {
			return 0, fmt.Errorf("%w: margin %d + %d", common.ErrCalculationOverflow, p.Margin, delta)
		}
		return p.Margin + uint64(delta), nil
	}

	dec := magnitude(delta)
	if dec > p.Margin {
		return 0, fmt.Errorf("%w: reduce %d, locked %d", common.ErrCannotReduceMargin, dec, p.Margin)
	}
	return p.Margin - dec, nil
}

// Modify applies a validated size/margin change. The liquidation price and
// maintenance rate come from the tier resolved for the new size.
func (p *Position) Modify(size, margin, liquidationPrice uint64, maintenanceRate decimal.Decimal, now int64) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: size must be positive", common.ErrInvalidPositionSize)
	}

	unrealized := p.UnrealizedPnL
	if p.MarkPrice > 0 {
		pnl, err := PnL(p.Side, p.EntryPrice, p.MarkPrice, size)
		if err != nil {
			return err
		}
		unrealized = pnl
	}

	p.Size = size
	p.Margin = margin
	p.LiquidationPrice = liquidationPrice
	p.MaintenanceRate = maintenanceRate
	p.UnrealizedPnL = unrealized
	p.UpdatedAt = now
	return nil
}

// ========================================================
// Terminal transitions

// Close settles the position at exitPrice (平倉) and returns the realized PnL.
func (p *Position) Close(exitPrice uint64, now int64) (int64, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	if exitPrice == 0 {
		return 0, fmt.Errorf("%w: exit price must be positive", common.ErrInvalidPrice)
	}
	return p.settle(StatusClosed, exitPrice, now)
}

// Liquidate settles the position (強平) at the given price, falling back to
// the last mark price and then the liquidation price when price is zero.
// A position with no positive price to fall back on needs an explicit one.
func (p *Position) Liquidate(price uint64, now int64) (int64, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	settlement := p.SettlementPrice(price)
	if settlement == 0 {
		return 0, fmt.Errorf("%w: %s has no mark or liquidation price to settle against", common.ErrInvalidPrice, p.ID)
	}
	return p.settle(StatusLiquidated, settlement, now)
}

// SettlementPrice picks the price a liquidation settles against.
func (p *Position) SettlementPrice(override uint64) uint64 {
	switch {
	case override > 0:
		return override
	case p.MarkPrice > 0:
		return p.MarkPrice
	default:
		return p.LiquidationPrice
	}
}

func (p *Position) settle(status Status, price uint64, now int64) (int64, error) {
	pnl, err := PnL(p.Side, p.EntryPrice, price, p.Size)
	if err != nil {
		return 0, err
	}

	p.Status = status
	p.ClosePrice = price
	p.RealizedPnL = pnl
	p.UnrealizedPnL = 0
	p.ClosedAt = now
	p.UpdatedAt = now
	return pnl, nil
}

// ========================================================
// Mark price

// Mark updates the mark price and unrealized PnL of an open position.
func (p *Position) Mark(price uint64, now int64) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if price == 0 {
		return fmt.Errorf("%w: mark price must be positive", common.ErrInvalidPrice)
	}
	pnl, err := PnL(p.Side, p.EntryPrice, price, p.Size)
	if err != nil {
		return err
	}
	p.MarkPrice = price
	p.UnrealizedPnL = pnl
	p.UpdatedAt = now
	return nil
}

// IsLiquidatable reports whether the mark price has crossed the liquidation price.
func (p *Position) IsLiquidatable() bool {
	if !p.IsOpen() || p.MarkPrice == 0 {
		return false
	}
	if p.Side == Long {
		return p.MarkPrice <= p.LiquidationPrice
	}
	return p.MarkPrice >= p.LiquidationPrice
}

// Notional is entry price × size.
func (p *Position) Notional() decimal.Decimal {
	return decimal.NewFromUint64(p.EntryPrice).Mul(decimal.NewFromUint64(p.Size))
}

func magnitude(v int64) uint64 {
	if v >= 0 {
		return uint64(v)
	}
	return uint64(-(v + 1)) + 1
}
