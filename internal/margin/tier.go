package margin

import (
	"fmt"
	"math"

	"frizo/position_engine/internal/common"
	"github.com/shopspring/decimal"
)

// Unbounded marks a tier without a position size cap.
const Unbounded uint64 = math.MaxUint64

// LeverageTier (槓桿階梯) maps a leverage ceiling and a size cap to margin rates.
type LeverageTier struct {
	MaxLeverage           uint16          `json:"max_leverage"`
	InitialMarginRate     decimal.Decimal `json:"initial_margin_rate"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenance_margin_rate"`
	MaxPositionSize       uint64          `json:"max_position_size"`
}

// Unbounded reports whether the tier has no size cap.
func (t LeverageTier) Unbounded() bool {
	return t.MaxPositionSize == Unbounded
}

// DefaultTiers returns the standard five-tier table, up to 1000x.
func DefaultTiers() []LeverageTier {
	return []LeverageTier{
		{MaxLeverage: 20, InitialMarginRate: decimal.RequireFromString("0.05"), MaintenanceMarginRate: decimal.RequireFromString("0.025"), MaxPositionSize: Unbounded},
		{MaxLeverage: 50, InitialMarginRate: decimal.RequireFromString("0.02"), MaintenanceMarginRate: decimal.RequireFromString("0.01"), MaxPositionSize: 100_000},
		{MaxLeverage: 100, InitialMarginRate: decimal.RequireFromString("0.01"), MaintenanceMarginRate: decimal.RequireFromString("0.005"), MaxPositionSize: 50_000},
		{MaxLeverage: 500, InitialMarginRate: decimal.RequireFromString("0.005"), MaintenanceMarginRate: decimal.RequireFromString("0.0025"), MaxPositionSize: 20_000},
		{MaxLeverage: 1000, InitialMarginRate: decimal.RequireFromString("0.002"), MaintenanceMarginRate: decimal.RequireFromString("0.001"), MaxPositionSize: 5_000},
	}
}

// Table is an immutable, validated tier catalog.
type Table struct {
	tiers       []LeverageTier
	maxLeverage uint16
}

// NewTable validates tiers and returns a table capped at maxLeverage.
// A zero maxLeverage means the ceiling of the last tier.
func NewTable(tiers []LeverageTier, maxLeverage uint16) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier table is empty")
	}

	one := decimal.NewFromInt(1)
	for i, tier := range tiers {
		if tier.MaxLeverage == 0 {
			return nil, fmt.Errorf("tier %d: max leverage must be positive", i)
		}
		if i > 0 && tier.MaxLeverage <= tiers[i-1].MaxLeverage {
			return nil, fmt.Errorf("tier %d: max leverage %d not above %d", i, tier.MaxLeverage, tiers[i-1].MaxLeverage)
		}
		if !tier.InitialMarginRate.IsPositive() || tier.InitialMarginRate.GreaterThan(one) {
			return nil, fmt.Errorf("tier %d: initial margin rate %s outside (0, 1]", i, tier.InitialMarginRate)
		}
		if !tier.MaintenanceMarginRate.IsPositive() || !tier.MaintenanceMarginRate.LessThan(tier.InitialMarginRate) {
			return nil, fmt.Errorf("tier %d: maintenance rate %s outside (0, %s)", i, tier.MaintenanceMarginRate, tier.InitialMarginRate)
		}
		if tier.MaxPositionSize == 0 {
			return nil, fmt.Errorf("tier %d: max position size must be positive", i)
		}
	}

	ceiling := tiers[len(tiers)-1].MaxLeverage
	if maxLeverage == 0 {
		maxLeverage = ceiling
	}
	if maxLeverage > ceiling {
		return nil, fmt.Errorf("tiers reach %dx, below the configured maximum %dx", ceiling, maxLeverage)
	}

	cp := make([]LeverageTier, len(tiers))
	copy(cp, tiers)
	return &Table{tiers: cp, maxLeverage: maxLeverage}, nil
}

// DefaultTable is the table built from DefaultTiers.
func DefaultTable() *Table {
	t, err := NewTable(DefaultTiers(), 0)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the first tier, in ascending leverage order, that admits
// both leverage and size.
func (t *Table) Resolve(leverage uint16, size uint64) (LeverageTier, error) {
	if leverage == 0 {
		return LeverageTier{}, fmt.Errorf("%w: leverage must be positive", common.ErrInvalidLeverage)
	}
	for _, tier := range t.tiers {
		if leverage <= tier.MaxLeverage && size <= tier.MaxPositionSize {
			return tier, nil
		}
	}
	return LeverageTier{}, fmt.Errorf("%w: leverage %dx size %d", common.ErrTierExceeded, leverage, size)
}

// MaxLeverage is the highest leverage the engine accepts.
func (t *Table) MaxLeverage() uint16 {
	return t.maxLeverage
}

// Tiers returns a copy of the tiers.
func (t *Table) Tiers() []LeverageTier {
	cp := make([]LeverageTier, len(t.tiers))
	copy(cp, t.tiers)
	return cp
}
