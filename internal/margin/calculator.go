package margin

import (
	"fmt"
	"math"
	"math/bits"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/position"
	"github.com/shopspring/decimal"
)

var maxPrice = decimal.NewFromUint64(math.MaxUint64)

// RequiredMargin returns floor(entryPrice * size / leverage).
// The product is formed in 128 bits, so only a quotient wider than 64 bits
// fails with ErrCalculationOverflow.
func RequiredMargin(entryPrice, size uint64, leverage uint16) (uint64, error) {
	if leverage == 0 {
		return 0, fmt.Errorf("%w: leverage must be positive", common.ErrInvalidLeverage)
	}

	hi, lo := bits.Mul64(entryPrice, size)
	lev := uint64(leverage)
	if hi >= lev {
		return 0, fmt.Errorf("%w: margin of %d x %d / %d", common.ErrCalculationOverflow, entryPrice, size, leverage)
	}
	q, _ := bits.Div64(hi, lo, lev)
	return q, nil
}

// Liquidation is a computed liquidation price. Clamped is set when the
// formula went negative and the price was floored at zero.
type Liquidation struct {
	Price   uint64
	Clamped bool
}

// LiquidationPrice (強平價格) from the resolved tier's maintenance rate:
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
//
// evaluated exactly as entry * (leverage ∓ 1 ± mmr*leverage) / leverage and
// truncated to an integer price.
func LiquidationPrice(entryPrice uint64, leverage uint16, maintenanceRate decimal.Decimal, side position.Side) (Liquidation, error) {
	if leverage == 0 {
		return Liquidation{}, fmt.Errorf("%w: leverage must be positive", common.ErrInvalidLeverage)
	}

	one := decimal.NewFromInt(1)
	lev := decimal.NewFromInt(int64(leverage))
	buffer := maintenanceRate.Mul(lev)

	var factor decimal.Decimal
	switch side {
	case position.Long:
		factor = lev.Sub(one).Add(buffer)
	case position.Short:
		factor = lev.Add(one).Sub(buffer)
	default:
		return Liquidation{}, fmt.Errorf("%w: %d", common.ErrInvalidSide, int(side))
	}

	numerator := decimal.NewFromUint64(entryPrice).Mul(factor)
	if numerator.IsNegative() {
		return Liquidation{Price: 0, Clamped: true}, nil
	}

	price, _ := numerator.QuoRem(lev, 0)
	if price.GreaterThan(maxPrice) {
		return Liquidation{}, fmt.Errorf("%w: liquidation price %s", common.ErrCalculationOverflow, price)
	}
	return Liquidation{Price: price.BigInt().Uint64()}, nil
}

// MaintenanceMargin is notional × maintenance rate, truncated.
func MaintenanceMargin(entryPrice, size uint64, tier LeverageTier) decimal.Decimal {
	notional := decimal.NewFromUint64(entryPrice).Mul(decimal.NewFromUint64(size))
	return notional.Mul(tier.MaintenanceMarginRate).Truncate(0)
}
