package position

import (
	"fmt"
	"math"
	"math/bits"

	"frizo/position_engine/internal/common"
)

// PnL returns the profit or loss of size units moved from entry to reference.
//
//	long:  (reference - entry) * size
//	short: (entry - reference) * size
//
// The product is formed in 128 bits; a result that does not fit in int64
// fails with ErrCalculationOverflow.
func PnL(side Side, entry, reference, size uint64) (int64, error) {
	if !side.Valid() {
		return 0, fmt.Errorf("%w: %d", common.ErrInvalidSide, int(side))
	}

	gain := reference >= entry
	var diff uint64
	if gain {
		diff = reference - entry
	} else {
		diff = entry - reference
	}
	if side == Short {
		gain = !gain
	}

	hi, lo := bits.Mul64(diff, size)
	if hi != 0 {
		return 0, fmt.Errorf("%w: pnl of %d x %d", common.ErrCalculationOverflow, diff, size)
	}
	if gain {
		if lo > math.MaxInt64 {
			return 0, fmt.Errorf("%w: pnl %d", common.ErrCalculationOverflow, lo)
		}
		return int64(lo), nil
	}
	switch {
	case lo == 1<<63:
		return math.MinInt64, nil
	case lo > 1<<63:
		return 0, fmt.Errorf("%w: pnl -%d", common.ErrCalculationOverflow, lo)
	}
	return -int64(lo), nil
}
