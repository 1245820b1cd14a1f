package margin

import (
	"fmt"
	"math"
	"testing"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredMargin(t *testing.T) {
	tests := []struct {
		name     string
		price    uint64
		size     uint64
		leverage uint16
		expected uint64
	}{
		{"Basic", 50_000, 10, 50, 10_000},
		{"Floor", 10, 1, 3, 3},
		{"NoLeverage", 50_000, 2, 1, 100_000},
		{"WideIntermediate", math.MaxUint64, 1000, 1000, math.MaxUint64},
		{"ZeroSize", 50_000, 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := RequiredMargin(tt.price, tt.size, tt.leverage)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
		})
	}

	t.Run("Overflow", func(t *testing.T) {
		_, err := RequiredMargin(math.MaxUint64, math.MaxUint64, 1)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)

		_, err = RequiredMargin(math.MaxUint64, 1001, 1000)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)
	})

	t.Run("ZeroLeverage", func(t *testing.T) {
		_, err := RequiredMargin(1, 1, 0)
		assert.ErrorIs(t, err, common.ErrInvalidLeverage)
	})
}

func TestLiquidationPrice(t *testing.T) {
	mmr := decimal.RequireFromString("0.01")

	t.Run("Long", func(t *testing.T) {
		liq, err := LiquidationPrice(50_000, 50, mmr, position.Long)
		require.NoError(t, err)
		assert.Equal(t, uint64(49_500), liq.Price)
		assert.False(t, liq.Clamped)
	})

	t.Run("Short", func(t *testing.T) {
		liq, err := LiquidationPrice(50_000, 50, mmr, position.Short)
		require.NoError(t, err)
		assert.Equal(t, uint64(50_500), liq.Price)
	})

	t.Run("Truncates", func(t *testing.T) {
		// 100 * (1 - 1/3 + 0.01) = 67.666...
		liq, err := LiquidationPrice(100, 3, mmr, position.Long)
		require.NoError(t, err)
		assert.Equal(t, uint64(67), liq.Price)
	})

	t.Run("ClampsNegative", func(t *testing.T) {
		liq, err := LiquidationPrice(50_000, 1, decimal.RequireFromString("2.5"), position.Short)
		require.NoError(t, err)
		assert.Zero(t, liq.Price)
		assert.True(t, liq.Clamped)
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := LiquidationPrice(math.MaxUint64, 1, mmr, position.Short)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)
	})

	t.Run("ZeroLeverage", func(t *testing.T) {
		_, err := LiquidationPrice(50_000, 0, mmr, position.Long)
		assert.ErrorIs(t, err, common.ErrInvalidLeverage)
	})

	t.Run("UsesTierRate", func(t *testing.T) {
		tier, err := DefaultTable().Resolve(100, 1)
		require.NoError(t, err)

		liq, err := LiquidationPrice(50_000, 100, tier.MaintenanceMarginRate, position.Long)
		require.NoError(t, err)
		// 50000 * (1 - 0.01 + 0.005)
		assert.Equal(t, uint64(49_750), liq.Price)
	})
}

func TestMaintenanceMargin(t *testing.T) {
	tier, err := DefaultTable().Resolve(50, 10)
	require.NoError(t, err)
	assert.Equal(t, "5000", MaintenanceMargin(50_000, 10, tier).String())
}

func ExampleRequiredMargin() {
	m, _ := RequiredMargin(50_000, 10, 50)
	fmt.Println(m)
	// Output: 10000
}

func BenchmarkRequiredMargin(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = RequiredMargin(50_000, uint64(i), 50)
	}
}

func BenchmarkLiquidationPrice(b *testing.B) {
	mmr := decimal.RequireFromString("0.01")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LiquidationPrice(50_000, 50, mmr, position.Long)
	}
}
