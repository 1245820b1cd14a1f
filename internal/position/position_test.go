package position

import (
	"encoding/json"
	"math"
	"testing"

	"frizo/position_engine/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers
func createTestPosition(t *testing.T, side Side) *Position {
	t.Helper()
	pos, err := New(Params{
		Owner:            "user1",
		Symbol:           "BTCUSDT",
		Side:             side,
		Size:             10,
		EntryPrice:       50000,
		Leverage:         50,
		Margin:           10000,
		LiquidationPrice: 49500,
		MaintenanceRate:  decimal.RequireFromString("0.01"),
		Now:              100,
	})
	require.NoError(t, err)
	return pos
}

func TestNew(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		pos := createTestPosition(t, Long)

		assert.Equal(t, "user1", pos.Owner)
		assert.Equal(t, StatusOpen, pos.Status)
		assert.Contains(t, pos.ID, "user1-")
		assert.Equal(t, int64(100), pos.OpenedAt)
		assert.Zero(t, pos.ClosedAt)
		assert.True(t, pos.IsOpen())
	})

	t.Run("Validation", func(t *testing.T) {
		base := Params{Owner: "u", Side: Long, Size: 1, EntryPrice: 1, Leverage: 1}

		p := base
		p.Size = 0
		_, err := New(p)
		assert.ErrorIs(t, err, common.ErrInvalidPositionSize)

		p = base
		p.EntryPrice = 0
		_, err = New(p)
		assert.ErrorIs(t, err, common.ErrInvalidPrice)

		p = base
		p.Leverage = 0
		_, err = New(p)
		assert.ErrorIs(t, err, common.ErrInvalidLeverage)

		p = base
		p.Side = 0
		_, err = New(p)
		assert.ErrorIs(t, err, common.ErrInvalidSide)
	})
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		entry    uint64
		ref      uint64
		size     uint64
		expected int64
	}{
		{"LongProfit", Long, 50000, 51000, 10, 10000},
		{"LongLoss", Long, 50000, 49000, 10, -10000},
		{"ShortProfit", Short, 50000, 49000, 10, 10000},
		{"ShortLoss", Short, 50000, 51000, 10, -10000},
		{"Flat", Short, 50000, 50000, 10, 0},
		{"MinInt64", Long, 1 << 63, 0, 1, math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pnl, err := PnL(tt.side, tt.entry, tt.ref, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pnl)
		})
	}

	t.Run("Overflow", func(t *testing.T) {
		_, err := PnL(Long, 0, math.MaxUint64, 2)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)

		_, err = PnL(Long, 0, 1<<63, 1)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)

		_, err = PnL(Short, 0, 1<<63+1, 1)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)
	})
}

func TestModify(t *testing.T) {
	t.Run("ResizedBy", func(t *testing.T) {
		pos := createTestPosition(t, Long)

		size, err := pos.ResizedBy(5)
		require.NoError(t, err)
		assert.Equal(t, uint64(15), size)

		size, err = pos.ResizedBy(-4)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), size)

		_, err = pos.ResizedBy(-10)
		assert.ErrorIs(t, err, common.ErrInvalidPositionSize)

		_, err = pos.ResizedBy(-11)
		assert.ErrorIs(t, err, common.ErrCalculationUnderflow)

		_, err = pos.ResizedBy(math.MinInt64)
		assert.ErrorIs(t, err, common.ErrCalculationUnderflow)

		assert.Equal(t, uint64(10), pos.Size, "ResizedBy must not mutate")
	})

	t.Run("MarginAfter", func(t *testing.T) {
		pos := createTestPosition(t, Long)

		m, err := pos.MarginAfter(-10000)
		require.NoError(t, err)
		assert.Zero(t, m)

		_, err = pos.MarginAfter(-10001)
		assert.ErrorIs(t, err, common.ErrCannotReduceMargin)

		pos.Margin = math.MaxUint64
		_, err = pos.MarginAfter(1)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)
	})

	t.Run("ModifyRecalculatesUnrealized", func(t *testing.T) {
		pos := createTestPosition(t, Long)
		require.NoError(t, pos.Mark(51000, 110))
		assert.Equal(t, int64(10000), pos.UnrealizedPnL)

		err := pos.Modify(20, 20000, 49000, decimal.RequireFromString("0.005"), 120)
		require.NoError(t, err)

		assert.Equal(t, uint64(20), pos.Size)
		assert.Equal(t, uint64(20000), pos.Margin)
		assert.Equal(t, uint64(49000), pos.LiquidationPrice)
		assert.Equal(t, int64(20000), pos.UnrealizedPnL)
		assert.Equal(t, int64(120), pos.UpdatedAt)
	})
}

func TestClose(t *testing.T) {
	t.Run("SamePriceIsZeroPnL", func(t *testing.T) {
		pos := createTestPosition(t, Short)

		pnl, err := pos.Close(50000, 200)
		require.NoError(t, err)

		assert.Zero(t, pnl)
		assert.Equal(t, StatusClosed, pos.Status)
		assert.Equal(t, uint64(50000), pos.ClosePrice)
		assert.Equal(t, int64(200), pos.ClosedAt)
	})

	t.Run("InvalidPrice", func(t *testing.T) {
		pos := createTestPosition(t, Long)

		_, err := pos.Close(0, 200)
		assert.ErrorIs(t, err, common.ErrInvalidPrice)
		assert.True(t, pos.IsOpen())
	})

	t.Run("Twice", func(t *testing.T) {
		pos := createTestPosition(t, Long)
		pnl, err := pos.Close(51000, 200)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), pnl)

		_, err = pos.Close(52000, 300)
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)
		_, err = pos.Liquidate(0, 300)
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)

		assert.Equal(t, int64(10000), pos.RealizedPnL)
		assert.Equal(t, int64(200), pos.ClosedAt)
	})
}

func TestLiquidate(t *testing.T) {
	t.Run("SettlesAtLiquidationPrice", func(t *testing.T) {
		pos := createTestPosition(t, Long)

		pnl, err := pos.Liquidate(0, 300)
		require.NoError(t, err)

		assert.Equal(t, int64(-5000), pnl)
		assert.Equal(t, StatusLiquidated, pos.Status)
		assert.Equal(t, uint64(49500), pos.ClosePrice)
	})

	t.Run("PrefersMarkPrice", func(t *testing.T) {
		pos := createTestPosition(t, Long)
		require.NoError(t, pos.Mark(49400, 250))
		assert.True(t, pos.IsLiquidatable())

		pnl, err := pos.Liquidate(0, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(-6000), pnl)
		assert.Zero(t, pos.UnrealizedPnL)
	})

	t.Run("ExplicitPrice", func(t *testing.T) {
		pos := createTestPosition(t, Short)

		pnl, err := pos.Liquidate(50100, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(-1000), pnl)

		_, err = pos.Liquidate(50100, 400)
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)
	})

	t.Run("NoPriceToSettleAgainst", func(t *testing.T) {
		pos := createTestPosition(t, Long)
		pos.LiquidationPrice = 0

		_, err := pos.Liquidate(0, 300)
		assert.ErrorIs(t, err, common.ErrInvalidPrice)
		assert.Equal(t, StatusOpen, pos.Status)
		assert.Zero(t, pos.ClosePrice)

		pnl, err := pos.Liquidate(49_000, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(-10_000), pnl)
	})
}

func TestIsLiquidatable(t *testing.T) {
	long := createTestPosition(t, Long)
	assert.False(t, long.IsLiquidatable(), "no mark price yet")

	require.NoError(t, long.Mark(49501, 1))
	assert.False(t, long.IsLiquidatable())
	require.NoError(t, long.Mark(49500, 2))
	assert.True(t, long.IsLiquidatable())

	short := createTestPosition(t, Short)
	short.LiquidationPrice = 50500
	require.NoError(t, short.Mark(50499, 1))
	assert.False(t, short.IsLiquidatable())
	require.NoError(t, short.Mark(50500, 2))
	assert.True(t, short.IsLiquidatable())
}

func TestJSON(t *testing.T) {
	pos := createTestPosition(t, Short)

	data, err := json.Marshal(pos)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"side":"short"`)
	assert.Contains(t, string(data), `"status":"open"`)

	var decoded Position
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Short, decoded.Side)
	assert.True(t, pos.MaintenanceRate.Equal(decoded.MaintenanceRate))
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" LONG ")
	require.NoError(t, err)
	assert.Equal(t, Long, s)

	_, err = ParseSide("sideways")
	assert.ErrorIs(t, err, common.ErrInvalidSide)
}
