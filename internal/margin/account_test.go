package margin

import (
	"math"
	"testing"

	"frizo/position_engine/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundedAccount(t *testing.T, amount uint64) *UserAccount {
	t.Helper()
	acc := NewUserAccount("alice", 1)
	require.NoError(t, acc.Deposit(amount))
	return acc
}

func TestLockRelease(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		acc := fundedAccount(t, 1000)

		require.NoError(t, acc.Lock(400))
		assert.Equal(t, uint64(400), acc.LockedCollateral)
		assert.Equal(t, uint64(600), acc.Available())

		require.NoError(t, acc.Release(400))
		assert.Zero(t, acc.LockedCollateral)
	})

	t.Run("Insufficient", func(t *testing.T) {
		acc := fundedAccount(t, 100)

		err := acc.Lock(101)
		assert.ErrorIs(t, err, common.ErrInsufficientCollateral)
		assert.Zero(t, acc.LockedCollateral)
	})

	t.Run("LockOverflow", func(t *testing.T) {
		acc := fundedAccount(t, math.MaxUint64)
		acc.LockedCollateral = math.MaxUint64 - 1

		err := acc.Lock(2)
		assert.ErrorIs(t, err, common.ErrCalculationOverflow)
	})

	t.Run("ReleaseUnderflow", func(t *testing.T) {
		acc := fundedAccount(t, 100)
		require.NoError(t, acc.Lock(50))

		err := acc.Release(51)
		assert.ErrorIs(t, err, common.ErrCalculationUnderflow)
		assert.Equal(t, uint64(50), acc.LockedCollateral)
	})
}

func TestApplyPnL(t *testing.T) {
	acc := NewUserAccount("alice", 1)

	require.NoError(t, acc.ApplyPnL(500))
	require.NoError(t, acc.ApplyPnL(-800))
	assert.Equal(t, int64(-300), acc.TotalPnL)

	acc.TotalPnL = math.MaxInt64
	assert.ErrorIs(t, acc.ApplyPnL(1), common.ErrCalculationOverflow)

	acc.TotalPnL = math.MinInt64
	assert.ErrorIs(t, acc.ApplyPnL(-1), common.ErrCalculationOverflow)
	assert.Equal(t, int64(math.MinInt64), acc.TotalPnL)
}

func TestDepositWithdraw(t *testing.T) {
	acc := fundedAccount(t, 1000)
	require.NoError(t, acc.Lock(600))

	assert.ErrorIs(t, acc.Withdraw(401), common.ErrInsufficientCollateral)
	require.NoError(t, acc.Withdraw(400))
	assert.Equal(t, uint64(600), acc.TotalCollateral)

	assert.ErrorIs(t, acc.Deposit(0), common.ErrInvalidAmount)
	assert.ErrorIs(t, acc.Withdraw(0), common.ErrInvalidAmount)
	assert.ErrorIs(t, acc.Deposit(math.MaxUint64), common.ErrCalculationOverflow)
}

func TestPositionCount(t *testing.T) {
	acc := NewUserAccount("alice", 1)

	assert.ErrorIs(t, acc.TrackClosed(), common.ErrCalculationUnderflow)
	require.NoError(t, acc.TrackOpened())
	require.NoError(t, acc.TrackClosed())
	assert.Zero(t, acc.PositionCount)

	acc.PositionCount = math.MaxUint32
	assert.ErrorIs(t, acc.TrackOpened(), common.ErrCalculationOverflow)
}
