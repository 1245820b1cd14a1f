package engine

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t)
	env.fundedUser(t, "alice", 1_000_000)

	// an unrelated open position keeps locked collateral non-zero
	_, err := env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)
	before, err := env.engine.GetUser(ctx, "alice")
	require.NoError(t, err)

	req := btcLong("alice")
	req.Side = position.Short
	req.Leverage = 20
	opened, err := env.engine.OpenPosition(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000), opened.Margin)

	res, err := env.engine.ClosePosition(ctx, CloseRequest{PositionID: opened.Position.ID, ExitPrice: 50_000})
	require.NoError(t, err)

	assert.Zero(t, res.RealizedPnL)
	assert.Equal(t, uint64(25_000), res.ReleasedMargin)
	assert.Equal(t, position.StatusClosed, res.Position.Status)
	assert.NotZero(t, res.Position.ClosedAt)

	after, err := env.engine.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.LockedCollateral, after.LockedCollateral)
	assert.Equal(t, before.PositionCount, after.PositionCount)
	assert.Equal(t, before.TotalPnL, after.TotalPnL)
	require.NoError(t, env.engine.VerifyLedger(ctx, "alice"))
}

func TestClosePosition(t *testing.T) {
	ctx := context.Background()

	t.Run("BooksPnL", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)

		res, err := env.engine.ClosePosition(ctx, CloseRequest{Owner: "alice", PositionID: opened.Position.ID, ExitPrice: 50_700})
		require.NoError(t, err)

		assert.Equal(t, int64(7_000), res.RealizedPnL)
		assert.Equal(t, int64(7_000), res.User.TotalPnL)
		assert.Zero(t, res.User.LockedCollateral)
		assert.Zero(t, res.User.PositionCount)
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)
		id := opened.Position.ID

		_, err = env.engine.ClosePosition(ctx, CloseRequest{PositionID: id, ExitPrice: 49_000})
		require.NoError(t, err)
		userAfterClose, err := env.engine.GetUser(ctx, "alice")
		require.NoError(t, err)
		posAfterClose, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)

		_, err = env.engine.ClosePosition(ctx, CloseRequest{PositionID: id, ExitPrice: 51_000})
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)
		_, err = env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: id})
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)
		_, err = env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, MarginDelta: 1})
		assert.ErrorIs(t, err, common.ErrPositionAlreadyClosed)

		user, err := env.engine.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, userAfterClose, user)
		pos, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, posAfterClose, pos)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)

		_, err = env.engine.ClosePosition(ctx, CloseRequest{Owner: "mallory", PositionID: opened.Position.ID, ExitPrice: 1})
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})

	t.Run("NotFound", func(t *testing.T) {
		env := newTestEngine(t)

		_, err := env.engine.ClosePosition(ctx, CloseRequest{PositionID: "missing", ExitPrice: 1})
		assert.ErrorIs(t, err, common.ErrPositionNotFound)
	})

	t.Run("ZeroExitPrice", func(t *testing.T) {
		env := newTestEngine(t)

		_, err := env.engine.ClosePosition(ctx, CloseRequest{PositionID: "any"})
		assert.ErrorIs(t, err, common.ErrInvalidPrice)
	})
}

func TestLiquidatePosition(t *testing.T) {
	ctx := context.Background()

	t.Run("SettlesAtLiquidationPrice", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)

		res, err := env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: opened.Position.ID})
		require.NoError(t, err)

		assert.Equal(t, uint64(49_500), res.SettlementPrice)
		assert.Equal(t, int64(-5_000), res.RealizedPnL)
		assert.Equal(t, int64(-5_000), res.User.TotalPnL)
		assert.Zero(t, res.User.LockedCollateral)
		assert.Equal(t, position.StatusLiquidated, res.Position.Status)
		assert.Contains(t, env.notifier.types(), EventPositionLiquidated)
	})

	t.Run("SettlesAtMarkPrice", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)

		liquidatable, err := env.engine.UpdateMarkPrice(ctx, "BTCUSDT", 49_000)
		require.NoError(t, err)
		require.Len(t, liquidatable, 1)
		assert.Equal(t, opened.Position.ID, liquidatable[0].ID)

		res, err := env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: opened.Position.ID})
		require.NoError(t, err)
		assert.Equal(t, uint64(49_000), res.SettlementPrice)
		assert.Equal(t, int64(-10_000), res.RealizedPnL)
	})

	t.Run("ZeroFallbackNeedsPrice", func(t *testing.T) {
		var buf bytes.Buffer
		env := newTestEngine(t, WithLogger(logger.NewWithFormat("warn", "text", &buf)))
		env.fundedUser(t, "alice", 1_000)
		opened, err := env.engine.OpenPosition(ctx, OpenRequest{
			Owner: "alice", Symbol: "BTCUSDT", Side: position.Long, Size: 1, EntryPrice: 10, Leverage: 1,
		})
		require.NoError(t, err)
		require.Zero(t, opened.LiquidationPrice)
		id := opened.Position.ID

		_, err = env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: id})
		assert.ErrorIs(t, err, common.ErrInvalidPrice)
		assert.Contains(t, buf.String(), "liquidation needs an explicit price")

		pos, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, position.StatusOpen, pos.Status)
		user, err := env.engine.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(10), user.LockedCollateral)
		assert.Zero(t, user.TotalPnL)

		res, err := env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: id, Price: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(-6), res.RealizedPnL)
		assert.Zero(t, res.User.LockedCollateral)
	})
}

func TestModifyPosition(t *testing.T) {
	ctx := context.Background()

	open := func(t *testing.T) (*testEnv, string) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000)
		opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
		require.NoError(t, err)
		return env, opened.Position.ID
	}

	t.Run("AddMargin", func(t *testing.T) {
		env, id := open(t)

		res, err := env.engine.ModifyPosition(ctx, ModifyRequest{Owner: "alice", PositionID: id, MarginDelta: 5_000})
		require.NoError(t, err)
		assert.Equal(t, uint64(15_000), res.Position.Margin)
		assert.Equal(t, uint64(15_000), res.User.LockedCollateral)
		require.NoError(t, env.engine.VerifyLedger(ctx, "alice"))
	})

	t.Run("ReduceMargin", func(t *testing.T) {
		env, id := open(t)

		res, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, MarginDelta: -4_000})
		require.NoError(t, err)
		assert.Equal(t, uint64(6_000), res.Position.Margin)
		assert.Equal(t, uint64(6_000), res.User.LockedCollateral)
		require.NoError(t, env.engine.VerifyLedger(ctx, "alice"))
	})

	t.Run("CannotReduceMargin", func(t *testing.T) {
		env, id := open(t)
		userBefore, err := env.engine.GetUser(ctx, "alice")
		require.NoError(t, err)
		posBefore, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)

		_, err = env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, SizeDelta: 5, MarginDelta: -10_001})
		assert.ErrorIs(t, err, common.ErrCannotReduceMargin)

		userAfter, err := env.engine.GetUser(ctx, "alice")
		require.NoError(t, err)
		posAfter, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, userBefore, userAfter)
		assert.Equal(t, posBefore, posAfter)
	})

	t.Run("AddMarginBeyondCollateral", func(t *testing.T) {
		env, id := open(t)

		_, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, MarginDelta: 990_001})
		assert.ErrorIs(t, err, common.ErrInsufficientCollateral)
	})

	t.Run("Resize", func(t *testing.T) {
		env, id := open(t)
		_, err := env.engine.UpdateMarkPrice(ctx, "BTCUSDT", 51_000)
		require.NoError(t, err)

		res, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, SizeDelta: 10})
		require.NoError(t, err)
		assert.Equal(t, uint64(20), res.Position.Size)
		assert.Equal(t, uint64(10_000), res.Position.Margin)
		assert.Equal(t, uint64(49_500), res.Position.LiquidationPrice)
		assert.Equal(t, int64(20_000), res.Position.UnrealizedPnL)

		_, err = env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, SizeDelta: -20})
		assert.ErrorIs(t, err, common.ErrInvalidPositionSize)
		_, err = env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, SizeDelta: -21})
		assert.ErrorIs(t, err, common.ErrCalculationUnderflow)
	})

	t.Run("ResizeBeyondTier", func(t *testing.T) {
		env, id := open(t)

		_, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id, SizeDelta: 100_000})
		assert.ErrorIs(t, err, common.ErrTierExceeded)

		pos, err := env.engine.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), pos.Size)
	})

	t.Run("ResizeWithinUnboundedTier", func(t *testing.T) {
		env := newTestEngine(t)
		env.fundedUser(t, "alice", 1_000_000_000)
		req := btcLong("alice")
		req.Leverage = 15
		req.Size = 100
		opened, err := env.engine.OpenPosition(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, uint16(20), opened.Tier.MaxLeverage)

		res, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: opened.Position.ID, SizeDelta: 1_000_000})
		require.NoError(t, err)
		assert.Equal(t, uint16(20), res.Tier.MaxLeverage)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		env, id := open(t)

		_, err := env.engine.ModifyPosition(ctx, ModifyRequest{Owner: "bob", PositionID: id, MarginDelta: 1})
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})

	t.Run("NoChange", func(t *testing.T) {
		env, id := open(t)

		_, err := env.engine.ModifyPosition(ctx, ModifyRequest{PositionID: id})
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
	})
}

func TestUpdateMarkPrice(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t)
	env.fundedUser(t, "alice", 1_000_000)
	env.fundedUser(t, "bob", 1_000_000)

	long, err := env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)
	shortReq := btcLong("bob")
	shortReq.Side = position.Short
	short, err := env.engine.OpenPosition(ctx, shortReq)
	require.NoError(t, err)
	ethReq := btcLong("bob")
	ethReq.Symbol = "ETHUSDT"
	eth, err := env.engine.OpenPosition(ctx, ethReq)
	require.NoError(t, err)

	liquidatable, err := env.engine.UpdateMarkPrice(ctx, "BTCUSDT", 50_600)
	require.NoError(t, err)
	require.Len(t, liquidatable, 1)
	assert.Equal(t, short.Position.ID, liquidatable[0].ID)

	longPos, err := env.engine.GetPosition(ctx, long.Position.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), longPos.UnrealizedPnL)
	assert.Equal(t, uint64(50_600), longPos.MarkPrice)

	ethPos, err := env.engine.GetPosition(ctx, eth.Position.ID)
	require.NoError(t, err)
	assert.Zero(t, ethPos.MarkPrice)

	_, err = env.engine.UpdateMarkPrice(ctx, "BTCUSDT", 0)
	assert.ErrorIs(t, err, common.ErrInvalidPrice)
}

func TestUserPnLAndMetrics(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t)
	env.fundedUser(t, "alice", 1_000_000)
	env.fundedUser(t, "bob", 500_000)

	a1, err := env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)
	_, err = env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)
	b1, err := env.engine.OpenPosition(ctx, btcLong("bob"))
	require.NoError(t, err)

	_, err = env.engine.ClosePosition(ctx, CloseRequest{PositionID: a1.Position.ID, ExitPrice: 51_000})
	require.NoError(t, err)
	_, err = env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: b1.Position.ID, Price: 49_000})
	require.NoError(t, err)
	_, err = env.engine.UpdateMarkPrice(ctx, "BTCUSDT", 50_500)
	require.NoError(t, err)

	pnl, err := env.engine.UserPnL(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, pnl.OpenPositions)
	assert.Equal(t, 1, pnl.ClosedPositions)
	assert.Equal(t, "5000", pnl.TotalUnrealizedPnL.String())
	assert.Equal(t, "10000", pnl.TotalRealizedPnL.String())
	assert.Equal(t, "15000", pnl.TotalPnL.String())

	_, err = env.engine.UserPnL(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrUserNotFound)

	m, err := env.engine.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.UserCount)
	assert.Equal(t, 3, m.PositionCount)
	assert.Equal(t, 1, m.OpenPositions)
	assert.Equal(t, 1, m.ClosedPositions)
	assert.Equal(t, 1, m.LiquidatedPositions)
	assert.Equal(t, "1500000", m.TotalVolume.String())
	assert.Equal(t, "0", m.TotalRealizedPnL.String())
	assert.Equal(t, "10000", m.LockedCollateral.String())
	assert.Equal(t, "1500000", m.TotalCollateral.String())
	assert.Equal(t, uint16(1000), m.MaxLeverage)
	assert.Len(t, m.LeverageTiers, 5)
}

func TestVerifyLedgerDetectsDrift(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t)
	env.fundedUser(t, "alice", 1_000_000)
	_, err := env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)

	require.NoError(t, env.store.WithinUser(ctx, "alice", func(tx store.Tx) error {
		u, err := tx.User(ctx)
		if err != nil {
			return err
		}
		u.LockedCollateral++
		return tx.SaveUser(ctx, u)
	}))

	assert.ErrorIs(t, env.engine.VerifyLedger(ctx, "alice"), common.ErrLedgerInvariant)
}

// randomOps drives a random mix of transitions against owners.
func randomOps(t *testing.T, env *testEnv, rng *rand.Rand, owners []string, n int) {
	t.Helper()
	ctx := context.Background()
	var ids []string

	for i := 0; i < n; i++ {
		owner := owners[rng.Intn(len(owners))]
		var err error

		switch op := rng.Intn(5); {
		case op <= 1 || len(ids) == 0:
			side := position.Long
			if rng.Intn(2) == 0 {
				side = position.Short
			}
			var res *OpenResult
			res, err = env.engine.OpenPosition(ctx, OpenRequest{
				Owner:      owner,
				Symbol:     "BTCUSDT",
				Side:       side,
				Size:       uint64(rng.Intn(1000) + 1),
				EntryPrice: uint64(rng.Intn(99_000) + 1_000),
				Leverage:   uint16(rng.Intn(1000) + 1),
			})
			if err == nil {
				ids = append(ids, res.Position.ID)
			}
		case op == 2:
			_, err = env.engine.ModifyPosition(ctx, ModifyRequest{
				PositionID:  ids[rng.Intn(len(ids))],
				SizeDelta:   int64(rng.Intn(1001) - 500),
				MarginDelta: int64(rng.Intn(40_001) - 20_000),
			})
		case op == 3:
			_, err = env.engine.ClosePosition(ctx, CloseRequest{
				PositionID: ids[rng.Intn(len(ids))],
				ExitPrice:  uint64(rng.Intn(99_000) + 1_000),
			})
		default:
			_, err = env.engine.LiquidatePosition(ctx, LiquidateRequest{PositionID: ids[rng.Intn(len(ids))]})
		}

		if err != nil {
			assert.NotZero(t, common.Code(err), "unexpected error kind: %v", err)
		}
	}
}

func assertLedgers(t *testing.T, env *testEnv, owners []string) {
	t.Helper()
	ctx := context.Background()
	for _, owner := range owners {
		require.NoError(t, env.engine.VerifyLedger(ctx, owner))

		user, err := env.engine.GetUser(ctx, owner)
		require.NoError(t, err)
		open, err := env.engine.ListPositions(ctx, store.Filter{Owner: owner, OpenOnly: true})
		require.NoError(t, err)

		var sum uint64
		for _, p := range open {
			sum += p.Margin
		}
		assert.Equal(t, sum, user.LockedCollateral, "owner %s", owner)
		assert.LessOrEqual(t, user.LockedCollateral, user.TotalCollateral)
	}
}

func TestLedgerInvariantRandomized(t *testing.T) {
	owners := []string{"alice", "bob", "carol", "dave"}

	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("Seed%d", seed), func(t *testing.T) {
			env := newTestEngine(t)
			for _, owner := range owners {
				env.fundedUser(t, owner, 50_000_000)
			}
			randomOps(t, env, rand.New(rand.NewSource(seed)), owners, 400)
			assertLedgers(t, env, owners)
		})
	}
}

func TestLedgerInvariantConcurrent(t *testing.T) {
	owners := []string{"alice", "bob", "carol"}
	env := newTestEngine(t)
	for _, owner := range owners {
		env.fundedUser(t, owner, 50_000_000)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			randomOps(t, env, rand.New(rand.NewSource(seed)), owners, 150)
		}(int64(w + 100))
	}
	wg.Wait()

	assertLedgers(t, env, owners)
}

func TestEngineOnSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite("file:engine_sqlite?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	owners := []string{"alice", "bob"}
	env := newTestEngineWith(t, st, margin.DefaultTable())
	for _, owner := range owners {
		env.fundedUser(t, owner, 50_000_000)
	}

	opened, err := env.engine.OpenPosition(ctx, btcLong("alice"))
	require.NoError(t, err)
	res, err := env.engine.ClosePosition(ctx, CloseRequest{PositionID: opened.Position.ID, ExitPrice: 50_000})
	require.NoError(t, err)
	assert.Zero(t, res.RealizedPnL)

	randomOps(t, env, rand.New(rand.NewSource(7)), owners, 150)
	assertLedgers(t, env, owners)
}
