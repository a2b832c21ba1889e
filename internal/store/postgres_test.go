package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atmx/perp-engine/internal/model"
)

// These tests need live services and are skipped unless
// TEST_DATABASE_URL (and TEST_REDIS_URL for the cache) are set.

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE positions, position_index, markets, asset_classes,
		global_state, trader_balances, pools, bad_debt`)
	require.NoError(t, err)
	return s
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	l := NewLedger(s)

	err := l.Update(ctx, func(tx *Tx) error {
		p := openPosition(-25)
		p.PrimaryAccount = sub
		p.MarketIndex = 7
		p.LastIncreaseTimestamp = 1_700_000_000
		tx.SavePosition(sub, pos1, p)
		tx.UpdateShortMarket(7, i(25), i(1500))
		tx.UpdateAssetClass(0, model.AssetClass{ReserveValueE30: i(3), SumBorrowingRate: i(11), LastBorrowingTime: 5})
		tx.UpdateGlobalState(model.GlobalState{ReserveValueE30: i(3)})
		tx.AddBadDebt(sub, i(2))
		if err := tx.AddPool(model.PoolPLP, weth, i(1000)); err != nil {
			return err
		}
		if err := tx.IncreaseTraderBalance(sub, usdt, i(9)); err != nil {
			return err
		}
		return tx.IncreaseTraderBalance(sub, weth, i(4))
	})
	require.NoError(t, err)

	err = l.View(ctx, func(tx *Tx) error {
		p := tx.Position(pos1)
		require.Equal(t, "-25", p.SizeE30.String())
		require.Equal(t, uint64(7), p.MarketIndex)
		require.Equal(t, int64(1_700_000_000), p.LastIncreaseTimestamp)
		require.Equal(t, "25", tx.Market(7).ShortPositionSize.String())
		require.Equal(t, "11", tx.AssetClass(0).SumBorrowingRate.String())
		require.Equal(t, "3", tx.GlobalState().ReserveValueE30.String())
		require.Equal(t, "2", tx.BadDebt(sub).String())
		require.Equal(t, "1000", tx.PoolBalance(model.PoolPLP, weth).String())
		require.Equal(t, []TokenBalance{{Token: usdt, Amount: i(9)}, {Token: weth, Amount: i(4)}}, tx.TraderBalances(sub))
		return nil
	})
	require.NoError(t, err)

	err = l.Update(ctx, func(tx *Tx) error {
		tx.RemovePosition(sub, pos1)
		return tx.DecreaseTraderBalance(sub, usdt, i(9))
	})
	require.NoError(t, err)

	err = l.View(ctx, func(tx *Tx) error {
		require.False(t, tx.Position(pos1).IsOpen())
		require.Empty(t, tx.PositionIDs(sub))
		require.Equal(t, []TokenBalance{{Token: weth, Amount: i(4)}}, tx.TraderBalances(sub))
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	exerciseStore(t, newPostgresStore(t))
}

func TestCachedStore_RoundTrip(t *testing.T) {
	pg := newPostgresStore(t)
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.FlushDB(context.Background()).Err())

	exerciseStore(t, NewCachedStore(pg, rdb, time.Minute))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}
