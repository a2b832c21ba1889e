package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atmx/perp-engine/internal/fixed"
)

func TestCachedStore_InvalidationFailureAbortsWrite(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	mem := NewMemoryStore()
	l := NewLedger(NewCachedStore(mem, rdb, time.Minute))

	err := l.Update(ctx, func(tx *Tx) error {
		tx.UpdateLongMarket(0, fixed.USD(1_000), fixed.USD(1_500))
		return nil
	})
	require.ErrorContains(t, err, "invalidate cache")

	m, err := mem.Market(ctx, 0)
	require.NoError(t, err)
	require.True(t, m.LongPositionSize.IsZero(), "primary must not be written")
}
