package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Second, nil), mr
}

func TestLocker_ExclusivePerKey(t *testing.T) {
	l, _ := newTestLocker(t)
	l.Wait = 100 * time.Millisecond
	ctx := context.Background()

	// GIVEN: customer 00001 is locked
	unlock, err := l.Lock(ctx, ledger.CustomerLockKey("00001"))
	require.NoError(t, err)

	// WHEN: another caller tries the same key
	_, err = l.Lock(ctx, ledger.CustomerLockKey("00001"))

	// THEN: it gives up with ErrLockNotObtained
	assert.ErrorIs(t, err, ledger.ErrLockNotObtained)

	// AND: a different customer is not blocked
	other, err := l.Lock(ctx, ledger.CustomerLockKey("00002"))
	require.NoError(t, err)
	other()

	// AND: after release the key can be taken again
	unlock()
	again, err := l.Lock(ctx, ledger.CustomerLockKey("00001"))
	require.NoError(t, err)
	again()
}

func TestLocker_WaitsForRelease(t *testing.T) {
	l, _ := newTestLocker(t)
	l.Wait = 2 * time.Second
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "customer:00007")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		unlock()
	}()

	start := time.Now()
	second, err := l.Lock(ctx, "customer:00007")
	require.NoError(t, err)
	defer second()
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLocker_UsesPrefix(t *testing.T) {
	l, mr := newTestLocker(t)

	unlock, err := l.Lock(context.Background(), "customer:00003")
	require.NoError(t, err)
	assert.True(t, mr.Exists("cylinders:customer:00003"))

	unlock()
	assert.False(t, mr.Exists("cylinders:customer:00003"))
}
