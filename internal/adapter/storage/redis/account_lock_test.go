package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *AccountLock) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, NewAccountLock(client, ttl)
}

func TestAccountLock_AcquireAndRelease(t *testing.T) {
	s, lock := newTestLock(t, time.Minute)
	ctx := context.Background()

	unlock, err := lock.Lock(ctx, "user:u-1")
	require.NoError(t, err)
	assert.True(t, s.Exists("lock:account:user:u-1"))

	unlock()
	assert.False(t, s.Exists("lock:account:user:u-1"))
}

func TestAccountLock_BlocksUntilContextDone(t *testing.T) {
	_, lock := newTestLock(t, time.Minute)

	unlock, err := lock.Lock(context.Background(), "user:u-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err = lock.Lock(ctx, "user:u-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAccountLock_DifferentAccountsDoNotBlock(t *testing.T) {
	_, lock := newTestLock(t, time.Minute)
	ctx := context.Background()

	u1, err := lock.Lock(ctx, "user:u-1")
	require.NoError(t, err)
	defer u1()

	u2, err := lock.Lock(ctx, "business:b-1")
	require.NoError(t, err)
	u2()
}

func TestAccountLock_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	s, lock := newTestLock(t, time.Second)
	ctx := context.Background()

	staleUnlock, err := lock.Lock(ctx, "user:u-1")
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	freshUnlock, err := lock.Lock(ctx, "user:u-1")
	require.NoError(t, err)

	staleUnlock()
	assert.True(t, s.Exists("lock:account:user:u-1"), "stale release must not drop the new holder's lock")

	freshUnlock()
	assert.False(t, s.Exists("lock:account:user:u-1"))
}

func TestAccountLock_Serializes(t *testing.T) {
	_, lock := newTestLock(t, time.Minute)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lock.Lock(ctx, "treasury:central")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestAccountLock_RenewsWhileHeld(t *testing.T) {
	s, lock := newTestLock(t, 300*time.Millisecond)
	key := "lock:account:treasury:central"

	unlock, err := lock.Lock(context.Background(), "treasury:central")
	require.NoError(t, err)

	// Without renewal the key would be gone after the second jump.
	for i := 0; i < 2; i++ {
		s.FastForward(250 * time.Millisecond)
		require.True(t, s.Exists(key))
		require.Eventually(t, func() bool {
			return s.TTL(key) > 250*time.Millisecond
		}, time.Second, 10*time.Millisecond)
	}

	unlock()
	assert.False(t, s.Exists(key))
}

func TestAccountLock_StopsRenewingAfterTakeover(t *testing.T) {
	s, lock := newTestLock(t, 300*time.Millisecond)
	key := "lock:account:user:u-1"

	unlock, err := lock.Lock(context.Background(), "user:u-1")
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, s.Set(key, "someone-else"))
	s.SetTTL(key, 50*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
	assert.LessOrEqual(t, s.TTL(key), 50*time.Millisecond)
}
