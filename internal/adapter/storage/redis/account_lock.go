package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock that was re-acquired by someone else.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still holds our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// AccountLock implements ports.AccountLocker with Redis SET NX, so
// decrypt-sign-submit for one account is serialized across replicas.
type AccountLock struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewAccountLock creates a Redis-backed per-account lock. ttl bounds how
// long a crashed holder can block the account; a live holder keeps the lock
// renewed every ttl/3 until it unlocks.
func NewAccountLock(client *goredis.Client, ttl time.Duration) *AccountLock {
	return &AccountLock{
		client: client,
		prefix: "lock:account:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
	}
}

// Lock blocks until the lock for key is held or ctx ends.
func (l *AccountLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.tryAcquire(ctx, redisKey, token)
		if err != nil {
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.watchdog(redisKey, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.release(redisKey, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

func (l *AccountLock) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	result, err := l.client.SetArgs(ctx, key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  l.ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// held by someone else
			return false, nil
		}
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return result == "OK", nil
}

// watchdog renews the lock until stop closes or the token is gone.
func (l *AccountLock) watchdog(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && renewed == 0 {
			// expired or taken over; nothing left to renew
			return
		}
	}
}

func (l *AccountLock) release(key, token string) {
	// the caller's ctx may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
