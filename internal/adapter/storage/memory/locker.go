package memory

import (
	"context"
	"fmt"
	"sync"
)

type keyedLock struct {
	ch chan struct{}
	// refs counts holders and waiters; the entry is dropped at zero.
	refs int
}

// KeyedLocker implements ports.AccountLocker within one process, holding
// one lock per account key.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) acquire(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) drop(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock blocks until key is free or ctx ends.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	kl := l.acquire(key)
	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				l.drop(key, kl)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, kl)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

