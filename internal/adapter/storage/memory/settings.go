package memory

import (
	"context"
	"sync"
)

// SettingsRepo implements ports.SettingsRepository.
type SettingsRepo struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSettingsRepo() *SettingsRepo {
	return &SettingsRepo{values: make(map[string]string)}
}

func (r *SettingsRepo) Get(ctx context.Context, key string) (*string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *SettingsRepo) Put(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

// Transactor implements ports.Transactor without isolation. Each memory
// repository is individually consistent, which is all the services rely on
// outside postgres.
type Transactor struct{}

func (Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
