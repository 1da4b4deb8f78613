// Package memory holds in-process implementations of the repository ports.
// They back local development runs (storage.driver=memory) and service tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	mu       sync.RWMutex
	byOwner  map[domain.OwnerRef]domain.CustodialAccount
	byAddress map[string]domain.OwnerRef
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		byOwner:  make(map[domain.OwnerRef]domain.CustodialAccount),
		byAddress: make(map[string]domain.OwnerRef),
	}
}

func (r *AccountRepo) Create(ctx context.Context, a *domain.CustodialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOwner[a.Owner()]; ok {
		return fmt.Errorf("insert custodial account: %w", ports.ErrUniqueViolation)
	}
	if _, ok := r.byAddress[a.Address]; ok {
		return fmt.Errorf("insert custodial account: %w", ports.ErrUniqueViolation)
	}
	r.byOwner[a.Owner()] = *a
	r.byAddress[a.Address] = a.Owner()
	return nil
}

func (r *AccountRepo) GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byOwner[owner]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.CustodialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.byAddress[address]
	if !ok {
		return nil, nil
	}
	a := r.byOwner[owner]
	return &a, nil
}
