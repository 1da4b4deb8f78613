package memory

import (
	"context"
	"sync"

	"custodial-ledger/internal/core/domain"
)

// DirectoryRepo implements ports.DirectoryRepository with seedable data.
type DirectoryRepo struct {
	mu         sync.RWMutex
	events     map[string]domain.Event
	businesses map[string]domain.Business
	members    map[string]map[string]bool
}

func NewDirectoryRepo() *DirectoryRepo {
	return &DirectoryRepo{
		events:     make(map[string]domain.Event),
		businesses: make(map[string]domain.Business),
		members:    make(map[string]map[string]bool),
	}
}

// PutEvent inserts or replaces an event.
func (r *DirectoryRepo) PutEvent(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
}

// PutBusiness inserts or replaces a business and its members.
func (r *DirectoryRepo) PutBusiness(b domain.Business, memberIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.businesses[b.ID] = b
	if r.members[b.ID] == nil {
		r.members[b.ID] = make(map[string]bool)
	}
	for _, id := range memberIDs {
		r.members[b.ID][id] = true
	}
}

func (r *DirectoryRepo) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *DirectoryRepo) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[businessID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *DirectoryRepo) IsMember(ctx context.Context, businessID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[businessID][userID], nil
}
