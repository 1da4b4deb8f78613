package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// SettlementRepo implements ports.SettlementRepository. Create checks and
// inserts under one lock, matching the partial unique index in postgres.
type SettlementRepo struct {
	mu   sync.RWMutex
	reqs map[uuid.UUID]domain.SettlementRequest
}

func NewSettlementRepo() *SettlementRepo {
	return &SettlementRepo{reqs: make(map[uuid.UUID]domain.SettlementRequest)}
}

func (r *SettlementRepo) Create(ctx context.Context, s *domain.SettlementRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status.IsActive() && r.hasActiveLocked(s.BusinessID) {
		return fmt.Errorf("insert settlement request: %w", ports.ErrUniqueViolation)
	}
	r.reqs[s.ID] = *s
	return nil
}

func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.reqs[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *SettlementRepo) HasActive(ctx context.Context, businessID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasActiveLocked(businessID), nil
}

func (r *SettlementRepo) hasActiveLocked(businessID string) bool {
	for _, s := range r.reqs {
		if s.BusinessID == businessID && s.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *SettlementRepo) Transition(ctx context.Context, id uuid.UUID, from domain.SettlementStatus, u ports.SettlementUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.reqs[id]
	if !ok || s.Status != from {
		return fmt.Errorf("settlement request %s: %w", id, ports.ErrStaleStatus)
	}
	s.Status = u.Status
	if u.ApprovedBy != nil {
		s.ApprovedBy = u.ApprovedBy
	}
	if u.TxHash != nil {
		s.TxHash = u.TxHash
	}
	if u.Notes != nil {
		s.Notes = u.Notes
	}
	if u.PaidAt != nil {
		s.PaidAt = u.PaidAt
	}
	s.UpdatedAt = time.Now().UTC()
	r.reqs[id] = s
	return nil
}

func (r *SettlementRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.SettlementRequest, error) {
	r.mu.RLock()
	var out []domain.SettlementRequest
	for _, s := range r.reqs {
		if s.EventID == eventID {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	mu   sync.RWMutex
	reqs map[uuid.UUID]domain.WithdrawalRequest
}

func NewWithdrawalRepo() *WithdrawalRepo {
	return &WithdrawalRepo{reqs: make(map[uuid.UUID]domain.WithdrawalRequest)}
}

func (r *WithdrawalRepo) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.Status.IsActive() && r.hasActiveLocked(w.UserID) {
		return fmt.Errorf("insert withdrawal request: %w", ports.ErrUniqueViolation)
	}
	r.reqs[w.ID] = *w
	return nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.reqs[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WithdrawalRepo) HasActive(ctx context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasActiveLocked(userID), nil
}

func (r *WithdrawalRepo) hasActiveLocked(userID string) bool {
	for _, w := range r.reqs {
		if w.UserID == userID && w.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *WithdrawalRepo) Transition(ctx context.Context, id uuid.UUID, from domain.WithdrawalStatus, u ports.WithdrawalUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.reqs[id]
	if !ok || w.Status != from {
		return fmt.Errorf("withdrawal request %s: %w", id, ports.ErrStaleStatus)
	}
	w.Status = u.Status
	if u.ProcessedBy != nil {
		w.ProcessedBy = u.ProcessedBy
	}
	if u.ProcessedAt != nil {
		w.ProcessedAt = u.ProcessedAt
	}
	if u.TxHash != nil {
		w.TxHash = u.TxHash
	}
	if u.Notes != nil {
		w.Notes = u.Notes
	}
	w.UpdatedAt = time.Now().UTC()
	r.reqs[id] = w
	return nil
}

func (r *WithdrawalRepo) ListByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	r.mu.RLock()
	var out []domain.WithdrawalRequest
	for _, w := range r.reqs {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
