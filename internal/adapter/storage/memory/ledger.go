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

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]domain.LedgerEntry
}

func NewLedgerRepo() *LedgerRepo {
	return &LedgerRepo{entries: make(map[uuid.UUID]domain.LedgerEntry)}
}

func (r *LedgerRepo) Create(ctx context.Context, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return fmt.Errorf("insert ledger entry: %w", ports.ErrUniqueViolation)
	}
	r.entries[e.ID] = cloneEntry(*e)
	return nil
}

func (r *LedgerRepo) Update(ctx context.Context, id uuid.UUID, from domain.EntryStatus, u domain.EntryUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return fmt.Errorf("ledger entry %s: %w", id, ports.ErrStaleStatus)
	}
	e = cloneEntry(e)
	e.Status = u.Status
	if u.Reference != nil {
		ref := *u.Reference
		e.Reference = &ref
	}
	for k, v := range u.Metadata {
		e.Metadata[k] = v
	}
	if u.CompletedAt != nil {
		at := *u.CompletedAt
		e.CompletedAt = &at
	}
	e.UpdatedAt = time.Now().UTC()
	r.entries[id] = e
	return nil
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	out := cloneEntry(e)
	return &out, nil
}

func (r *LedgerRepo) List(ctx context.Context, p ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	r.mu.RLock()
	var matched []domain.LedgerEntry
	for _, e := range r.entries {
		if e.OwnerType != p.Owner.Type || e.OwnerID != p.Owner.ID {
			continue
		}
		if p.Status != nil && e.Status != *p.Status {
			continue
		}
		if p.Type != nil && e.Type != *p.Type {
			continue
		}
		matched = append(matched, cloneEntry(e))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (p.Page - 1) * p.PageSize
	if start < 0 || start >= len(matched) {
		return nil, total, nil
	}
	end := start + p.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *LedgerRepo) ListStale(ctx context.Context, status domain.EntryStatus, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.Status == status && e.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneEntry(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LedgerRepo) ListUnresolved(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.Status == domain.EntryStatusFailed && e.Metadata[domain.MetaOutcomeUnknown] == true && e.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneEntry(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Backdate shifts an entry's updated_at into the past. Used by tests that
// exercise the reconciler's age thresholds.
func (r *LedgerRepo) Backdate(id uuid.UUID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.UpdatedAt = e.UpdatedAt.Add(-by)
		e.CreatedAt = e.CreatedAt.Add(-by)
		r.entries[id] = e
	}
}

func cloneEntry(e domain.LedgerEntry) domain.LedgerEntry {
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	return e
}
