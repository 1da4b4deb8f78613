package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// DirectoryRepo reads event, business and membership facts.
type DirectoryRepo struct {
	pool Pool
}

// NewDirectoryRepo creates a new DirectoryRepo.
func NewDirectoryRepo(pool Pool) *DirectoryRepo {
	return &DirectoryRepo{pool: pool}
}

func (r *DirectoryRepo) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	e := &domain.Event{}
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name, status FROM events WHERE id = $1`, eventID).
		Scan(&e.ID, &e.Name, &e.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *DirectoryRepo) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	b := &domain.Business{}
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT id, event_id, name FROM businesses WHERE id = $1`, businessID).
		Scan(&b.ID, &b.EventID, &b.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}

func (r *DirectoryRepo) IsMember(ctx context.Context, businessID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM business_members WHERE business_id = $1 AND user_id = $2)`

	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, query, businessID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check business membership: %w", err)
	}
	return ok, nil
}
