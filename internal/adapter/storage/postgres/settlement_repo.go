package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettlementRepo implements ports.SettlementRepository. The partial unique
// index ux_settlement_requests_active makes Create the atomic
// check-and-insert for the one-active-request-per-business rule.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

const settlementColumns = `id, event_id, business_id, requested_amount, token_symbol, method, notes, status,
		created_by, approved_by, tx_hash, created_at, updated_at, paid_at`

// Create inserts a settlement request.
func (r *SettlementRepo) Create(ctx context.Context, s *domain.SettlementRequest) error {
	query := `INSERT INTO settlement_requests (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		s.ID, s.EventID, s.BusinessID, s.RequestedAmount, s.TokenSymbol, s.Method, s.Notes, s.Status,
		s.CreatedBy, s.ApprovedBy, s.TxHash, s.CreatedAt, s.UpdatedAt, s.PaidAt,
	)
	if err != nil {
		return mapWriteError("insert settlement request", err)
	}
	return nil
}

// GetByID fetches a settlement request, or nil.
func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_requests WHERE id = $1`

	s, err := scanSettlement(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement request: %w", err)
	}
	return s, nil
}

// HasActive reports whether the business has a request in an active status.
func (r *SettlementRepo) HasActive(ctx context.Context, businessID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM settlement_requests WHERE business_id = $1 AND status = ANY($2))`

	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, query, businessID, settlementStatusStrings(domain.ActiveSettlementStatuses)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active settlement: %w", err)
	}
	return exists, nil
}

// Transition applies u if the request is still in status from.
func (r *SettlementRepo) Transition(ctx context.Context, id uuid.UUID, from domain.SettlementStatus, u ports.SettlementUpdate) error {
	query := `UPDATE settlement_requests SET
		status = $1,
		approved_by = COALESCE($2, approved_by),
		tx_hash = COALESCE($3, tx_hash),
		notes = COALESCE($4, notes),
		paid_at = COALESCE($5, paid_at),
		updated_at = NOW()
		WHERE id = $6 AND status = $7`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, u.Status, u.ApprovedBy, u.TxHash, u.Notes, u.PaidAt, id, from)
	if err != nil {
		return mapWriteError("update settlement request", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement request %s: %w", id, ports.ErrStaleStatus)
	}
	return nil
}

// ListByEvent returns all settlement requests of an event, newest first.
func (r *SettlementRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.SettlementRequest, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_requests WHERE event_id = $1 ORDER BY created_at DESC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list settlement requests: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementRequest
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement row: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (*domain.SettlementRequest, error) {
	s := &domain.SettlementRequest{}
	err := row.Scan(
		&s.ID, &s.EventID, &s.BusinessID, &s.RequestedAmount, &s.TokenSymbol, &s.Method, &s.Notes, &s.Status,
		&s.CreatedBy, &s.ApprovedBy, &s.TxHash, &s.CreatedAt, &s.UpdatedAt, &s.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func settlementStatusStrings(in []domain.SettlementStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
