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

// WithdrawalRepo implements ports.WithdrawalRepository. Uniqueness of the
// active request per user is enforced by ux_withdrawal_requests_active.
type WithdrawalRepo struct {
	pool Pool
}

// NewWithdrawalRepo creates a new WithdrawalRepo.
func NewWithdrawalRepo(pool Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

const withdrawalColumns = `id, user_id, amount, token_symbol, status, notes, processed_by, processed_at,
		tx_hash, created_at, updated_at`

// Create inserts a withdrawal request.
func (r *WithdrawalRepo) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		w.ID, w.UserID, w.Amount, w.TokenSymbol, w.Status, w.Notes, w.ProcessedBy, w.ProcessedAt,
		w.TxHash, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert withdrawal request", err)
	}
	return nil
}

// GetByID fetches a withdrawal request, or nil.
func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

	w, err := scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get withdrawal request: %w", err)
	}
	return w, nil
}

// HasActive reports whether the user has a pendiente or en_proceso request.
func (r *WithdrawalRepo) HasActive(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE user_id = $1 AND status IN ('pendiente', 'en_proceso'))`

	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active withdrawal: %w", err)
	}
	return exists, nil
}

// Transition applies u if the request is still in status from.
func (r *WithdrawalRepo) Transition(ctx context.Context, id uuid.UUID, from domain.WithdrawalStatus, u ports.WithdrawalUpdate) error {
	query := `UPDATE withdrawal_requests SET
		status = $1,
		processed_by = COALESCE($2, processed_by),
		processed_at = COALESCE($3, processed_at),
		tx_hash = COALESCE($4, tx_hash),
		notes = COALESCE($5, notes),
		updated_at = NOW()
		WHERE id = $6 AND status = $7`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, u.Status, u.ProcessedBy, u.ProcessedAt, u.TxHash, u.Notes, id, from)
	if err != nil {
		return mapWriteError("update withdrawal request", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal request %s: %w", id, ports.ErrStaleStatus)
	}
	return nil
}

// ListByUser returns a user's withdrawal requests, newest first.
func (r *WithdrawalRepo) ListByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal row: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal rows: %w", err)
	}
	return out, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	w := &domain.WithdrawalRequest{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Amount, &w.TokenSymbol, &w.Status, &w.Notes, &w.ProcessedBy, &w.ProcessedAt,
		&w.TxHash, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}
