package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. Entries are never deleted.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, user_id, owner_type, owner_id, reference, entry_type, status, direction,
		amount, currency, metadata, created_at, updated_at, completed_at`

// Create inserts a new ledger entry.
func (r *LedgerRepo) Create(ctx context.Context, e *domain.LedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode ledger metadata: %w", err)
	}

	query := `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = conn(ctx, r.pool).Exec(ctx, query,
		e.ID, e.UserID, e.OwnerType, e.OwnerID, e.Reference, e.Type, e.Status, e.Direction,
		e.Amount, e.Currency, meta, e.CreatedAt, e.UpdatedAt, e.CompletedAt,
	)
	if err != nil {
		return mapWriteError("insert ledger entry", err)
	}
	return nil
}

// Update moves an entry out of status from. Metadata is merged into the
// stored document. Returns ports.ErrStaleStatus if the row moved meanwhile.
func (r *LedgerRepo) Update(ctx context.Context, id uuid.UUID, from domain.EntryStatus, u domain.EntryUpdate) error {
	meta, err := json.Marshal(nonNilMeta(u.Metadata))
	if err != nil {
		return fmt.Errorf("encode ledger metadata: %w", err)
	}

	query := `UPDATE ledger_entries SET
		status = $1,
		reference = COALESCE($2, reference),
		metadata = metadata || $3::jsonb,
		completed_at = COALESCE($4, completed_at),
		updated_at = NOW()
		WHERE id = $5 AND status = $6`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, u.Status, u.Reference, meta, u.CompletedAt, id, from)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s: %w", id, ports.ErrStaleStatus)
	}
	return nil
}

// GetByID fetches a ledger entry, or nil.
func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`

	e, err := scanLedgerEntry(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// List fetches an owner's entries, newest first, with filtering and pagination.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	conditions := []string{"owner_type = $1", "owner_id = $2"}
	args := []any{params.Owner.Type, params.Owner.ID}
	argIdx := 3

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("entry_type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")
	q := conn(ctx, r.pool)

	var total int64
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	entries, err := r.query(ctx, q, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListStale returns entries stuck in status since before updatedBefore,
// oldest first.
func (r *LedgerRepo) ListStale(ctx context.Context, status domain.EntryStatus, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	return r.query(ctx, conn(ctx, r.pool), query, status, updatedBefore, limit)
}

// ListUnresolved returns fallida entries whose transaction may still have
// landed, oldest first.
func (r *LedgerRepo) ListUnresolved(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE status = $1 AND metadata->>'` + domain.MetaOutcomeUnknown + `' = 'true' AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3`
	return r.query(ctx, conn(ctx, r.pool), query, domain.EntryStatusFailed, updatedBefore, limit)
}

func (r *LedgerRepo) query(ctx context.Context, q querier, sql string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var meta []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.OwnerType, &e.OwnerID, &e.Reference, &e.Type, &e.Status, &e.Direction,
		&e.Amount, &e.Currency, &meta, &e.CreatedAt, &e.UpdatedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode ledger metadata: %w", err)
		}
	}
	return e, nil
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
