package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, owner_type, owner_id, address, encrypted_private_key, encrypted_mnemonic, network, created_at`

// Create inserts a custodial account. A second account for the same owner
// fails with ports.ErrUniqueViolation.
func (r *AccountRepo) Create(ctx context.Context, a *domain.CustodialAccount) error {
	query := `INSERT INTO custodial_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		a.ID, a.OwnerType, a.OwnerID, a.Address,
		a.EncryptedPrivateKey, a.EncryptedMnemonic, a.Network, a.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert custodial account", err)
	}
	return nil
}

// GetByOwner fetches the account of an owner, or nil if none exists.
func (r *AccountRepo) GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM custodial_accounts WHERE owner_type = $1 AND owner_id = $2`
	return r.scan(conn(ctx, r.pool).QueryRow(ctx, query, owner.Type, owner.ID), "get account by owner")
}

// GetByAddress fetches the account holding address, or nil.
func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.CustodialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM custodial_accounts WHERE address = $1`
	return r.scan(conn(ctx, r.pool).QueryRow(ctx, query, address), "get account by address")
}

func (r *AccountRepo) scan(row pgx.Row, op string) (*domain.CustodialAccount, error) {
	a := &domain.CustodialAccount{}
	err := row.Scan(
		&a.ID, &a.OwnerType, &a.OwnerID, &a.Address,
		&a.EncryptedPrivateKey, &a.EncryptedMnemonic, &a.Network, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}
