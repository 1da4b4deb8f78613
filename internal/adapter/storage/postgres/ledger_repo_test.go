package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerColumnNames() []string {
	return []string{"id", "user_id", "owner_type", "owner_id", "reference", "entry_type", "status", "direction",
		"amount", "currency", "metadata", "created_at", "updated_at", "completed_at"}
}

func ledgerRow(rows *pgxmock.Rows, e *domain.LedgerEntry, meta string) *pgxmock.Rows {
	return rows.AddRow(
		e.ID, e.UserID, e.OwnerType, e.OwnerID, e.Reference, e.Type, e.Status, e.Direction,
		e.Amount, e.Currency, []byte(meta), e.CreatedAt, e.UpdatedAt, e.CompletedAt,
	)
}

func newTestEntry() *domain.LedgerEntry {
	e := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing,
		decimal.RequireFromString("10"), "CLT", map[string]any{domain.MetaCounterparty: "0xbeef"})
	e.CreatedAt = e.CreatedAt.Truncate(time.Microsecond)
	e.UpdatedAt = e.CreatedAt
	return e
}

func TestLedgerRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()

	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(e.ID, e.UserID, e.OwnerType, e.OwnerID, e.Reference, e.Type, e.Status, e.Direction,
			"10.0000", "CLT", pgxmock.AnyArg(), e.CreatedAt, e.UpdatedAt, e.CompletedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	id := uuid.New()
	hash := strPtr("0xhash")

	mock.ExpectExec("UPDATE ledger_entries SET").
		WithArgs(domain.EntryStatusProcessing, hash, pgxmock.AnyArg(), (*time.Time)(nil), id, domain.EntryStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), id, domain.EntryStatusPending, domain.EntryUpdate{
		Status:    domain.EntryStatusProcessing,
		Reference: hash,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Update_StaleStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE ledger_entries SET").
		WithArgs(domain.EntryStatusCompleted, (*string)(nil), pgxmock.AnyArg(), &now, id, domain.EntryStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Update(context.Background(), id, domain.EntryStatusProcessing, domain.EntryUpdate{
		Status:      domain.EntryStatusCompleted,
		CompletedAt: &now,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrStaleStatus))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()

	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE id").
		WithArgs(e.ID).
		WillReturnRows(ledgerRow(pgxmock.NewRows(ledgerColumnNames()), e, `{"counterparty":"0xbeef","confirmation_timeout":true}`))

	result, err := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, e.ID, result.ID)
	assert.Equal(t, "0xbeef", result.Metadata[domain.MetaCounterparty])
	assert.Equal(t, true, result.Metadata[domain.MetaConfirmationTimeout])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e1, e2 := newTestEntry(), newTestEntry()
	status := domain.EntryStatusCompleted
	owner := domain.UserOwner("u-1")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries`).
		WithArgs(owner.Type, owner.ID, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))

	rows := pgxmock.NewRows(ledgerColumnNames())
	ledgerRow(rows, e1, `{}`)
	ledgerRow(rows, e2, `{}`)
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE .+ ORDER BY created_at DESC LIMIT").
		WithArgs(owner.Type, owner.ID, status, 2, 2).
		WillReturnRows(rows)

	entries, total, err := repo.List(context.Background(), ports.LedgerListParams{
		Owner:    owner,
		Status:   &status,
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Len(t, entries, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()
	e.Status = domain.EntryStatusProcessing
	e.Reference = strPtr("0xabc")
	cutoff := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM ledger_entries\\s+WHERE status = .+ AND updated_at <").
		WithArgs(domain.EntryStatusProcessing, cutoff, 50).
		WillReturnRows(ledgerRow(pgxmock.NewRows(ledgerColumnNames()), e, `{}`))

	entries, err := repo.ListStale(context.Background(), domain.EntryStatusProcessing, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0xabc", *entries[0].Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListUnresolved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()
	e.Status = domain.EntryStatusFailed
	e.Reference = strPtr("0xdef")
	cutoff := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM ledger_entries\\s+WHERE status = \\$1 AND metadata->>'outcome_unknown' = 'true' AND updated_at < \\$2").
		WithArgs(domain.EntryStatusFailed, cutoff, 25).
		WillReturnRows(ledgerRow(pgxmock.NewRows(ledgerColumnNames()), e, `{"outcome_unknown":true}`))

	entries, err := repo.ListUnresolved(context.Background(), cutoff, 25)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Metadata[domain.MetaOutcomeUnknown])
	assert.NoError(t, mock.ExpectationsWereMet())
}
