package postgres_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/store/postgres"
	"github.com/warp/finance-engine/store/sqldb"
)

var accountCols = []string{"id", "designation", "name", "description", "iban", "bic", "holder_name", "ceilings_json", "created_at"}

func newMockLedger(t *testing.T) (*donations.Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return donations.NewLedger(postgres.NewWithDB(db), nil), mock
}

func expectLockedBalance(mock sqlmock.Sqlmock, accountID string, balanceCents int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1 FOR UPDATE`)).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow(accountID, "OPS", "Operations", "", "", "", "", "{}", "2026-01-01T00:00:00Z"))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM(amount_cents)`)).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(balanceCents))
}

func TestInsertOperation_LocksAccountBeforeSumming(t *testing.T) {
	ledger, mock := newMockLedger(t)

	// GIVEN: An account holding 100.00
	expectLockedBalance(mock, "acc-1", 10000)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO operations`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// WHEN: Debiting 30.00
	op, err := ledger.InsertOperation(context.Background(), "acc-1", generic.MustMoney("-30.00"), donations.OperationContext{Label: "fournitures"})

	// THEN: Row lock, then sum, then insert, in one transaction
	require.NoError(t, err)
	assert.Equal(t, "-30.00", op.Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOperation_NegativeBalanceRollsBack(t *testing.T) {
	ledger, mock := newMockLedger(t)

	// GIVEN: An account holding 10.00
	expectLockedBalance(mock, "acc-1", 1000)
	mock.ExpectRollback()

	// WHEN: Debiting 30.00
	_, err := ledger.InsertOperation(context.Background(), "acc-1", generic.MustMoney("-30.00"), donations.OperationContext{})

	// THEN: Rejected before any insert
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrNegativeBalance)
	assert.ErrorIs(t, err, generic.ErrIntegrityViolation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOperation_UnknownAccount(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1 FOR UPDATE`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	_, err := ledger.InsertOperation(context.Background(), "missing", generic.MustMoney("5.00"), donations.OperationContext{})

	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDollar(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)",
		sqldb.Dollar("SELECT a FROM t WHERE x = ? AND y IN (?,?)"))
	assert.Equal(t, "SELECT 1", sqldb.Dollar("SELECT 1"))
}
