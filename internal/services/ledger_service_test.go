package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/zamio/backend/internal/models"
)

func accountColumns() []string {
	return []string{
		"account_id", "owner_type", "owner_ref", "balance", "currency",
		"total_received", "total_paid_out", "total_spent", "total_plays",
		"allow_negative_balance", "credit_limit", "version", "is_active", "updated_at",
	}
}

func stationAccountRow(accountID string, balance string, allowNegative bool, creditLimit string) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumns()).
		AddRow(accountID, "station", "station-1", balance, "GHS",
			"0", "0", "0", 0, allowNegative, creditLimit, 1, true, time.Now())
}

func TestLedgerService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "500.00", false, "0"))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs(sqlmock.AnyArg(), "STA-1", models.TxPlayCharge, models.DirectionDebit,
				decimal.NewFromInt(100), decimal.RequireFromString("400.00"), "play", "PL-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.RequireFromString("400.00"), decimal.Zero, decimal.Zero, decimal.NewFromInt(100), 1,
				sqlmock.AnyArg(), "STA-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := service.apply("STA-1", decimal.NewFromInt(100), models.TxPlayCharge,
			models.DirectionDebit, "play", "PL-1")
		assert.NoError(t, err)
		assert.Equal(t, models.DirectionDebit, entry.Direction)
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(400)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "50.00", false, "0"))
		mock.ExpectRollback()

		_, err := service.Debit("STA-1", decimal.NewFromInt(100), models.TxPlayCharge, "play")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative balance allowed within credit limit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "50.00", true, "200.00"))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := service.Debit("STA-1", decimal.NewFromInt(100), models.TxPlayCharge, "play")
		assert.NoError(t, err)
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(-50)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit limit exceeded", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "50.00", true, "200.00"))
		mock.ExpectRollback()

		_, err := service.Debit("STA-1", decimal.NewFromInt(300), models.TxPlayCharge, "play")
		assert.ErrorIs(t, err, ErrCreditLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected before any query", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Debit("STA-1", decimal.Zero, models.TxPlayCharge, "play")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("deposit credit bumps total_received", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "100.00", false, "0"))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs(sqlmock.AnyArg(), "STA-1", models.TxDeposit, models.DirectionCredit,
				decimal.NewFromInt(250), decimal.RequireFromString("350.00"), "Deposit DEP-X", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.RequireFromString("350.00"), decimal.NewFromInt(250), decimal.Zero, decimal.Zero, 0,
				sqlmock.AnyArg(), "STA-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := service.Credit("STA-1", decimal.NewFromInt(250), models.TxDeposit, "Deposit DEP-X")
		assert.NoError(t, err)
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(350)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).
				AddRow("STA-1", "station", "station-1", "100.00", "GHS",
					"0", "0", "0", 0, false, "0", 1, false, time.Now()))
		mock.ExpectRollback()

		_, err := service.Credit("STA-1", decimal.NewFromInt(10), models.TxDeposit, "x")
		assert.ErrorIs(t, err, ErrAccountInactive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("play charge locks accounts in id order", func(t *testing.T) {
		// "STA-1" sorts before "ZAMIO-CENTRAL-POOL", so the debit runs first
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "500.00", false, "0"))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs(models.PlatformPoolID).
			WillReturnRows(sqlmock.NewRows(accountColumns()).
				AddRow(models.PlatformPoolID, "platform", "platform", "10000.00", "GHS",
					"0", "0", "0", 0, true, "0", 3, true, time.Now()))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		debit, credit, err := service.Transfer("STA-1", models.PlatformPoolID,
			decimal.NewFromInt(40), models.TxPlayCharge, "Play charge for PL-9", "PL-9")
		assert.NoError(t, err)
		assert.True(t, debit.BalanceAfter.Equal(decimal.NewFromInt(460)))
		assert.True(t, credit.BalanceAfter.Equal(decimal.NewFromInt(10040)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit failure rolls back both legs", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "10.00", false, "0"))
		mock.ExpectRollback()

		_, _, err := service.Transfer("STA-1", models.PlatformPoolID,
			decimal.NewFromInt(40), models.TxPlayCharge, "Play charge for PL-9", "PL-9")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_updateAccountBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.updateAccountBalance(tx, "STA-1", decimal.NewFromInt(400), 1,
			decimal.Zero, decimal.Zero, decimal.Zero, 0)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestLedgerService_Reconcile(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("consistent", func(t *testing.T) {
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "460.00", false, "0"))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("STA-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("460.00"))

		result, err := service.Reconcile("STA-1")
		assert.NoError(t, err)
		assert.True(t, result.Consistent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mismatch reported, not corrected", func(t *testing.T) {
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-1").
			WillReturnRows(stationAccountRow("STA-1", "460.00", false, "0"))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("STA-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("455.00"))

		result, err := service.Reconcile("STA-1")
		assert.NoError(t, err)
		assert.False(t, result.Consistent)
		assert.True(t, result.DerivedBalance.Equal(decimal.RequireFromString("455.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery("SELECT account_id, owner_type, owner_ref, balance, currency").
			WithArgs("STA-404").
			WillReturnRows(sqlmock.NewRows(accountColumns()))

		_, err := service.Reconcile("STA-404")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_ListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("STA-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectQuery("SELECT id, transaction_id, account_id, transaction_type").
		WithArgs("STA-1", 25, 25).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "transaction_id", "account_id", "transaction_type", "direction",
			"amount", "balance_after", "description", "play_log_id", "timestamp",
		}).AddRow(7, "TXN-ABC", "STA-1", "deposit", "CREDIT", "100.00", "560.00", "Deposit", "", time.Now()))

	transactions, total, err := service.ListTransactions("STA-1", 2, 25)
	assert.NoError(t, err)
	assert.Equal(t, 42, total)
	assert.Len(t, transactions, 1)
	assert.Equal(t, "TXN-ABC", transactions[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
