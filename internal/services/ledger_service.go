package services

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zamio/backend/internal/models"
)

// LedgerService owns every balance mutation. A balance changes only
// together with a ledger row, inside one database transaction: either
// both persist or neither does.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

func newTransactionID() string {
	return "TXN-" + strings.ToUpper(uuid.New().String()[:10])
}

func newAccountID(ownerType string) string {
	prefix := map[string]string{
		models.OwnerStation:   "STA",
		models.OwnerArtist:    "ART",
		models.OwnerPublisher: "PUB",
	}[ownerType]
	if prefix == "" {
		prefix = "ACC"
	}
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

// EnsureAccount returns the account owned by (ownerType, ownerRef),
// creating it with a zero balance if missing. The platform pool is a
// singleton with a fixed account id.
func (s *LedgerService) EnsureAccount(ownerType, ownerRef, currency string) (*models.Account, error) {
	account, err := s.GetAccountByOwner(ownerType, ownerRef)
	if err == nil {
		return account, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	accountID := newAccountID(ownerType)
	if ownerType == models.OwnerPlatform {
		accountID = models.PlatformPoolID
	}
	if currency == "" {
		currency = "GHS"
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (account_id, owner_type, owner_ref, balance, currency, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, TRUE, $5, $5)
		ON CONFLICT (owner_type, owner_ref) DO NOTHING`,
		accountID, ownerType, ownerRef, currency, time.Now())
	if err != nil {
		return nil, err
	}

	return s.GetAccountByOwner(ownerType, ownerRef)
}

// GetAccount fetches an account by its id.
func (s *LedgerService) GetAccount(accountID string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRow(selectAccount+` WHERE account_id = $1`, accountID))
}

// GetAccountByOwner fetches an account by its owner.
func (s *LedgerService) GetAccountByOwner(ownerType, ownerRef string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRow(selectAccount+` WHERE owner_type = $1 AND owner_ref = $2`, ownerType, ownerRef))
}

const selectAccount = `
	SELECT account_id, owner_type, owner_ref, balance, currency,
	       total_received, total_paid_out, total_spent, total_plays,
	       allow_negative_balance, credit_limit, version, is_active, updated_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LedgerService) scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.AccountID, &a.OwnerType, &a.OwnerRef, &a.Balance, &a.Currency,
		&a.TotalReceived, &a.TotalPaidOut, &a.TotalSpent, &a.TotalPlays,
		&a.AllowNegativeBalance, &a.CreditLimit, &a.Version, &a.IsActive, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Credit applies a credit in its own transaction.
func (s *LedgerService) Credit(accountID string, amount decimal.Decimal, txType, description string) (*models.Transaction, error) {
	return s.apply(accountID, amount, txType, models.DirectionCredit, description, "")
}

// Debit applies a debit in its own transaction. Fails with
// ErrInsufficientFunds or ErrCreditLimit before touching anything.
func (s *LedgerService) Debit(accountID string, amount decimal.Decimal, txType, description string) (*models.Transaction, error) {
	return s.apply(accountID, amount, txType, models.DirectionDebit, description, "")
}

func (s *LedgerService) apply(accountID string, amount decimal.Decimal, txType, direction, description, playLogID string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var entry *models.Transaction
	if direction == models.DirectionCredit {
		entry, err = s.CreditTx(tx, accountID, amount, txType, description, playLogID)
	} else {
		entry, err = s.DebitTx(tx, accountID, amount, txType, description, playLogID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx applies a credit inside the caller's transaction.
func (s *LedgerService) CreditTx(tx *sql.Tx, accountID string, amount decimal.Decimal, txType, description, playLogID string) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, NewValidationError("amount", "amount must be greater than zero")
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.Balance.Add(amount)
	entry, err := s.insertEntry(tx, accountID, txType, models.DirectionCredit, amount, newBalance, description, playLogID)
	if err != nil {
		return nil, err
	}

	received := decimal.Zero
	if txType == models.TxDeposit || txType == models.TxPlayCharge {
		received = amount
	}
	if err := s.updateAccountBalance(tx, accountID, newBalance, account.Version, received, decimal.Zero, decimal.Zero, 0); err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Credited %s %s to %s (%s), balance %s", amount, account.Currency, accountID, txType, newBalance)
	return entry, nil
}

// DebitTx applies a debit inside the caller's transaction, enforcing the
// negative-balance and credit-limit rules.
func (s *LedgerService) DebitTx(tx *sql.Tx, accountID string, amount decimal.Decimal, txType, description, playLogID string) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, NewValidationError("amount", "amount must be greater than zero")
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.Balance.Sub(amount)
	if !account.AllowNegativeBalance && newBalance.Sign() < 0 {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, account.Balance, amount)
	}
	if account.AllowNegativeBalance && newBalance.LessThan(account.CreditLimit.Neg()) {
		return nil, fmt.Errorf("%w: balance %s, limit %s", ErrCreditLimit, account.Balance, account.CreditLimit)
	}

	entry, err := s.insertEntry(tx, accountID, txType, models.DirectionDebit, amount, newBalance, description, playLogID)
	if err != nil {
		return nil, err
	}

	paidOut, spent := decimal.Zero, decimal.Zero
	plays := 0
	switch txType {
	case models.TxWithdrawalPayout:
		paidOut = amount
	case models.TxPlayCharge:
		spent = amount
		plays = 1
	default:
		spent = amount
	}
	if err := s.updateAccountBalance(tx, accountID, newBalance, account.Version, decimal.Zero, paidOut, spent, plays); err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Debited %s %s from %s (%s), balance %s", amount, account.Currency, accountID, txType, newBalance)
	return entry, nil
}

// Transfer debits one account and credits another atomically. Used for
// play charges moving station funds into the central pool. Locks are
// taken in consistent account-id order to prevent deadlocks.
func (s *LedgerService) Transfer(fromAccountID, toAccountID string, amount decimal.Decimal, txType, description, playLogID string) (debit, credit *models.Transaction, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	if fromAccountID < toAccountID {
		debit, err = s.DebitTx(tx, fromAccountID, amount, txType, description, playLogID)
		if err == nil {
			credit, err = s.CreditTx(tx, toAccountID, amount, txType, description, playLogID)
		}
	} else {
		credit, err = s.CreditTx(tx, toAccountID, amount, txType, description, playLogID)
		if err == nil {
			debit, err = s.DebitTx(tx, fromAccountID, amount, txType, description, playLogID)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	account, err := s.scanAccount(tx.QueryRow(selectAccount+` WHERE account_id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	return account, nil
}

func (s *LedgerService) insertEntry(tx *sql.Tx, accountID, txType, direction string, amount, balanceAfter decimal.Decimal, description, playLogID string) (*models.Transaction, error) {
	entry := &models.Transaction{
		TransactionID: newTransactionID(),
		AccountID:     accountID,
		Type:          txType,
		Direction:     direction,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Description:   description,
		PlayLogID:     playLogID,
		Timestamp:     time.Now(),
	}
	_, err := tx.Exec(`
		INSERT INTO ledger_transactions (transaction_id, account_id, transaction_type, direction, amount, balance_after, description, play_log_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		entry.TransactionID, entry.AccountID, entry.Type, entry.Direction,
		entry.Amount, entry.BalanceAfter, entry.Description, entry.PlayLogID, entry.Timestamp)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance decimal.Decimal, version int, received, paidOut, spent decimal.Decimal, plays int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, total_received = total_received + $2, total_paid_out = total_paid_out + $3,
		    total_spent = total_spent + $4, total_plays = total_plays + $5,
		    version = version + 1, updated_at = $6
		WHERE account_id = $7 AND version = $8`,
		newBalance, received, paidOut, spent, plays, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s version %d", ErrConflict, accountID, version)
	}
	return nil
}

// ListTransactions returns a page of ledger rows for an account, newest
// first, with the total row count for pagination.
func (s *LedgerService) ListTransactions(accountID string, page, perPage int) ([]models.Transaction, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ledger_transactions WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT id, transaction_id, account_id, transaction_type, direction, amount, balance_after,
		       COALESCE(description, ''), COALESCE(play_log_id, ''), timestamp
		FROM ledger_transactions
		WHERE account_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`,
		accountID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.TransactionID, &t.AccountID, &t.Type, &t.Direction,
			&t.Amount, &t.BalanceAfter, &t.Description, &t.PlayLogID, &t.Timestamp); err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, t)
	}
	return transactions, total, rows.Err()
}

// ReconcileResult reports a full-history balance recomputation.
type ReconcileResult struct {
	AccountID      string          `json:"account_id"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
	DerivedBalance decimal.Decimal `json:"derived_balance"`
	Consistent     bool            `json:"consistent"`
}

// Reconcile recomputes the balance from the transaction log and checks
// it against the stored balance. Integrity check only; the stored value
// is never corrected here.
func (s *LedgerService) Reconcile(accountID string) (*ReconcileResult, error) {
	account, err := s.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	var derived decimal.Decimal
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN direction = 'DEBIT' THEN -amount ELSE amount END), 0)
		FROM ledger_transactions
		WHERE account_id = $1`, accountID).Scan(&derived)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		AccountID:      accountID,
		StoredBalance:  account.Balance,
		DerivedBalance: derived,
		Consistent:     account.Balance.Equal(derived),
	}
	if !result.Consistent {
		log.Printf("[LEDGER] Reconciliation mismatch for %s: stored %s, derived %s", accountID, account.Balance, derived)
	}
	return result, nil
}
