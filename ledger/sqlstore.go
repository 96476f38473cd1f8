package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/db"
)

// SQLStore persists the ledger in SQL, speaking both dialects db.Open
// supports. Writes serialize per account: on Postgres by locking the
// account's balance row FOR UPDATE, on SQLite by the immediate
// transactions the connection is opened with.
type SQLStore struct {
	db *db.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an opened, migrated database.
func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{db: d}
}

// forUpdate is appended to row-lock queries on Postgres. SQLite writers
// already hold the database write lock.
func (s *SQLStore) forUpdate() string {
	if s.db.Dialect == db.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) EnsureAccount(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin tx")
	}

	if err := ensureAccountTx(ctx, tx, accountID); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrap(tx.Commit(), "could not commit account")
}

func ensureAccountTx(ctx context.Context, tx *sqlx.Tx, accountID string) error {
	now := time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
	INSERT INTO accounts (id, status, created_at, updated_at)
		VALUES ($1, 'active', $2, $2)
		ON CONFLICT (id) DO NOTHING`, accountID, now)
	if err != nil {
		return errors.Wrapf(err, "could not ensure account %s", accountID)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
		VALUES ($1, 0, 0, 0, $2)
		ON CONFLICT (account_id) DO NOTHING`, accountID, now)
	return errors.Wrapf(err, "could not ensure balance row for %s", accountID)
}

func (s *SQLStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var account Account
	err := s.db.GetContext(ctx, &account, `
	SELECT id, status, created_at, updated_at
	FROM accounts
	WHERE id = $1`, accountID)
	if err == sql.ErrNoRows {
		return Account{}, errors.Wrap(ErrAccountNotFound, accountID)
	}
	if err != nil {
		return Account{}, errors.Wrap(err, "could not get account")
	}
	return account, nil
}

func (s *SQLStore) SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error {
	parsed, err := ParseAccountStatus(string(status))
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
	UPDATE accounts SET status = $2, updated_at = $3
	WHERE id = $1`, accountID, parsed, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "could not update account status")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not read rows affected")
	}
	if affected == 0 {
		return errors.Wrap(ErrAccountNotFound, accountID)
	}
	return nil
}

func (s *SQLStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	var balance Balance
	err := s.db.GetContext(ctx, &balance, `
	SELECT account_id, balance, total_purchased, total_consumed, updated_at
	FROM credit_balances
	WHERE account_id = $1`, accountID)
	if err == sql.ErrNoRows {
		// unknown accounts read as empty, they are created on first write
		return Balance{AccountID: accountID, UpdatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return Balance{}, errors.Wrap(err, "could not get balance")
	}
	return balance, nil
}

func (s *SQLStore) GetHistory(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
	SELECT id, account_id, kind, amount, balance_after, description, operation, payment_id, created_at
	FROM credit_transactions
	WHERE account_id = $1
	ORDER BY id DESC
	LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not get history")
	}
	return entries, nil
}

func (s *SQLStore) ListOperationCosts(ctx context.Context) ([]OperationCost, error) {
	var costs []OperationCost
	err := s.db.SelectContext(ctx, &costs, `
	SELECT operation, base_cost, category, size_multiplier, network_multipliers, updated_at
	FROM operation_costs
	ORDER BY operation`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list operation costs")
	}
	return costs, nil
}

func (s *SQLStore) SeedOperationCosts(ctx context.Context, costs []OperationCost) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin tx")
	}

	for _, cost := range costs {
		_, err := sqlx.NamedExecContext(ctx, tx, `
		INSERT INTO operation_costs (operation, base_cost, category, size_multiplier, network_multipliers, updated_at)
			VALUES (:operation, :base_cost, :category, :size_multiplier, :network_multipliers, :updated_at)
			ON CONFLICT (operation) DO UPDATE SET
				base_cost = excluded.base_cost,
				category = excluded.category,
				size_multiplier = excluded.size_multiplier,
				network_multipliers = excluded.network_multipliers,
				updated_at = excluded.updated_at`, cost)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "could not seed cost for %s", cost.Operation)
		}
	}

	return errors.Wrap(tx.Commit(), "could not commit operation costs")
}

func (s *SQLStore) FindPayment(ctx context.Context, transactionID string) (*Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, `
	SELECT transaction_id, payer_account_id, target_account_id, amount_tinybar,
		credits_allocated, memo, status, created_at, updated_at
	FROM payments
	WHERE transaction_id = $1`, transactionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not find payment")
	}
	return &payment, nil
}

func (s *SQLStore) ListPendingPayments(ctx context.Context) ([]Payment, error) {
	var payments []Payment
	err := s.db.SelectContext(ctx, &payments, `
	SELECT transaction_id, payer_account_id, target_account_id, amount_tinybar,
		credits_allocated, memo, status, created_at, updated_at
	FROM payments
	WHERE UPPER(status) = 'PENDING'
	ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list pending payments")
	}
	return payments, nil
}

func (s *SQLStore) RecordPaymentAndLedger(ctx context.Context, payment Payment, entry Entry) (PaymentOutcome, *Payment, error) {
	status, err := ParsePaymentStatus(string(payment.Status))
	if err != nil {
		return PaymentUnchanged, nil, err
	}
	payment.Status = status

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return PaymentUnchanged, nil, errors.Wrap(err, "could not begin tx")
	}

	outcome, stored, err := s.recordPaymentTx(ctx, tx, payment, entry)
	if err != nil {
		_ = tx.Rollback()
		return PaymentUnchanged, nil, err
	}

	if err := tx.Commit(); err != nil {
		return PaymentUnchanged, nil, errors.Wrap(err, "could not commit payment")
	}
	return outcome, stored, nil
}

func (s *SQLStore) recordPaymentTx(ctx context.Context, tx *sqlx.Tx, payment Payment, entry Entry) (PaymentOutcome, *Payment, error) {
	// serialize writers on the credited account before reading the
	// payment row, so replays and transitions see settled state
	if err := ensureAccountTx(ctx, tx, payment.CreditedAccount()); err != nil {
		return PaymentUnchanged, nil, err
	}
	if _, err := lockBalanceTx(ctx, tx, s.forUpdate(), payment.CreditedAccount()); err != nil {
		return PaymentUnchanged, nil, err
	}

	stored, err := findPaymentTx(ctx, tx, s.forUpdate(), payment.TransactionID)
	if err != nil {
		return PaymentUnchanged, nil, err
	}

	now := time.Now().UTC()

	if stored == nil {
		payment.CreatedAt, payment.UpdatedAt = now, now
		_, err := sqlx.NamedExecContext(ctx, tx, `
		INSERT INTO payments (transaction_id, payer_account_id, target_account_id, amount_tinybar,
				credits_allocated, memo, status, created_at, updated_at)
			VALUES (:transaction_id, :payer_account_id, :target_account_id, :amount_tinybar,
				:credits_allocated, :memo, :status, :created_at, :updated_at)`, payment)
		if err != nil {
			return PaymentUnchanged, nil, errors.Wrapf(err, "could not insert payment %s", payment.TransactionID)
		}

		if entry.Amount != 0 {
			if _, err := appendLedgerTx(ctx, tx, s.forUpdate(), entry); err != nil {
				return PaymentUnchanged, nil, err
			}
		}
		return PaymentInserted, &payment, nil
	}

	if stored.Status == payment.Status || !stored.Status.ValidTransition(payment.Status) {
		return PaymentUnchanged, stored, nil
	}

	// the confirming write is authoritative for what it supplies
	stored.Status = payment.Status
	stored.UpdatedAt = now
	if payment.CreditsAllocated != 0 {
		stored.CreditsAllocated = payment.CreditsAllocated
	}
	if payment.TargetAccountID != nil {
		stored.TargetAccountID = payment.TargetAccountID
	}
	if payment.Memo != nil {
		stored.Memo = payment.Memo
	}

	_, err = sqlx.NamedExecContext(ctx, tx, `
	UPDATE payments SET status = :status, credits_allocated = :credits_allocated,
		target_account_id = :target_account_id, memo = :memo, updated_at = :updated_at
	WHERE transaction_id = :transaction_id`, stored)
	if err != nil {
		return PaymentUnchanged, nil, errors.Wrapf(err, "could not update payment %s", payment.TransactionID)
	}

	if entry.Amount != 0 {
		if _, err := appendLedgerTx(ctx, tx, s.forUpdate(), entry); err != nil {
			return PaymentUnchanged, nil, err
		}
	}
	return PaymentUpdated, stored, nil
}

func (s *SQLStore) AppendLedger(ctx context.Context, entry Entry) (Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Entry{}, errors.Wrap(err, "could not begin tx")
	}

	created, err := appendLedgerTx(ctx, tx, s.forUpdate(), entry)
	if err != nil {
		_ = tx.Rollback()
		return Entry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, errors.Wrap(err, "could not commit ledger entry")
	}
	return created, nil
}

// appendLedgerTx appends one entry inside an open transaction. The
// account's balance row is locked first; BalanceAfter is recomputed from
// it so the ledger stays a prefix sum no matter what the caller sent.
func appendLedgerTx(ctx context.Context, tx *sqlx.Tx, forUpdate string, entry Entry) (Entry, error) {
	if !entry.Kind.Valid() {
		return Entry{}, errors.Errorf("unknown ledger entry kind %q", entry.Kind)
	}

	if err := ensureAccountTx(ctx, tx, entry.AccountID); err != nil {
		return Entry{}, err
	}

	balance, err := lockBalanceTx(ctx, tx, forUpdate, entry.AccountID)
	if err != nil {
		return Entry{}, err
	}

	balanceAfter := balance.Balance + entry.Amount
	if balanceAfter < 0 {
		return Entry{}, errors.Wrapf(ErrInsufficientBalance,
			"balance %d, entry amount %d", balance.Balance, entry.Amount)
	}

	now := time.Now().UTC()
	entry.BalanceAfter = balanceAfter
	entry.CreatedAt = now

	rows, err := sqlx.NamedQueryContext(ctx, tx, `
	INSERT INTO credit_transactions (account_id, kind, amount, balance_after, description, operation, payment_id, created_at)
		VALUES (:account_id, :kind, :amount, :balance_after, :description, :operation, :payment_id, :created_at)
		RETURNING id`, entry)
	if err != nil {
		return Entry{}, errors.Wrap(err, "could not insert ledger entry")
	}
	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			_ = rows.Close()
			return Entry{}, errors.Wrap(err, "could not scan ledger entry id")
		}
	}
	if err := rows.Close(); err != nil {
		return Entry{}, errors.Wrap(err, "could not close insert rows")
	}

	totalPurchased := balance.TotalPurchased
	totalConsumed := balance.TotalConsumed
	switch entry.Kind {
	case EntryPurchase:
		totalPurchased += entry.Amount
	case EntryConsumption:
		totalConsumed -= entry.Amount // consumption amounts are negative
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE credit_balances SET balance = $2, total_purchased = $3, total_consumed = $4, updated_at = $5
	WHERE account_id = $1`, entry.AccountID, balanceAfter, totalPurchased, totalConsumed, now)
	if err != nil {
		return Entry{}, errors.Wrap(err, "could not update balance")
	}

	return entry, nil
}

func (s *SQLStore) UpdatePaymentStatus(ctx context.Context, transactionID string, status PaymentStatus) error {
	parsed, err := ParsePaymentStatus(string(status))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin tx")
	}

	if err := s.updatePaymentStatusTx(ctx, tx, transactionID, parsed); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrap(tx.Commit(), "could not commit status update")
}

func (s *SQLStore) updatePaymentStatusTx(ctx context.Context, tx *sqlx.Tx, transactionID string, status PaymentStatus) error {
	stored, err := findPaymentTx(ctx, tx, s.forUpdate(), transactionID)
	if err != nil {
		return err
	}
	if stored == nil {
		return errors.Wrap(ErrPaymentNotFound, transactionID)
	}

	if !stored.Status.ValidTransition(status) {
		return errors.Wrapf(ErrInvalidStateTransition, "%s to %s", stored.Status, status)
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE payments SET status = $2, updated_at = $3
	WHERE transaction_id = $1`, transactionID, status, time.Now().UTC())
	return errors.Wrap(err, "could not update payment status")
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func lockBalanceTx(ctx context.Context, tx *sqlx.Tx, forUpdate string, accountID string) (Balance, error) {
	var balance Balance
	err := tx.GetContext(ctx, &balance, `
	SELECT account_id, balance, total_purchased, total_consumed, updated_at
	FROM credit_balances
	WHERE account_id = $1`+forUpdate, accountID)
	if err != nil {
		return Balance{}, errors.Wrapf(err, "could not lock balance row for %s", accountID)
	}
	return balance, nil
}

func findPaymentTx(ctx context.Context, tx *sqlx.Tx, forUpdate string, transactionID string) (*Payment, error) {
	var payment Payment
	err := tx.GetContext(ctx, &payment, `
	SELECT transaction_id, payer_account_id, target_account_id, amount_tinybar,
		credits_allocated, memo, status, created_at, updated_at
	FROM payments
	WHERE transaction_id = $1`+forUpdate, transactionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get payment")
	}
	return &payment, nil
}
