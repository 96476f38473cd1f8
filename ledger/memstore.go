package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore keeps the whole ledger in maps. It is the fallback when
// no durable backend matches the database URL, and what unit tests use
// when they don't want a file. A single read-write mutex held across
// each write gives the same per-account serialization the SQL store
// gets from row locks.
type MemoryStore struct {
	mu sync.RWMutex

	accounts map[string]Account
	balances map[string]Balance
	payments map[string]Payment
	entries  map[string][]Entry
	costs    map[string]OperationCost

	// purchasedPayments backs the at-most-once credit guarantee, the
	// way the partial unique index does in SQL.
	purchasedPayments map[string]bool

	nextEntryID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:          make(map[string]Account),
		balances:          make(map[string]Balance),
		payments:          make(map[string]Payment),
		entries:           make(map[string][]Entry),
		costs:             make(map[string]OperationCost),
		purchasedPayments: make(map[string]bool),
	}
}

func (m *MemoryStore) EnsureAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(accountID)
	return nil
}

// ensureLocked creates the account and balance rows if absent. Callers
// hold the write lock.
func (m *MemoryStore) ensureLocked(accountID string) {
	now := time.Now().UTC()
	if _, ok := m.accounts[accountID]; !ok {
		m.accounts[accountID] = Account{
			ID:        accountID,
			Status:    AccountActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if _, ok := m.balances[accountID]; !ok {
		m.balances[accountID] = Balance{AccountID: accountID, UpdatedAt: now}
	}
}

func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return Account{}, errors.Wrap(ErrAccountNotFound, accountID)
	}
	return account, nil
}

func (m *MemoryStore) SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error {
	parsed, err := ParseAccountStatus(string(status))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return errors.Wrap(ErrAccountNotFound, accountID)
	}
	account.Status = parsed
	account.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = account
	return nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return Balance{AccountID: accountID, UpdatedAt: time.Now().UTC()}, nil
	}
	return balance, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[accountID]
	history := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(history) < limit; i-- {
		history = append(history, all[i])
	}
	return history, nil
}

func (m *MemoryStore) ListOperationCosts(ctx context.Context) ([]OperationCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	costs := make([]OperationCost, 0, len(m.costs))
	for _, cost := range m.costs {
		costs = append(costs, cost)
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].Operation < costs[j].Operation })
	return costs, nil
}

func (m *MemoryStore) SeedOperationCosts(ctx context.Context, costs []OperationCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cost := range costs {
		m.costs[cost.Operation] = cost
	}
	return nil
}

func (m *MemoryStore) FindPayment(ctx context.Context, transactionID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[transactionID]
	if !ok {
		return nil, nil
	}
	return &payment, nil
}

func (m *MemoryStore) ListPendingPayments(ctx context.Context) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []Payment
	for _, payment := range m.payments {
		if strings.EqualFold(string(payment.Status), string(PaymentPending)) {
			pending = append(pending, payment)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (m *MemoryStore) RecordPaymentAndLedger(ctx context.Context, payment Payment, entry Entry) (PaymentOutcome, *Payment, error) {
	status, err := ParsePaymentStatus(string(payment.Status))
	if err != nil {
		return PaymentUnchanged, nil, err
	}
	payment.Status = status

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLocked(payment.CreditedAccount())
	now := time.Now().UTC()

	stored, exists := m.payments[payment.TransactionID]

	if !exists {
		payment.CreatedAt, payment.UpdatedAt = now, now
		if entry.Amount != 0 {
			if _, err := m.appendLocked(entry); err != nil {
				return PaymentUnchanged, nil, err
			}
		}
		m.payments[payment.TransactionID] = payment
		return PaymentInserted, &payment, nil
	}

	if stored.Status == payment.Status || !stored.Status.ValidTransition(payment.Status) {
		return PaymentUnchanged, &stored, nil
	}

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

	if entry.Amount != 0 {
		if _, err := m.appendLocked(entry); err != nil {
			return PaymentUnchanged, nil, err
		}
	}
	m.payments[payment.TransactionID] = stored
	return PaymentUpdated, &stored, nil
}

func (m *MemoryStore) AppendLedger(ctx context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

// appendLocked mirrors the SQL store's appendLedgerTx. Callers hold the
// write lock.
func (m *MemoryStore) appendLocked(entry Entry) (Entry, error) {
	if !entry.Kind.Valid() {
		return Entry{}, errors.Errorf("unknown ledger entry kind %q", entry.Kind)
	}

	m.ensureLocked(entry.AccountID)
	balance := m.balances[entry.AccountID]

	balanceAfter := balance.Balance + entry.Amount
	if balanceAfter < 0 {
		return Entry{}, errors.Wrapf(ErrInsufficientBalance,
			"balance %d, entry amount %d", balance.Balance, entry.Amount)
	}

	if entry.Kind == EntryPurchase && entry.PaymentID != nil {
		if m.purchasedPayments[*entry.PaymentID] {
			return Entry{}, errors.Errorf("payment %s is already credited", *entry.PaymentID)
		}
		m.purchasedPayments[*entry.PaymentID] = true
	}

	m.nextEntryID++
	entry.ID = m.nextEntryID
	entry.BalanceAfter = balanceAfter
	entry.CreatedAt = time.Now().UTC()
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], entry)

	balance.Balance = balanceAfter
	switch entry.Kind {
	case EntryPurchase:
		balance.TotalPurchased += entry.Amount
	case EntryConsumption:
		balance.TotalConsumed -= entry.Amount // consumption amounts are negative
	}
	balance.UpdatedAt = entry.CreatedAt
	m.balances[entry.AccountID] = balance

	return entry, nil
}

func (m *MemoryStore) UpdatePaymentStatus(ctx context.Context, transactionID string, status PaymentStatus) error {
	parsed, err := ParsePaymentStatus(string(status))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.payments[transactionID]
	if !ok {
		return errors.Wrap(ErrPaymentNotFound, transactionID)
	}
	if !stored.Status.ValidTransition(parsed) {
		return errors.Wrapf(ErrInvalidStateTransition, "%s to %s", stored.Status, parsed)
	}

	stored.Status = parsed
	stored.UpdatedAt = time.Now().UTC()
	m.payments[transactionID] = stored
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
