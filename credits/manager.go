package credits

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

// Sufficiency is the answer to "can this account afford this operation
// right now". Shortfall is zero when Sufficient.
type Sufficiency struct {
	Sufficient bool  `json:"sufficient"`
	Current    int64 `json:"current"`
	Required   int64 `json:"required"`
	Shortfall  int64 `json:"shortfall"`
}

// Sufficiency prices the operation for the account and compares it with
// the balance. Pure read, unknown accounts read as zero.
func (m *Manager) Sufficiency(ctx context.Context, accountID, operation string,
	opts pricing.CostOptions) (Sufficiency, error) {

	balance, err := m.store.GetBalance(ctx, accountID)
	if err != nil {
		return Sufficiency{}, err
	}

	// loyalty discounts follow the account, not the caller's options
	opts.TotalConsumed = balance.TotalConsumed
	required := pricing.OperationCost(m.conf.Pricing, operation, opts)

	sufficiency := Sufficiency{
		Sufficient: balance.Balance >= required,
		Current:    balance.Balance,
		Required:   required,
	}
	if !sufficiency.Sufficient {
		sufficiency.Shortfall = required - balance.Balance
	}
	return sufficiency, nil
}

// Consume charges the account for one invocation of the operation. It
// reports false without error when the account cannot afford it, also
// when a concurrent consumer wins the remaining balance. Free operations
// still append a zero-amount entry so invocations stay auditable.
func (m *Manager) Consume(ctx context.Context, accountID, operation, description string,
	opts pricing.CostOptions) (bool, error) {

	sufficiency, err := m.Sufficiency(ctx, accountID, operation, opts)
	if err != nil {
		return false, err
	}
	if !sufficiency.Sufficient {
		log.WithFields(logrus.Fields{
			"account":   accountID,
			"operation": operation,
			"required":  sufficiency.Required,
			"current":   sufficiency.Current,
		}).Info("Rejected operation, insufficient credits")
		return false, nil
	}

	if description == "" {
		if sufficiency.Required == 0 {
			description = fmt.Sprintf("Free operation %s", operation)
		} else {
			description = fmt.Sprintf("Executed %s", operation)
		}
	}

	_, err = m.store.AppendLedger(ctx, ledger.Entry{
		AccountID:   accountID,
		Kind:        ledger.EntryConsumption,
		Amount:      -sufficiency.Required,
		Description: description,
		Operation:   &operation,
	})
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		// a concurrent consumer got there first
		log.WithFields(logrus.Fields{
			"account":   accountID,
			"operation": operation,
		}).Info("Rejected operation, balance was spent concurrently")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessPayment settles a payment into the ledger. The same COMPLETED
// payment can be processed any number of times: credits are granted
// exactly once and later calls report success. When the payment does not
// say how many credits it buys, the tiered conversion at the current
// exchange rate decides.
func (m *Manager) ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	if payment.TransactionID == "" {
		return false, ErrMissingTransactionID
	}
	if payment.PayerAccountID == "" {
		return false, ErrMissingPayer
	}
	if payment.Amount <= 0 {
		return false, errors.Wrapf(ErrNonPositiveAmount, "%s", payment.Amount)
	}

	status, err := ledger.ParsePaymentStatus(string(payment.Status))
	if err != nil {
		return false, err
	}
	payment.Status = status

	if err := m.store.EnsureAccount(ctx, payment.CreditedAccount()); err != nil {
		return false, err
	}

	if payment.CreditsAllocated == 0 && status == ledger.PaymentCompleted {
		rate, err := m.rates.usdPerHbar(ctx)
		if err != nil {
			return false, err
		}
		payment.CreditsAllocated = pricing.CreditsForAmount(m.conf.Pricing, payment.Amount, rate)
	}

	var entry ledger.Entry
	if status == ledger.PaymentCompleted {
		entry = ledger.Entry{
			AccountID:   payment.CreditedAccount(),
			Kind:        ledger.EntryPurchase,
			Amount:      payment.CreditsAllocated,
			Description: fmt.Sprintf("Purchased %d credits", payment.CreditsAllocated),
			PaymentID:   &payment.TransactionID,
		}
	}

	outcome, stored, err := m.store.RecordPaymentAndLedger(ctx, payment, entry)
	if err != nil {
		return false, err
	}

	switch outcome {
	case ledger.PaymentInserted, ledger.PaymentUpdated:
		log.WithFields(logrus.Fields{
			"txid":    payment.TransactionID,
			"account": payment.CreditedAccount(),
			"credits": payment.CreditsAllocated,
			"status":  payment.Status,
		}).Info("Processed payment")
		return true, nil
	default:
		if stored != nil && stored.Status == ledger.PaymentCompleted {
			// duplicate confirmation, the grant already happened
			return true, nil
		}
		log.WithFields(logrus.Fields{
			"txid":     payment.TransactionID,
			"stored":   stored.Status,
			"incoming": payment.Status,
		}).Warn("Payment collision, leaving stored payment untouched")
		return false, nil
	}
}

// AdminProcessPayment is the flat-allocation path: the caller says
// exactly how many credits the payment buys and the rate oracle is never
// consulted.
func (m *Manager) AdminProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	if payment.CreditsAllocated <= 0 {
		return false, ErrCreditsRequired
	}
	return m.ProcessPayment(ctx, payment)
}

// RefundPayment reverses a completed payment: the payment moves to
// REFUNDED and a refund entry takes the allocated credits back, both
// atomically. Credits that were already spent make the refund fail with
// ledger.ErrInsufficientBalance and leave the payment completed.
func (m *Manager) RefundPayment(ctx context.Context, transactionID, description string) (*ledger.Payment, error) {
	stored, err := m.store.FindPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.Wrap(ledger.ErrPaymentNotFound, transactionID)
	}
	if stored.Status != ledger.PaymentCompleted {
		return nil, errors.Wrapf(ledger.ErrInvalidStateTransition,
			"%s to %s", stored.Status, ledger.PaymentRefunded)
	}

	if description == "" {
		description = fmt.Sprintf("Refund of payment %s", transactionID)
	}

	refunded := *stored
	refunded.Status = ledger.PaymentRefunded

	outcome, updated, err := m.store.RecordPaymentAndLedger(ctx, refunded, ledger.Entry{
		AccountID:   stored.CreditedAccount(),
		Kind:        ledger.EntryRefund,
		Amount:      -stored.CreditsAllocated,
		Description: description,
		PaymentID:   &stored.TransactionID,
	})
	if err != nil {
		return nil, err
	}
	if outcome != ledger.PaymentUpdated {
		// raced with another refund
		return nil, errors.Wrapf(ledger.ErrInvalidStateTransition,
			"%s to %s", updated.Status, ledger.PaymentRefunded)
	}

	log.WithFields(logrus.Fields{
		"txid":    transactionID,
		"account": stored.CreditedAccount(),
		"credits": stored.CreditsAllocated,
	}).Info("Refunded payment")
	return updated, nil
}

// AdminAdjust moves an account's balance by a signed amount outside the
// purchase and consumption flows. The ledger guard still applies: an
// adjustment may not drive the balance negative.
func (m *Manager) AdminAdjust(ctx context.Context, accountID string, amount int64,
	description string) (ledger.Entry, error) {

	if amount == 0 {
		return ledger.Entry{}, ErrZeroAdjustment
	}
	if description == "" {
		description = fmt.Sprintf("Admin adjustment of %d credits", amount)
	}

	entry, err := m.store.AppendLedger(ctx, ledger.Entry{
		AccountID:   accountID,
		Kind:        ledger.EntryAdminAdjustment,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	log.WithFields(logrus.Fields{
		"account": accountID,
		"amount":  amount,
	}).Info("Adjusted balance")
	return entry, nil
}

// ExpectedCredits quotes the tiered conversion of an HBAR amount at the
// current exchange rate.
func (m *Manager) ExpectedCredits(ctx context.Context, amount hbar.Amount) (int64, error) {
	rate, err := m.rates.usdPerHbar(ctx)
	if err != nil {
		return 0, err
	}
	return pricing.CreditsForAmount(m.conf.Pricing, amount, rate), nil
}

// Balance reads an account's balance; unknown accounts read as zero.
func (m *Manager) Balance(ctx context.Context, accountID string) (ledger.Balance, error) {
	return m.store.GetBalance(ctx, accountID)
}

// History returns the account's newest ledger entries.
func (m *Manager) History(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	return m.store.GetHistory(ctx, accountID, limit)
}

// OperationCosts lists the seeded cost catalog.
func (m *Manager) OperationCosts(ctx context.Context) ([]ledger.OperationCost, error) {
	return m.store.ListOperationCosts(ctx)
}

// FindPayment looks a payment up by transaction ID, nil when absent.
func (m *Manager) FindPayment(ctx context.Context, transactionID string) (*ledger.Payment, error) {
	return m.store.FindPayment(ctx, transactionID)
}

// Account reads an account row.
func (m *Manager) Account(ctx context.Context, accountID string) (ledger.Account, error) {
	return m.store.GetAccount(ctx, accountID)
}

// EnsureAccount creates the account when it is first seen.
func (m *Manager) EnsureAccount(ctx context.Context, accountID string) error {
	return m.store.EnsureAccount(ctx, accountID)
}

// SetAccountStatus moves an account between active, suspended and
// blocked.
func (m *Manager) SetAccountStatus(ctx context.Context, accountID string, status ledger.AccountStatus) error {
	return m.store.SetAccountStatus(ctx, accountID, status)
}
