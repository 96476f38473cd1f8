package credits

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
)

// memoPrefix marks a transfer memo that names the account to credit
// instead of the on-chain payer.
const memoPrefix = "credits:"

func (m *Manager) reconcileLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.conf.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Payment reconciler stopped")
			return
		case <-ticker.C:
			// the tick body runs on this goroutine, so ticks never
			// overlap; a slow pass just delays the next one
			m.reconcilePending(ctx)
		}
	}
}

// reconcilePending runs one reconciliation pass. Failures on one payment
// never abort the batch.
func (m *Manager) reconcilePending(ctx context.Context) {
	pending, err := m.store.ListPendingPayments(ctx)
	if err != nil {
		log.WithError(err).Error("Could not list pending payments")
		return
	}
	if len(pending) == 0 {
		return
	}

	log.WithField("count", len(pending)).Debug("Reconciling pending payments")
	for _, payment := range pending {
		if err := m.reconcilePayment(ctx, payment); err != nil {
			log.WithError(err).WithField("txid", payment.TransactionID).
				Error("Could not reconcile payment")
		}
	}
}

func (m *Manager) reconcilePayment(ctx context.Context, payment ledger.Payment) error {
	age := time.Since(payment.CreatedAt)
	if age > m.conf.MaxPendingAge {
		log.WithFields(logrus.Fields{
			"txid": payment.TransactionID,
			"age":  age,
		}).Info("Failing payment, pending too long")
		return m.store.UpdatePaymentStatus(ctx, payment.TransactionID, ledger.PaymentFailed)
	}

	txID, err := hbar.ParseTransactionID(payment.TransactionID)
	if err != nil {
		// an ID the oracle can never answer for will not confirm either
		log.WithError(err).WithField("txid", payment.TransactionID).
			Warn("Failing payment, transaction ID is malformed")
		return m.store.UpdatePaymentStatus(ctx, payment.TransactionID, ledger.PaymentFailed)
	}

	info, err := m.confirmations.GetTransaction(ctx, txID)
	if errors.Is(err, mirror.ErrUnavailable) {
		log.WithError(err).Debug("Confirmation oracle unavailable, retrying next tick")
		return nil
	}
	if err != nil {
		return err
	}
	if info == nil {
		// not mirrored yet; either confirms later or ages out
		return nil
	}

	if !info.Succeeded() {
		log.WithFields(logrus.Fields{
			"txid":   payment.TransactionID,
			"result": info.Result,
		}).Info("Failing payment, network result was not success")
		return m.store.UpdatePaymentStatus(ctx, payment.TransactionID, ledger.PaymentFailed)
	}

	amount, onChainPayer, ok := m.matchTransfers(info)
	if !ok {
		log.WithField("txid", payment.TransactionID).
			Warn("Skipping payment, transfer set does not match a deposit")
		return nil
	}

	credited := onChainPayer
	if override := memoOverride(info.Memo); override != "" {
		credited = override
	}

	confirmed := ledger.Payment{
		TransactionID:  payment.TransactionID,
		PayerAccountID: payment.PayerAccountID,
		// credits follow the on-chain amount, not the requested one
		Amount: amount,
		Status: ledger.PaymentCompleted,
	}
	if credited != payment.PayerAccountID {
		confirmed.TargetAccountID = &credited
	}
	if info.Memo != "" {
		confirmed.Memo = &info.Memo
	}

	processed, err := m.ProcessPayment(ctx, confirmed)
	if err != nil {
		return err
	}
	if !processed {
		return errors.Errorf("confirmation of %s collided with a terminal payment", payment.TransactionID)
	}
	return nil
}

// matchTransfers locates the leg crediting the server account and the
// single payer leg funding it. The payer leg's magnitude must cover at
// least 99% of the server credit; fee legs are far smaller. Transfer
// sets with no match, or more than one, don't look like deposits.
func (m *Manager) matchTransfers(info *mirror.TransactionInfo) (hbar.Amount, string, bool) {
	var serverAmount hbar.Amount
	for _, transfer := range info.Transfers {
		if transfer.Account == m.conf.ServerAccountID && transfer.Amount > 0 {
			serverAmount += transfer.Amount
		}
	}
	if serverAmount <= 0 {
		return 0, "", false
	}

	threshold := serverAmount - serverAmount/100

	var payer string
	for _, transfer := range info.Transfers {
		if transfer.Amount >= 0 || -transfer.Amount < threshold {
			continue
		}
		if payer != "" {
			return 0, "", false
		}
		payer = transfer.Account
	}
	if payer == "" {
		return 0, "", false
	}

	return serverAmount, payer, true
}

// memoOverride extracts the account a credits:<accountId> memo names.
// Anything else, including a malformed account, is ignored.
func memoOverride(memo string) string {
	if !strings.HasPrefix(memo, memoPrefix) {
		return ""
	}

	account, err := hbar.ParseAccountID(strings.TrimSpace(strings.TrimPrefix(memo, memoPrefix)))
	if err != nil {
		log.WithError(err).WithField("memo", memo).Warn("Ignoring malformed credits memo")
		return ""
	}
	return account
}
