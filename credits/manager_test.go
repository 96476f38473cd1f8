package credits

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
	"gitlab.com/arcanecrypto/hashgate/pricing"
	"gitlab.com/arcanecrypto/hashgate/testutil"
)

const (
	serverAccount = "0.0.7777"
	payerAccount  = "0.0.1001"
	otherAccount  = "0.0.2001"
)

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)
	os.Exit(m.Run())
}

type rateStub struct {
	mu    sync.Mutex
	rate  float64
	err   error
	calls int
}

func (r *rateStub) HbarToUSD(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	return r.rate, nil
}

func (r *rateStub) set(rate float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate, r.err = rate, err
}

func (r *rateStub) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type confirmationStub struct {
	mu           sync.Mutex
	transactions map[string]*mirror.TransactionInfo
	err          error
}

func newConfirmationStub() *confirmationStub {
	return &confirmationStub{transactions: make(map[string]*mirror.TransactionInfo)}
}

func (c *confirmationStub) GetTransaction(ctx context.Context, id hbar.TransactionID) (*mirror.TransactionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.transactions[id.MirrorString()], nil
}

func (c *confirmationStub) add(info *mirror.TransactionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[info.TransactionID] = info
}

func (c *confirmationStub) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// testPricing is the default policy with the peak window disabled, so
// costs don't depend on when the tests run.
func testPricing() pricing.Config {
	conf := pricing.DefaultConfig(1000, "testnet")
	conf.PeakMultiplier = 0
	return conf
}

func newTestManager(t *testing.T, conf Config) (*Manager, *rateStub, *confirmationStub) {
	t.Helper()

	if conf.Pricing.CreditsPerUSD == 0 {
		conf.Pricing = testPricing()
	}
	if conf.ServerAccountID == "" {
		conf.ServerAccountID = serverAccount
	}

	rates := &rateStub{rate: 0.05}
	confirmations := newConfirmationStub()
	manager := NewManager(conf, ledger.NewMemoryStore(), rates, confirmations)
	return manager, rates, confirmations
}

var transactionSeq int64

func newTxID(payer string) string {
	return fmt.Sprintf("%s@%d.%09d", payer, 1_650_000_000+atomic.AddInt64(&transactionSeq, 1), 1)
}

func TestProcessPaymentPurchase(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	// 1 HBAR at 0.05 USD/HBAR and 1000 credits/USD buys 50 credits
	processed, err := manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         100_000_000,
		Status:         ledger.PaymentCompleted,
	})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, processed, "completed payment was not processed")

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(50), balance.Balance)
	testutil.AssertEqual(t, int64(50), balance.TotalPurchased)

	history, err := manager.History(ctx, payerAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 1, len(history))
	testutil.AssertEqual(t, ledger.EntryPurchase, history[0].Kind)
	testutil.AssertEqual(t, int64(50), history[0].Amount)
	testutil.AssertEqual(t, int64(50), history[0].BalanceAfter)
	testutil.AssertMsg(t, history[0].PaymentID != nil && *history[0].PaymentID == txID,
		"purchase entry does not reference the payment")

	stored, err := manager.FindPayment(ctx, txID)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(50), stored.CreditsAllocated)
}

func TestConsumeFreeThenPriced(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := manager.AdminAdjust(ctx, payerAccount, 100, "seed"); err != nil {
		testutil.FatalMsg(t, err)
	}

	t.Run("free operation appends a zero entry", func(t *testing.T) {
		consumed, err := manager.Consume(ctx, payerAccount, pricing.OpHealthCheck, "", pricing.CostOptions{})
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, consumed, "free operation was rejected")

		balance, err := manager.Balance(ctx, payerAccount)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, int64(100), balance.Balance)

		history, err := manager.History(ctx, payerAccount, 1)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, ledger.EntryConsumption, history[0].Kind)
		testutil.AssertEqual(t, int64(0), history[0].Amount)
		testutil.AssertMsg(t, history[0].Operation != nil && *history[0].Operation == pricing.OpHealthCheck,
			"entry does not name the operation")
	})

	t.Run("priced operation debits its cost", func(t *testing.T) {
		consumed, err := manager.Consume(ctx, payerAccount, pricing.OpExecuteTransaction, "", pricing.CostOptions{})
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, consumed, "affordable operation was rejected")

		balance, err := manager.Balance(ctx, payerAccount)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, int64(85), balance.Balance)
		testutil.AssertEqual(t, int64(15), balance.TotalConsumed)

		history, err := manager.History(ctx, payerAccount, 1)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, int64(-15), history[0].Amount)
		testutil.AssertEqual(t, int64(85), history[0].BalanceAfter)
	})
}

func TestSufficiencyInsufficient(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	sufficiency, err := manager.Sufficiency(ctx, otherAccount, pricing.OpExecuteTransaction, pricing.CostOptions{})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, Sufficiency{
		Sufficient: false,
		Current:    0,
		Required:   15,
		Shortfall:  15,
	}, sufficiency)

	consumed, err := manager.Consume(ctx, otherAccount, pricing.OpExecuteTransaction, "", pricing.CostOptions{})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, !consumed, "unaffordable operation was consumed")

	history, err := manager.History(ctx, otherAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 0, len(history), "rejected consume must not leave entries")
}

func TestProcessPaymentDuplicate(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	payment := ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         50_000_000,
		Status:         ledger.PaymentCompleted,
	}

	for i := 0; i < 2; i++ {
		processed, err := manager.ProcessPayment(ctx, payment)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, processed, "duplicate confirmation should report success")
	}

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(25), balance.Balance, "0.5 HBAR buys 25 credits exactly once")

	history, err := manager.History(ctx, payerAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 1, len(history))
}

func TestProcessPaymentValidation(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		payment ledger.Payment
		err     error
	}{
		{
			name: "zero amount",
			payment: ledger.Payment{
				TransactionID: newTxID(payerAccount), PayerAccountID: payerAccount,
				Amount: 0, Status: ledger.PaymentCompleted,
			},
			err: ErrNonPositiveAmount,
		},
		{
			name: "negative amount",
			payment: ledger.Payment{
				TransactionID: newTxID(payerAccount), PayerAccountID: payerAccount,
				Amount: -1, Status: ledger.PaymentCompleted,
			},
			err: ErrNonPositiveAmount,
		},
		{
			name: "missing payer",
			payment: ledger.Payment{
				TransactionID: newTxID(payerAccount),
				Amount:        100, Status: ledger.PaymentCompleted,
			},
			err: ErrMissingPayer,
		},
		{
			name: "missing transaction id",
			payment: ledger.Payment{
				PayerAccountID: payerAccount,
				Amount:         100, Status: ledger.PaymentCompleted,
			},
			err: ErrMissingTransactionID,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			processed, err := manager.ProcessPayment(ctx, tt.payment)
			testutil.AssertMsgf(t, errors.Is(err, tt.err), "got %v, want %v", err, tt.err)
			testutil.AssertMsg(t, !processed, "invalid payment was processed")

			if tt.payment.TransactionID != "" {
				stored, err := manager.FindPayment(ctx, tt.payment.TransactionID)
				if err != nil {
					testutil.FatalMsg(t, err)
				}
				testutil.AssertMsg(t, stored == nil, "invalid payment was persisted")
			}
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		_, err := manager.ProcessPayment(ctx, ledger.Payment{
			TransactionID:  newTxID(payerAccount),
			PayerAccountID: payerAccount,
			Amount:         100,
			Status:         ledger.PaymentStatus("SETTLED"),
		})
		testutil.AssertMsg(t, err != nil, "unknown status was accepted")
	})
}

func TestProcessPaymentPendingFlow(t *testing.T) {
	manager, rates, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	pending := ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         20_000_000,
		Status:         ledger.PaymentPending,
	}

	processed, err := manager.ProcessPayment(ctx, pending)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, processed, "pending payment was not recorded")
	testutil.AssertEqual(t, 0, rates.callCount(), "pending payments must not consult the rate oracle")

	t.Run("second pending write is a collision", func(t *testing.T) {
		processed, err := manager.ProcessPayment(ctx, pending)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, !processed, "pending collision should report false")
	})

	t.Run("confirmation grants once", func(t *testing.T) {
		confirmed := pending
		confirmed.Status = ledger.PaymentCompleted

		processed, err := manager.ProcessPayment(ctx, confirmed)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, processed, "confirmation was not processed")

		balance, err := manager.Balance(ctx, payerAccount)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, int64(10), balance.Balance, "0.2 HBAR buys 10 credits")

		history, err := manager.History(ctx, payerAccount, 0)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, 1, len(history))
	})
}

func TestProcessPaymentTargetAccount(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	target := otherAccount

	processed, err := manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:   newTxID(payerAccount),
		PayerAccountID:  payerAccount,
		TargetAccountID: &target,
		Amount:          100_000_000,
		Status:          ledger.PaymentCompleted,
	})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, processed, "payment was not processed")

	targetBalance, err := manager.Balance(ctx, target)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(50), targetBalance.Balance)

	payerBalance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(0), payerBalance.Balance)
}

func TestProcessPaymentRateUnavailable(t *testing.T) {
	manager, rates, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	rates.set(0, errors.Wrap(mirror.ErrUnavailable, "down"))

	_, err := manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         100_000_000,
		Status:         ledger.PaymentCompleted,
	})
	testutil.AssertMsg(t, errors.Is(err, mirror.ErrUnavailable),
		"cold rate cache failure did not propagate")

	stored, err := manager.FindPayment(ctx, txID)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, stored == nil, "payment was persisted despite the failure")
}

func TestAdminProcessPayment(t *testing.T) {
	manager, rates, _ := newTestManager(t, Config{})
	ctx := context.Background()

	t.Run("requires explicit credits", func(t *testing.T) {
		_, err := manager.AdminProcessPayment(ctx, ledger.Payment{
			TransactionID:  newTxID(payerAccount),
			PayerAccountID: payerAccount,
			Amount:         100_000_000,
			Status:         ledger.PaymentCompleted,
		})
		testutil.AssertMsg(t, errors.Is(err, ErrCreditsRequired),
			"admin payment without credits was accepted")
	})

	t.Run("grants the flat allocation", func(t *testing.T) {
		processed, err := manager.AdminProcessPayment(ctx, ledger.Payment{
			TransactionID:    newTxID(payerAccount),
			PayerAccountID:   payerAccount,
			Amount:           100_000_000,
			CreditsAllocated: 500,
			Status:           ledger.PaymentCompleted,
		})
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, processed, "admin payment was not processed")

		balance, err := manager.Balance(ctx, payerAccount)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, int64(500), balance.Balance)
		testutil.AssertEqual(t, 0, rates.callCount(), "flat path must not consult the rate oracle")
	})
}

func TestRefundPayment(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	if _, err := manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         100_000_000,
		Status:         ledger.PaymentCompleted,
	}); err != nil {
		testutil.FatalMsg(t, err)
	}

	refunded, err := manager.RefundPayment(ctx, txID, "")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, ledger.PaymentRefunded, refunded.Status)

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(0), balance.Balance)

	history, err := manager.History(ctx, payerAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 2, len(history))
	testutil.AssertEqual(t, ledger.EntryRefund, history[0].Kind)
	testutil.AssertEqual(t, int64(-50), history[0].Amount)

	t.Run("refunding twice is invalid", func(t *testing.T) {
		_, err := manager.RefundPayment(ctx, txID, "")
		testutil.AssertMsg(t, errors.Is(err, ledger.ErrInvalidStateTransition),
			"second refund did not report an invalid transition")
	})

	t.Run("unknown payment", func(t *testing.T) {
		_, err := manager.RefundPayment(ctx, newTxID(payerAccount), "")
		testutil.AssertMsg(t, errors.Is(err, ledger.ErrPaymentNotFound),
			"unknown payment did not report ErrPaymentNotFound")
	})
}

func TestRefundPaymentAfterSpending(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	txID := newTxID(payerAccount)

	if _, err := manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:  txID,
		PayerAccountID: payerAccount,
		Amount:         100_000_000,
		Status:         ledger.PaymentCompleted,
	}); err != nil {
		testutil.FatalMsg(t, err)
	}

	// spend most of the 50, leaving less than the refund needs
	for i := 0; i < 3; i++ {
		consumed, err := manager.Consume(ctx, payerAccount, pricing.OpExecuteTransaction, "", pricing.CostOptions{})
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertMsg(t, consumed, "seeded consume failed")
	}

	_, err := manager.RefundPayment(ctx, txID, "")
	testutil.AssertMsg(t, errors.Is(err, ledger.ErrInsufficientBalance),
		"refund of spent credits did not fail")

	stored, err := manager.FindPayment(ctx, txID)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, ledger.PaymentCompleted, stored.Status,
		"failed refund must leave the payment completed")

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(5), balance.Balance)
}

func TestAdminAdjust(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	entry, err := manager.AdminAdjust(ctx, payerAccount, 100, "signup bonus")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, ledger.EntryAdminAdjustment, entry.Kind)
	testutil.AssertEqual(t, int64(100), entry.BalanceAfter)

	entry, err = manager.AdminAdjust(ctx, payerAccount, -40, "correction")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(60), entry.BalanceAfter)

	t.Run("zero adjustment is rejected", func(t *testing.T) {
		_, err := manager.AdminAdjust(ctx, payerAccount, 0, "")
		testutil.AssertMsg(t, errors.Is(err, ErrZeroAdjustment), "zero adjustment was accepted")
	})

	t.Run("cannot drive the balance negative", func(t *testing.T) {
		_, err := manager.AdminAdjust(ctx, payerAccount, -1000, "")
		testutil.AssertMsg(t, errors.Is(err, ledger.ErrInsufficientBalance),
			"overdraft adjustment was accepted")
	})
}

func TestConsumeExactBalance(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := manager.AdminAdjust(ctx, payerAccount, 15, "seed"); err != nil {
		testutil.FatalMsg(t, err)
	}

	consumed, err := manager.Consume(ctx, payerAccount, pricing.OpExecuteTransaction, "", pricing.CostOptions{})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, consumed, "operation costing the exact balance was rejected")

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(0), balance.Balance)
}

func TestConsumeUnknownOperation(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	consumed, err := manager.Consume(ctx, payerAccount, "rotate_keys", "", pricing.CostOptions{})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertMsg(t, consumed, "unknown operation should be free, not rejected")

	history, err := manager.History(ctx, payerAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 1, len(history))
	testutil.AssertEqual(t, int64(0), history[0].Amount)
}

func TestConsumeConcurrent(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := manager.AdminAdjust(ctx, payerAccount, 100, "seed"); err != nil {
		testutil.FatalMsg(t, err)
	}

	// 100 credits fund six 15-credit operations
	const workers = 20
	var wg sync.WaitGroup
	var succeeded int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := manager.Consume(ctx, payerAccount, pricing.OpExecuteTransaction, "", pricing.CostOptions{})
			if err != nil {
				testutil.FailMsgf(t, "consume error: %v", err)
				return
			}
			if consumed {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, int64(6), succeeded)

	balance, err := manager.Balance(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(10), balance.Balance)
	testutil.AssertEqual(t, int64(90), balance.TotalConsumed)

	history, err := manager.History(ctx, payerAccount, 0)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	running := int64(0)
	for i := len(history) - 1; i >= 0; i-- {
		running += history[i].Amount
		testutil.AssertEqual(t, running, history[i].BalanceAfter)
		testutil.AssertMsgf(t, history[i].BalanceAfter >= 0,
			"entry %d has negative balance_after", history[i].ID)
	}
}

func TestSufficiencyLoyaltyDiscount(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := manager.AdminAdjust(ctx, payerAccount, 20_000, "seed"); err != nil {
		testutil.FatalMsg(t, err)
	}
	// push cumulative consumption over the first loyalty tier
	if _, err := manager.store.AppendLedger(ctx, ledger.Entry{
		AccountID: payerAccount,
		Kind:      ledger.EntryConsumption,
		Amount:    -10_000,
	}); err != nil {
		testutil.FatalMsg(t, err)
	}

	// base 15 + 10 KB * 2 = 35, then 5% loyalty discount: ceil(33.25)
	sufficiency, err := manager.Sufficiency(ctx, payerAccount, pricing.OpExecuteTransaction,
		pricing.CostOptions{PayloadKB: 10})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(34), sufficiency.Required)
}

func TestExpectedCredits(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	credits, err := manager.ExpectedCredits(ctx, 100_000_000)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, int64(50), credits)

	t.Run("cold oracle failure propagates", func(t *testing.T) {
		failing, failingRates, _ := newTestManager(t, Config{})
		failingRates.set(0, errors.Wrap(mirror.ErrUnavailable, "down"))

		_, err := failing.ExpectedCredits(ctx, 100_000_000)
		testutil.AssertMsg(t, errors.Is(err, mirror.ErrUnavailable),
			"cold oracle failure did not propagate")
	})
}

func TestInitializeSeedsCatalog(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if err := manager.Initialize(ctx); err != nil {
		testutil.FatalMsg(t, err)
	}
	// reseeding must be harmless
	if err := manager.Initialize(ctx); err != nil {
		testutil.FatalMsg(t, err)
	}

	costs, err := manager.OperationCosts(ctx)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, len(pricing.DefaultCatalog()), len(costs))
}

func TestAccountStatus(t *testing.T) {
	manager, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if err := manager.EnsureAccount(ctx, payerAccount); err != nil {
		testutil.FatalMsg(t, err)
	}
	if err := manager.SetAccountStatus(ctx, payerAccount, ledger.AccountSuspended); err != nil {
		testutil.FatalMsg(t, err)
	}

	account, err := manager.Account(ctx, payerAccount)
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, ledger.AccountSuspended, account.Status)

	_, err = manager.Account(ctx, otherAccount)
	testutil.AssertMsg(t, errors.Is(err, ledger.ErrAccountNotFound),
		"unknown account did not report ErrAccountNotFound")
}
