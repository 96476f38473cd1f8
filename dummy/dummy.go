// Package dummy seeds the ledger with development data.
package dummy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/deposits"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

var log = build.AddSubLogger("DMMY")

func init() {
	rand.Seed(time.Now().Unix())
}

const (
	// devServerAccount receives the seeded deposits.
	devServerAccount = "0.0.4200"
	// sentinelTxID is the first grant's transaction ID; its presence
	// marks a ledger that has been seeded before.
	sentinelTxID = "0.0.9001@1650000000.000000000"

	accountCount = 8
	minSpends    = 3
	maxSpends    = 12
)

// devRates pins the exchange rate so seeded numbers do not depend on a
// live oracle.
type devRates struct{}

func (devRates) HbarToUSD(ctx context.Context) (float64, error) {
	return 0.05, nil
}

// devConfirmations never settles anything; the seeder completes
// payments itself.
type devConfirmations struct{}

func (devConfirmations) GetTransaction(ctx context.Context, id hbar.TransactionID) (*mirror.TransactionInfo, error) {
	return nil, nil
}

// FillWithData populates the ledger with dummy data
func FillWithData(store ledger.Store, network string, onlyOnce bool) error {
	log.WithField("onlyOnce", onlyOnce).Info("Populating ledger with dummy data")
	gofakeit.Seed(time.Now().UnixNano())

	ctx := context.Background()

	if onlyOnce {
		if seeded, _ := store.FindPayment(ctx, sentinelTxID); seeded != nil {
			log.Info("Ledger has data, not populating with further data")
			return nil
		}
	}

	manager := credits.NewManager(credits.Config{
		Pricing:         pricing.DefaultConfig(1000, network),
		ServerAccountID: devServerAccount,
	}, store, devRates{}, devConfirmations{})

	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	builder, err := deposits.NewBuilder(deposits.Config{
		ServerAccountID: devServerAccount,
		Network:         network,
	}, manager)
	if err != nil {
		return err
	}

	// the sentinel account gets a fixed grant so reruns are detectable
	if _, err := manager.AdminProcessPayment(ctx, ledger.Payment{
		TransactionID:    sentinelTxID,
		PayerAccountID:   "0.0.9001",
		Amount:           hbar.FromTinybar(50 * hbar.TinybarPerHbar),
		CreditsAllocated: 2500,
		Status:           ledger.PaymentCompleted,
	}); err != nil {
		return err
	}
	spendCredits(ctx, manager, "0.0.9001")

	var wg sync.WaitGroup
	for i := 1; i < accountCount; i++ {
		account := fmt.Sprintf("0.0.%d", 9001+i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			seedAccount(ctx, manager, builder, account)
		}()
	}
	wg.Wait()

	log.WithField("accounts", accountCount).Info("Created dummy data")
	return nil
}

// seedAccount gives one account a settled deposit, a spending history
// and the occasional administrative touch.
func seedAccount(ctx context.Context, manager *credits.Manager,
	builder *deposits.Builder, account string) {

	granted := int64(gofakeit.Number(500, 5000))
	payment := ledger.Payment{
		TransactionID:    randomTxID(account),
		PayerAccountID:   account,
		Amount:           hbar.FromTinybar(int64(gofakeit.Number(1, 100)) * hbar.TinybarPerHbar),
		CreditsAllocated: granted,
		Status:           ledger.PaymentCompleted,
	}
	if _, err := manager.AdminProcessPayment(ctx, payment); err != nil {
		log.WithError(err).Error("Could not seed payment")
		return
	}
	log.WithFields(logrus.Fields{
		"account": account,
		"credits": granted,
	}).Debug("Granted development credits")

	spendCredits(ctx, manager, account)

	// most accounts also have a deposit waiting to be reconciled
	if rand.Intn(10) > 2 {
		if _, err := builder.Build(ctx, account, float64(gofakeit.Number(1, 50)), ""); err != nil {
			log.WithError(err).Error("Could not seed pending deposit")
		}
	}

	switch rand.Intn(10) {
	case 0:
		if err := manager.SetAccountStatus(ctx, account, ledger.AccountSuspended); err != nil {
			log.WithError(err).Error("Could not suspend account")
		}
	case 1:
		if _, err := manager.AdminAdjust(ctx, account, int64(gofakeit.Number(50, 500)),
			"Development goodwill credit"); err != nil {
			log.WithError(err).Error("Could not seed adjustment")
		}
	}
}

// priced operations the seeder draws from
var spendableOps = []string{
	pricing.OpExecuteTransaction,
	pricing.OpScheduleTransaction,
	pricing.OpExecuteQuery,
	pricing.OpGetAccountInfo,
}

func spendCredits(ctx context.Context, manager *credits.Manager, account string) {
	spends := gofakeit.Number(minSpends, maxSpends)
	for i := 0; i < spends; i++ {
		operation := spendableOps[rand.Intn(len(spendableOps))]

		var opts pricing.CostOptions
		if operation == pricing.OpExecuteQuery && gofakeit.Bool() {
			opts.PayloadKB = float64(gofakeit.Number(1, 64))
		}
		if gofakeit.Bool() {
			opts.BatchSize = gofakeit.Number(1, 20)
		}

		consumed, err := manager.Consume(ctx, account, operation, "", opts)
		if err != nil {
			log.WithError(err).Error("Could not consume dummy operation")
			return
		}
		if !consumed {
			// balance ran dry, stop spending
			return
		}

		log.WithFields(logrus.Fields{
			"account":   account,
			"operation": operation,
		}).Debug("Consumed dummy operation")
	}
}

// randomTxID builds a plausible transaction ID with the account as
// payer and a recent valid-start timestamp.
func randomTxID(account string) string {
	start := time.Now().Add(-time.Duration(gofakeit.Number(60, 3600)) * time.Second)
	return fmt.Sprintf("%s@%d.%09d", account, start.Unix(), gofakeit.Number(0, 999_999_999))
}
