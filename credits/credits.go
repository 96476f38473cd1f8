// Package credits is the orchestration core: it prices operations,
// settles payments into credit balances and keeps pending payments
// reconciled against the network. All balance mutation goes through the
// ledger store; this package decides what to write, never how.
package credits

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

var log = build.AddSubLogger("CRED")

var (
	// ErrNonPositiveAmount means a payment carried a zero or negative
	// HBAR amount.
	ErrNonPositiveAmount = errors.New("payment amount must be positive")
	// ErrMissingTransactionID means a payment carried no transaction ID.
	ErrMissingTransactionID = errors.New("payment is missing a transaction ID")
	// ErrMissingPayer means a payment carried no payer account.
	ErrMissingPayer = errors.New("payment is missing a payer account")
	// ErrCreditsRequired means an admin payment did not say how many
	// credits to allocate.
	ErrCreditsRequired = errors.New("admin payments must supply the credits to allocate")
	// ErrZeroAdjustment means an admin adjustment would not move the
	// balance.
	ErrZeroAdjustment = errors.New("adjustment amount must not be zero")
)

// RateOracle reports the current HBAR to USD exchange rate.
type RateOracle interface {
	HbarToUSD(ctx context.Context) (float64, error)
}

// ConfirmationOracle reports transactions the network has settled.
type ConfirmationOracle interface {
	GetTransaction(ctx context.Context, id hbar.TransactionID) (*mirror.TransactionInfo, error)
}

var (
	_ RateOracle         = (*mirror.Client)(nil)
	_ ConfirmationOracle = (*mirror.Client)(nil)
)

// Config tunes the manager. The zero value gets sane defaults for
// everything except Pricing and ServerAccountID.
type Config struct {
	// Pricing drives every conversion and operation quote.
	Pricing pricing.Config
	// ServerAccountID is the account deposits are sent to. The
	// reconciler matches inbound transfer legs against it.
	ServerAccountID string
	// ReconcileInterval is the time between reconciler ticks.
	// Defaults to 30 seconds.
	ReconcileInterval time.Duration
	// MaxPendingAge is how long a payment may sit pending before the
	// reconciler fails it. Defaults to 300 seconds.
	MaxPendingAge time.Duration
	// RateCacheTTL is how long a fetched exchange rate is served
	// without asking the oracle again. Defaults to 30 seconds.
	RateCacheTTL time.Duration
}

const (
	defaultReconcileInterval = 30 * time.Second
	defaultMaxPendingAge     = 300 * time.Second
	defaultRateCacheTTL      = 30 * time.Second
)

// Manager owns credit grants and consumption on top of a ledger store.
// It is safe for concurrent use; all serialization lives in the store.
type Manager struct {
	conf          Config
	store         ledger.Store
	rates         *rateCache
	confirmations ConfirmationOracle

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager wires a manager over the given store and oracles.
func NewManager(conf Config, store ledger.Store, rates RateOracle, confirmations ConfirmationOracle) *Manager {
	if conf.ReconcileInterval <= 0 {
		conf.ReconcileInterval = defaultReconcileInterval
	}
	if conf.MaxPendingAge <= 0 {
		conf.MaxPendingAge = defaultMaxPendingAge
	}
	if conf.RateCacheTTL <= 0 {
		conf.RateCacheTTL = defaultRateCacheTTL
	}

	return &Manager{
		conf:          conf,
		store:         store,
		rates:         newRateCache(rates, conf.RateCacheTTL),
		confirmations: confirmations,
	}
}

// Initialize seeds the operation cost catalog. Safe to call on every
// boot: existing rows are refreshed to the catalog in the binary.
func (m *Manager) Initialize(ctx context.Context) error {
	costs := ledger.CostsFromCatalog(m.conf.Pricing.Catalog)
	if err := m.store.SeedOperationCosts(ctx, costs); err != nil {
		return errors.Wrap(err, "could not seed operation costs")
	}

	log.WithField("operations", len(costs)).Info("Seeded operation cost catalog")
	return nil
}

// StartReconciler spawns the background reconciliation loop. Calling it
// twice is a no-op.
func (m *Manager) StartReconciler() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		log.Warn("Reconciler is already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})

	log.WithField("interval", m.conf.ReconcileInterval).Info("Starting payment reconciler")
	go m.reconcileLoop(ctx)
}

// Close stops the reconciler, waits for it to finish and closes the
// store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	return m.store.Close()
}
