// Package ledger owns every mutation of accounts, credit balances,
// payments and the append-only credit ledger. Callers above it (the
// credit manager, the API) never touch rows directly; they go through a
// Store, which serializes writes per account and keeps the balance row
// consistent with the ledger at all times.
package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/db"
	"gitlab.com/arcanecrypto/hashgate/pricing"

	"github.com/pkg/errors"
)

var log = build.AddSubLogger("LDGR")

var (
	// ErrAccountNotFound means the account has never been referenced.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPaymentNotFound means no payment exists with the transaction ID.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInsufficientBalance means the entry would take the balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	// ErrInvalidStateTransition means the requested status change does
	// not follow the payment lifecycle.
	ErrInvalidStateTransition = errors.New("invalid payment status transition")
)

// PaymentOutcome reports what RecordPaymentAndLedger did with the
// payment row.
type PaymentOutcome int

const (
	// PaymentUnchanged means the row already existed and the write was
	// absorbed: either an identical replay or a transition the
	// lifecycle forbids.
	PaymentUnchanged PaymentOutcome = iota
	// PaymentInserted means no row existed and one was created.
	PaymentInserted
	// PaymentUpdated means the row advanced along the lifecycle.
	PaymentUpdated
)

func (o PaymentOutcome) String() string {
	switch o {
	case PaymentInserted:
		return "inserted"
	case PaymentUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store is the full capability set over persisted credit state. Both
// backends give the same guarantee: methods that write are atomic and
// serialized per account.
type Store interface {
	// EnsureAccount creates the account and its zero balance row if
	// they don't exist.
	EnsureAccount(ctx context.Context, accountID string) error
	// GetAccount returns the account row, or ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID string) (Account, error)
	// SetAccountStatus flags an account, or ErrAccountNotFound.
	SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error
	// GetBalance returns the balance row. Unknown accounts get a
	// zero-valued balance, never an error.
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	// GetHistory returns ledger entries newest first. A non-positive
	// limit means 100.
	GetHistory(ctx context.Context, accountID string, limit int) ([]Entry, error)
	// ListOperationCosts returns the seeded catalog, ordered by name.
	ListOperationCosts(ctx context.Context) ([]OperationCost, error)
	// SeedOperationCosts upserts the catalog rows. Idempotent.
	SeedOperationCosts(ctx context.Context, costs []OperationCost) error
	// FindPayment returns the payment, or (nil, nil) when absent.
	FindPayment(ctx context.Context, transactionID string) (*Payment, error)
	// ListPendingPayments returns payments whose status is PENDING,
	// matched case-insensitively, oldest first.
	ListPendingPayments(ctx context.Context) ([]Payment, error)
	// RecordPaymentAndLedger atomically upserts the payment row along
	// the lifecycle DAG and, when entry.Amount is non-zero, appends the
	// ledger entry and moves the balance. The returned payment is the
	// stored row, so callers can classify replays. A transaction ID is
	// credited at most once, enforced under the account's
	// serialization.
	RecordPaymentAndLedger(ctx context.Context, payment Payment, entry Entry) (PaymentOutcome, *Payment, error)
	// AppendLedger appends one entry. BalanceAfter is recomputed under
	// the account's serialization; the caller's value is advisory. An
	// entry that would take the balance negative is rejected with
	// ErrInsufficientBalance.
	AppendLedger(ctx context.Context, entry Entry) (Entry, error)
	// UpdatePaymentStatus moves a payment along the lifecycle DAG, or
	// fails with ErrInvalidStateTransition / ErrPaymentNotFound.
	UpdatePaymentStatus(ctx context.Context, transactionID string, status PaymentStatus) error
	// Close releases the backend.
	Close() error
}

// Open selects a backend from the database URL: sqlite:// opens the
// embedded file store, postgres:// and postgresql:// the networked one.
// Both are migrated to the latest schema. Anything else falls back to
// the in-memory store, which loses all state on restart.
func Open(databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"),
		strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		d, err := db.Open(databaseURL)
		if err != nil {
			return nil, err
		}
		if err := d.MigrateUp(); err != nil {
			return nil, errors.Wrap(err, "could not migrate ledger schema")
		}
		return NewSQLStore(d), nil

	default:
		log.WithField("databaseUrl", databaseURL).Warn(
			"No durable backend for database URL, falling back to in-memory store")
		return NewMemoryStore(), nil
	}
}

// CostsFromCatalog converts the pricing catalog into rows for
// SeedOperationCosts, ordered by operation name.
func CostsFromCatalog(catalog map[string]pricing.Cost) []OperationCost {
	now := time.Now().UTC()
	costs := make([]OperationCost, 0, len(catalog))
	for name, cost := range catalog {
		costs = append(costs, OperationCost{
			Operation:          name,
			BaseCost:           cost.BaseCost,
			Category:           cost.Category,
			SizeMultiplier:     cost.SizeMultiplier,
			NetworkMultipliers: cost.NetworkMultipliers,
			UpdatedAt:          now,
		})
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].Operation < costs[j].Operation })
	return costs
}
