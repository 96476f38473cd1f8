package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/hbar"
)

// PaymentStatus is the lifecycle state of a payment. Uppercase is
// canonical; lowercase values from older rows are accepted on read.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// ParsePaymentStatus normalizes a status of any case to its canonical
// uppercase form, rejecting statuses outside the payment lifecycle.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToUpper(s))
	switch status {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return status, nil
	}
	return "", errors.Errorf("unknown payment status %q", s)
}

// ValidTransition reports whether moving to next follows the payment
// lifecycle: PENDING to COMPLETED or FAILED, COMPLETED to REFUNDED.
func (s PaymentStatus) ValidTransition(next PaymentStatus) bool {
	switch {
	case s == PaymentPending && (next == PaymentCompleted || next == PaymentFailed):
		return true
	case s == PaymentCompleted && next == PaymentRefunded:
		return true
	}
	return false
}

// Scan normalizes statuses coming out of the database.
func (s *PaymentStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return errors.Errorf("cannot scan %T into PaymentStatus", src)
	}

	parsed, err := ParsePaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value persists the canonical uppercase form.
func (s PaymentStatus) Value() (driver.Value, error) {
	parsed, err := ParsePaymentStatus(string(s))
	if err != nil {
		return nil, err
	}
	return string(parsed), nil
}

// AccountStatus is an administrative flag on an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountBlocked   AccountStatus = "blocked"
)

// ParseAccountStatus normalizes an account status, rejecting unknowns.
func ParseAccountStatus(s string) (AccountStatus, error) {
	status := AccountStatus(strings.ToLower(s))
	switch status {
	case AccountActive, AccountSuspended, AccountBlocked:
		return status, nil
	}
	return "", errors.Errorf("unknown account status %q", s)
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryPurchase        EntryKind = "purchase"
	EntryConsumption     EntryKind = "consumption"
	EntryRefund          EntryKind = "refund"
	EntryAdminAdjustment EntryKind = "admin_adjustment"
)

// Valid reports whether the kind is one of the four known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryPurchase, EntryConsumption, EntryRefund, EntryAdminAdjustment:
		return true
	}
	return false
}

// Account is a tenant of the server. Accounts are created on first
// reference and never deleted.
type Account struct {
	ID        string        `db:"id" json:"id"`
	Status    AccountStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}

// Balance is the materialized credit position of an account. It is
// always consistent with the account's ledger entries.
type Balance struct {
	AccountID      string    `db:"account_id" json:"accountId"`
	Balance        int64     `db:"balance" json:"balance"`
	TotalPurchased int64     `db:"total_purchased" json:"totalPurchased"`
	TotalConsumed  int64     `db:"total_consumed" json:"totalConsumed"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Payment mirrors an on-network HBAR transfer that buys credits. It is
// unique by TransactionID; only Status (and the fields the confirming
// write supplies) changes after creation, following the lifecycle DAG.
type Payment struct {
	TransactionID    string        `db:"transaction_id" json:"transactionId"`
	PayerAccountID   string        `db:"payer_account_id" json:"payerAccountId"`
	TargetAccountID  *string       `db:"target_account_id" json:"targetAccountId,omitempty"`
	Amount           hbar.Amount   `db:"amount_tinybar" json:"amountTinybar"`
	CreditsAllocated int64         `db:"credits_allocated" json:"creditsAllocated"`
	Memo             *string       `db:"memo" json:"memo,omitempty"`
	Status           PaymentStatus `db:"status" json:"status"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

// CreditedAccount is the account whose balance the payment funds: the
// target when one is set, otherwise the payer.
func (p Payment) CreditedAccount() string {
	if p.TargetAccountID != nil && *p.TargetAccountID != "" {
		return *p.TargetAccountID
	}
	return p.PayerAccountID
}

// Equal compares two payments, ignoring timestamps.
func (p Payment) Equal(other Payment) bool {
	p.CreatedAt, other.CreatedAt = time.Time{}, time.Time{}
	p.UpdatedAt, other.UpdatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(p, other) {
		log.WithField("diff", cmp.Diff(p, other)).Debug("Payments are not equal")
		return false
	}
	return true
}

// Entry is one append-only ledger line. Amount is signed: purchases are
// positive, consumption negative. BalanceAfter snapshots the balance the
// entry produced; per account the BalanceAfter sequence is the running
// sum of amounts from zero and never negative.
type Entry struct {
	ID           int64     `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"accountId"`
	Kind         EntryKind `db:"kind" json:"kind"`
	Amount       int64     `db:"amount" json:"amount"`
	BalanceAfter int64     `db:"balance_after" json:"balanceAfter"`
	Description  string    `db:"description" json:"description"`
	Operation    *string   `db:"operation" json:"operation,omitempty"`
	PaymentID    *string   `db:"payment_id" json:"paymentId,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Equal compares two entries, ignoring the assigned ID and timestamp.
func (e Entry) Equal(other Entry) bool {
	e.ID, other.ID = 0, 0
	e.CreatedAt, other.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(e, other) {
		log.WithField("diff", cmp.Diff(e, other)).Debug("Entries are not equal")
		return false
	}
	return true
}

// NetworkMultipliers persists an operation's per-network cost factors
// as a JSON object in a text column.
type NetworkMultipliers map[string]float64

func (m NetworkMultipliers) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal network multipliers")
	}
	return string(raw), nil
}

func (m *NetworkMultipliers) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.Errorf("cannot scan %T into NetworkMultipliers", src)
	}

	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, m), "could not unmarshal network multipliers")
}

// OperationCost is the persisted form of a pricing catalog entry.
type OperationCost struct {
	Operation          string             `db:"operation" json:"operation"`
	BaseCost           int64              `db:"base_cost" json:"baseCost"`
	Category           string             `db:"category" json:"category"`
	SizeMultiplier     float64            `db:"size_multiplier" json:"sizeMultiplier"`
	NetworkMultipliers NetworkMultipliers `db:"network_multipliers" json:"networkMultipliers,omitempty"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updatedAt"`
}
