// Package deposits builds payment requests: unsigned crypto-transfer
// payloads a client signs and submits to the network to fund its credit
// balance. The builder records the expected deposit as a pending payment
// so the reconciler can settle it once it appears on a mirror node.
package deposits

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
)

var log = build.AddSubLogger("DEPO")

var (
	// ErrAmountOutOfRange means the requested deposit is outside the
	// configured payment bounds.
	ErrAmountOutOfRange = errors.New("payment amount out of range")
	// ErrSelfPayment means the payer is the server's own account.
	ErrSelfPayment = errors.New("payer is the server account")
)

const (
	// DefaultMinPayment is the smallest accepted deposit, in HBAR.
	DefaultMinPayment = 0.001
	// DefaultMaxPayment is the largest accepted deposit, in HBAR.
	DefaultMaxPayment = 10_000

	// paymentWindow is how long the unsigned transfer stays submittable.
	// Hedera caps transaction_valid_duration at 180 seconds.
	paymentWindow = 180 * time.Second
)

// Config bounds the deposits a builder will quote.
type Config struct {
	// ServerAccountID receives the deposits.
	ServerAccountID string
	// Network names the Hedera network the payload is built for.
	Network string
	// MinPayment and MaxPayment bound the accepted amount in HBAR.
	// Zero values fall back to the defaults.
	MinPayment float64
	MaxPayment float64
}

// Builder quotes deposits against the credit manager's exchange rate and
// registers them for reconciliation.
type Builder struct {
	conf    Config
	manager *credits.Manager
}

// NewBuilder validates the server account and applies the default
// payment bounds.
func NewBuilder(conf Config, manager *credits.Manager) (*Builder, error) {
	server, err := hbar.ParseAccountID(conf.ServerAccountID)
	if err != nil {
		return nil, errors.Wrap(err, "bad server account ID")
	}
	conf.ServerAccountID = server

	if conf.MinPayment == 0 {
		conf.MinPayment = DefaultMinPayment
	}
	if conf.MaxPayment == 0 {
		conf.MaxPayment = DefaultMaxPayment
	}
	if conf.MinPayment > conf.MaxPayment {
		return nil, errors.Errorf("minimum payment %v HBAR exceeds maximum %v HBAR",
			conf.MinPayment, conf.MaxPayment)
	}

	return &Builder{conf: conf, manager: manager}, nil
}

// ServerAccount returns the canonical account deposits are paid to.
func (b *Builder) ServerAccount() string {
	return b.conf.ServerAccountID
}

// Limits returns the accepted deposit bounds in HBAR.
func (b *Builder) Limits() (min, max float64) {
	return b.conf.MinPayment, b.conf.MaxPayment
}

// PaymentRequest is everything a client needs to fund its balance: the
// assigned transaction ID, the unsigned transfer to sign, and what the
// deposit buys at the current exchange rate. The quote is advisory; the
// reconciler grants credits from the amount that settles on chain.
type PaymentRequest struct {
	TransactionID   string      `json:"transactionId"`
	ServerAccountID string      `json:"serverAccountId"`
	Amount          float64     `json:"amount"`
	AmountTinybar   hbar.Amount `json:"amountTinybar"`
	ExpectedCredits int64       `json:"expectedCredits"`
	Memo            string      `json:"memo"`
	PayloadBase64   string      `json:"payloadBase64"`
	ExpiresAt       time.Time   `json:"expiresAt"`
}

// transferPayload is the canonical unsigned crypto-transfer body. An SDK
// submits it as-is after signing with the payer's key.
type transferPayload struct {
	TransactionID        string            `json:"transactionId"`
	ValidDurationSeconds int64             `json:"validDurationSeconds"`
	Memo                 string            `json:"memo,omitempty"`
	Transfers            []payloadTransfer `json:"transfers"`
}

type payloadTransfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Build quotes a deposit of amount HBAR from payer and records it as a
// pending payment. An empty memo defaults to the canonical
// credits:<payer> form the reconciler recognizes. Rate-oracle failures
// propagate and leave nothing persisted.
func (b *Builder) Build(ctx context.Context, payer string, amount float64, memo string) (PaymentRequest, error) {
	account, err := hbar.ParseAccountID(payer)
	if err != nil {
		return PaymentRequest{}, err
	}
	if account == b.conf.ServerAccountID {
		return PaymentRequest{}, errors.Wrapf(ErrSelfPayment, "account %s", account)
	}
	if amount < b.conf.MinPayment || amount > b.conf.MaxPayment {
		return PaymentRequest{}, errors.Wrapf(ErrAmountOutOfRange,
			"%v HBAR is outside [%v, %v]", amount, b.conf.MinPayment, b.conf.MaxPayment)
	}
	tinybar, err := hbar.NewAmount(amount)
	if err != nil {
		return PaymentRequest{}, err
	}

	if memo == "" {
		memo = "credits:" + account
	}

	expected, err := b.manager.ExpectedCredits(ctx, tinybar)
	if err != nil {
		return PaymentRequest{}, errors.Wrap(err, "could not quote expected credits")
	}

	id := hbar.NewTransactionID(account, time.Now().UTC())
	processed, err := b.manager.ProcessPayment(ctx, ledger.Payment{
		TransactionID:  id.String(),
		PayerAccountID: account,
		Amount:         tinybar,
		// advisory until the reconciler's confirmation write
		CreditsAllocated: expected,
		Status:           ledger.PaymentPending,
		Memo:             &memo,
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	if !processed {
		return PaymentRequest{}, errors.Errorf("transaction ID %s already exists", id)
	}

	payload, err := json.Marshal(transferPayload{
		TransactionID:        id.String(),
		ValidDurationSeconds: int64(paymentWindow / time.Second),
		Memo:                 memo,
		Transfers: []payloadTransfer{
			{Account: account, Amount: -tinybar.Tinybar()},
			{Account: b.conf.ServerAccountID, Amount: tinybar.Tinybar()},
		},
	})
	if err != nil {
		return PaymentRequest{}, errors.Wrap(err, "could not encode transfer payload")
	}

	log.WithFields(logrus.Fields{
		"txid":    id.String(),
		"payer":   account,
		"amount":  tinybar,
		"credits": expected,
	}).Info("Built payment request")

	return PaymentRequest{
		TransactionID:   id.String(),
		ServerAccountID: b.conf.ServerAccountID,
		Amount:          amount,
		AmountTinybar:   tinybar,
		ExpectedCredits: expected,
		Memo:            memo,
		PayloadBase64:   base64.StdEncoding.EncodeToString(payload),
		ExpiresAt:       id.ValidStart().Add(paymentWindow),
	}, nil
}
