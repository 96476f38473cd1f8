package hbar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TransactionID identifies a Hedera transaction: the paying account plus
// the transaction's valid-start instant. The SDK renders it as
// acct@sec.nanos, the mirror node as acct-sec-nanos.
type TransactionID struct {
	AccountID       string
	ValidStartSec   int64
	ValidStartNanos int32
}

// NewTransactionID assigns a fresh transaction ID for account with the
// given valid-start time.
func NewTransactionID(accountID string, validStart time.Time) TransactionID {
	return TransactionID{
		AccountID:       accountID,
		ValidStartSec:   validStart.Unix(),
		ValidStartNanos: int32(validStart.Nanosecond()),
	}
}

// ParseTransactionID parses both the SDK form acct@sec.nanos and the
// mirror-node form acct-sec-nanos.
func ParseTransactionID(s string) (TransactionID, error) {
	var account, rest string
	var sep string

	switch {
	case strings.ContainsRune(s, '@'):
		parts := strings.SplitN(s, "@", 2)
		account, rest = parts[0], parts[1]
		sep = "."
	default:
		// mirror form: the account itself contains no dashes
		idx := strings.IndexRune(s, '-')
		if idx < 0 {
			return TransactionID{}, errors.Errorf("malformed transaction ID %q", s)
		}
		account, rest = s[:idx], s[idx+1:]
		sep = "-"
	}

	account, err := ParseAccountID(account)
	if err != nil {
		return TransactionID{}, errors.Wrapf(err, "malformed transaction ID %q", s)
	}

	parts := strings.SplitN(rest, sep, 2)
	if len(parts) != 2 {
		return TransactionID{}, errors.Errorf("malformed transaction ID %q: missing valid-start", s)
	}

	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return TransactionID{}, errors.Errorf("malformed transaction ID %q: bad seconds %q", s, parts[0])
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil || nanos < 0 || nanos > 999_999_999 {
		return TransactionID{}, errors.Errorf("malformed transaction ID %q: bad nanos %q", s, parts[1])
	}

	return TransactionID{
		AccountID:       account,
		ValidStartSec:   sec,
		ValidStartNanos: int32(nanos),
	}, nil
}

// String renders the SDK form acct@sec.nanos.
func (t TransactionID) String() string {
	return fmt.Sprintf("%s@%d.%09d", t.AccountID, t.ValidStartSec, t.ValidStartNanos)
}

// MirrorString renders the dashed form the mirror node's REST API
// expects, acct-sec-nanos.
func (t TransactionID) MirrorString() string {
	return fmt.Sprintf("%s-%d-%09d", t.AccountID, t.ValidStartSec, t.ValidStartNanos)
}

// ValidStart returns the valid-start instant.
func (t TransactionID) ValidStart() time.Time {
	return time.Unix(t.ValidStartSec, int64(t.ValidStartNanos)).UTC()
}
