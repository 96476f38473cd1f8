package hbar_test

import (
	"testing"
	"time"

	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/testutil"
)

func TestParseTransactionID(t *testing.T) {
	t.Run("sdk form", func(t *testing.T) {
		txid, err := hbar.ParseTransactionID("0.0.1001@1700000000.123456789")
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, "0.0.1001", txid.AccountID)
		testutil.AssertEqual(t, int64(1700000000), txid.ValidStartSec)
		testutil.AssertEqual(t, int32(123456789), txid.ValidStartNanos)
	})

	t.Run("mirror form", func(t *testing.T) {
		txid, err := hbar.ParseTransactionID("0.0.1001-1700000000-123456789")
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, "0.0.1001", txid.AccountID)
		testutil.AssertEqual(t, int64(1700000000), txid.ValidStartSec)
		testutil.AssertEqual(t, int32(123456789), txid.ValidStartNanos)
	})

	t.Run("both forms parse to the same ID", func(t *testing.T) {
		sdk, err := hbar.ParseTransactionID("0.0.7@1690000000.5")
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		mirror, err := hbar.ParseTransactionID("0.0.7-1690000000-5")
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, sdk, mirror)
	})

	t.Run("malformed IDs", func(t *testing.T) {
		for _, s := range []string{
			"",
			"junk",
			"0.0.1001",
			"0.0.1001@99",
			"0.0.1001@sec.nanos",
			"0.0.1001@1700000000.9999999999",
			"1001@1700000000.5",
		} {
			_, err := hbar.ParseTransactionID(s)
			testutil.AssertMsgf(t, err != nil, "malformed ID %q was accepted", s)
		}
	})
}

func TestTransactionIDStrings(t *testing.T) {
	txid := hbar.NewTransactionID("0.0.1001", time.Unix(1700000000, 42))

	t.Run("sdk form pads nanos", func(t *testing.T) {
		testutil.AssertEqual(t, "0.0.1001@1700000000.000000042", txid.String())
	})

	t.Run("mirror form pads nanos", func(t *testing.T) {
		testutil.AssertEqual(t, "0.0.1001-1700000000-000000042", txid.MirrorString())
	})

	t.Run("sdk form round trips", func(t *testing.T) {
		parsed, err := hbar.ParseTransactionID(txid.String())
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, txid, parsed)
	})

	t.Run("mirror form round trips", func(t *testing.T) {
		parsed, err := hbar.ParseTransactionID(txid.MirrorString())
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, txid, parsed)
	})
}

func TestTransactionIDValidStart(t *testing.T) {
	validStart := time.Unix(1700000000, 123456789).UTC()
	txid := hbar.NewTransactionID("0.0.1001", validStart)
	testutil.AssertEqual(t, validStart, txid.ValidStart())
}
