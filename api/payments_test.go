package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/deposits"
	"gitlab.com/arcanecrypto/hashgate/facade"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
	"gitlab.com/arcanecrypto/hashgate/pricing"
	"gitlab.com/arcanecrypto/hashgate/testutil"
	"gitlab.com/arcanecrypto/hashgate/testutil/httptestutil"
)

func TestCreatePayment(t *testing.T) {
	account := nextAccount()

	req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
		AccountID: account,
		Path:      "/payments",
		Method:    "POST",
		Body:      `{"amount": 5}`,
	})
	payload := h.AssertResponseOkWithJson(t, req)

	txid, ok := payload["transactionId"].(string)
	testutil.AssertMsg(t, ok && txid != "", "payment had no transaction ID")
	testutil.AssertEqual(t, serverAccount, payload["serverAccountId"])
	testutil.AssertEqual(t, float64(5), payload["amount"])
	testutil.AssertEqual(t, float64(500_000_000), payload["amountTinybar"])
	// 5 HBAR at 0.05 USD and 1000 credits per USD
	testutil.AssertEqual(t, float64(250), payload["expectedCredits"])
	testutil.AssertEqual(t, "credits:"+account, payload["memo"])

	// the unsigned transfer moves the whole amount to the server account
	raw, err := base64.StdEncoding.DecodeString(payload["payloadBase64"].(string))
	if err != nil {
		testutil.FatalMsgf(t, "payload was not base64: %v", err)
	}
	var transfer map[string]interface{}
	if err := json.Unmarshal(raw, &transfer); err != nil {
		testutil.FatalMsgf(t, "payload was not JSON: %v", err)
	}
	testutil.AssertEqual(t, txid, transfer["transactionId"])
	testutil.AssertEqual(t, float64(180), transfer["validDurationSeconds"])

	transfers, ok := transfer["transfers"].([]interface{})
	if !ok {
		testutil.FatalMsgf(t, "payload had no transfers: %+v", transfer)
	}
	testutil.AssertEqual(t, 2, len(transfers))
	debit := transfers[0].(map[string]interface{})
	testutil.AssertEqual(t, account, debit["account"])
	testutil.AssertEqual(t, float64(-500_000_000), debit["amount"])
	credit := transfers[1].(map[string]interface{})
	testutil.AssertEqual(t, serverAccount, credit["account"])
	testutil.AssertEqual(t, float64(500_000_000), credit["amount"])

	// registered pending, nothing granted until the transfer settles
	payment, err := manager.FindPayment(context.Background(), txid)
	if err != nil || payment == nil {
		testutil.FatalMsgf(t, "payment was not registered: %v", err)
	}
	testutil.AssertEqual(t, ledger.PaymentPending, payment.Status)
	testutil.AssertEqual(t, int64(250), payment.CreditsAllocated)
	testutil.AssertEqual(t, int64(0), balanceOf(t, account))
}

func TestCreatePaymentCustomMemo(t *testing.T) {
	account := nextAccount()

	req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
		AccountID: account,
		Path:      "/payments",
		Method:    "POST",
		Body:      `{"amount": 1, "memo": "credits:0.0.55"}`,
	})
	payload := h.AssertResponseOkWithJson(t, req)
	testutil.AssertEqual(t, "credits:0.0.55", payload["memo"])

	payment, err := manager.FindPayment(context.Background(), payload["transactionId"].(string))
	if err != nil || payment == nil {
		testutil.FatalMsgf(t, "payment was not registered: %v", err)
	}
	if payment.Memo == nil {
		testutil.FatalMsg(t, "payment lost its memo")
	}
	testutil.AssertEqual(t, "credits:0.0.55", *payment.Memo)
}

func TestCreatePaymentValidation(t *testing.T) {
	account := nextAccount()

	badBodies := []struct {
		name    string
		account string
		body    string
		code    string
	}{
		{"below minimum", account, `{"amount": 0.0001}`, "ERR_AMOUNT_OUT_OF_RANGE"},
		{"above maximum", account, `{"amount": 20000}`, "ERR_AMOUNT_OUT_OF_RANGE"},
		{"missing amount", account, `{}`, "ERR_REQUEST_VALIDATION_FAILED"},
		{"server account may not fund itself", serverAccount, `{"amount": 5}`, "ERR_SELF_PAYMENT"},
	}

	for _, tt := range badBodies {
		t.Run(tt.name, func(t *testing.T) {
			req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
				AccountID: tt.account,
				Path:      "/payments",
				Method:    "POST",
				Body:      tt.body,
			})
			response := h.AssertResponseNotOkWithCode(t, req, 400)
			assertApiError(t, response, tt.code)
		})
	}
}

// TestCreatePaymentOracleDown runs against its own app so the shared
// rate cache cannot serve a stale rate.
func TestCreatePaymentOracleDown(t *testing.T) {
	pricingConf := pricing.DefaultConfig(1000, "testnet")
	pricingConf.PeakMultiplier = 0

	downRates := &rateStub{err: errors.Wrap(mirror.ErrUnavailable, "status 502")}
	downManager := credits.NewManager(credits.Config{
		Pricing:         pricingConf,
		ServerAccountID: serverAccount,
	}, ledger.NewMemoryStore(), downRates, noConfirmations{})
	if err := downManager.Initialize(context.Background()); err != nil {
		testutil.FatalMsg(t, err)
	}

	builder, err := deposits.NewBuilder(deposits.Config{
		ServerAccountID: serverAccount,
		Network:         "testnet",
	}, downManager)
	if err != nil {
		testutil.FatalMsg(t, err)
	}

	f := facade.NewFacade(facade.Config{Network: "testnet"}, downManager, collab)
	app, err := NewApp(downManager, builder, f, Config{Network: "testnet"})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	downHarness := httptestutil.NewTestHarness(app.Router)

	req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
		AccountID: nextAccount(),
		Path:      "/payments",
		Method:    "POST",
		Body:      `{"amount": 5}`,
	})
	response := downHarness.AssertResponseNotOk(t, req)
	testutil.AssertEqual(t, 503, response.Code)
	assertApiError(t, response, "ERR_ORACLE_UNAVAILABLE")
}

func TestGetPayment(t *testing.T) {
	owner := nextAccount()

	req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
		AccountID: owner,
		Path:      "/payments",
		Method:    "POST",
		Body:      `{"amount": 2}`,
	})
	payload := h.AssertResponseOkWithJson(t, req)
	txid := payload["transactionId"].(string)

	t.Run("owner reads own payment", func(t *testing.T) {
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: owner,
			Path:      "/payments/" + txid,
			Method:    "GET",
		})
		payment := h.AssertResponseOkWithJson(t, req)
		testutil.AssertEqual(t, txid, payment["transactionId"])
		testutil.AssertEqual(t, owner, payment["payerAccountId"])
		testutil.AssertEqual(t, "PENDING", payment["status"])
	})

	t.Run("mirror node form resolves to the same payment", func(t *testing.T) {
		id, err := hbar.ParseTransactionID(txid)
		if err != nil {
			testutil.FatalMsg(t, err)
		}
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: owner,
			Path:      "/payments/" + id.MirrorString(),
			Method:    "GET",
		})
		payment := h.AssertResponseOkWithJson(t, req)
		testutil.AssertEqual(t, txid, payment["transactionId"])
	})

	t.Run("other accounts are told nothing", func(t *testing.T) {
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: nextAccount(),
			Path:      "/payments/" + txid,
			Method:    "GET",
		})
		response := h.AssertResponseNotOkWithCode(t, req, 404)
		assertApiError(t, response, "ERR_PAYMENT_NOT_FOUND")
	})

	t.Run("admins read any payment", func(t *testing.T) {
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: adminAccount,
			Path:      "/payments/" + txid,
			Method:    "GET",
		})
		payment := h.AssertResponseOkWithJson(t, req)
		testutil.AssertEqual(t, txid, payment["transactionId"])
	})

	t.Run("unknown transaction answers 404", func(t *testing.T) {
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: owner,
			Path:      "/payments/" + nextTxID(owner),
			Method:    "GET",
		})
		response := h.AssertResponseNotOkWithCode(t, req, 404)
		assertApiError(t, response, "ERR_PAYMENT_NOT_FOUND")
	})

	t.Run("malformed transaction ID answers 404", func(t *testing.T) {
		req := httptestutil.GetAccountRequest(t, httptestutil.AccountRequestArgs{
			AccountID: owner,
			Path:      "/payments/not-a-txid",
			Method:    "GET",
		})
		response := h.AssertResponseNotOkWithCode(t, req, 404)
		assertApiError(t, response, "ERR_PAYMENT_NOT_FOUND")
	})
}
