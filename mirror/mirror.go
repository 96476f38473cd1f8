// Package mirror reads settled state from a Hedera mirror node's public
// REST API. It backs the two oracles the credit manager needs: transaction
// confirmation and the HBAR/USD exchange rate.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
)

var log = build.AddSubLogger("MIRR")

// ErrUnavailable marks transport failures and mirror node 5xx responses.
// Callers can retry these; any other error is terminal.
var ErrUnavailable = errors.New("mirror node unavailable")

// resultSuccess is the consensus result of a transaction that executed.
const resultSuccess = "SUCCESS"

// public mirror nodes, keyed by network name
var networkBaseURLs = map[string]string{
	"mainnet":    "https://mainnet-public.mirrornode.hedera.com",
	"testnet":    "https://testnet.mirrornode.hedera.com",
	"previewnet": "https://previewnet.mirrornode.hedera.com",
}

// Config are the options for connecting to a mirror node.
type Config struct {
	// Network selects one of the public mirror nodes: mainnet, testnet
	// or previewnet.
	Network string
	// BaseURL overrides the public node for the configured network. Set
	// it when running against a local mirror node or in tests.
	BaseURL string
	// HTTP is the client requests go out on. When nil a client with a
	// 30 second timeout is used.
	HTTP *http.Client
}

// Client queries a single mirror node. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the node conf points at.
func NewClient(conf Config) (*Client, error) {
	baseURL := conf.BaseURL
	if baseURL == "" {
		var ok bool
		baseURL, ok = networkBaseURLs[strings.ToLower(conf.Network)]
		if !ok {
			return nil, errors.Errorf("no public mirror node for network %q", conf.Network)
		}
	}

	httpClient := conf.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}, nil
}

// TransactionInfo is the settled view of a transaction as reported by the
// mirror node.
type TransactionInfo struct {
	TransactionID      string
	Result             string
	ConsensusTimestamp time.Time
	Memo               string
	Transfers          []Transfer
}

// Transfer is one leg of a transaction's transfer list. Amounts are
// signed, debits negative and credits positive, and every list sums to
// zero.
type Transfer struct {
	Account string
	Amount  hbar.Amount
}

// Succeeded reports whether the network reached consensus on success.
func (t TransactionInfo) Succeeded() bool {
	return t.Result == resultSuccess
}

type transactionsResponse struct {
	Transactions []transactionJSON `json:"transactions"`
}

type transactionJSON struct {
	TransactionID      string         `json:"transaction_id"`
	Result             string         `json:"result"`
	ConsensusTimestamp string         `json:"consensus_timestamp"`
	MemoBase64         string         `json:"memo_base64"`
	Transfers          []transferJSON `json:"transfers"`
}

type transferJSON struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// GetTransaction looks up a transaction by ID. A transaction the node has
// not seen is (nil, nil), not an error.
func (c *Client) GetTransaction(ctx context.Context, id hbar.TransactionID) (*TransactionInfo, error) {
	url := c.baseURL + "/api/v1/transactions/" + id.MirrorString()

	var wrapper transactionsResponse
	found, err := c.getJSON(ctx, url, &wrapper)
	if err != nil {
		return nil, err
	}
	if !found || len(wrapper.Transactions) == 0 {
		return nil, nil
	}

	// an ID can match several rows when a transaction was submitted more
	// than once; the SUCCESS row is the consensus outcome
	chosen := wrapper.Transactions[0]
	for _, tx := range wrapper.Transactions {
		if tx.Result == resultSuccess {
			chosen = tx
			break
		}
	}

	info, err := chosen.toInfo()
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"txid":   info.TransactionID,
		"result": info.Result,
	}).Debug("Fetched transaction")
	return info, nil
}

func (t transactionJSON) toInfo() (*TransactionInfo, error) {
	consensus, err := parseTimestamp(t.ConsensusTimestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "transaction %s: bad consensus timestamp", t.TransactionID)
	}

	memo := ""
	if t.MemoBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(t.MemoBase64)
		if err != nil {
			// a busted memo must not block confirmation
			log.WithError(err).WithField("txid", t.TransactionID).Warn("Could not decode transaction memo")
		} else {
			memo = string(decoded)
		}
	}

	transfers := make([]Transfer, len(t.Transfers))
	for i, transfer := range t.Transfers {
		transfers[i] = Transfer{
			Account: transfer.Account,
			Amount:  hbar.Amount(transfer.Amount),
		}
	}

	return &TransactionInfo{
		TransactionID:      t.TransactionID,
		Result:             t.Result,
		ConsensusTimestamp: consensus,
		Memo:               memo,
		Transfers:          transfers,
	}, nil
}

type exchangeRateResponse struct {
	CurrentRate exchangeRateJSON `json:"current_rate"`
}

type exchangeRateJSON struct {
	CentEquivalent int64 `json:"cent_equivalent"`
	HbarEquivalent int64 `json:"hbar_equivalent"`
	ExpirationTime int64 `json:"expiration_time"`
}

// HbarToUSD fetches the network's current HBAR/USD exchange rate. The
// node publishes it as cents per HBAR equivalent pair.
func (c *Client) HbarToUSD(ctx context.Context) (float64, error) {
	var wrapper exchangeRateResponse
	found, err := c.getJSON(ctx, c.baseURL+"/api/v1/network/exchangerate", &wrapper)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.Wrap(ErrUnavailable, "exchange rate not published")
	}

	rate := wrapper.CurrentRate
	if rate.CentEquivalent <= 0 || rate.HbarEquivalent <= 0 {
		return 0, errors.Wrapf(ErrUnavailable, "bad exchange rate %d/%d",
			rate.CentEquivalent, rate.HbarEquivalent)
	}

	usd := float64(rate.CentEquivalent) / float64(rate.HbarEquivalent) / 100
	log.WithField("usdPerHbar", usd).Debug("Fetched exchange rate")
	return usd, nil
}

// getJSON performs one GET and decodes the response into out. It reports
// found=false on 404, wraps ErrUnavailable on transport errors and 5xx,
// and returns any other non-OK status as a terminal error.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "could not create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrapf(ErrUnavailable, "GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return false, errors.Wrapf(ErrUnavailable, "GET %s: status %d: %s",
			url, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return false, errors.Errorf("GET %s: status %d: %s",
			url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrapf(err, "could not decode response from %s", url)
	}
	return true, nil
}

// parseTimestamp parses the node's seconds.nanos timestamps. The
// fractional part is zero-padded to nine digits on the wire.
func parseTimestamp(s string) (time.Time, error) {
	parts := strings.SplitN(s, ".", 2)

	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, errors.Errorf("malformed timestamp %q", s)
	}

	var nanos int64
	if len(parts) == 2 {
		fraction := parts[1]
		if len(fraction) > 9 {
			return time.Time{}, errors.Errorf("malformed timestamp %q", s)
		}
		fraction += strings.Repeat("0", 9-len(fraction))
		nanos, err = strconv.ParseInt(fraction, 10, 64)
		if err != nil {
			return time.Time{}, errors.Errorf("malformed timestamp %q", s)
		}
	}

	return time.Unix(sec, nanos).UTC(), nil
}
