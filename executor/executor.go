// Package executor is the HTTP client for the execution node, the
// service that actually signs and submits operations to the Hedera
// network. hashgate meters and bills; the node does the work. The
// client satisfies facade.Collaborator so the facade can forward every
// priced operation it has no in-process handler for.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/facade"
)

var (
	log = build.AddSubLogger("EXEC")

	// check the interface is satisfied
	_ facade.Collaborator = (*Client)(nil)
)

// ErrUnavailable is wrapped around transport failures and 5xx answers
// from the node, so callers can tell a down node from a rejected
// operation.
var ErrUnavailable = errors.New("execution node unavailable")

// Config are the options for connecting to an execution node.
type Config struct {
	// BaseURL is where the node listens, e.g. http://127.0.0.1:8710.
	BaseURL string
	// HTTP is the client requests go out on. When nil a client with a
	// 30 second timeout is used, matching the facade's call deadline.
	HTTP *http.Client
}

// Client forwards operations to a single execution node. It is safe
// for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the node conf points at.
func NewClient(conf Config) (*Client, error) {
	parsed, err := url.Parse(conf.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("bad execution node URL %q", conf.BaseURL)
	}

	httpClient := conf.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

type executeRequest struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

type executeResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

// Execute submits one operation to the node and returns its output
// verbatim. A non-2xx answer becomes an error carrying the node's own
// message, so the caller sees why the network said no.
func (c *Client) Execute(ctx context.Context, operation string, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(executeRequest{Operation: operation, Args: args})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode operation")
	}

	url := c.baseURL + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Content-Type", "application/json")

	log.WithField("operation", operation).Debug("Forwarding operation to execution node")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read response from %s", url)
	}

	var decoded executeResponse
	if len(raw) > 0 {
		// a decode failure on an error status must not mask the status
		_ = json.Unmarshal(raw, &decoded)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrUnavailable, "POST %s: status %d: %s",
			url, resp.StatusCode, nodeMessage(decoded, raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.Errorf("execution node rejected %s: %s",
			operation, nodeMessage(decoded, raw))
	}

	if decoded.Output == nil {
		return nil, errors.Errorf("execution node returned no output for %s", operation)
	}
	return decoded.Output, nil
}

// Ping checks the node answers on its health endpoint. Serve calls it
// before taking traffic.
func (c *Client) Ping(ctx context.Context) error {
	url := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrUnavailable, "GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func nodeMessage(decoded executeResponse, raw []byte) string {
	if decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}
