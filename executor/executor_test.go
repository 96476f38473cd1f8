package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/executor"
	"gitlab.com/arcanecrypto/hashgate/testutil"
)

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)
	os.Exit(m.Run())
}

func newClient(t *testing.T, url string) *executor.Client {
	client, err := executor.NewClient(executor.Config{BaseURL: url})
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "not-a-url", "127.0.0.1:8710"} {
		if _, err := executor.NewClient(executor.Config{BaseURL: bad}); err == nil {
			testutil.FatalMsgf(t, "NewClient accepted %q", bad)
		}
	}

	if _, err := executor.NewClient(executor.Config{BaseURL: "http://127.0.0.1:8710/"}); err != nil {
		testutil.FatalMsg(t, err)
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, http.MethodPost, r.Method)
		testutil.AssertEqual(t, "/execute", r.URL.Path)

		var request struct {
			Operation string         `json:"operation"`
			Args      map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			testutil.FatalMsg(t, err)
		}
		testutil.AssertEqual(t, "execute_transaction", request.Operation)
		testutil.AssertEqual(t, "0.0.5005", request.Args["to"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output": {"transactionId": "0.0.1001@1650000000.000000001", "status": "SUCCESS"}}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	output, err := client.Execute(context.Background(), "execute_transaction",
		map[string]any{"to": "0.0.5005", "amount": 2.5})
	if err != nil {
		testutil.FatalMsg(t, err)
	}

	testutil.AssertEqual(t, "0.0.1001@1650000000.000000001", output["transactionId"])
	testutil.AssertEqual(t, "SUCCESS", output["status"])
}

func TestExecuteRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "INSUFFICIENT_PAYER_BALANCE"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.Execute(context.Background(), "execute_transaction", nil)
	if err == nil {
		testutil.FatalMsg(t, "rejected operation did not error")
	}
	testutil.AssertMsg(t, !errors.Is(err, executor.ErrUnavailable),
		"a node rejection is not an availability failure")

	if got := err.Error(); !strings.Contains(got, "INSUFFICIENT_PAYER_BALANCE") {
		testutil.FatalMsgf(t, "error %q does not carry the node's message", got)
	}
}

func TestExecuteNodeDown(t *testing.T) {
	t.Parallel()

	t.Run("5xx answer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := newClient(t, server.URL)
		_, err := client.Execute(context.Background(), "execute_query", nil)
		testutil.AssertMsg(t, errors.Is(err, executor.ErrUnavailable),
			"5xx answer should map to ErrUnavailable")
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := newClient(t, server.URL)
		_, err := client.Execute(context.Background(), "execute_query", nil)
		testutil.AssertMsg(t, errors.Is(err, executor.ErrUnavailable),
			"transport failure should map to ErrUnavailable")
	})
}

func TestExecuteEmptyOutput(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	if _, err := client.Execute(context.Background(), "execute_query", nil); err == nil {
		testutil.FatalMsg(t, "200 with no output did not error")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	healthy := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	if err := client.Ping(context.Background()); err == nil {
		testutil.FatalMsg(t, "ping succeeded against an unhealthy node")
	}

	healthy = true
	if err := client.Ping(context.Background()); err != nil {
		testutil.FatalMsg(t, err)
	}
}
