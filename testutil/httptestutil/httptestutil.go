package httptestutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gitlab.com/arcanecrypto/hashgate/testutil"
)

// Server is something that can serve HTTP requests
type Server interface {
	ServeHTTP(response http.ResponseWriter, request *http.Request)
}

// TestHarness is a structure that allows us to execute tests that need
// HTTP serving capabilities, as well as other potential external services.
// At the moment this only includes HTTP serving, but in the future this
// is likely to expand.
type TestHarness struct {
	server Server
}

func NewTestHarness(server Server) TestHarness {
	return TestHarness{server: server}
}

// Checks if the given string is valid JSON
func isJSONString(s string) bool {
	var js interface{}
	err := json.Unmarshal([]byte(s), &js)
	return err == nil
}

type AccountRequestArgs struct {
	AccountID string
	Path      string
	Method    string
	Body      string
}

// GetAccountRequest returns a HTTP request that carries the account
// header the API authenticates with, and an optional JSON body
func GetAccountRequest(t *testing.T, args AccountRequestArgs) *http.Request {
	t.Helper()
	if args.AccountID == "" {
		testutil.FatalMsg(t, "You forgot to set AccountID")
	}
	req := GetRequest(t, RequestArgs{Path: args.Path,
		Method: args.Method, Body: args.Body})
	req.Header.Set("X-Hashgate-Account", args.AccountID)
	return req
}

type RequestArgs struct {
	Path   string
	Method string
	Body   string
}

// GetRequest returns a HTTP request with an optional JSON body
func GetRequest(t *testing.T, args RequestArgs) *http.Request {
	t.Helper()
	if args.Path == "" {
		testutil.FatalMsg(t, "You forgot to set Path")
	}
	if args.Method == "" {
		testutil.FatalMsg(t, "You forgot to set Method")
	}

	var body *bytes.Buffer
	if args.Body == "" {
		body = &bytes.Buffer{}
	} else if isJSONString(args.Body) {
		body = bytes.NewBuffer([]byte(args.Body))
	} else {
		testutil.FatalMsgf(t, "Body was not valid JSON: %s", args.Body)
	}

	res, err := http.NewRequest(args.Method, args.Path, body)
	if err != nil {
		testutil.FatalMsgf(t, "Couldn't construct request: %+v", err)
	}
	return res
}

func (harness *TestHarness) AssertResponseNotOk(t *testing.T, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	response := httptest.NewRecorder()
	harness.server.ServeHTTP(response, request)
	if response.Code < 300 {
		testutil.FatalMsgf(t, "Got success code (%d) on path %s", response.Code, extractMethodAndPath(request))
	}
	return response
}

// AssertResponseNotOkWithCode checks that the given request results in the
// given HTTP status code. It returns the response to the request.
func (harness *TestHarness) AssertResponseNotOkWithCode(t *testing.T, request *http.Request, code int) *httptest.ResponseRecorder {
	testutil.AssertMsgf(t, code >= 100 && code <= 500, "Given code (%d) is not a valid HTTP code", code)
	t.Helper()

	response := harness.AssertResponseNotOk(t, request)
	testutil.AssertMsgf(t, response.Code == code,
		"Expected code (%d) does not match with found code (%d)", code, response.Code)
	return response
}

// First performs `assertResponseOk`, then asserts that the body of the response
// can be parsed as JSON, and then returns the parsed JSON
func (harness *TestHarness) AssertResponseOkWithJson(t *testing.T, request *http.Request) map[string]interface{} {
	t.Helper()
	response := harness.AssertResponseOk(t, request)
	var destination map[string]interface{}

	if err := json.Unmarshal(response.Body.Bytes(), &destination); err != nil {
		stringBody := response.Body.String()
		testutil.FatalMsgf(t, "%+v. Body: %s ",
			err, stringBody)
	}
	return destination
}

// AssertResponseOkWithJsonList performs `assertResponseOk`, then asserts
// that the body of the response is a JSON list, and returns it parsed
func (harness *TestHarness) AssertResponseOkWithJsonList(t *testing.T, request *http.Request) []map[string]interface{} {
	t.Helper()
	response := harness.AssertResponseOk(t, request)
	var destination []map[string]interface{}

	if err := json.Unmarshal(response.Body.Bytes(), &destination); err != nil {
		stringBody := response.Body.String()
		testutil.FatalMsgf(t, "%+v. Body: %s ",
			err, stringBody)
	}
	return destination
}

func extractMethodAndPath(req *http.Request) string {
	return req.Method + " " + req.URL.Path
}

// Performs the given request against the API. Asserts that the
// response completed successfully. Returns the response from the API
func (harness *TestHarness) AssertResponseOk(t *testing.T, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	bodyBytes := []byte{}
	var err error
	if request.Body != nil {
		// read the body bytes for potential error messages later
		bodyBytes, err = io.ReadAll(request.Body)
		if err != nil {
			testutil.FatalMsgf(t, "Could not read body: %v", err)
		}
		// restore the original buffer so it can be read later
		request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	response := httptest.NewRecorder()
	harness.server.ServeHTTP(response, request)

	if response.Code != 200 {
		var parsedJsonBody string

		// unmarshal and marshal again to get rid of any weird formatting,
		// so we can print the JSON body in a compact, one-line way
		var jsonDest map[string]interface{}
		if err := json.Unmarshal(response.Body.Bytes(), &jsonDest); err != nil {
			testutil.FatalMsgf(t, "Could not unmarshal JSON: %v. Body: %s", err, response.Body.String())
		}
		jsonBytes, err := json.Marshal(jsonDest)
		parsedJsonBody = string(jsonBytes)
		if err != nil {
			testutil.FatalMsgf(t, "Could not marshal JSON: %v", err)
		}

		testutil.FatalMsgf(t, "Got failure code (%d) on path %s %s",
			response.Code, extractMethodAndPath(request), parsedJsonBody)
	}

	return response
}
