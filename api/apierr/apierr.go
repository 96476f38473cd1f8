// Package apierr provides error handling for the REST API: a middleware
// that renders every failed request as the standard error envelope, and
// the catalog of public errors the API can answer with.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"unicode"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/go-playground/validator.v8"

	"gitlab.com/arcanecrypto/hashgate/api/httptypes"
)

// apiError pairs a human-readable error with a stable machine-readable
// code, so clients can switch on codes while messages stay free to
// change.
type apiError struct {
	err  error
	code string
}

func (a apiError) Error() string {
	return pkgerrors.Wrap(a.err, a.code).Error()
}

// Is compares on the code, so rendered responses match their sentinel.
func (a apiError) Is(err error) bool {
	if stdErr, ok := err.(httptypes.StandardErrorResponse); ok {
		return stdErr.ErrorField.Code == a.code
	}
	if aErr, ok := err.(apiError); ok {
		return a.code == aErr.code
	}
	return a.err.Error() == err.Error()
}

var (
	// ErrRouteNotFound means the requested HTTP route doesn't exist.
	ErrRouteNotFound = apiError{
		err:  errors.New("route not found"),
		code: "ERR_ROUTE_NOT_FOUND",
	}

	// ErrMissingAuthHeader means the request carried no account header.
	ErrMissingAuthHeader = apiError{
		err:  errors.New("missing account header"),
		code: "ERR_MISSING_AUTH_HEADER",
	}

	// ErrMalformedAccountID means an account ID was not shard.realm.num.
	ErrMalformedAccountID = apiError{
		err:  errors.New("malformed account ID"),
		code: "ERR_MALFORMED_ACCOUNT_ID",
	}

	// ErrForbidden means the caller may not act on the given account.
	ErrForbidden = apiError{
		err:  errors.New("account is not allowed to do this"),
		code: "ERR_FORBIDDEN",
	}

	// ErrInsufficientCredits means the billed account cannot cover the
	// operation.
	ErrInsufficientCredits = apiError{
		err:  errors.New("insufficient credits"),
		code: "ERR_INSUFFICIENT_CREDITS",
	}

	// ErrAccountNotFound means no such account has been seen.
	ErrAccountNotFound = apiError{
		err:  errors.New("account not found"),
		code: "ERR_ACCOUNT_NOT_FOUND",
	}

	// ErrPaymentNotFound means no payment with the given transaction ID
	// exists, or the caller may not see it.
	ErrPaymentNotFound = apiError{
		err:  errors.New("payment not found"),
		code: "ERR_PAYMENT_NOT_FOUND",
	}

	// ErrInvalidStateTransition means a payment status change outside
	// the allowed lifecycle was attempted.
	ErrInvalidStateTransition = apiError{
		err:  errors.New("invalid payment state transition"),
		code: "ERR_INVALID_STATE_TRANSITION",
	}

	// ErrDuplicatePayment means a payment with this transaction ID
	// already exists in a conflicting state.
	ErrDuplicatePayment = apiError{
		err:  errors.New("conflicting payment already exists"),
		code: "ERR_DUPLICATE_PAYMENT",
	}

	// ErrAmountOutOfRange means a payment amount was outside the
	// configured bounds.
	ErrAmountOutOfRange = apiError{
		err:  errors.New("payment amount out of range"),
		code: "ERR_AMOUNT_OUT_OF_RANGE",
	}

	// ErrSelfPayment means the payer is the server's own account.
	ErrSelfPayment = apiError{
		err:  errors.New("cannot pay the server's own account"),
		code: "ERR_SELF_PAYMENT",
	}

	// ErrInvalidAccountStatus means the given account status is not one
	// of active, suspended or blocked.
	ErrInvalidAccountStatus = apiError{
		err:  errors.New("invalid account status"),
		code: "ERR_INVALID_ACCOUNT_STATUS",
	}

	// ErrInvalidPaymentStatus means the given payment status is not one
	// of the lifecycle states.
	ErrInvalidPaymentStatus = apiError{
		err:  errors.New("invalid payment status"),
		code: "ERR_INVALID_PAYMENT_STATUS",
	}

	// ErrOracleUnavailable means a required oracle (exchange rate,
	// transaction confirmation) could not be reached.
	ErrOracleUnavailable = apiError{
		err:  errors.New("oracle unavailable, try again"),
		code: "ERR_ORACLE_UNAVAILABLE",
	}

	// ErrBadRequest means we got a malformed request.
	ErrBadRequest = apiError{
		err:  errors.New("bad request"),
		code: "ERR_BAD_REQUEST",
	}

	// errInvalidJson means we got sent invalid JSON.
	errInvalidJson = apiError{
		err:  errors.New("invalid JSON"),
		code: "ERR_INVALID_JSON",
	}

	errBodyRequired = apiError{
		err:  errors.New("JSON body required"),
		code: "ERR_BODY_REQUIRED",
	}

	// ErrUnknownError means we don't know exactly what went wrong.
	ErrUnknownError = apiError{
		err:  errors.New("something went wrong"),
		code: "ERR_UNKNOWN_ERROR",
	}

	// ErrRequestValidationFailed means the request failed JSON, URL or
	// query validation.
	ErrRequestValidationFailed = apiError{
		err:  errors.New("request validation failed"),
		code: "ERR_REQUEST_VALIDATION_FAILED",
	}
)

// decapitalize makes the first element of a string lowercase
func decapitalize(str string) string {
	if str == "" {
		return ""
	}
	var decapitalized string
	for index, c := range str {
		if index == 0 {
			decapitalized = string(unicode.ToLower(c))
			continue
		}
		decapitalized = decapitalized + string(c)
	}
	return decapitalized
}

// capitalize makes the first element of a string uppercase
func capitalize(str string) string {
	if str == "" {
		return ""
	}
	var capitalized string
	for index, c := range str {
		if index == 0 {
			capitalized = string(unicode.ToUpper(c))
			continue
		}
		capitalized = capitalized + string(c)
	}
	return capitalized
}

// GetMiddleware returns a Gin middleware that renders request errors as
// the standard envelope after the handlers have run.
func GetMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {

		// let previous handlers run
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// if HTTP code is set to -1 it doesn't overwrite what's already there
		httpCode := -1
		if c.Writer.Status() == http.StatusOK {
			// default to 500 if no status has been set
			httpCode = http.StatusInternalServerError
		}

		fieldErrors := handleValidationErrors(c, log)
		response := &httptypes.StandardErrorResponse{
			ErrorField: httptypes.StandardError{
				Fields: fieldErrors,
			},
		}

		// Check for JSON parsing errors
		for _, err := range c.Errors {
			var syntaxErr *json.SyntaxError
			if errors.Is(err.Err, io.EOF) {
				response.ErrorField.Code = errBodyRequired.code
				response.ErrorField.Message = errBodyRequired.err.Error()
				c.JSON(http.StatusBadRequest, response)
				return
			} else if errors.As(err.Err, &syntaxErr) {
				response.ErrorField.Code = errInvalidJson.code
				response.ErrorField.Message = errInvalidJson.err.Error()
				c.JSON(http.StatusBadRequest, response)
				return
			}
		}

		// public errors can be shown to the end user
		publicErrors := c.Errors.ByType(gin.ErrorTypePublic)
		if len(publicErrors) > 0 {
			// our error format only has space for one error, and every
			// handler returns right after its first public error
			err := publicErrors.Last()
			if apiErr, ok := err.Err.(apiError); ok {
				response.ErrorField.Code = apiErr.code
				response.ErrorField.Message = apiErr.err.Error()
			} else {
				log.WithError(err).Warn("Got public error in error handler that was not apiError type")
				response.ErrorField.Code = ErrUnknownError.code
				response.ErrorField.Message = ErrUnknownError.err.Error()
			}
		}

		// ensure all responses have a code
		if response.ErrorField.Code == "" {
			if len(fieldErrors) > 0 {
				response.ErrorField.Code = ErrRequestValidationFailed.code
				response.ErrorField.Message = ErrRequestValidationFailed.err.Error()
			} else {
				// this is bad, but should be picked up by tests
				response.ErrorField.Code = ErrUnknownError.code
				response.ErrorField.Message = ErrUnknownError.err.Error()
			}
		}

		response.ErrorField.Message = capitalize(response.ErrorField.Message)
		c.JSON(httpCode, response)
	}
}

// Public fails the given Gin request with the given error. It sets the
// error type as public, causing it to later be rendered to the end user
// with a fitting message.
func Public(c *gin.Context, code int, err apiError) {
	cErr := c.AbortWithError(code, err)
	_ = cErr.SetType(gin.ErrorTypePublic)
}

// UnknownValidationTag is the tag we apply when encountering a
// validation tag we don't know how to handle.
const UnknownValidationTag = "unknown"

func handleValidationErrors(c *gin.Context, log *logrus.Logger) []httptypes.FieldError {
	// initialize to empty list instead of pointer, to make sure the
	// empty list is rendered instead of nil
	//noinspection GoPreferNilSlice
	fieldErrors := []httptypes.FieldError{}
	for _, err := range c.Errors.ByType(gin.ErrorTypeBind) {
		// not all errors encountered in validation are the nice
		// validator.ValidationErrors type. If you request an int in a
		// form for example, parsing of that int fails before proper
		// validation happens. See https://github.com/gin-gonic/gin/issues/1093
		if numError, ok := err.Err.(*strconv.NumError); ok {
			fieldErrors = append(fieldErrors, httptypes.FieldError{
				// don't know how to find out which field failed here...
				Field:   "unknown",
				Message: fmt.Sprintf("%q is not a valid number, %q failed", numError.Num, numError.Func),
				Code:    "invalid-number",
			})
			continue
		}

		// passing an int to a JSON field expecting a string ends up
		// here, not in validator.ValidationErrors
		if jsonError, ok := err.Err.(*json.UnmarshalTypeError); ok {
			log.WithError(jsonError).WithFields(logrus.Fields{
				"field":  jsonError.Field,
				"value":  jsonError.Value,
				"type":   jsonError.Type,
				"struct": jsonError.Struct,
			}).Debug("Handling JSON error")
			fieldErrors = append(fieldErrors, httptypes.FieldError{
				Field:   jsonError.Field,
				Message: fmt.Sprintf("%q requires a %s, got a %s", jsonError.Field, jsonError.Type, jsonError.Value),
				Code:    "invalid-type",
			})
			continue
		}

		validationErrors, ok := err.Err.(validator.ValidationErrors)
		if !ok {
			continue
		}
		for _, validationErr := range validationErrors {
			// Field validation can't see the name of the JSON/query
			// field, only the struct field. The assumption is that they
			// are named the same except for the first letter.
			field := decapitalize(validationErr.Field)
			var message string
			var code string
			switch validationErr.Tag {
			case "required":
				message = fmt.Sprintf("%q is required", field)
				code = "required"
			case "accountid":
				message = fmt.Sprintf("%q is not a valid account ID", field)
				code = "accountid"
			case "gte":
				message = fmt.Sprintf("%q field must be greater than or equal %s. Got: %s",
					field, validationErr.Param, validationErr.Value)
				code = "gte"
			case "lte":
				message = fmt.Sprintf("%q field must be less than or equal %s. Got: %s",
					field, validationErr.Param, validationErr.Value)
				code = "lte"
			case "gt":
				message = fmt.Sprintf("%q field must be greater than %s. Got: %s",
					field, validationErr.Param, validationErr.Value)
				code = "gt"
			case "max":
				message = fmt.Sprintf("%q cannot be longer than %s characters", field, validationErr.Param)
				code = "max"
			case "txid":
				message = fmt.Sprintf("%q is not a valid transaction ID", field)
				code = "txid"
			default:
				log.WithField("tag", validationErr.Tag).Warn("Encountered unknown validation field")
				message = fmt.Sprintf("%s is invalid", field)
				code = UnknownValidationTag
			}
			fieldErrors = append(fieldErrors, httptypes.FieldError{
				Field:   field,
				Message: message,
				Code:    code,
			})
		}
	}
	return fieldErrors
}
