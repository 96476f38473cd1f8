// Package httptypes holds the wire types shared by the API and its
// clients: the standard error envelope every failing response conforms
// to, and the per-field validation errors it can carry.
package httptypes

import "fmt"

// StandardError is the payload inside the error envelope.
type StandardError struct {
	Message string       `json:"message"`
	Code    string       `json:"code"`
	Fields  []FieldError `json:"fields" binding:"required"`
}

// StandardErrorResponse is the envelope all error responses from the API
// conform to.
type StandardErrorResponse struct {
	ErrorField StandardError `json:"error"`
}

func (s StandardErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", s.ErrorField.Code, s.ErrorField.Message)
}

// Is matches on the error code, so responses compare equal to the
// apierr sentinel they were rendered from.
func (s StandardErrorResponse) Is(err error) bool {
	if stdErr, ok := err.(StandardErrorResponse); ok {
		return stdErr.ErrorField.Code == s.ErrorField.Code
	}
	return s.Error() == err.Error()
}

// FieldError describes why a single request field failed validation.
type FieldError struct {
	Field   string `json:"field" binding:"required"`
	Message string `json:"message" binding:"required"`
	Code    string `json:"code" binding:"required"`
}
