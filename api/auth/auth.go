// Package auth resolves the identity of API callers. Authentication
// itself happens in the fronting gateway; this package consumes the
// account it forwards, validates it and makes it available to handlers.
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/api/apierr"
	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
)

const (
	// Header is the name of the header carrying the caller's Hedera
	// account ID.
	Header = "X-Hashgate-Account"
	// accountVariable is the Gin variable we store the caller's
	// canonical account ID as
	accountVariable = "caller-account"
)

var log = build.AddSubLogger("AUTH")

// GetMiddleware returns a middleware that rejects requests without a
// valid account header, and stores the canonical account on the context
// for the handlers behind it.
func GetMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(Header)
		if header == "" {
			apierr.Public(c, http.StatusUnauthorized, apierr.ErrMissingAuthHeader)
			return
		}

		account, err := hbar.ParseAccountID(header)
		if err != nil {
			log.WithError(err).WithField("header", header).Info("Rejected malformed account header")
			apierr.Public(c, http.StatusBadRequest, apierr.ErrMalformedAccountID)
			return
		}

		c.Set(accountVariable, account)
	}
}

// RequireAccount retrieves the caller account associated with this
// request. The account is set by the authentication middleware, so this
// can safely be called by all endpoints behind it. If false is returned
// the request has been responded to and no further action is needed.
func RequireAccount(c *gin.Context) (string, bool) {
	id, exists := c.Get(accountVariable)
	if !exists {
		const msg = "caller account is not set in request! This is a serious error, and means our authentication middleware did not run"
		_ = c.AbortWithError(http.StatusInternalServerError, errors.New(msg))
		return "", false
	}
	account, ok := id.(string)
	if !ok {
		const msg = "caller account was not a string! This means our authentication middleware did something bad"
		_ = c.AbortWithError(http.StatusInternalServerError, errors.New(msg))
		return "", false
	}
	return account, true
}
