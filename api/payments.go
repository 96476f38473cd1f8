package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/api/apierr"
	"gitlab.com/arcanecrypto/hashgate/api/auth"
	"gitlab.com/arcanecrypto/hashgate/deposits"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/mirror"
)

// createPayment quotes a deposit for the caller: it reserves a
// transaction ID, registers the pending payment and returns the unsigned
// transfer payload. Credits arrive once the reconciler sees the transfer
// settle on chain.
func (r *RestServer) createPayment() gin.HandlerFunc {
	type createPaymentRequest struct {
		Amount float64 `json:"amount" binding:"required,gt=0"`
		Memo   string  `json:"memo" binding:"max=100"`
	}

	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		var req createPaymentRequest
		if c.BindJSON(&req) != nil {
			return
		}

		request, err := r.builder.Build(c.Request.Context(), caller, req.Amount, req.Memo)
		if errors.Is(err, deposits.ErrAmountOutOfRange) {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrAmountOutOfRange)
			return
		}
		if errors.Is(err, deposits.ErrSelfPayment) {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrSelfPayment)
			return
		}
		if errors.Is(err, mirror.ErrUnavailable) {
			log.WithError(err).Warn("Could not quote payment, rate oracle unavailable")
			apierr.Public(c, http.StatusServiceUnavailable, apierr.ErrOracleUnavailable)
			return
		}
		if err != nil {
			log.WithError(err).Error("Could not build payment request")
			_ = c.Error(err)
			return
		}

		c.JSONP(http.StatusOK, request)
	}
}

// getPayment looks up a payment by transaction ID. Callers see their own
// payments; admins see everything. Payments belonging to others answer
// 404 rather than confirming they exist.
func (r *RestServer) getPayment() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		id, err := hbar.ParseTransactionID(c.Param("txid"))
		if err != nil {
			apierr.Public(c, http.StatusNotFound, apierr.ErrPaymentNotFound)
			return
		}

		payment, err := r.manager.FindPayment(c.Request.Context(), id.String())
		if err != nil {
			log.WithError(err).Error("Could not look up payment")
			_ = c.Error(err)
			return
		}
		if payment == nil {
			apierr.Public(c, http.StatusNotFound, apierr.ErrPaymentNotFound)
			return
		}

		isOwner := payment.PayerAccountID == caller || payment.CreditedAccount() == caller
		if !isOwner && !r.facade.IsAdmin(caller) {
			apierr.Public(c, http.StatusNotFound, apierr.ErrPaymentNotFound)
			return
		}

		c.JSONP(http.StatusOK, payment)
	}
}
