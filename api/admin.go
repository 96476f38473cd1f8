package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/api/apierr"
	"gitlab.com/arcanecrypto/hashgate/api/auth"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
)

// requireAdmin resolves the caller and rejects non-admins. If false is
// returned the request has been responded to.
func (r *RestServer) requireAdmin(c *gin.Context) (string, bool) {
	account, ok := auth.RequireAccount(c)
	if !ok {
		return "", false
	}
	if !r.facade.IsAdmin(account) {
		log.WithField("account", account).Info("Non-admin tried to use admin surface")
		apierr.Public(c, http.StatusForbidden, apierr.ErrForbidden)
		return "", false
	}
	return account, true
}

// adminProcessPayment records a payment with an explicit credit
// allocation, outside the exchange-rate conversion. This is the manual
// bookkeeping path: invoicing deals, goodwill grants, imports.
func (r *RestServer) adminProcessPayment() gin.HandlerFunc {
	type processPaymentRequest struct {
		TransactionID    string `json:"transactionId" binding:"required,txid"`
		PayerAccountID   string `json:"payerAccountId" binding:"required,accountid"`
		AmountTinybar    int64  `json:"amountTinybar" binding:"required,gt=0"`
		CreditsAllocated int64  `json:"creditsAllocated" binding:"required,gt=0"`
		Status           string `json:"status"`
		TargetAccountID  string `json:"targetAccountId" binding:"omitempty,accountid"`
		Memo             string `json:"memo" binding:"max=100"`
	}

	return func(c *gin.Context) {
		admin, ok := r.requireAdmin(c)
		if !ok {
			return
		}

		var req processPaymentRequest
		if c.BindJSON(&req) != nil {
			return
		}

		id, err := hbar.ParseTransactionID(req.TransactionID)
		if err != nil {
			// the binding tag already vetted the format
			_ = c.Error(err)
			return
		}

		status := ledger.PaymentCompleted
		if req.Status != "" {
			status, err = ledger.ParsePaymentStatus(req.Status)
			if err != nil {
				apierr.Public(c, http.StatusBadRequest, apierr.ErrInvalidPaymentStatus)
				return
			}
		}

		payer, err := hbar.ParseAccountID(req.PayerAccountID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		payment := ledger.Payment{
			TransactionID:    id.String(),
			PayerAccountID:   payer,
			Amount:           hbar.Amount(req.AmountTinybar),
			CreditsAllocated: req.CreditsAllocated,
			Status:           status,
		}
		if req.TargetAccountID != "" {
			target, err := hbar.ParseAccountID(req.TargetAccountID)
			if err != nil {
				_ = c.Error(err)
				return
			}
			payment.TargetAccountID = &target
		}
		if req.Memo != "" {
			payment.Memo = &req.Memo
		}

		processed, err := r.manager.AdminProcessPayment(c.Request.Context(), payment)
		if errors.Is(err, credits.ErrCreditsRequired) || errors.Is(err, credits.ErrNonPositiveAmount) {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrBadRequest)
			return
		}
		if err != nil {
			log.WithError(err).Error("Could not process admin payment")
			_ = c.Error(err)
			return
		}
		if !processed {
			apierr.Public(c, http.StatusConflict, apierr.ErrDuplicatePayment)
			return
		}

		stored, err := r.manager.FindPayment(c.Request.Context(), payment.TransactionID)
		if err != nil || stored == nil {
			log.WithError(err).Error("Could not read back processed payment")
			_ = c.Error(err)
			return
		}

		log.WithField("admin", admin).WithField("txid", payment.TransactionID).
			Info("Admin processed payment")
		c.JSONP(http.StatusOK, stored)
	}
}

// refundPayment reverses a completed payment and takes its credits back.
func (r *RestServer) refundPayment() gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := r.requireAdmin(c)
		if !ok {
			return
		}

		id, err := hbar.ParseTransactionID(c.Param("txid"))
		if err != nil {
			apierr.Public(c, http.StatusNotFound, apierr.ErrPaymentNotFound)
			return
		}

		refunded, err := r.manager.RefundPayment(c.Request.Context(), id.String(), "")
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			apierr.Public(c, http.StatusNotFound, apierr.ErrPaymentNotFound)
			return
		}
		if errors.Is(err, ledger.ErrInvalidStateTransition) {
			apierr.Public(c, http.StatusConflict, apierr.ErrInvalidStateTransition)
			return
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			// the credits are already spent, there is nothing to claw back
			apierr.Public(c, http.StatusPaymentRequired, apierr.ErrInsufficientCredits)
			return
		}
		if err != nil {
			log.WithError(err).Error("Could not refund payment")
			_ = c.Error(err)
			return
		}

		log.WithField("admin", admin).WithField("txid", refunded.TransactionID).
			Info("Admin refunded payment")
		c.JSONP(http.StatusOK, refunded)
	}
}

// adminAdjust moves an account's balance by a signed amount, outside the
// purchase and consumption flows.
func (r *RestServer) adminAdjust() gin.HandlerFunc {
	type adjustmentRequest struct {
		AccountID   string `json:"accountId" binding:"required,accountid"`
		Amount      int64  `json:"amount" binding:"required"`
		Description string `json:"description" binding:"max=255"`
	}

	return func(c *gin.Context) {
		admin, ok := r.requireAdmin(c)
		if !ok {
			return
		}

		var req adjustmentRequest
		if c.BindJSON(&req) != nil {
			return
		}

		account, err := hbar.ParseAccountID(req.AccountID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		entry, err := r.manager.AdminAdjust(c.Request.Context(), account, req.Amount, req.Description)
		if errors.Is(err, credits.ErrZeroAdjustment) {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrBadRequest)
			return
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			apierr.Public(c, http.StatusPaymentRequired, apierr.ErrInsufficientCredits)
			return
		}
		if err != nil {
			log.WithError(err).Error("Could not adjust balance")
			_ = c.Error(err)
			return
		}

		log.WithField("admin", admin).WithField("account", account).
			WithField("amount", req.Amount).Info("Admin adjusted balance")
		c.JSONP(http.StatusOK, entry)
	}
}

// getAccount is the administrative account view: the row with its
// status, and the credit position.
func (r *RestServer) getAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := r.requireAdmin(c); !ok {
			return
		}

		id, err := hbar.ParseAccountID(c.Param("id"))
		if err != nil {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrMalformedAccountID)
			return
		}

		account, err := r.manager.Account(c.Request.Context(), id)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			apierr.Public(c, http.StatusNotFound, apierr.ErrAccountNotFound)
			return
		}
		if err != nil {
			_ = c.Error(err)
			return
		}

		balance, err := r.manager.Balance(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSONP(http.StatusOK, gin.H{
			"account": account,
			"balance": balance,
		})
	}
}

// setAccountStatus moves an account between active, suspended and
// blocked. The status is administrative: it never gates operations.
func (r *RestServer) setAccountStatus() gin.HandlerFunc {
	type statusRequest struct {
		Status string `json:"status" binding:"required"`
	}

	return func(c *gin.Context) {
		admin, ok := r.requireAdmin(c)
		if !ok {
			return
		}

		id, err := hbar.ParseAccountID(c.Param("id"))
		if err != nil {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrMalformedAccountID)
			return
		}

		var req statusRequest
		if c.BindJSON(&req) != nil {
			return
		}

		status, err := ledger.ParseAccountStatus(req.Status)
		if err != nil {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrInvalidAccountStatus)
			return
		}

		err = r.manager.SetAccountStatus(c.Request.Context(), id, status)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			apierr.Public(c, http.StatusNotFound, apierr.ErrAccountNotFound)
			return
		}
		if err != nil {
			log.WithError(err).Error("Could not set account status")
			_ = c.Error(err)
			return
		}

		account, err := r.manager.Account(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}

		log.WithField("admin", admin).WithField("account", id).
			WithField("status", status).Info("Admin set account status")
		c.JSONP(http.StatusOK, account)
	}
}
