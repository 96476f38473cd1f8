package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/hashgate/api/auth"
	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/facade"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

// httpStatus maps a facade outcome to the HTTP status we answer with.
// Failed operations answer 502: credits are spent, the upstream work
// did not complete.
func httpStatus(status facade.Status) int {
	switch status {
	case facade.StatusOK:
		return http.StatusOK
	case facade.StatusUnauthorized:
		return http.StatusUnauthorized
	case facade.StatusForbidden:
		return http.StatusForbidden
	case facade.StatusInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

// invoke runs one operation through the facade on behalf of the request
// and renders the structured result. Store failures become internal
// errors; everything else answers with the result itself.
func (r *RestServer) invoke(c *gin.Context, request facade.Request) {
	result, err := r.facade.Invoke(c.Request.Context(), request)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSONP(httpStatus(result.Status), result)
}

// invokeOperation handles the generic priced invocation endpoint. The
// operation name decides the price; args are forwarded opaquely to
// whatever executes it.
func (r *RestServer) invokeOperation() gin.HandlerFunc {
	type invokeRequest struct {
		Operation string         `json:"operation" binding:"required,max=64"`
		BillTo    string         `json:"billTo" binding:"omitempty,accountid"`
		Args      map[string]any `json:"args"`
		PayloadKB float64        `json:"payloadKb" binding:"gte=0"`
		BatchSize int            `json:"batchSize" binding:"gte=0"`
	}

	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		var req invokeRequest
		if c.BindJSON(&req) != nil {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			BillTo:    req.BillTo,
			Operation: req.Operation,
			Args:      req.Args,
			PayloadKB: req.PayloadKB,
			BatchSize: req.BatchSize,
		})
	}
}

// getBalance returns the billed account's credit position. Admins may
// read another account with ?account=.
func (r *RestServer) getBalance() gin.HandlerFunc {
	type balanceQuery struct {
		Account string `form:"account" binding:"omitempty,accountid"`
	}

	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		var query balanceQuery
		if c.BindQuery(&query) != nil {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			BillTo:    query.Account,
			Operation: pricing.OpGetCreditBalance,
		})
	}
}

// getHistory returns the newest ledger entries of the billed account.
// Admins may read another account with ?account=.
func (r *RestServer) getHistory() gin.HandlerFunc {
	type historyQuery struct {
		Account string `form:"account" binding:"omitempty,accountid"`
		Limit   int    `form:"limit" binding:"gte=0,lte=1000"`
	}

	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		var query historyQuery
		if c.BindQuery(&query) != nil {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			BillTo:    query.Account,
			Operation: pricing.OpGetTransactionHistory,
			Args:      map[string]any{"limit": query.Limit},
		})
	}
}

// getOperationCosts lists the cost catalog.
func (r *RestServer) getOperationCosts() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			Operation: pricing.OpGetOperationCosts,
		})
	}
}

// getInfo describes the server: network, deposit account and bounds.
func (r *RestServer) getInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			Operation: pricing.OpGetServerInfo,
		})
	}
}

// getHealth reports whether the ledger store answers.
func (r *RestServer) getHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := auth.RequireAccount(c)
		if !ok {
			return
		}

		r.invoke(c, facade.Request{
			Caller:    caller,
			Operation: pricing.OpHealthCheck,
		})
	}
}

// intArg reads an integer argument however it arrived: JSON numbers
// decode as float64, in-process callers pass ints.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// registerFacadeHandlers wires the billing and system operations the
// server answers itself, so they run through the same consumption and
// audit flow as the priced network operations.
func (r *RestServer) registerFacadeHandlers() {
	r.facade.RegisterHandler(pricing.OpGetCreditBalance,
		func(ctx context.Context, request facade.Request) (map[string]any, error) {
			balance, err := r.manager.Balance(ctx, request.BillTo)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"accountId":      balance.AccountID,
				"balance":        balance.Balance,
				"totalPurchased": balance.TotalPurchased,
				"totalConsumed":  balance.TotalConsumed,
			}, nil
		})

	r.facade.RegisterHandler(pricing.OpGetTransactionHistory,
		func(ctx context.Context, request facade.Request) (map[string]any, error) {
			limit := intArg(request.Args, "limit", 0)
			entries, err := r.manager.History(ctx, request.BillTo, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"accountId": request.BillTo,
				"entries":   entries,
			}, nil
		})

	r.facade.RegisterHandler(pricing.OpGetOperationCosts,
		func(ctx context.Context, request facade.Request) (map[string]any, error) {
			costs, err := r.manager.OperationCosts(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"operations": costs}, nil
		})

	r.facade.RegisterHandler(pricing.OpGetServerInfo,
		func(ctx context.Context, request facade.Request) (map[string]any, error) {
			min, max := r.builder.Limits()
			return map[string]any{
				"network":         r.network,
				"serverAccountId": r.builder.ServerAccount(),
				"minPaymentHbar":  min,
				"maxPaymentHbar":  max,
				"version":         build.Version(),
			}, nil
		})

	r.facade.RegisterHandler(pricing.OpHealthCheck,
		func(ctx context.Context, request facade.Request) (map[string]any, error) {
			// the catalog read doubles as the store ping
			if _, err := r.manager.OperationCosts(ctx); err != nil {
				return nil, errors.Wrap(err, "store did not answer")
			}
			return map[string]any{"status": "healthy"}, nil
		})
}
