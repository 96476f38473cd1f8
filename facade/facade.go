// Package facade fronts every priced operation: it authenticates the
// caller, resolves the account to bill, checks and consumes credits, and
// only then hands the work to the collaborator that talks to the
// network. Consumption survives collaborator failures: the operation was
// planned and resources were held.
package facade

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

var log = build.AddSubLogger("FCDE")

// Status classifies the outcome of an invocation.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusUnauthorized        Status = "unauthorized"
	StatusForbidden           Status = "forbidden"
	StatusInsufficientCredits Status = "insufficient_credits"
	StatusFailed              Status = "failed"
)

// DefaultCallTimeout bounds a single collaborator call.
const DefaultCallTimeout = 30 * time.Second

// Collaborator performs the network operation the caller paid for. The
// result is opaque to the facade and forwarded verbatim.
type Collaborator interface {
	Execute(ctx context.Context, operation string, args map[string]any) (map[string]any, error)
}

// HandlerFunc serves an operation in-process instead of through the
// collaborator. Registered names shadow the collaborator. By the time a
// handler runs, request.BillTo names the resolved billed account.
type HandlerFunc func(ctx context.Context, request Request) (map[string]any, error)

// Request is one operation invocation as the transport layer resolved it.
type Request struct {
	// Caller is the authenticated account. Empty means unauthenticated.
	Caller string
	// BillTo charges another account. Only admins may set it to anything
	// but the caller; empty bills the caller.
	BillTo string
	// Operation is the catalog name of the operation.
	Operation string
	// Args are forwarded opaquely to whoever executes the operation.
	Args map[string]any
	// PayloadKB and BatchSize feed the pricing modifiers.
	PayloadKB float64
	BatchSize int
}

// Result is the structured outcome every invocation returns, whatever
// happened inside.
type Result struct {
	Operation string         `json:"operation"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Required  int64          `json:"required,omitempty"`
	Current   int64          `json:"current,omitempty"`
	Shortfall int64          `json:"shortfall,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

// Config wires a Facade.
type Config struct {
	// Admins may bill accounts other than their own.
	Admins []string
	// CallTimeout bounds a single operation call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration
	// Network feeds the network-class pricing modifier.
	Network string
}

// Facade is safe for concurrent use once the handlers are registered.
type Facade struct {
	manager      *credits.Manager
	collaborator Collaborator
	handlers     map[string]HandlerFunc
	admins       map[string]struct{}
	callTimeout  time.Duration
	network      string
}

// NewFacade builds a facade around the credit manager. collaborator may
// be nil when every exposed operation has a registered handler.
func NewFacade(conf Config, manager *credits.Manager, collaborator Collaborator) *Facade {
	admins := make(map[string]struct{}, len(conf.Admins))
	for _, admin := range conf.Admins {
		admins[admin] = struct{}{}
	}

	timeout := conf.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	return &Facade{
		manager:      manager,
		collaborator: collaborator,
		handlers:     make(map[string]HandlerFunc),
		admins:       admins,
		callTimeout:  timeout,
		network:      conf.Network,
	}
}

// RegisterHandler serves operation in-process. Not safe to call
// concurrently with Invoke; register everything at wiring time.
func (f *Facade) RegisterHandler(operation string, handler HandlerFunc) {
	f.handlers[operation] = handler
}

// IsAdmin reports whether account may use the admin surface.
func (f *Facade) IsAdmin(account string) bool {
	_, ok := f.admins[account]
	return ok
}

// Invoke runs one operation through the full flow: authenticate, resolve
// billing, sufficiency, consume, execute. The error return is reserved
// for store failures; everything the caller did wrong comes back as a
// structured Result.
func (f *Facade) Invoke(ctx context.Context, request Request) (Result, error) {
	result := Result{Operation: request.Operation}

	if request.Caller == "" {
		result.Status = StatusUnauthorized
		result.Error = "authentication required"
		return result, nil
	}

	billed := request.BillTo
	if billed == "" {
		billed = request.Caller
	}
	if billed != request.Caller && !f.IsAdmin(request.Caller) {
		log.WithFields(logrus.Fields{
			"caller": request.Caller,
			"billTo": billed,
		}).Info("Caller tried to bill another account")
		result.Status = StatusForbidden
		result.Error = "only admins may bill other accounts"
		return result, nil
	}
	// handlers always see the resolved account in BillTo
	request.BillTo = billed

	opts := pricing.CostOptions{
		Network:   f.network,
		PayloadKB: request.PayloadKB,
		BatchSize: request.BatchSize,
	}

	sufficiency, err := f.manager.Sufficiency(ctx, billed, request.Operation, opts)
	if err != nil {
		return Result{}, err
	}
	if !sufficiency.Sufficient {
		result.Status = StatusInsufficientCredits
		result.Error = "insufficient credits"
		result.Required = sufficiency.Required
		result.Current = sufficiency.Current
		result.Shortfall = sufficiency.Shortfall
		return result, nil
	}

	consumed, err := f.manager.Consume(ctx, billed, request.Operation, "", opts)
	if err != nil {
		return Result{}, err
	}
	if !consumed {
		result.Status = StatusFailed
		result.Error = "credits were spent concurrently"
		return result, nil
	}

	output, err := f.execute(ctx, request)
	if err != nil {
		// consumption stands: the operation was planned and paid for
		log.WithError(err).WithFields(logrus.Fields{
			"operation": request.Operation,
			"account":   billed,
		}).Error("Operation failed after consumption")
		result.Status = StatusFailed
		result.Error = err.Error()
		return result, nil
	}

	result.Status = StatusOK
	result.Output = output
	return result, nil
}

func (f *Facade) execute(ctx context.Context, request Request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	if handler, ok := f.handlers[request.Operation]; ok {
		return handler(ctx, request)
	}
	if f.collaborator == nil {
		return nil, errors.Errorf("no handler registered for operation %s", request.Operation)
	}
	return f.collaborator.Execute(ctx, request.Operation, request.Args)
}
