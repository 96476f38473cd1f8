package pricing

// Operation names the server bills for. The catalog is the single place
// that knows what each of them costs.
const (
	OpExecuteTransaction    = "execute_transaction"
	OpScheduleTransaction   = "schedule_transaction"
	OpExecuteQuery          = "execute_query"
	OpGetAccountInfo        = "get_account_info"
	OpCreatePayment         = "create_payment"
	OpGetCreditBalance      = "get_credit_balance"
	OpGetTransactionHistory = "get_transaction_history"
	OpGetOperationCosts     = "get_operation_costs"
	OpHealthCheck           = "health_check"
	OpGetServerInfo         = "get_server_info"
)

// Operation categories.
const (
	CategoryTransaction = "transaction"
	CategoryQuery       = "query"
	CategoryBilling     = "billing"
	CategorySystem      = "system"
)

// Cost is a catalog entry: the base cost in credits plus the modifiers
// the operation is subject to. SizeMultiplier is additive credits per KB
// of payload.
type Cost struct {
	BaseCost           int64
	Category           string
	NetworkMultipliers map[string]float64
	SizeMultiplier     float64
}

// DefaultCatalog seeds the operation cost table. Billing and system
// operations are free so that clients can always inspect their own
// account.
func DefaultCatalog() map[string]Cost {
	return map[string]Cost{
		OpExecuteTransaction: {
			BaseCost: 15,
			Category: CategoryTransaction,
			NetworkMultipliers: map[string]float64{
				"mainnet":    2.0,
				"testnet":    1.0,
				"previewnet": 1.0,
			},
			SizeMultiplier: 2,
		},
		OpScheduleTransaction: {
			BaseCost: 10,
			Category: CategoryTransaction,
			NetworkMultipliers: map[string]float64{
				"mainnet":    1.5,
				"testnet":    1.0,
				"previewnet": 1.0,
			},
			SizeMultiplier: 2,
		},
		OpExecuteQuery: {
			BaseCost:       5,
			Category:       CategoryQuery,
			SizeMultiplier: 1,
		},
		OpGetAccountInfo: {
			BaseCost: 2,
			Category: CategoryQuery,
		},
		OpCreatePayment:         {Category: CategoryBilling},
		OpGetCreditBalance:      {Category: CategoryBilling},
		OpGetTransactionHistory: {Category: CategoryBilling},
		OpGetOperationCosts:     {Category: CategoryBilling},
		OpHealthCheck:           {Category: CategorySystem},
		OpGetServerInfo:         {Category: CategorySystem},
	}
}
