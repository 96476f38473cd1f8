// Package pricing turns HBAR payments into credits and operation names
// into credit costs. Everything here is a pure function over a Config
// value, so the credit manager, the payment builder and the API always
// agree on prices.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
)

var log = build.AddSubLogger("PRIC")

// PurchaseTier is a bracket in the purchase pricing table. Credits up to
// the next tier's MinCredits are bought at this tier's rate.
type PurchaseTier struct {
	MinCredits    int64
	CreditsPerUSD float64
}

// LoyaltyTier gives a discount on operation costs once an account's
// cumulative consumption passes MinConsumed.
type LoyaltyTier struct {
	MinConsumed     int64
	DiscountPercent int64
}

// Config is the static pricing policy. Tiers are ordered ascending by
// MinCredits, LoyaltyTiers ascending by MinConsumed.
type Config struct {
	CreditsPerUSD       float64
	Tiers               []PurchaseTier
	BulkThreshold       int
	BulkDiscountPercent int64
	PeakStartHour       int
	PeakEndHour         int
	PeakMultiplier      float64
	LoyaltyTiers        []LoyaltyTier
	Catalog             map[string]Cost
	DefaultNetwork      string
}

// CostOptions carry the per-invocation inputs to OperationCost.
type CostOptions struct {
	Network       string
	PayloadKB     float64
	Bulk          bool
	BatchSize     int
	TotalConsumed int64
	At            time.Time
}

// DefaultConfig returns the standard pricing policy: purchases get more
// credits per USD the larger they are, bulk batches of 10 or more get
// 10% off, operations cost 25% extra during the 14-22 UTC peak window,
// and heavy consumers earn growing loyalty discounts.
func DefaultConfig(creditsPerUSD float64, network string) Config {
	return Config{
		CreditsPerUSD: creditsPerUSD,
		Tiers: []PurchaseTier{
			{MinCredits: 0, CreditsPerUSD: creditsPerUSD},
			{MinCredits: 100_000, CreditsPerUSD: creditsPerUSD * 1.1},
			{MinCredits: 500_000, CreditsPerUSD: creditsPerUSD * 1.25},
		},
		BulkThreshold:       10,
		BulkDiscountPercent: 10,
		PeakStartHour:       14,
		PeakEndHour:         22,
		PeakMultiplier:      1.25,
		LoyaltyTiers: []LoyaltyTier{
			{MinConsumed: 10_000, DiscountPercent: 5},
			{MinConsumed: 100_000, DiscountPercent: 10},
			{MinConsumed: 1_000_000, DiscountPercent: 15},
		},
		Catalog:        DefaultCatalog(),
		DefaultNetwork: network,
	}
}

// tiers returns the purchase tiers, falling back to a single implicit
// tier at the base conversion rate when none are configured.
func (c Config) tiers() []PurchaseTier {
	if len(c.Tiers) == 0 {
		return []PurchaseTier{{MinCredits: 0, CreditsPerUSD: c.CreditsPerUSD}}
	}
	return c.Tiers
}

// CreditsForAmount converts a payment amount into credits at the given
// HBAR to USD rate. The USD value is consumed tier by tier, cheaper
// tiers first, and the result is floored to a whole credit. Non-positive
// amounts or rates yield 0.
func CreditsForAmount(conf Config, amount hbar.Amount, rate float64) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}

	usd := amount.Decimal().Mul(decimal.NewFromFloat(rate))
	credits := decimal.Zero

	tiers := conf.tiers()
	for i, tier := range tiers {
		perUSD := decimal.NewFromFloat(tier.CreditsPerUSD)
		if perUSD.Sign() <= 0 {
			continue
		}

		if i+1 < len(tiers) {
			capacity := decimal.NewFromInt(tiers[i+1].MinCredits - tier.MinCredits)
			usdForTier := capacity.Div(perUSD)
			if usd.GreaterThanOrEqual(usdForTier) {
				credits = credits.Add(capacity)
				usd = usd.Sub(usdForTier)
				continue
			}
		}

		credits = credits.Add(usd.Mul(perUSD))
		break
	}

	return credits.Floor().IntPart()
}

// AmountForCredits is the inverse walk: the HBAR amount that buys the
// given number of credits at the given rate, rounded up to a whole
// tinybar. AmountForCredits(CreditsForAmount(x)) never exceeds x.
func AmountForCredits(conf Config, credits int64, rate float64) hbar.Amount {
	if credits <= 0 || rate <= 0 {
		return 0
	}

	remaining := decimal.NewFromInt(credits)
	usd := decimal.Zero

	tiers := conf.tiers()
	for i, tier := range tiers {
		perUSD := decimal.NewFromFloat(tier.CreditsPerUSD)
		if perUSD.Sign() <= 0 {
			continue
		}

		take := remaining
		if i+1 < len(tiers) {
			capacity := decimal.NewFromInt(tiers[i+1].MinCredits - tier.MinCredits)
			if take.GreaterThan(capacity) {
				take = capacity
			}
		}

		usd = usd.Add(take.Div(perUSD))
		remaining = remaining.Sub(take)
		if remaining.Sign() <= 0 {
			break
		}
	}

	hbars := usd.Div(decimal.NewFromFloat(rate))
	tinybar := hbars.Mul(decimal.NewFromInt(hbar.TinybarPerHbar)).Ceil()
	return hbar.FromTinybar(tinybar.IntPart())
}

// OperationCost prices a single invocation of the named operation.
// Modifiers compose in a fixed order - network class, payload size,
// bulk, loyalty, peak hours - because ceiling-rounding makes the order
// part of the contract. Unknown operations are free: the transport layer
// may expose admin-only names that are not in the catalog.
func OperationCost(conf Config, name string, opts CostOptions) int64 {
	cost, ok := conf.Catalog[name]
	if !ok {
		log.WithField("operation", name).Warn("Cost lookup for unknown operation, treating as free")
		return 0
	}

	result := decimal.NewFromInt(cost.BaseCost)

	// 1. network class
	network := opts.Network
	if network == "" {
		network = conf.DefaultNetwork
	}
	if mult, ok := cost.NetworkMultipliers[network]; ok {
		result = result.Mul(decimal.NewFromFloat(mult))
	}

	// 2. payload size, additive
	if opts.PayloadKB > 0 && cost.SizeMultiplier > 0 {
		size := decimal.NewFromFloat(opts.PayloadKB).Mul(decimal.NewFromFloat(cost.SizeMultiplier))
		result = result.Add(size)
	}

	// 3. bulk discount
	bulk := opts.Bulk || (conf.BulkThreshold > 0 && opts.BatchSize >= conf.BulkThreshold)
	if bulk && conf.BulkDiscountPercent > 0 {
		result = result.Mul(decimal.NewFromInt(100 - conf.BulkDiscountPercent)).
			Div(decimal.NewFromInt(100))
	}

	// 4. loyalty, highest threshold the account has reached
	for i := len(conf.LoyaltyTiers) - 1; i >= 0; i-- {
		tier := conf.LoyaltyTiers[i]
		if opts.TotalConsumed >= tier.MinConsumed {
			result = result.Mul(decimal.NewFromInt(100 - tier.DiscountPercent)).
				Div(decimal.NewFromInt(100))
			break
		}
	}

	// 5. peak hours, [start, end) in UTC
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	hour := at.UTC().Hour()
	if conf.PeakMultiplier > 0 && conf.PeakStartHour <= hour && hour < conf.PeakEndHour {
		result = result.Mul(decimal.NewFromFloat(conf.PeakMultiplier))
	}

	final := result.Ceil().IntPart()
	if final < 0 {
		return 0
	}
	return final
}
