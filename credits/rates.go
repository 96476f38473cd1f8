package credits

import (
	"context"
	"sync"
	"time"
)

// rateCache puts a short TTL in front of the rate oracle so that bursts
// of payment processing don't hammer it, and so createPayment and the
// reconciler price against the same rate within a window.
type rateCache struct {
	oracle RateOracle
	ttl    time.Duration

	mu        sync.Mutex
	rate      float64
	fetchedAt time.Time
}

func newRateCache(oracle RateOracle, ttl time.Duration) *rateCache {
	return &rateCache{oracle: oracle, ttl: ttl}
}

// usdPerHbar returns the cached rate, refreshing it once the TTL has
// passed. When a refresh fails but an earlier rate is known, the stale
// rate is served with a warning; the call only errors with a cold cache.
func (c *rateCache) usdPerHbar(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		return c.rate, nil
	}

	rate, err := c.oracle.HbarToUSD(ctx)
	if err != nil {
		if !c.fetchedAt.IsZero() {
			log.WithError(err).WithField("staleRate", c.rate).
				Warn("Rate oracle failed, serving stale exchange rate")
			return c.rate, nil
		}
		return 0, err
	}

	c.rate = rate
	c.fetchedAt = time.Now()
	return rate, nil
}
