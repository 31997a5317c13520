// Package currency converts reference prices into payment-rail units.
package currency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultTTL = 10 * time.Minute

// Fetcher retrieves the current price of base expressed in quote.
type Fetcher interface {
	FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

type pair struct {
	base, quote string
}

type entry struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// Oracle caches rates per pair for a fixed TTL. It never serves an expired
// entry: when a refresh fails the conversion is unpriceable.
type Oracle struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[pair]entry
}

type Option func(*Oracle)

func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(o *Oracle) { o.ttl = ttl }
}

func NewOracle(fetcher Fetcher, opts ...Option) *Oracle {
	o := &Oracle{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[pair]entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Rate returns the price of base in quote. ok is false when no fresh value
// is cached and the fetch failed or returned a non-positive rate.
func (o *Oracle) Rate(ctx context.Context, base, quote string) (rate decimal.Decimal, ok bool) {
	key := pair{base: base, quote: quote}

	o.mu.RLock()
	cached, found := o.entries[key]
	o.mu.RUnlock()
	if found && o.now().Sub(cached.fetchedAt) < o.ttl {
		return cached.value, true
	}

	value, err := o.fetcher.FetchRate(ctx, base, quote)
	if err != nil {
		slog.Error("rate fetch failed", "base", base, "quote", quote, "error", err)
		return decimal.Zero, false
	}
	if !value.IsPositive() {
		slog.Error("rate fetch returned non-positive value", "base", base, "quote", quote, "value", value.String())
		return decimal.Zero, false
	}

	// Concurrent misses may both fetch; the last write wins.
	o.mu.Lock()
	o.entries[key] = entry{value: value, fetchedAt: o.now()}
	o.mu.Unlock()

	return value, true
}
