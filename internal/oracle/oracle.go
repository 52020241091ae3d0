/*

This file contains the price oracle: a background refresher with a circuit
breaker over the upstream feed. Readers never touch the network; they get the
last good price synchronously, or a documented conservative fallback if no
good price has ever been obtained.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/veridian-labs/lmt/internal/cache"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/types"
)

var oracleLogger = logger.GetForComponent("price_oracle")

// ErrStalePrice marks an update rejected by the circuit breaker. The oracle
// keeps serving the last good price; this is a flagged fallback state, not a
// failure of the read path.
var ErrStalePrice = errors.New("price update rejected by circuit breaker")

const (
	// DefaultRefreshInterval matches the price cache TTL so readers rarely
	// observe an expired entry.
	DefaultRefreshInterval = 15 * time.Second

	// DefaultBreakerThreshold rejects any single update that moves more
	// than 50% relative to the last good price.
	DefaultBreakerThreshold = 0.5

	// ConservativeFallbackPriceUSD is served when no good price has ever
	// been obtained. Deliberately near zero so anything valued with it is
	// underestimated rather than inflated.
	ConservativeFallbackPriceUSD = 0.000001
)

// Config bundles the oracle dependencies.
type Config struct {
	Feed             Feed
	Symbols          []string
	RefreshInterval  time.Duration // 0 means DefaultRefreshInterval
	BreakerThreshold float64       // 0 means DefaultBreakerThreshold
	Cache            *cache.DataCache
}

// Oracle tracks one validated USD price per configured symbol.
type Oracle struct {
	feed      Feed
	symbols   []string
	interval  time.Duration
	threshold float64
	cache     *cache.DataCache

	mu     sync.RWMutex
	prices map[string]types.PriceData
	trips  map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the configuration and builds an Oracle. Start must be called
// before prices refresh.
func New(cfg Config) (*Oracle, error) {
	if cfg.Feed == nil {
		return nil, errors.New("oracle requires a price feed")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("oracle requires at least one symbol")
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerThreshold < 0 || math.IsNaN(cfg.BreakerThreshold) {
		return nil, fmt.Errorf("invalid breaker threshold: %f", cfg.BreakerThreshold)
	}

	return &Oracle{
		feed:      cfg.Feed,
		symbols:   append([]string(nil), cfg.Symbols...),
		interval:  cfg.RefreshInterval,
		threshold: cfg.BreakerThreshold,
		cache:     cfg.Cache,
		prices:    make(map[string]types.PriceData),
		trips:     make(map[string]int),
	}, nil
}

// Start primes the oracle with one synchronous refresh, then keeps prices
// warm on a background ticker until Stop or context cancellation.
func (o *Oracle) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	o.refreshAll(runCtx)

	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				o.refreshAll(runCtx)
			}
		}
	}()
}

// Stop halts the background refresh and waits for it to exit.
func (o *Oracle) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

// CurrentPrice returns the last good USD price for a symbol without blocking.
// If no good price has ever been obtained it returns the conservative
// fallback constant.
func (o *Oracle) CurrentPrice(symbol string) float64 {
	return o.CurrentPriceData(symbol).PriceUSD
}

// CurrentPriceData returns the full price observation, flagged when the
// fallback constant is being served.
func (o *Oracle) CurrentPriceData(symbol string) types.PriceData {
	o.mu.RLock()
	data, ok := o.prices[symbol]
	o.mu.RUnlock()
	if ok {
		return data
	}
	return types.PriceData{
		Symbol:     symbol,
		PriceUSD:   ConservativeFallbackPriceUSD,
		ObservedAt: time.Time{},
		Fallback:   true,
	}
}

// BreakerTrips returns how many updates for a symbol the breaker rejected.
func (o *Oracle) BreakerTrips(symbol string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.trips[symbol]
}

func (o *Oracle) refreshAll(ctx context.Context) {
	for _, symbol := range o.symbols {
		if ctx.Err() != nil {
			return
		}
		price, err := o.feed.SpotPrice(ctx, symbol)
		if err != nil {
			oracleLogger.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("Price refresh failed, keeping last good price")
			continue
		}
		if err := o.accept(symbol, price); err != nil {
			oracleLogger.Warn().
				Err(err).
				Str("symbol", symbol).
				Float64("rejected", price).
				Msg("Circuit breaker tripped")
		}
	}
}

// accept applies the circuit breaker to a validated upstream price. The
// first price for a symbol is taken as the baseline; afterwards any update
// whose relative change exceeds the threshold is rejected.
func (o *Oracle) accept(symbol string, price float64) error {
	if err := validatePrice(price); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPriceData, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	last, ok := o.prices[symbol]
	if ok {
		relChange := math.Abs(price-last.PriceUSD) / last.PriceUSD
		if relChange > o.threshold {
			o.trips[symbol]++
			return fmt.Errorf("%w: %s moved %.1f%% against last good %.6f",
				ErrStalePrice, symbol, relChange*100, last.PriceUSD)
		}
	}

	data := types.PriceData{
		Symbol:     symbol,
		PriceUSD:   price,
		ObservedAt: time.Now(),
	}
	o.prices[symbol] = data
	if o.cache != nil {
		o.cache.Set("price:"+symbol, data, cache.PriceTTL)
	}
	return nil
}
