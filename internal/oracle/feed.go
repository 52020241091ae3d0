/*
This file is used to fetch spot prices from the CryptoCompare API.

Reward values and position appraisals depend on these prices, so every
response is strictly validated before it is allowed anywhere near the
circuit breaker.
*/

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/veridian-labs/lmt/internal/config"
	"github.com/veridian-labs/lmt/internal/logger"
)

var feedLogger = logger.GetForComponent("price_feed")

var ErrInvalidPriceData = errors.New("invalid price data received")

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 10
)

// Feed is the upstream price source. Implementations must return a finite,
// positive USD price or an error.
type Feed interface {
	SpotPrice(ctx context.Context, symbol string) (float64, error)
}

// CryptoCompareFeed fetches spot prices from the CryptoCompare price API.
type CryptoCompareFeed struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCryptoCompareFeed builds a feed against the given base URL. The API key
// is read from the CRYPTOCOMPARE_API environment variable and is optional
// for the public rate tier.
func NewCryptoCompareFeed(baseURL string) *CryptoCompareFeed {
	return &CryptoCompareFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv("CRYPTOCOMPARE_API"),
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}
}

// SpotPrice fetches the current USD price for a symbol, retrying transient
// failures with a linear backoff before giving up.
func (f *CryptoCompareFeed) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	ccid := config.CCIdForSymbol(strings.TrimSpace(strings.ToUpper(symbol)))

	url := fmt.Sprintf("%s/data/price?fsym=%s&tsyms=USD", f.baseURL, ccid)
	if f.apiKey != "" {
		url += "&api_key=" + f.apiKey
	}

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		price, err := f.fetchOnce(ctx, url, ccid)
		if err == nil {
			return price, nil
		}
		lastErr = err

		feedLogger.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Price fetch failed, will retry if attempts remain")

		if attempt < MAX_RETRIES {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return 0, fmt.Errorf("failed to fetch price for %s after %d attempts: %w", symbol, MAX_RETRIES, lastErr)
}

func (f *CryptoCompareFeed) fetchOnce(ctx context.Context, url, ccid string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API returned status %d for %s", resp.StatusCode, ccid)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return 0, fmt.Errorf("empty response body for %s", ccid)
	}

	var parsed map[string]float64
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse response for %s: %w", ccid, err)
	}

	price, ok := parsed["USD"]
	if !ok {
		return 0, fmt.Errorf("%w: no USD price in response for %s", ErrInvalidPriceData, ccid)
	}
	if err := validatePrice(price); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidPriceData, ccid, err)
	}
	return price, nil
}

// validatePrice rejects non-finite and non-positive prices.
func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("price is not finite: %f", price)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive: %f", price)
	}
	return nil
}
