/*

This file contains price observation types.

*/

package types

import "time"

// PriceData is a single validated price observation served by the oracle.
type PriceData struct {
	Symbol     string    `json:"symbol"`
	PriceUSD   float64   `json:"price_usd"`
	ObservedAt time.Time `json:"observed_at"`
	Fallback   bool      `json:"fallback"` // True when the conservative fallback was served
}
