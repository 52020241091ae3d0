/*

Crypto Compare is used for spot price data.

This file contains the mapping of coin symbols to their corresponding Crypto Compare ID.
Currently most coin symbols are the same as the Crypto Compare ID.

If a coin doesnt have an entry here it will by default use the symbol as the CCID. Because odds are it will work.

But for best practices try to keep this up to date.
It exists JUST IN CASE a coins symbol is different from the Crypto Compare ID.

*/

package config

var (
	CoinToCCId = map[string]string{
		"WETH": "ETH",
		"WBTC": "WBTC",
		"USDC": "USDC",
		"USDT": "USDT",
		"DAI":  "DAI",
		"ARB":  "ARB",
		"OP":   "OP",

		"WRAPPED BITCOIN":  "WBTC", // This is for TESTNET compatibility
		"WRAPPED ETHEREUM": "ETH",  // This is for TESTNET compatibility
	}
)

// CCIdForSymbol resolves a coin symbol to its Crypto Compare ID, falling back
// to the symbol itself when no mapping exists.
func CCIdForSymbol(symbol string) string {
	if id, ok := CoinToCCId[symbol]; ok {
		return id
	}
	return symbol
}
