package binance

import (
	"regexp"
	"strings"

	"github.com/newthinker/arena/internal/core"
)

// Common quote currencies in order of priority for detection
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}

var validCryptoSymbol = regexp.MustCompile(`^[A-Za-z0-9]{2,20}$`)

// NormalizeSymbol converts various input formats to a Binance pair.
// "BTC", "btc-usdt", "BTC/USDT" and "BTC-USD" all become "BTCUSDT".
func NormalizeSymbol(input string, defaultQuote string) string {
	if input == "" {
		return ""
	}

	s := strings.ToUpper(input)
	// fiat-quoted pairs trade against the stablecoin
	if strings.HasSuffix(s, "-USD") {
		s = strings.TrimSuffix(s, "-USD") + "USDT"
	}
	s = strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s
		}
	}

	return s + strings.ToUpper(defaultQuote)
}

// ValidateSymbol checks if a symbol has valid format
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return core.Errorf(core.ErrSymbolInvalid, "symbol cannot be empty")
	}
	if len(symbol) > 30 {
		return core.Errorf(core.ErrSymbolInvalid, "symbol too long: %s", symbol)
	}

	s := strings.NewReplacer("-", "", "/", "", "_", "").Replace(symbol)
	if !validCryptoSymbol.MatchString(s) {
		return core.Errorf(core.ErrSymbolInvalid, "invalid symbol format: %s", symbol)
	}
	return nil
}
