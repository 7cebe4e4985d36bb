package marketdata

import (
	"strings"

	"github.com/newthinker/arena/internal/core"
)

// DefaultWatchlist is the symbol universe used when a batch request names none.
var DefaultWatchlist = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "AMD", "NFLX", "JPM",
	"V", "MA", "UNH", "XOM", "KO", "PEP", "COST", "AVGO", "ORCL", "CRM",
	"SAP.DE", "ASML.AS", "0700.HK", "BTCUSDT", "ETHUSDT",
}

// SelectSymbols normalizes, de-duplicates and optionally restricts symbols
// to the US market. Order is preserved.
func SelectSymbols(symbols []string, usOnly bool) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		if usOnly && core.DetectMarket(s) != core.MarketUS {
			continue
		}
		out = append(out, s)
	}
	return out
}
