package symbols

import "strings"

// ToBinance converts a market name to the Binance USD-M futures symbol.
// Crypto Facilities perpetuals ("PI_XBTUSD") map to the USDT perpetual
// ("BTCUSDT"); Binance symbols pass through unchanged.
func ToBinance(market string) string {
	sym := strings.ToUpper(strings.TrimSpace(market))
	switch {
	case strings.HasPrefix(sym, "PI_"), strings.HasPrefix(sym, "PF_"):
		sym = sym[3:]
		if strings.HasSuffix(sym, "USD") {
			sym += "T"
		}
	default:
		sym = strings.NewReplacer("-", "", "/", "", "_", "").Replace(sym)
	}
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
