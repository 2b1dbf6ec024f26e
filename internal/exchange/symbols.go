package exchange

import (
	"strings"

	"spotarb/internal/models"
)

// Котировки, которые приводятся к единому USDT.
// Порядок важен: USDT проверяется раньше UST и USD.
var quoteAliases = []string{"USDT", "UST", "USD"}

// CanonicalSymbol переводит символ биржи в форму {BASE}USDT.
//
//	BTC-USDT, BTC/USD, BTC:USDT, BTCUST, btcusdt -> BTCUSDT
func CanonicalSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", malformed("empty symbol")
	}

	if i := strings.IndexAny(s, "-:/_"); i >= 0 {
		base, quote := s[:i], s[i+1:]
		if base == "" || !isQuoteAlias(quote) {
			return "", malformed("unsupported symbol %q", raw)
		}
		return base + models.QuoteAsset, nil
	}

	for _, q := range quoteAliases {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q) + models.QuoteAsset, nil
		}
	}
	return "", malformed("unsupported symbol %q", raw)
}

func isQuoteAlias(q string) bool {
	for _, a := range quoteAliases {
		if q == a {
			return true
		}
	}
	return false
}

// BaseAsset - базовый актив канонического символа (BTCUSDT -> BTC)
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, models.QuoteAsset)
}

// CanonicalAsset нормализует тикер актива из кошелька (Bitfinex UST -> USDT).
// Нормализация выполняется при приёме, до записи баланса,
// поэтому и запись, и чтение баланса идут по каноническому имени.
func CanonicalAsset(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if a == "UST" {
		return models.QuoteAsset
	}
	return a
}

// legAsset - актив, который тратит ордер: USDT для BUY, базовый для SELL
func legAsset(order models.OrderEvent) string {
	if order.Type == models.OrderBuy {
		return models.QuoteAsset
	}
	return BaseAsset(order.Symbol)
}
