package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

var (
	ErrZeroQuantity     = errors.New("quantity rounds to zero")
	ErrBelowMinNotional = errors.New("notional below minimum")
	ErrNonPositivePrice = errors.New("limit price is not positive")
)

// Accounts - чтение балансов и шагов лота по биржам.
// Отсутствующий баланс читается как 0.
type Accounts interface {
	Balance(exchange, asset string) float64
	LotStep(exchange, symbol string) float64
}

// SizingConfig - параметры расчёта объёма
type SizingConfig struct {
	PriceOffset     float64 // ask+offset на покупку, bid-offset на продажу
	BalanceFraction float64 // доля котируемого баланса на одну сделку
	MinNotional     float64 // минимальный объём ноги в USDT
}

// BaseAsset - базовый актив канонического символа (BTCUSDT -> BTC)
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, models.QuoteAsset)
}

// SizeDeal рассчитывает пару лимитных ордеров для сделки.
//
// Объём = min(quote*fraction/buyPrice, base на бирже продажи, askQty, bidQty),
// округлённый вниз до более грубого шага лота из двух бирж. Каждая нога
// должна быть не меньше MinNotional, иначе сделка не исполняется.
func SizeDeal(deal models.Deal, acc Accounts, cfg SizingConfig, now time.Time) (buy, sell models.OrderEvent, err error) {
	symbol := deal.TradingPair
	buyEx, sellEx := deal.BuyAt.Exchange, deal.SellAt.Exchange

	buyPrice := deal.BuyAt.Ask + cfg.PriceOffset
	sellPrice := deal.SellAt.Bid - cfg.PriceOffset
	if buyPrice <= 0 || sellPrice <= 0 {
		return buy, sell, fmt.Errorf("%w: buy %v sell %v", ErrNonPositivePrice, buyPrice, sellPrice)
	}

	quote := acc.Balance(buyEx, models.QuoteAsset)
	base := acc.Balance(sellEx, BaseAsset(symbol))

	qty := utils.Min(
		quote*cfg.BalanceFraction/buyPrice,
		base,
		deal.BuyAt.AskQty,
		deal.SellAt.BidQty,
	)
	step := utils.CoarserStep(acc.LotStep(buyEx, symbol), acc.LotStep(sellEx, symbol))
	qty = utils.RoundToLotSize(qty, step)
	if qty <= 0 {
		return buy, sell, fmt.Errorf("%w: quote %v base %v", ErrZeroQuantity, quote, base)
	}

	if qty*buyPrice < cfg.MinNotional || qty*sellPrice < cfg.MinNotional {
		return buy, sell, fmt.Errorf("%w: %v x %v", ErrBelowMinNotional, qty, buyPrice)
	}

	buy = models.OrderEvent{
		ID:        utils.NumericIDAt(now),
		DealID:    deal.ID,
		Exchange:  buyEx,
		Type:      models.OrderBuy,
		Symbol:    symbol,
		Amount:    qty,
		Price:     buyPrice,
		Timestamp: now,
	}
	sell = models.OrderEvent{
		ID:        utils.NumericIDAt(now),
		DealID:    deal.ID,
		Exchange:  sellEx,
		Type:      models.OrderSell,
		Symbol:    symbol,
		Amount:    qty,
		Price:     sellPrice,
		Timestamp: now,
	}
	return buy, sell, nil
}
