package bot

import (
	"errors"
	"fmt"
	"time"

	"spotarb/internal/models"
)

var (
	ErrSymbolMismatch = errors.New("trading pairs must be the same")
	ErrSameExchange   = errors.New("exchanges must be different")
)

// ============================================================
// Сравнение котировок двух бирж
// ============================================================

// ComparePrices ищет арбитраж между двумя котировками одной пары.
//
// Возвращает nil без ошибки, если арбитража нет или котировки
// разнесены во времени больше чем на maxSkew. Считаются оба направления
// и берётся большая положительная прибыль: при перевёрнутом стакане
// (bid > ask) прибыльны могут быть оба.
func ComparePrices(a, b models.TickerEvent, maxSkew time.Duration, now time.Time) (*models.Deal, error) {
	if a.Symbol != b.Symbol {
		return nil, fmt.Errorf("%w: %s vs %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	if a.Exchange == b.Exchange {
		return nil, fmt.Errorf("%w: %s", ErrSameExchange, a.Exchange)
	}

	profitAB := b.Bid - a.Ask // купить на a, продать на b
	profitBA := a.Bid - b.Ask
	if profitAB <= 0 && profitBA <= 0 {
		return nil, nil
	}

	// при равной прибыли порядок аргументов не должен влиять на результат
	buyAt, sellAt := a, b
	if profitBA > profitAB || (profitBA == profitAB && b.Exchange < a.Exchange) {
		buyAt, sellAt = b, a
	}

	skew := a.Timestamp.Sub(b.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return nil, nil
	}

	profit := sellAt.Bid - buyAt.Ask
	if profit <= 0 || buyAt.Ask <= 0 {
		return nil, nil
	}

	return &models.Deal{
		TradingPair: a.Symbol,
		Timestamp:   now,
		Spread:      profit,
		Margin:      profit / buyAt.Ask * 100,
		BuyAt:       buyAt,
		SellAt:      sellAt,
	}, nil
}

// ============================================================
// Гистерезис лучшей сделки
// ============================================================

// Thresholds - пороги замены удерживаемой сделки
type Thresholds struct {
	MinMargin float64       // %, строго больше
	Cooldown  time.Duration // от последней исполненной сделки
}

// Verdict - результат Challenge
type Verdict struct {
	Retain  bool // кандидат становится лучшей сделкой
	Trade   bool // маржа выше порога: нужно исполнить
	IsFirst bool
}

// Challenge решает судьбу кандидата против удерживаемой сделки.
//
// Первая сделка по паре удерживается всегда. Дальше замена только при
// марже выше MinMargin и если с lastTrade прошло больше Cooldown.
// Нулевой lastTrade значит, что по паре ещё не торговали.
// При замене счётчики переносятся в candidate, а при торговле сделка
// засчитывается в итоги.
func Challenge(retained, candidate *models.Deal, lastTrade time.Time, th Thresholds) Verdict {
	var v Verdict
	if retained == nil {
		v.Retain = true
		v.IsFirst = true
	} else if candidate.Margin > th.MinMargin && cooledDown(candidate.Timestamp, lastTrade, th.Cooldown) {
		v.Retain = true
		candidate.TotalTrades = retained.TotalTrades
		candidate.TotalMargins = append([]float64(nil), retained.TotalMargins...)
		candidate.TotalProfit = retained.TotalProfit
	}

	if v.Retain && candidate.Margin > th.MinMargin {
		v.Trade = true
		candidate.TotalTrades++
		candidate.TotalMargins = append(candidate.TotalMargins, candidate.Margin)
		candidate.TotalProfit += candidate.Spread
	}
	return v
}

func cooledDown(now, lastTrade time.Time, cooldown time.Duration) bool {
	return lastTrade.IsZero() || now.Sub(lastTrade) > cooldown
}
