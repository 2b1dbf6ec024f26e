package models

import "time"

// Deal - арбитражная возможность по одной паре.
// Лучшая сделка по паре хранится движком для гистерезиса.
type Deal struct {
	ID           string      `json:"id"`
	TradingPair  string      `json:"trading_pair"`
	Timestamp    time.Time   `json:"timestamp"`
	Spread       float64     `json:"spread"`     // sellAt.Bid - buyAt.Ask
	Margin       float64     `json:"margin_pct"` // spread / buyAt.Ask * 100
	TotalMargins []float64   `json:"total_margins"`
	TotalTrades  int         `json:"total_trades"`
	TotalProfit  float64     `json:"total_profit"`
	BuyAt        TickerEvent `json:"buy_at"`
	SellAt       TickerEvent `json:"sell_at"`
}

// AvgMargin - средняя маржа по совершённым сделкам
func (d *Deal) AvgMargin() float64 {
	if len(d.TotalMargins) == 0 {
		return 0
	}
	var sum float64
	for _, m := range d.TotalMargins {
		sum += m
	}
	return sum / float64(len(d.TotalMargins))
}

// Clone - глубокая копия для выдачи наружу из-под блокировки
func (d *Deal) Clone() Deal {
	c := *d
	c.TotalMargins = append([]float64(nil), d.TotalMargins...)
	return c
}
