package models

import "time"

// EventKind - тип события на шине
type EventKind string

const (
	KindTicker   EventKind = "ticker"
	KindOrder    EventKind = "order"
	KindTransfer EventKind = "transfer"
)

// Event - всё, что публикуется на шину.
// Source задаёт FIFO-порядок: события одного источника не переставляются.
type Event interface {
	Kind() EventKind
	Source() string
}

// QuoteAsset - единая котируемая валюта канонических символов
const QuoteAsset = "USDT"

// TickerEvent - нормализованный top-of-book одной биржи.
// Значение неизменяемое, передаётся по значению.
type TickerEvent struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"` // канонический, например BTCUSDT
	Timestamp time.Time `json:"timestamp"`
	Bid       float64   `json:"bid"`
	BidQty    float64   `json:"bid_qty"`
	Ask       float64   `json:"ask"`
	AskQty    float64   `json:"ask_qty"`
}

func (e TickerEvent) Kind() EventKind { return KindTicker }
func (e TickerEvent) Source() string  { return e.Exchange }

// Valid - обе стороны стакана положительны
func (e TickerEvent) Valid() bool {
	return e.Bid > 0 && e.Ask > 0 && e.BidQty >= 0 && e.AskQty >= 0
}

// OrderType - сторона лимитного ордера
type OrderType string

const (
	OrderBuy  OrderType = "BUY"
	OrderSell OrderType = "SELL"
)

// OrderEvent - намерение выставить лимитный ордер.
// Отправляется один раз, подтверждение не отслеживается.
type OrderEvent struct {
	ID        int64     `json:"id"`
	DealID    string    `json:"deal_id,omitempty"`
	Exchange  string    `json:"exchange"`
	Type      OrderType `json:"type"`
	Symbol    string    `json:"symbol"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (e OrderEvent) Kind() EventKind { return KindOrder }
func (e OrderEvent) Source() string  { return e.Exchange }

// Notional - объём в котируемой валюте
func (e OrderEvent) Notional() float64 {
	return e.Amount * e.Price
}

// TransferEvent - вывод актива на адрес другой биржи
type TransferEvent struct {
	ID           int64     `json:"id"`
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"` // актив: BTC, USDT
	Amount       float64   `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
	ToAddress    string    `json:"to_address"`
	ToAddressTag string    `json:"to_address_tag,omitempty"`
}

func (e TransferEvent) Kind() EventKind { return KindTransfer }
func (e TransferEvent) Source() string  { return e.Exchange }

// OrderBookLevel - уровень локального стакана биржи
type OrderBookLevel struct {
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
