package models

import "time"

// DealRecord - строка таблицы deals
type DealRecord struct {
	ID           string    `json:"id" db:"id"`
	TradingPair  string    `json:"trading_pair" db:"trading_pair"`
	BuyExchange  string    `json:"buy_exchange" db:"buy_exchange"`
	SellExchange string    `json:"sell_exchange" db:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price" db:"buy_price"`
	SellPrice    float64   `json:"sell_price" db:"sell_price"`
	Spread       float64   `json:"spread" db:"spread"`
	Margin       float64   `json:"margin_pct" db:"margin_pct"`
	TotalTrades  int       `json:"total_trades" db:"total_trades"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// IntentRecord - отправленный ордер или перевод
type IntentRecord struct {
	ID           int64     `json:"id" db:"id"`
	DealID       string    `json:"deal_id,omitempty" db:"deal_id"`
	Exchange     string    `json:"exchange" db:"exchange"`
	Side         string    `json:"side" db:"side"` // BUY, SELL или TRANSFER
	Symbol       string    `json:"symbol" db:"symbol"`
	Amount       float64   `json:"amount" db:"amount"`
	Price        float64   `json:"price" db:"price"`
	Destination  string    `json:"destination,omitempty" db:"destination"`
	ExternalID   string    `json:"external_id,omitempty" db:"external_id"`
	Status       string    `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Статусы намерений
const (
	IntentStatusSent     = "sent"
	IntentStatusFailed   = "failed"
	IntentStatusRejected = "rejected"
)

// SideTransfer - значение Side для переводов
const SideTransfer = "TRANSFER"

// NewDealRecord переводит Deal в строку журнала
func NewDealRecord(d Deal) DealRecord {
	return DealRecord{
		ID:           d.ID,
		TradingPair:  d.TradingPair,
		BuyExchange:  d.BuyAt.Exchange,
		SellExchange: d.SellAt.Exchange,
		BuyPrice:     d.BuyAt.Ask,
		SellPrice:    d.SellAt.Bid,
		Spread:       d.Spread,
		Margin:       d.Margin,
		TotalTrades:  d.TotalTrades,
		CreatedAt:    d.Timestamp,
	}
}

// NewOrderIntent - запись журнала для ордера
func NewOrderIntent(o OrderEvent) IntentRecord {
	return IntentRecord{
		ID:        o.ID,
		DealID:    o.DealID,
		Exchange:  o.Exchange,
		Side:      string(o.Type),
		Symbol:    o.Symbol,
		Amount:    o.Amount,
		Price:     o.Price,
		Status:    IntentStatusSent,
		CreatedAt: o.Timestamp,
	}
}

// NewTransferIntent - запись журнала для перевода
func NewTransferIntent(t TransferEvent, externalID string) IntentRecord {
	dest := t.ToAddress
	if t.ToAddressTag != "" {
		dest += "#" + t.ToAddressTag
	}
	return IntentRecord{
		ID:          t.ID,
		Exchange:    t.Exchange,
		Side:        SideTransfer,
		Symbol:      t.Symbol,
		Amount:      t.Amount,
		Destination: dest,
		ExternalID:  externalID,
		Status:      IntentStatusSent,
		CreatedAt:   t.Timestamp,
	}
}

// DepositAddress - адрес пополнения актива на бирже (цель ребаланса)
type DepositAddress struct {
	Exchange string `json:"exchange"`
	Asset    string `json:"asset"`
	Address  string `json:"address"`
	Tag      string `json:"tag,omitempty"`
}
