package models

import (
	"math"
	"testing"
	"time"
)

func TestEvents_KindAndSource(t *testing.T) {
	tests := []struct {
		name   string
		ev     Event
		kind   EventKind
		source string
	}{
		{"ticker", TickerEvent{Exchange: "BINANCE"}, KindTicker, "BINANCE"},
		{"order", OrderEvent{Exchange: "BITFINEX"}, KindOrder, "BITFINEX"},
		{"transfer", TransferEvent{Exchange: "BINANCE"}, KindTransfer, "BINANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ev.Kind() != tt.kind {
				t.Errorf("Kind = %s, want %s", tt.ev.Kind(), tt.kind)
			}
			if tt.ev.Source() != tt.source {
				t.Errorf("Source = %s, want %s", tt.ev.Source(), tt.source)
			}
		})
	}
}

func TestTickerEvent_Valid(t *testing.T) {
	tests := []struct {
		name string
		ev   TickerEvent
		want bool
	}{
		{"normal", TickerEvent{Bid: 100, Ask: 101, BidQty: 1, AskQty: 1}, true},
		{"zero bid", TickerEvent{Bid: 0, Ask: 101}, false},
		{"negative qty", TickerEvent{Bid: 100, Ask: 101, BidQty: -1}, false},
	}
	for _, tt := range tests {
		if got := tt.ev.Valid(); got != tt.want {
			t.Errorf("%s: Valid = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDeal_AvgMarginAndClone(t *testing.T) {
	d := Deal{TotalMargins: []float64{0.3, 0.5}}
	if got := d.AvgMargin(); math.Abs(got-0.4) > 1e-12 {
		t.Errorf("AvgMargin = %v, want 0.4", got)
	}
	if (&Deal{}).AvgMargin() != 0 {
		t.Error("AvgMargin of empty deal should be 0")
	}

	c := d.Clone()
	c.TotalMargins[0] = 9
	if d.TotalMargins[0] != 0.3 {
		t.Error("Clone shares TotalMargins with the original")
	}
}

func TestIntentRecords(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	o := NewOrderIntent(OrderEvent{ID: 7, DealID: "d", Exchange: "BINANCE", Type: OrderSell, Symbol: "BTCUSDT", Amount: 0.5, Price: 100, Timestamp: ts})
	if o.Side != "SELL" || o.Status != IntentStatusSent || o.CreatedAt != ts {
		t.Errorf("order intent = %+v", o)
	}

	tr := NewTransferIntent(TransferEvent{ID: 8, Exchange: "BITFINEX", Symbol: "XRP", ToAddress: "rAddr", ToAddressTag: "42"}, "w-1")
	if tr.Side != SideTransfer || tr.Destination != "rAddr#42" || tr.ExternalID != "w-1" {
		t.Errorf("transfer intent = %+v", tr)
	}

	if (OrderEvent{Amount: 2, Price: 3}).Notional() != 6 {
		t.Error("Notional mismatch")
	}
}
