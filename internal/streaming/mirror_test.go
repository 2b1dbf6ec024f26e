package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"spotarb/internal/bus"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMirror(t *testing.T, tickers bool) (*Mirror, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := DefaultConfig()
	cfg.MirrorTickers = tickers
	return NewMirror(rdb, cfg, utils.NewNopLogger()), rdb
}

func TestMirrorOrdersAndTransfers(t *testing.T) {
	m, rdb := newTestMirror(t, false)
	ctx := context.Background()

	order := models.OrderEvent{
		ID: 20240301000001, DealID: "d-1", Exchange: "BINANCE", Type: models.OrderBuy,
		Symbol: "BTCUSDT", Amount: 0.5, Price: 100, Timestamp: testNow,
	}
	transfer := models.TransferEvent{ID: 7, Exchange: "BITFINEX", Symbol: "USDT", Amount: 250, Timestamp: testNow, ToAddress: "0xabc"}

	if err := m.Append(ctx, order); err != nil {
		t.Fatalf("Append order: %v", err)
	}
	if err := m.Append(ctx, transfer); err != nil {
		t.Fatalf("Append transfer: %v", err)
	}

	msgs, err := rdb.XRange(ctx, StreamOrders, "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 order entry, got %d", len(msgs))
	}
	if msgs[0].Values["kind"] != "order" || msgs[0].Values["source"] != "BINANCE" {
		t.Errorf("unexpected entry fields %v", msgs[0].Values)
	}
	var got models.OrderEvent
	if err := json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got); err != nil {
		t.Fatal(err)
	}
	if got != order {
		t.Errorf("payload round trip: got %+v, want %+v", got, order)
	}

	if n, _ := rdb.XLen(ctx, StreamTransfers).Result(); n != 1 {
		t.Errorf("expected 1 transfer entry, got %d", n)
	}
}

func TestMirrorTickersOptIn(t *testing.T) {
	tick := models.TickerEvent{Exchange: "CEX", Symbol: "BTCUSDT", Timestamp: testNow, Bid: 1, BidQty: 1, Ask: 2, AskQty: 1}

	tests := []struct {
		name    string
		enabled bool
		want    int64
	}{
		{"disabled", false, 0},
		{"enabled", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rdb := newTestMirror(t, tt.enabled)
			if err := m.Append(context.Background(), tick); err != nil {
				t.Fatal(err)
			}
			if n, _ := rdb.XLen(context.Background(), StreamTickers).Result(); n != tt.want {
				t.Errorf("expected %d ticker entries, got %d", tt.want, n)
			}
		})
	}
}

func TestMirrorAttachedToBus(t *testing.T) {
	m, rdb := newTestMirror(t, false)
	b := bus.New(bus.Config{Shards: 2, BufferSize: 16}, utils.NewNopLogger())
	defer b.Close()
	m.Attach(b)

	for i := 0; i < 3; i++ {
		b.Publish(models.OrderEvent{ID: int64(i), Exchange: "BITFINEX", Timestamp: testNow})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := rdb.XLen(context.Background(), StreamOrders).Result(); n == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("bus orders were not mirrored")
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.URL = "redis://" + mr.Addr() + "/0"
	m, err := Dial(context.Background(), cfg, utils.NewNopLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer m.Close()

	cfg.URL = "not a url"
	if _, err := Dial(context.Background(), cfg, utils.NewNopLogger()); err == nil {
		t.Error("expected parse error")
	}
}
