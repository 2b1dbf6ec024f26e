package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"spotarb/internal/models"
)

// Биржи только с котировками: Bybit, Coinbase, CEX, currency.com, dYdX

func connectGateway(t *testing.T, g Gateway, d *fakeDialer) *fakeStream {
	t.Helper()
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return d.get(t, "public")
}

func TestBybitSnapshotAndDelta(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	g := NewBybit(testOptions(d, pub, &testClock{now: testNow}))
	ws := connectGateway(t, g, d)

	if frame := ws.lastFrame(t); frame["op"] != "subscribe" {
		t.Fatalf("unexpected subscribe frame %v", frame)
	}

	ws.deliver(`{"success":true,"ret_msg":"","op":"subscribe","conn_id":"x"}`)
	ws.deliver(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1709294400000,` +
		`"data":{"s":"BTCUSDT","b":[["100","1"],["99","2"]],"a":[["101","1"],["102","3"]],"u":1,"seq":1}}`)
	ws.deliver(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1709294401000,` +
		`"data":{"s":"BTCUSDT","b":[["100","0"],["99.5","4"]],"a":[["100.8","0.5"]],"u":2,"seq":2}}`)

	tickers := pub.tickers()
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	last := tickers[1]
	if last.Bid != 99.5 || last.BidQty != 4 || last.Ask != 100.8 || last.AskQty != 0.5 {
		t.Errorf("unexpected top of book %+v", last)
	}
	if !last.Timestamp.Equal(time.UnixMilli(1709294401000)) {
		t.Errorf("expected venue timestamp, got %v", last.Timestamp)
	}

	ws.drop(errTransport)
	if bids, asks := g.books.get("BTCUSDT").Depth(); bids != 0 || asks != 0 {
		t.Error("book must be discarded on disconnect")
	}
}

func TestBybitUnknownType(t *testing.T) {
	g := NewBybit(testOptions(newFakeDialer(), &recordingPublisher{}, &testClock{now: testNow}))
	_, err := g.Normalize([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"weird","data":{"s":"BTCUSDT"}}`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestCoinbaseLevel2(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	clock := &testClock{now: testNow}
	g := NewCoinbase(testOptions(d, pub, clock))
	ws := connectGateway(t, g, d)

	frame := ws.lastFrame(t)
	products, _ := frame["product_ids"].([]interface{})
	if frame["type"] != "subscribe" || len(products) != 2 || products[0] != "BTC-USDT" {
		t.Errorf("unexpected subscribe frame %v", frame)
	}

	ws.deliver(`{"type":"snapshot","product_id":"BTC-USDT","bids":[["10101.10","0.45"]],"asks":[["10102.55","0.57"]]}`)
	ws.deliver(`{"type":"l2update","product_id":"BTC-USDT","time":"2024-03-01T12:00:00.000Z",` +
		`"changes":[["buy","10101.80","0.16"],["sell","10102.55","0"],["sell","10103.00","1.5"]]}`)

	tickers := pub.tickers()
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	got := tickers[1]
	if got.Symbol != "BTCUSDT" || got.Bid != 10101.80 || got.Ask != 10103.00 || got.AskQty != 1.5 {
		t.Errorf("unexpected ticker %+v", got)
	}
}

func TestCoinbaseStaleLevelsPurged(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	clock := &testClock{now: testNow}
	g := NewCoinbase(testOptions(d, pub, clock))
	ws := connectGateway(t, g, d)

	ws.deliver(`{"type":"snapshot","product_id":"BTC-USDT","bids":[["100","1"]],"asks":[["101","1"]]}`)
	clock.Advance(301 * time.Second)
	ws.deliver(`{"type":"l2update","product_id":"BTC-USDT","changes":[["buy","99","2"],["sell","103","2"]]}`)

	tickers := pub.tickers()
	got := tickers[len(tickers)-1]
	if got.Bid != 99 || got.Ask != 103 {
		t.Errorf("levels older than 300s must be purged, got %+v", got)
	}
}

func TestCoinbaseMalformedUpdateLeavesBook(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	g := NewCoinbase(testOptions(d, pub, &testClock{now: testNow}))
	ws := connectGateway(t, g, d)

	ws.deliver(`{"type":"snapshot","product_id":"BTC-USDT","bids":[["100","1"]],"asks":[["101","1"]]}`)

	// первая дельта корректна, вторая нет: кадр отбрасывается целиком
	_, err := g.Normalize([]byte(`{"type":"l2update","product_id":"BTC-USDT",` +
		`"changes":[["buy","100.5","3"],["sell","abc","1"]]}`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}

	book := g.books.get("BTCUSDT")
	if bids, asks := book.Depth(); bids != 1 || asks != 1 {
		t.Fatalf("book must be untouched, got %d bids / %d asks", bids, asks)
	}
	if bids := book.Levels(Bids); bids[0].Price != 100 {
		t.Errorf("best bid changed by a rejected frame: %+v", bids[0])
	}
}

func TestCEXMarketData(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	g := NewCEX(testOptions(d, pub, &testClock{now: testNow}))
	ws := connectGateway(t, g, d)

	ws.deliver(`{"e":"md","data":{"pair":"BTC:USDT","buy":[[64000.1,0.5],[63999,1]],"sell":[[64010,0.25]],"id":1}}`)
	ws.deliver(`{"e":"md","data":{"pair":"BTC:USDT","buy":[],"sell":[[64010,0.25]]}}`)

	tickers := pub.tickers()
	if len(tickers) != 1 {
		t.Fatalf("expected 1 ticker, got %d", len(tickers))
	}
	want := models.TickerEvent{Exchange: "CEX", Symbol: "BTCUSDT", Timestamp: testNow, Bid: 64000.1, BidQty: 0.5, Ask: 64010, AskQty: 0.25}
	if tickers[0] != want {
		t.Errorf("expected %+v, got %+v", want, tickers[0])
	}

	ws.deliver(`{"e":"ping","time":1}`)
	if frame := ws.lastFrame(t); frame["e"] != "pong" {
		t.Errorf("expected pong reply, got %v", frame)
	}
}

func TestCurrencyComQuote(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	g := NewCurrencyCom(testOptions(d, pub, &testClock{now: testNow}))
	ws := connectGateway(t, g, d)

	if frame := ws.lastFrame(t); frame["destination"] != "marketData.subscribe" {
		t.Errorf("unexpected subscribe frame %v", frame)
	}

	ws.deliver(`{"status":"OK","destination":"marketData.subscribe","payload":{"subscriptions":{"BTC/USD":"OK"}}}`)
	ws.deliver(`{"status":"OK","destination":"internal.quote","payload":{"symbolName":"BTC/USD","bid":64000,"bidQty":2,"ofr":64020,"ofrQty":1.5,"timestamp":1709294400000}}`)

	tickers := pub.tickers()
	if len(tickers) != 1 {
		t.Fatalf("expected 1 ticker, got %d", len(tickers))
	}
	got := tickers[0]
	if got.Symbol != "BTCUSDT" || got.Ask != 64020 || got.AskQty != 1.5 || !got.Timestamp.Equal(time.UnixMilli(1709294400000)) {
		t.Errorf("unexpected ticker %+v", got)
	}
}

func TestDYDXOrderbook(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	g := NewDYDX(testOptions(d, pub, &testClock{now: testNow}))
	ws := connectGateway(t, g, d)

	if n := len(ws.frames()); n != 2 {
		t.Errorf("expected one subscribe per market, got %d", n)
	}

	ws.deliver(`{"type":"subscribed","id":"BTC-USD","channel":"v3_orderbook",` +
		`"contents":{"bids":[{"price":"64000","size":"1"},{"price":"63990","size":"2"}],"asks":[{"price":"64010","size":"1"}]}}`)
	ws.deliver(`{"type":"channel_data","id":"BTC-USD","channel":"v3_orderbook",` +
		`"contents":{"offset":"2","bids":[["64000","0"]],"asks":[["64005","0.3"]]}}`)

	tickers := pub.tickers()
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	got := tickers[1]
	if got.Bid != 63990 || got.BidQty != 2 || got.Ask != 64005 || got.AskQty != 0.3 {
		t.Errorf("unexpected ticker %+v", got)
	}
}

func TestMarketOnlyVenues(t *testing.T) {
	opts := testOptions(newFakeDialer(), &recordingPublisher{}, &testClock{now: testNow})
	for _, code := range []string{"BYBIT", "COINBASE", "CEX", "CURRENCY", "DYDX"} {
		t.Run(code, func(t *testing.T) {
			g, err := NewGateway(code, opts)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := g.Balance("USDT"); !errors.Is(err, ErrBalanceNotFound) {
				t.Errorf("expected ErrBalanceNotFound, got %v", err)
			}

			err = g.PlaceOrder(context.Background(), models.OrderEvent{Exchange: code, Type: models.OrderBuy, Symbol: "BTCUSDT", Amount: 1, Price: 1})
			var ee *ExchangeError
			if !errors.As(err, &ee) || ee.Code != CodeReadOnly || ee.Exchange != code {
				t.Errorf("expected READ_ONLY rejection, got %v", err)
			}
			if !IsVenueRejected(err) {
				t.Error("READ_ONLY must classify as venue rejection")
			}

			if _, err := g.Transfer(context.Background(), models.TransferEvent{Exchange: code}); !IsVenueRejected(err) {
				t.Errorf("expected READ_ONLY transfer rejection, got %v", err)
			}
		})
	}
}
