package exchange

import (
	"context"
	"fmt"
	"strings"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

const (
	bybitCode     = "BYBIT"
	bybitWSPublic = "wss://stream.bybit.com/v5/public/spot"
	bybitDepth    = 50
)

// Bybit - спотовый стакан orderbook.50 (snapshot + delta), только котировки
type Bybit struct {
	baseGateway
	marketOnly

	ws    stream
	books *bookSet
}

func NewBybit(opts Options) *Bybit {
	g := &Bybit{
		baseGateway: newBase(bybitCode, opts),
		marketOnly:  marketOnly{venue: bybitCode},
	}
	g.books = newBookSet(g.opts.Staleness)
	return g
}

func (g *Bybit) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, bybitWSPublic), g.opts.WS, wsHandlers{
		OnMessage:    g.HandleMessage,
		OnConnect:    func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: g.onDisconnect,
		// Bybit закрывает соединение без прикладного ping каждые 20s
		Heartbeat: func() interface{} { return map[string]string{"op": "ping"} },
	}, g.log)
	return g.ws.Connect(ctx)
}

func (g *Bybit) onDisconnect(err error) {
	g.books.reset()
	g.resetConnection(err)
}

func (g *Bybit) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, fmt.Sprintf("orderbook.%d.%sUSDT", bybitDepth, s))
	}
	if err := g.ws.SendJSON(map[string]interface{}{"op": "subscribe", "args": topics}); err != nil {
		g.subscribe.Store(false)
		return fmt.Errorf("subscribe: %w", err)
	}
	g.setState(StateSubscribed)
	return nil
}

type bybitFrame struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	TS      int64  `json:"ts"`
	Data    *struct {
		Symbol string       `json:"s"`
		Bids   []priceLevel `json:"b"`
		Asks   []priceLevel `json:"a"`
	} `json:"data"`
}

func (g *Bybit) HandleMessage(raw []byte) {
	g.handle(g.Normalize, raw)
}

// Normalize применяет snapshot/delta к локальному стакану и возвращает
// лучшие уровни. Служебные ответы (subscribe, pong) дают nil.
func (g *Bybit) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f bybitFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}

	if f.Op != "" {
		if f.Success != nil && !*f.Success {
			g.log.Warn("request rejected", utils.String("op", f.Op), utils.String("msg", f.RetMsg))
		}
		return nil, nil
	}
	if f.Data == nil || !strings.HasPrefix(f.Topic, "orderbook.") {
		return nil, nil
	}

	symbol, err := CanonicalSymbol(f.Data.Symbol)
	if err != nil {
		return nil, err
	}

	now := g.now()
	book := g.books.get(symbol)
	switch f.Type {
	case "snapshot":
		book.Replace(levelsFrom(f.Data.Bids, now), levelsFrom(f.Data.Asks, now))
	case "delta":
		for _, l := range levelsFrom(f.Data.Bids, now) {
			book.Apply(Bids, l)
		}
		for _, l := range levelsFrom(f.Data.Asks, now) {
			book.Apply(Asks, l)
		}
		book.Sort()
	default:
		return nil, malformed("unknown book message type %q", f.Type)
	}

	ev := tickerFromBook(g.code, symbol, book, now)
	if ev != nil && f.TS > 0 {
		ev.Timestamp = utils.FromUnixMillis(f.TS)
	}
	return ev, nil
}

func (g *Bybit) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
