package exchange

import (
	"context"
	"fmt"
	"strconv"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

const (
	coinbaseCode  = "COINBASE"
	coinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"
	// level2_batch - тот же level2, но пачками раз в 50ms и без авторизации
	coinbaseChannel = "level2_batch"
)

// Coinbase - дельта-стакан level2 (snapshot + l2update) с окном устаревания
type Coinbase struct {
	baseGateway
	marketOnly

	ws    stream
	books *bookSet
}

func NewCoinbase(opts Options) *Coinbase {
	g := &Coinbase{
		baseGateway: newBase(coinbaseCode, opts),
		marketOnly:  marketOnly{venue: coinbaseCode},
	}
	g.books = newBookSet(g.opts.Staleness)
	return g
}

func (g *Coinbase) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, coinbaseWSURL), g.opts.WS, wsHandlers{
		OnMessage: g.HandleMessage,
		OnConnect: func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: func(err error) {
			g.books.reset()
			g.resetConnection(err)
		},
	}, g.log)
	return g.ws.Connect(ctx)
}

func (g *Coinbase) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	products := make([]string, 0, len(symbols))
	for _, s := range symbols {
		products = append(products, s+"-USDT")
	}
	frame := map[string]interface{}{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{coinbaseChannel},
	}
	if err := g.ws.SendJSON(frame); err != nil {
		g.subscribe.Store(false)
		return fmt.Errorf("subscribe: %w", err)
	}
	g.setState(StateSubscribed)
	return nil
}

type coinbaseFrame struct {
	Type      string       `json:"type"`
	ProductID string       `json:"product_id"`
	Message   string       `json:"message"`
	Reason    string       `json:"reason"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Changes   [][]string   `json:"changes"`
}

func (g *Coinbase) HandleMessage(raw []byte) {
	g.handle(g.Normalize, raw)
}

func (g *Coinbase) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f coinbaseFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}

	switch f.Type {
	case "snapshot", "l2update":
	case "error":
		g.log.Warn("venue error", utils.String("msg", f.Message), utils.String("reason", f.Reason))
		return nil, nil
	default:
		return nil, nil
	}

	symbol, err := CanonicalSymbol(f.ProductID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	book := g.books.get(symbol)

	if f.Type == "snapshot" {
		book.Replace(levelsFrom(f.Bids, now), levelsFrom(f.Asks, now))
		return tickerFromBook(g.code, symbol, book, now), nil
	}

	// кадр применяется целиком или не применяется вовсе
	type change struct {
		side  BookSide
		level models.OrderBookLevel
	}
	changes := make([]change, 0, len(f.Changes))
	for _, c := range f.Changes {
		if len(c) < 3 {
			return nil, malformed("l2update change %v", c)
		}
		price, err1 := strconv.ParseFloat(c[1], 64)
		size, err2 := strconv.ParseFloat(c[2], 64)
		if err1 != nil || err2 != nil {
			return nil, malformed("l2update change %v", c)
		}
		side := Asks
		if c[0] == "buy" {
			side = Bids
		}
		changes = append(changes, change{side, models.OrderBookLevel{Price: price, Amount: size, Count: 1, Timestamp: now}})
	}

	// устаревшие уровни выбрасываются до применения дельт
	book.Prune(now)
	for _, c := range changes {
		book.Apply(c.side, c.level)
	}
	book.Sort()
	return tickerFromBook(g.code, symbol, book, now), nil
}

func (g *Coinbase) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
