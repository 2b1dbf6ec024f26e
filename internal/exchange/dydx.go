package exchange

import (
	"context"
	"fmt"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

const (
	dydxCode  = "DYDX"
	dydxWSURL = "wss://api.dydx.exchange/v3/ws"
)

// DYDX - канал v3_orderbook: снимок в subscribed, дельты в channel_data.
// В снимке уровни - объекты {price,size}, в дельтах - пары [price,size];
// size 0 удаляет уровень.
type DYDX struct {
	baseGateway
	marketOnly

	ws    stream
	books *bookSet
}

func NewDYDX(opts Options) *DYDX {
	g := &DYDX{
		baseGateway: newBase(dydxCode, opts),
		marketOnly:  marketOnly{venue: dydxCode},
	}
	g.books = newBookSet(g.opts.Staleness)
	return g
}

func (g *DYDX) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, dydxWSURL), g.opts.WS, wsHandlers{
		OnMessage: g.HandleMessage,
		OnConnect: func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: func(err error) {
			g.books.reset()
			g.resetConnection(err)
		},
	}, g.log)
	return g.ws.Connect(ctx)
}

// Subscribe - отдельная подписка на каждый рынок
func (g *DYDX) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	for _, s := range symbols {
		frame := map[string]string{
			"type":    "subscribe",
			"channel": "v3_orderbook",
			"id":      s + "-USD",
		}
		if err := g.ws.SendJSON(frame); err != nil {
			g.subscribe.Store(false)
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	g.setState(StateSubscribed)
	return nil
}

type dydxFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Message  string `json:"message"`
	Contents *struct {
		Bids []priceLevel `json:"bids"`
		Asks []priceLevel `json:"asks"`
	} `json:"contents"`
}

func (g *DYDX) HandleMessage(raw []byte) {
	g.handle(g.Normalize, raw)
}

func (g *DYDX) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f dydxFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}
	if f.Type == "error" {
		g.log.Warn("venue error", utils.String("msg", f.Message))
		return nil, nil
	}
	if f.Contents == nil || (f.Type != "subscribed" && f.Type != "channel_data") {
		return nil, nil
	}

	symbol, err := CanonicalSymbol(f.ID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	book := g.books.get(symbol)

	if f.Type == "subscribed" {
		book.Replace(levelsFrom(f.Contents.Bids, now), levelsFrom(f.Contents.Asks, now))
	} else {
		for _, l := range levelsFrom(f.Contents.Bids, now) {
			book.Apply(Bids, l)
		}
		for _, l := range levelsFrom(f.Contents.Asks, now) {
			book.Apply(Asks, l)
		}
		book.Sort()
	}
	return tickerFromBook(g.code, symbol, book, now), nil
}

func (g *DYDX) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
