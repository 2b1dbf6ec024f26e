package exchange

import (
	"context"
	"fmt"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

const (
	cexCode  = "CEX"
	cexWSURL = "wss://ws.cex.io/ws/"
)

// CEX - комнаты pair-{BASE}-USDT, сообщение md несёт верх стакана целиком
type CEX struct {
	baseGateway
	marketOnly

	ws stream
}

func NewCEX(opts Options) *CEX {
	return &CEX{
		baseGateway: newBase(cexCode, opts),
		marketOnly:  marketOnly{venue: cexCode},
	}
}

func (g *CEX) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, cexWSURL), g.opts.WS, wsHandlers{
		OnMessage:    g.HandleMessage,
		OnConnect:    func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: g.resetConnection,
	}, g.log)
	return g.ws.Connect(ctx)
}

func (g *CEX) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	rooms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		rooms = append(rooms, "pair-"+s+"-USDT")
	}
	if err := g.ws.SendJSON(map[string]interface{}{"e": "subscribe", "rooms": rooms}); err != nil {
		g.subscribe.Store(false)
		return fmt.Errorf("subscribe: %w", err)
	}
	g.setState(StateSubscribed)
	return nil
}

type cexFrame struct {
	E    string `json:"e"`
	Data *struct {
		Pair string       `json:"pair"`
		Buy  []priceLevel `json:"buy"`
		Sell []priceLevel `json:"sell"`
	} `json:"data"`
}

func (g *CEX) HandleMessage(raw []byte) {
	var f cexFrame
	if err := json.Unmarshal(raw, &f); err == nil && f.E == "ping" {
		// без pong сервер рвёт соединение
		if err := g.ws.SendJSON(map[string]string{"e": "pong"}); err != nil {
			g.log.Warn("pong failed", utils.Err(err))
		}
		return
	}
	g.handle(g.Normalize, raw)
}

func (g *CEX) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f cexFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}
	if f.E != "md" || f.Data == nil {
		return nil, nil
	}
	if len(f.Data.Buy) == 0 || len(f.Data.Sell) == 0 {
		return nil, nil
	}

	symbol, err := CanonicalSymbol(f.Data.Pair)
	if err != nil {
		return nil, err
	}
	bid, ask := f.Data.Buy[0], f.Data.Sell[0]
	return &models.TickerEvent{
		Exchange:  g.code,
		Symbol:    symbol,
		Timestamp: g.now(),
		Bid:       bid.Price.Float(),
		BidQty:    bid.Size.Float(),
		Ask:       ask.Price.Float(),
		AskQty:    ask.Size.Float(),
	}, nil
}

func (g *CEX) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
