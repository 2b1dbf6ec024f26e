package exchange

import (
	"context"
	"fmt"
	"sync/atomic"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

const (
	currencyCode  = "CURRENCY"
	currencyWSURL = "wss://api-adapter.backend.currency.com/connect"
)

// CurrencyCom - котировки internal.quote (bid/ofr) по подписке marketData.subscribe
type CurrencyCom struct {
	baseGateway
	marketOnly

	ws          stream
	correlation atomic.Int64
}

func NewCurrencyCom(opts Options) *CurrencyCom {
	return &CurrencyCom{
		baseGateway: newBase(currencyCode, opts),
		marketOnly:  marketOnly{venue: currencyCode},
	}
}

func (g *CurrencyCom) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, currencyWSURL), g.opts.WS, wsHandlers{
		OnMessage:    g.HandleMessage,
		OnConnect:    func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: g.resetConnection,
		Heartbeat: func() interface{} {
			return g.request("ping", map[string]interface{}{})
		},
	}, g.log)
	return g.ws.Connect(ctx)
}

func (g *CurrencyCom) request(destination string, payload interface{}) map[string]interface{} {
	return map[string]interface{}{
		"destination":   destination,
		"correlationId": g.correlation.Add(1),
		"payload":       payload,
	}
}

func (g *CurrencyCom) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pairs = append(pairs, s+"/USD")
	}
	frame := g.request("marketData.subscribe", map[string]interface{}{"symbols": pairs})
	if err := g.ws.SendJSON(frame); err != nil {
		g.subscribe.Store(false)
		return fmt.Errorf("subscribe: %w", err)
	}
	g.setState(StateSubscribed)
	return nil
}

type currencyFrame struct {
	Status      string `json:"status"`
	Destination string `json:"destination"`
	Payload     *struct {
		Subscriptions map[string]string `json:"subscriptions"`
		Symbol        string            `json:"symbolName"`
		Bid           flexFloat         `json:"bid"`
		BidQty        flexFloat         `json:"bidQty"`
		Ofr           flexFloat         `json:"ofr"`
		OfrQty        flexFloat         `json:"ofrQty"`
		Timestamp     int64             `json:"timestamp"`
		Message       string            `json:"message"`
	} `json:"payload"`
}

func (g *CurrencyCom) HandleMessage(raw []byte) {
	g.handle(g.Normalize, raw)
}

func (g *CurrencyCom) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f currencyFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}
	if f.Status != "OK" {
		if f.Status != "" && f.Payload != nil {
			g.log.Warn("venue error", utils.String("status", f.Status), utils.String("msg", f.Payload.Message))
		}
		return nil, nil
	}
	if f.Payload == nil || f.Payload.Subscriptions != nil || f.Payload.Symbol == "" {
		return nil, nil
	}

	symbol, err := CanonicalSymbol(f.Payload.Symbol)
	if err != nil {
		return nil, err
	}
	ts := g.now()
	if f.Payload.Timestamp > 0 {
		ts = utils.FromUnixMillis(f.Payload.Timestamp)
	}
	return &models.TickerEvent{
		Exchange:  g.code,
		Symbol:    symbol,
		Timestamp: ts,
		Bid:       f.Payload.Bid.Float(),
		BidQty:    f.Payload.BidQty.Float(),
		Ask:       f.Payload.Ofr.Float(),
		AskQty:    f.Payload.OfrQty.Float(),
	}, nil
}

func (g *CurrencyCom) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
