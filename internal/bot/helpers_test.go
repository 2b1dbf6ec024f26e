package bot

import (
	"context"
	"sync"
	"time"

	"spotarb/internal/exchange"
	"spotarb/internal/models"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============ балансы ============

type fakeAccounts struct {
	balances map[string]map[string]float64 // exchange -> asset -> amount
	steps    map[string]float64            // exchange -> lot step
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		balances: make(map[string]map[string]float64),
		steps:    make(map[string]float64),
	}
}

func (f *fakeAccounts) set(exchange, asset string, v float64) *fakeAccounts {
	if f.balances[exchange] == nil {
		f.balances[exchange] = make(map[string]float64)
	}
	f.balances[exchange][asset] = v
	return f
}

func (f *fakeAccounts) Balance(exchange, asset string) float64 {
	return f.balances[exchange][asset]
}

func (f *fakeAccounts) LotStep(exchange, symbol string) float64 {
	return f.steps[exchange]
}

func (f *fakeAccounts) Balances(exchange string) map[string]float64 {
	out := make(map[string]float64, len(f.balances[exchange]))
	for k, v := range f.balances[exchange] {
		out[k] = v
	}
	return out
}

// ============ публикация ============

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) orders() []models.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.OrderEvent
	for _, ev := range p.events {
		if o, ok := ev.(models.OrderEvent); ok {
			out = append(out, o)
		}
	}
	return out
}

func (p *recordingPublisher) transfers() []models.TransferEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.TransferEvent
	for _, ev := range p.events {
		if t, ok := ev.(models.TransferEvent); ok {
			out = append(out, t)
		}
	}
	return out
}

// ============ часы ============

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ============ шлюз ============

type fakeGateway struct {
	code        string
	orderErr    error
	transferErr error
	transferID  string
	block       chan struct{}

	mu        sync.Mutex
	orders    []models.OrderEvent
	transfers []models.TransferEvent
}

func (g *fakeGateway) Code() string                                  { return g.code }
func (g *fakeGateway) Connect(context.Context) error                 { return nil }
func (g *fakeGateway) Subscribe([]string) error                      { return nil }
func (g *fakeGateway) HandleMessage([]byte)                          {}
func (g *fakeGateway) Normalize([]byte) (*models.TickerEvent, error) { return nil, nil }
func (g *fakeGateway) Balance(string) (float64, error)               { return 0, exchange.ErrBalanceNotFound }
func (g *fakeGateway) Balances() map[string]float64                  { return nil }
func (g *fakeGateway) LotStep(string) float64                        { return 0 }
func (g *fakeGateway) State() exchange.ConnState                     { return exchange.StateStreaming }
func (g *fakeGateway) Close() error                                  { return nil }

func (g *fakeGateway) PlaceOrder(ctx context.Context, o models.OrderEvent) error {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	g.orders = append(g.orders, o)
	g.mu.Unlock()
	return g.orderErr
}

func (g *fakeGateway) Transfer(ctx context.Context, t models.TransferEvent) (string, error) {
	g.mu.Lock()
	g.transfers = append(g.transfers, t)
	g.mu.Unlock()
	if g.transferErr != nil {
		return "", g.transferErr
	}
	return g.transferID, nil
}

func (g *fakeGateway) placed() []models.OrderEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderEvent(nil), g.orders...)
}

type fakeResolver map[string]exchange.Gateway

func (r fakeResolver) Get(code string) (exchange.Gateway, error) {
	if g, ok := r[code]; ok {
		return g, nil
	}
	return nil, exchange.ErrUnknownExchange
}

// ============ журнал ============

type journalCall struct {
	op     string
	rec    models.IntentRecord
	kind   string
	id     int64
	reason string
}

type fakeJournal struct {
	mu    sync.Mutex
	calls []journalCall
}

func (j *fakeJournal) SaveOrder(_ context.Context, rec models.IntentRecord) error {
	j.add(journalCall{op: "save_order", rec: rec})
	return nil
}

func (j *fakeJournal) SaveTransfer(_ context.Context, rec models.IntentRecord) error {
	j.add(journalCall{op: "save_transfer", rec: rec})
	return nil
}

func (j *fakeJournal) MarkFailed(_ context.Context, kind string, id int64, reason string) error {
	j.add(journalCall{op: "mark_failed", kind: kind, id: id, reason: reason})
	return nil
}

func (j *fakeJournal) add(c journalCall) {
	j.mu.Lock()
	j.calls = append(j.calls, c)
	j.mu.Unlock()
}

func (j *fakeJournal) snapshot() []journalCall {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journalCall(nil), j.calls...)
}

func ticker(exchange string, bid, ask float64, ts time.Time) models.TickerEvent {
	return models.TickerEvent{
		Exchange: exchange, Symbol: "BTCUSDT", Timestamp: ts,
		Bid: bid, BidQty: 10, Ask: ask, AskQty: 10,
	}
}
