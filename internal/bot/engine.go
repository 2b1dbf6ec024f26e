package bot

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Publisher - куда движок отправляет ордера (шина)
type Publisher interface {
	Publish(ev models.Event)
}

// DealObserver получает копию каждой новой удерживаемой сделки.
// Вызывается вне блокировок движка.
type DealObserver func(deal models.Deal)

// Config - параметры движка
type Config struct {
	// MaxSkew - допустимое расхождение времени двух котировок
	MaxSkew time.Duration
	// Stripes - число мьютексов, между которыми делятся пары
	Stripes int

	Thresholds
	SizingConfig
}

func DefaultConfig() Config {
	return Config{
		MaxSkew: 60 * time.Second,
		Stripes: 64,
		Thresholds: Thresholds{
			MinMargin: 0.2,
			Cooldown:  180 * time.Second,
		},
		SizingConfig: SizingConfig{
			BalanceFraction: 0.5,
			MinNotional:     10,
		},
	}
}

// pairState - состояние одной пары, защищено мьютексом своей полосы
type pairState struct {
	offers    map[string]models.TickerEvent // exchange -> последний тик
	best      *models.Deal
	lastTrade time.Time // момент последней выставленной пары ордеров
}

// Engine - движок арбитражных решений.
//
// Поток: тик биржи -> сравнение с тиками той же пары на других биржах ->
// гистерезис лучшей сделки -> расчёт объёма -> пара ордеров BUY/SELL.
// Вся последовательность для одной пары идёт под одним мьютексом,
// поэтому два тика одной пары не могут выставить две сделки разом.
type Engine struct {
	cfg      Config
	accounts Accounts
	pub      Publisher
	log      *utils.Logger
	now      func() time.Time

	mu    sync.RWMutex
	pairs map[string]*pairState

	stripes []sync.Mutex

	obsMu     sync.RWMutex
	observers []DealObserver
}

func NewEngine(cfg Config, accounts Accounts, pub Publisher, log *utils.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = def.MaxSkew
	}
	if cfg.Stripes <= 0 {
		cfg.Stripes = def.Stripes
	}
	if log == nil {
		log = utils.L()
	}
	return &Engine{
		cfg:      cfg,
		accounts: accounts,
		pub:      pub,
		log:      log.WithComponent("engine"),
		now:      time.Now,
		pairs:    make(map[string]*pairState),
		stripes:  make([]sync.Mutex, cfg.Stripes),
	}
}

// WithClock подменяет часы (тесты)
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// OnDeal регистрирует наблюдателя удерживаемых сделок
func (e *Engine) OnDeal(fn DealObserver) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

// HandleEvent - обработчик для шины
func (e *Engine) HandleEvent(ev models.Event) {
	if t, ok := ev.(models.TickerEvent); ok {
		e.OnTicker(t)
	}
}

// OnTicker обновляет предложение биржи и сравнивает его со всеми
// остальными биржами по той же паре.
func (e *Engine) OnTicker(t models.TickerEvent) {
	if !t.Valid() {
		return
	}
	start := time.Now()

	lock := e.stripe(t.Symbol)
	lock.Lock()
	st := e.pair(t.Symbol)
	st.offers[t.Exchange] = t

	others := make([]string, 0, len(st.offers))
	for ex := range st.offers {
		if ex != t.Exchange {
			others = append(others, ex)
		}
	}
	sort.Strings(others)

	var retained []models.Deal
	for _, ex := range others {
		deal, err := ComparePrices(t, st.offers[ex], e.cfg.MaxSkew, e.now())
		if err != nil {
			e.log.Warn("compare failed", utils.Symbol(t.Symbol), utils.Err(err))
			continue
		}
		if deal == nil {
			continue
		}
		metrics.RecordOpportunity(deal.TradingPair, deal.Margin)
		if e.challenge(st, deal, start) {
			retained = append(retained, deal.Clone())
		}
	}
	lock.Unlock()

	for _, d := range retained {
		e.notify(d)
	}
}

// challenge применяет гистерезис, при необходимости исполняет сделку.
// Вызывается под мьютексом пары.
func (e *Engine) challenge(st *pairState, deal *models.Deal, start time.Time) bool {
	v := Challenge(st.best, deal, st.lastTrade, e.cfg.Thresholds)
	if !v.Retain {
		return false
	}
	deal.ID = uuid.NewString()
	st.best = deal

	if v.Trade || v.IsFirst {
		e.logDeal(deal)
	}
	if v.Trade {
		e.closeDeal(st, deal, start)
	}
	return true
}

// closeDeal рассчитывает объём и публикует обе ноги.
// Отказ по объёму не трогает lastTrade.
func (e *Engine) closeDeal(st *pairState, deal *models.Deal, start time.Time) {
	buy, sell, err := SizeDeal(*deal, e.accounts, e.cfg.SizingConfig, e.now())
	if err != nil {
		metrics.RecordTrade(deal.TradingPair, "aborted")
		e.log.Warn("deal not executed",
			utils.Symbol(deal.TradingPair),
			utils.DealID(deal.ID),
			utils.String("buy_exchange", deal.BuyAt.Exchange),
			utils.String("sell_exchange", deal.SellAt.Exchange),
			utils.Err(err))
		return
	}

	e.pub.Publish(buy)
	e.pub.Publish(sell)
	st.lastTrade = deal.Timestamp

	metrics.RecordTrade(deal.TradingPair, "emitted")
	metrics.RecordTickToOrder(deal.TradingPair, start)
	e.log.Info("orders emitted",
		utils.Symbol(deal.TradingPair),
		utils.DealID(deal.ID),
		utils.Volume(buy.Amount),
		utils.Float64("buy_price", buy.Price),
		utils.Float64("sell_price", sell.Price))
}

func (e *Engine) logDeal(deal *models.Deal) {
	e.log.Info("best deal",
		utils.Symbol(deal.TradingPair),
		utils.DealID(deal.ID),
		utils.String("buy_exchange", deal.BuyAt.Exchange),
		utils.Float64("buy_ask", deal.BuyAt.Ask),
		utils.String("sell_exchange", deal.SellAt.Exchange),
		utils.Float64("sell_bid", deal.SellAt.Bid),
		utils.Int("trades", deal.TotalTrades),
		utils.Spread(deal.Spread),
		utils.Margin(deal.Margin),
		utils.Float64("avg_margin_pct", deal.AvgMargin()))
}

func (e *Engine) notify(d models.Deal) {
	e.obsMu.RLock()
	obs := e.observers
	e.obsMu.RUnlock()
	for _, fn := range obs {
		fn(d)
	}
}

// Snapshot - копии лучших сделок по всем парам, по алфавиту
func (e *Engine) Snapshot() []models.Deal {
	e.mu.RLock()
	symbols := make([]string, 0, len(e.pairs))
	states := make(map[string]*pairState, len(e.pairs))
	for sym, st := range e.pairs {
		symbols = append(symbols, sym)
		states[sym] = st
	}
	e.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]models.Deal, 0, len(symbols))
	for _, sym := range symbols {
		lock := e.stripe(sym)
		lock.Lock()
		if best := states[sym].best; best != nil {
			out = append(out, best.Clone())
		}
		lock.Unlock()
	}
	return out
}

func (e *Engine) stripe(symbol string) *sync.Mutex {
	return &e.stripes[utils.FNVHash(symbol)%uint32(len(e.stripes))]
}

func (e *Engine) pair(symbol string) *pairState {
	e.mu.RLock()
	st, ok := e.pairs[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.pairs[symbol]; !ok {
		st = &pairState{offers: make(map[string]models.TickerEvent)}
		e.pairs[symbol] = st
	}
	return st
}
