package exchange

import (
	"sort"
	"time"

	"spotarb/internal/models"
)

// BookSide - сторона стакана
type BookSide int

const (
	Bids BookSide = iota
	Asks
)

// DefaultStaleness - уровни старше считаются устаревшими
const DefaultStaleness = 300 * time.Second

// OrderBook - локальный стакан одного символа одной биржи.
// Принадлежит горутине чтения биржи, блокировок нет.
//
// Инварианты:
//   - на каждой стороне не больше одного уровня на цену
//   - после Sort: bids по убыванию цены, asks по возрастанию
//   - Best не возвращает уровни старше staleness
type OrderBook struct {
	bids      []models.OrderBookLevel
	asks      []models.OrderBookLevel
	staleness time.Duration
}

func NewOrderBook(staleness time.Duration) *OrderBook {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &OrderBook{staleness: staleness}
}

func (b *OrderBook) side(s BookSide) *[]models.OrderBookLevel {
	if s == Bids {
		return &b.bids
	}
	return &b.asks
}

// Apply применяет одну дельту без сортировки.
// count == 0 или amount <= 0 удаляет уровень, иначе уровень заменяется.
// Замена переносит уровень в конец: при равенстве цен (после Sort)
// побеждает последняя запись.
func (b *OrderBook) Apply(s BookSide, lvl models.OrderBookLevel) {
	levels := b.side(s)

	kept := (*levels)[:0]
	for _, l := range *levels {
		if l.Price != lvl.Price {
			kept = append(kept, l)
		}
	}
	if lvl.Count != 0 && lvl.Amount > 0 {
		kept = append(kept, lvl)
	}
	*levels = kept
}

// Sort восстанавливает порядок после пачки дельт (stable)
func (b *OrderBook) Sort() {
	sort.SliceStable(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.SliceStable(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })
}

// Replace - полный снимок стакана
func (b *OrderBook) Replace(bids, asks []models.OrderBookLevel) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for _, l := range bids {
		b.Apply(Bids, l)
	}
	for _, l := range asks {
		b.Apply(Asks, l)
	}
	b.Sort()
}

// Prune удаляет уровни старше окна устаревания
func (b *OrderBook) Prune(now time.Time) {
	cutoff := now.Add(-b.staleness)
	prune := func(levels []models.OrderBookLevel) []models.OrderBookLevel {
		kept := levels[:0]
		for _, l := range levels {
			if !l.Timestamp.Before(cutoff) {
				kept = append(kept, l)
			}
		}
		return kept
	}
	b.bids = prune(b.bids)
	b.asks = prune(b.asks)
}

// Best - лучшие bid/ask после удаления устаревших уровней
func (b *OrderBook) Best(now time.Time) (bid, ask models.OrderBookLevel, ok bool) {
	b.Prune(now)
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return bid, ask, false
	}
	return b.bids[0], b.asks[0], true
}

// Depth - количество уровней на сторонах
func (b *OrderBook) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

// Levels - копия стороны (для тестов и отладки)
func (b *OrderBook) Levels(s BookSide) []models.OrderBookLevel {
	return append([]models.OrderBookLevel(nil), *b.side(s)...)
}

// bookSet - стаканы шлюза по каноническому символу
type bookSet struct {
	books     map[string]*OrderBook
	staleness time.Duration
}

func newBookSet(staleness time.Duration) *bookSet {
	return &bookSet{books: make(map[string]*OrderBook), staleness: staleness}
}

func (s *bookSet) get(symbol string) *OrderBook {
	b, ok := s.books[symbol]
	if !ok {
		b = NewOrderBook(s.staleness)
		s.books[symbol] = b
	}
	return b
}

// reset - после переподключения состояние строится заново
func (s *bookSet) reset() {
	s.books = make(map[string]*OrderBook)
}

// tickerFromBook собирает TickerEvent из лучших уровней
func tickerFromBook(exchange, symbol string, book *OrderBook, now time.Time) *models.TickerEvent {
	bid, ask, ok := book.Best(now)
	if !ok {
		return nil
	}
	return &models.TickerEvent{
		Exchange:  exchange,
		Symbol:    symbol,
		Timestamp: now,
		Bid:       bid.Price,
		BidQty:    bid.Amount,
		Ask:       ask.Price,
		AskQty:    ask.Amount,
	}
}

// levelsFrom переводит уровни из кадра в уровни стакана
func levelsFrom(raw []priceLevel, now time.Time) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, models.OrderBookLevel{
			Price:     l.Price.Float(),
			Amount:    l.Size.Float(),
			Count:     1,
			Timestamp: now,
		})
	}
	return out
}
