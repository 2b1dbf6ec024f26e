package exchange

import (
	"sync/atomic"

	"spotarb/internal/metrics"
)

// balanceBook - балансы одной биржи.
// Пишет только горутина приватного канала биржи; читатели (движок, API)
// получают неизменяемый снимок через atomic.Pointer (copy-on-write).
type balanceBook struct {
	exchange string
	snap     atomic.Pointer[map[string]float64]
}

func newBalanceBook(exchange string) *balanceBook {
	b := &balanceBook{exchange: exchange}
	empty := map[string]float64{}
	b.snap.Store(&empty)
	return b
}

// Replace - полный снимок аккаунта: хранятся только строго положительные значения
func (b *balanceBook) Replace(values map[string]float64) {
	next := make(map[string]float64, len(values))
	for asset, v := range values {
		asset = CanonicalAsset(asset)
		if v > 0 {
			next[asset] = v
		}
		metrics.RecordBalance(b.exchange, asset, v)
	}
	b.snap.Store(&next)
}

// Update - частичное обновление: last-write-wins по каждому активу.
// Неположительное значение убирает актив (он становится zero-tradeable).
func (b *balanceBook) Update(values map[string]float64) {
	cur := *b.snap.Load()
	next := make(map[string]float64, len(cur)+len(values))
	for k, v := range cur {
		next[k] = v
	}
	for asset, v := range values {
		asset = CanonicalAsset(asset)
		if v > 0 {
			next[asset] = v
		} else {
			delete(next, asset)
		}
		metrics.RecordBalance(b.exchange, asset, v)
	}
	b.snap.Store(&next)
}

// Get - доступный баланс либо ErrBalanceNotFound
func (b *balanceBook) Get(asset string) (float64, error) {
	v, ok := (*b.snap.Load())[CanonicalAsset(asset)]
	if !ok {
		return 0, ErrBalanceNotFound
	}
	return v, nil
}

// Snapshot - копия для API
func (b *balanceBook) Snapshot() map[string]float64 {
	cur := *b.snap.Load()
	out := make(map[string]float64, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Clear - после обрыва приватного канала балансы неизвестны
func (b *balanceBook) Clear() {
	empty := map[string]float64{}
	b.snap.Store(&empty)
}
