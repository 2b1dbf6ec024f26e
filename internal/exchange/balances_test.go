package exchange

import (
	"errors"
	"testing"
)

func TestBalanceBookReplace(t *testing.T) {
	b := newBalanceBook("TEST")
	b.Replace(map[string]float64{"BTC": 0.5, "USDT": 1000, "ETH": 0, "XRP": -1})

	if v, err := b.Get("BTC"); err != nil || v != 0.5 {
		t.Errorf("BTC: expected 0.5, got %v (%v)", v, err)
	}
	for _, asset := range []string{"ETH", "XRP", "DOGE"} {
		if _, err := b.Get(asset); !errors.Is(err, ErrBalanceNotFound) {
			t.Errorf("%s: expected ErrBalanceNotFound, got %v", asset, err)
		}
	}

	// полный снимок вытесняет прошлые активы
	b.Replace(map[string]float64{"USDT": 10})
	if _, err := b.Get("BTC"); !errors.Is(err, ErrBalanceNotFound) {
		t.Errorf("BTC must be gone after snapshot, got %v", err)
	}
}

func TestBalanceBookUpdate(t *testing.T) {
	b := newBalanceBook("TEST")
	b.Replace(map[string]float64{"BTC": 1, "USDT": 100})

	b.Update(map[string]float64{"BTC": 2})
	b.Update(map[string]float64{"BTC": 3})
	if v, _ := b.Get("BTC"); v != 3 {
		t.Errorf("last write must win: expected 3, got %v", v)
	}
	if v, _ := b.Get("USDT"); v != 100 {
		t.Errorf("untouched asset changed: %v", v)
	}

	b.Update(map[string]float64{"USDT": 0})
	if _, err := b.Get("USDT"); !errors.Is(err, ErrBalanceNotFound) {
		t.Errorf("zero balance must be removed, got %v", err)
	}
}

func TestBalanceBookCanonicalAsset(t *testing.T) {
	b := newBalanceBook("TEST")
	b.Update(map[string]float64{"UST": 42})

	if v, err := b.Get("USDT"); err != nil || v != 42 {
		t.Errorf("UST must be stored as USDT: got %v (%v)", v, err)
	}
}

func TestBalanceBookSnapshotIsCopy(t *testing.T) {
	b := newBalanceBook("TEST")
	b.Replace(map[string]float64{"BTC": 1})

	snap := b.Snapshot()
	snap["BTC"] = 100
	if v, _ := b.Get("BTC"); v != 1 {
		t.Errorf("snapshot mutation leaked into book: %v", v)
	}

	b.Clear()
	if len(b.Snapshot()) != 0 {
		t.Error("expected empty book after Clear")
	}
}
