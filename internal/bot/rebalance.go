package bot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// transferStep - точность суммы вывода
const transferStep = 0.00000001

// BalanceReader - снимки балансов бирж (Registry)
type BalanceReader interface {
	Balances(exchange string) map[string]float64
}

// RebalanceConfig - параметры выравнивания балансов
type RebalanceConfig struct {
	Interval  time.Duration // 0 - выключено
	Ratio     float64       // перекос, после которого выводим
	MinAmount float64
	Cooldown  time.Duration // на один актив
	Venues    []string
	Assets    []string
}

func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		Ratio:    2,
		Cooldown: 30 * time.Minute,
		Venues:   []string{"BINANCE", "BITFINEX"},
	}
}

// Rebalancer следит за перекосом балансов между торговыми биржами.
//
// Если на одной бирже актива больше чем Ratio балансов другой, половина
// разницы выводится на депозитный адрес биржи с дефицитом.
type Rebalancer struct {
	cfg       RebalanceConfig
	balances  BalanceReader
	addresses map[string]models.DepositAddress // EXCH:ASSET
	pub       Publisher
	log       *utils.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewRebalancer(cfg RebalanceConfig, balances BalanceReader, addresses []models.DepositAddress, pub Publisher, log *utils.Logger) *Rebalancer {
	def := DefaultRebalanceConfig()
	if cfg.Ratio <= 1 {
		cfg.Ratio = def.Ratio
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = def.Venues
	}
	if log == nil {
		log = utils.L()
	}
	book := make(map[string]models.DepositAddress, len(addresses))
	for _, a := range addresses {
		book[addressKey(a.Exchange, a.Asset)] = a
	}
	return &Rebalancer{
		cfg:       cfg,
		balances:  balances,
		addresses: book,
		pub:       pub,
		log:       log.WithComponent("rebalancer"),
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
}

// WithClock подменяет часы (тесты)
func (r *Rebalancer) WithClock(now func() time.Time) *Rebalancer {
	r.now = now
	return r
}

func addressKey(exchange, asset string) string {
	return strings.ToUpper(exchange) + ":" + strings.ToUpper(asset)
}

// Run проверяет балансы каждые Interval до отмены контекста
func (r *Rebalancer) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		r.log.Info("rebalancing disabled")
		return nil
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Check()
		}
	}
}

// Check сравнивает балансы и публикует нужные переводы
func (r *Rebalancer) Check() []models.TransferEvent {
	snapshots := make(map[string]map[string]float64, len(r.cfg.Venues))
	for _, v := range r.cfg.Venues {
		// пустой снимок: приватный канал отключён, данных нет
		if snap := r.balances.Balances(v); len(snap) > 0 {
			snapshots[v] = snap
		}
	}

	assets := append([]string(nil), r.cfg.Assets...)
	sort.Strings(assets)

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.TransferEvent
	now := r.now()
	for _, asset := range assets {
		if last, ok := r.lastSent[asset]; ok && now.Sub(last) < r.cfg.Cooldown {
			continue
		}
		if t, ok := r.plan(asset, snapshots, now); ok {
			r.lastSent[asset] = now
			r.pub.Publish(t)
			out = append(out, t)
		}
	}
	return out
}

// plan ищет первую пару бирж с перекосом по активу
func (r *Rebalancer) plan(asset string, snapshots map[string]map[string]float64, now time.Time) (models.TransferEvent, bool) {
	venues := r.cfg.Venues
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			a, okA := snapshots[venues[i]]
			b, okB := snapshots[venues[j]]
			if !okA || !okB {
				continue
			}

			from, to := venues[i], venues[j]
			surplus, deficit := a[asset], b[asset]
			if deficit > surplus {
				from, to = to, from
				surplus, deficit = deficit, surplus
			}
			if surplus <= r.cfg.Ratio*deficit {
				continue
			}

			amount := utils.RoundToLotSize((surplus-deficit)/2, transferStep)
			if amount <= 0 || amount < r.cfg.MinAmount {
				continue
			}
			dest, ok := r.addresses[addressKey(to, asset)]
			if !ok {
				r.log.Warn("no deposit address for rebalance",
					utils.Exchange(to), utils.Asset(asset), utils.Volume(amount))
				continue
			}

			r.log.Info("rebalance transfer",
				utils.Asset(asset),
				utils.String("from", from),
				utils.String("to", to),
				utils.Volume(amount))
			return models.TransferEvent{
				ID:           utils.NumericIDAt(now),
				Exchange:     from,
				Symbol:       asset,
				Amount:       amount,
				Timestamp:    now,
				ToAddress:    dest.Address,
				ToAddressTag: dest.Tag,
			}, true
		}
	}
	return models.TransferEvent{}, false
}
