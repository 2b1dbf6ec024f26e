package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spotarb/pkg/utils"
)

// SupportedExchanges - коды поддерживаемых бирж
var SupportedExchanges = []string{
	binanceCode,
	bitfinexCode,
	bybitCode,
	coinbaseCode,
	cexCode,
	currencyCode,
	dydxCode,
}

// NewGateway создаёт шлюз по коду биржи
func NewGateway(code string, opts Options) (Gateway, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case binanceCode:
		return NewBinance(opts), nil
	case bitfinexCode:
		return NewBitfinex(opts), nil
	case bybitCode:
		return NewBybit(opts), nil
	case coinbaseCode:
		return NewCoinbase(opts), nil
	case cexCode:
		return NewCEX(opts), nil
	case currencyCode:
		return NewCurrencyCom(opts), nil
	case dydxCode:
		return NewDYDX(opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, code)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, supported := range SupportedExchanges {
		if code == supported {
			return true
		}
	}
	return false
}

// Registry - код биржи -> шлюз.
// Заполняется при старте; после ConnectAll только читается.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	log      *utils.Logger
}

func NewRegistry(log *utils.Logger) *Registry {
	if log == nil {
		log = utils.L()
	}
	return &Registry{
		gateways: make(map[string]Gateway),
		log:      log.WithComponent("registry"),
	}
}

func (r *Registry) Register(g Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gateways[g.Code()]; exists {
		return fmt.Errorf("gateway %s already registered", g.Code())
	}
	r.gateways[g.Code()] = g
	return nil
}

// Get возвращает шлюз или ErrUnknownExchange
func (r *Registry) Get(code string) (Gateway, error) {
	r.mu.RLock()
	g, ok := r.gateways[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, code)
	}
	return g, nil
}

// Codes - отсортированные коды зарегистрированных бирж
func (r *Registry) Codes() []string {
	r.mu.RLock()
	codes := make([]string, 0, len(r.gateways))
	for code := range r.gateways {
		codes = append(codes, code)
	}
	r.mu.RUnlock()
	sort.Strings(codes)
	return codes
}

// All - шлюзы в порядке Codes
func (r *Registry) All() []Gateway {
	codes := r.Codes()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Gateway, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.gateways[code])
	}
	return out
}

// Balance - доступный баланс; неизвестная биржа или актив дают 0
func (r *Registry) Balance(code, asset string) float64 {
	g, err := r.Get(code)
	if err != nil {
		return 0
	}
	v, err := g.Balance(asset)
	if err != nil {
		return 0
	}
	return v
}

// Balances - снимок всех балансов биржи; nil для неизвестной
func (r *Registry) Balances(code string) map[string]float64 {
	g, err := r.Get(code)
	if err != nil {
		return nil
	}
	return g.Balances()
}

// LotStep - шаг лота биржи; 0 для неизвестной биржи
func (r *Registry) LotStep(code, symbol string) float64 {
	g, err := r.Get(code)
	if err != nil {
		return 0
	}
	return g.LotStep(symbol)
}

// ConnectAll подключает все шлюзы параллельно.
// Неудачный первый dial не фатален: поток переподключается в фоне,
// ошибки собираются и возвращаются вместе.
func (r *Registry) ConnectAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	for _, g := range r.All() {
		g := g
		eg.Go(func() error {
			if err := g.Connect(ctx); err != nil {
				r.log.Warn("initial connect failed, retrying in background",
					utils.Exchange(g.Code()), utils.Err(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", g.Code(), err))
				mu.Unlock()
				return nil
			}
			r.log.Info("gateway connected", utils.Exchange(g.Code()))
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// RefreshLoop периодически запрашивает балансы у бирж с приватным каналом.
// Частоту ограничивает Throttle шлюза, лишние вызовы - no-op.
func (r *Registry) RefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, g := range r.All() {
				if ar, ok := g.(AccountRefresher); ok {
					ar.RefreshAccount()
				}
			}
		}
	}
}

// CloseAll закрывает все шлюзы
func (r *Registry) CloseAll() error {
	var errs []error
	for _, g := range r.All() {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Code(), err))
		}
	}
	return errors.Join(errs...)
}
