// Package exchange - шлюзы бирж: соединение, разбор кадров, локальные
// стаканы и балансы, нормализация в TickerEvent, отправка ордеров и выводов.
package exchange

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Gateway - единый интерфейс всех бирж.
//
// HandleMessage и Normalize вызываются только из горутины чтения биржи:
// для бирж с дельта-стаканом Normalize применяет дельты к локальному стакану.
type Gateway interface {
	Code() string
	// Connect открывает потоки; подписка и аутентификация выполняются
	// на каждом (пере)подключении
	Connect(ctx context.Context) error
	// Subscribe идемпотентен в пределах одного соединения
	Subscribe(symbols []string) error
	HandleMessage(raw []byte)
	// Normalize возвращает nil, nil для кадров без котировки
	Normalize(raw []byte) (*models.TickerEvent, error)
	Balance(asset string) (float64, error)
	Balances() map[string]float64
	LotStep(symbol string) float64
	// PlaceOrder не ждёт ответа биржи
	PlaceOrder(ctx context.Context, order models.OrderEvent) error
	// Transfer возвращает внешний id вывода
	Transfer(ctx context.Context, t models.TransferEvent) (string, error)
	State() ConnState
	Close() error
}

// AccountRefresher - биржи с приватным каналом статуса аккаунта
type AccountRefresher interface {
	// RefreshAccount запрашивает балансы, если истёк минимальный интервал
	RefreshAccount() bool
}

// Publisher - шина событий
type Publisher interface {
	Publish(ev models.Event)
}

// PublisherFunc - адаптер функции к Publisher
type PublisherFunc func(ev models.Event)

func (f PublisherFunc) Publish(ev models.Event) { f(ev) }

// ConnState - состояние соединения шлюза
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateStreaming
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Credentials - API-ключ биржи
type Credentials struct {
	APIKey string
	Secret string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.Secret == ""
}

// Options - общие параметры шлюзов
type Options struct {
	// Symbols - базовые активы (BTC, ETH); котировка всегда USDT
	Symbols     []string
	Publisher   Publisher
	Logger      *utils.Logger
	Credentials Credentials

	// Пустые URL заменяются боевыми адресами биржи
	PublicURL  string
	PrivateURL string
	RESTURL    string
	HTTPClient *http.Client

	WS             WSConfig
	Staleness      time.Duration
	AccountRefresh time.Duration
	RecvWindow     time.Duration

	// LotSteps - шаг объёма по базовому активу; по умолчанию DefaultLotStep
	LotSteps       map[string]float64
	DefaultLotStep float64

	Now func() time.Time

	streams streamFactory
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = utils.L()
	}
	if o.Publisher == nil {
		o.Publisher = PublisherFunc(func(models.Event) {})
	}
	if o.WS == (WSConfig{}) {
		o.WS = DefaultWSConfig()
	}
	if o.Staleness <= 0 {
		o.Staleness = DefaultStaleness
	}
	if o.AccountRefresh <= 0 {
		o.AccountRefresh = 5 * time.Second
	}
	if o.RecvWindow <= 0 {
		o.RecvWindow = 5 * time.Second
	}
	if o.DefaultLotStep <= 0 {
		o.DefaultLotStep = 0.00001
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.streams == nil {
		o.streams = defaultStreamFactory
	}
	for i, s := range o.Symbols {
		o.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// ============================================================
// baseGateway - общее состояние всех шлюзов
// ============================================================

type baseGateway struct {
	code      string
	opts      Options
	log       *utils.Logger
	state     atomic.Int32
	subscribe atomic.Bool // подписка отправлена в текущем соединении
	balances  *balanceBook
}

func newBase(code string, opts Options) baseGateway {
	opts.withDefaults()
	return baseGateway{
		code:     code,
		opts:     opts,
		log:      opts.Logger.WithExchange(code),
		balances: newBalanceBook(code),
	}
}

func (b *baseGateway) Code() string { return b.code }

func (b *baseGateway) State() ConnState { return ConnState(b.state.Load()) }

func (b *baseGateway) setState(s ConnState) {
	if ConnState(b.state.Swap(int32(s))) != s {
		metrics.RecordConnectionState(b.code, int(s))
		b.log.Debug("state changed", utils.State(s.String()))
	}
}

// beginSubscribe - true ровно один раз на соединение
func (b *baseGateway) beginSubscribe() bool {
	return b.subscribe.CompareAndSwap(false, true)
}

// resetConnection - стейт не чинится, а выбрасывается
func (b *baseGateway) resetConnection(err error) {
	b.subscribe.Store(false)
	b.setState(StateDisconnected)
	if err != nil {
		b.log.Warn("connection lost, local state discarded", utils.Err(err))
	}
}

func (b *baseGateway) Balance(asset string) (float64, error) {
	return b.balances.Get(asset)
}

func (b *baseGateway) Balances() map[string]float64 {
	return b.balances.Snapshot()
}

func (b *baseGateway) LotStep(symbol string) float64 {
	if step, ok := b.opts.LotSteps[BaseAsset(symbol)]; ok && step > 0 {
		return step
	}
	return b.opts.DefaultLotStep
}

func (b *baseGateway) now() time.Time { return b.opts.Now() }

// emit публикует котировку на шину; первая котировка переводит в Streaming
func (b *baseGateway) emit(ev *models.TickerEvent) {
	if ev == nil {
		metrics.RecordMessage(b.code, "ignored")
		return
	}
	if !ev.Valid() {
		metrics.RecordMessage(b.code, "invalid")
		return
	}
	if b.State() == StateSubscribed {
		b.setState(StateStreaming)
	}
	metrics.RecordMessage(b.code, "ticker")
	b.opts.Publisher.Publish(*ev)
}

// handle - общий путь onMessage для бирж, где все кадры разбирает Normalize
func (b *baseGateway) handle(normalize func([]byte) (*models.TickerEvent, error), raw []byte) {
	ev, err := normalize(raw)
	if err != nil {
		b.dropFrame(raw, err)
		return
	}
	b.emit(ev)
}

// dropFrame - кадр не разобран: он теряется, поток продолжается
func (b *baseGateway) dropFrame(raw []byte, err error) {
	metrics.RecordMessage(b.code, "malformed")
	b.log.Warn("frame dropped", utils.Err(err), utils.String("frame", truncate(raw, 256)))
}

// marketOnly - PlaceOrder/Transfer для бирж без торгового API
type marketOnly struct {
	venue string
}

func (m marketOnly) PlaceOrder(context.Context, models.OrderEvent) error {
	return readOnlyError(m.venue, "order placement")
}

func (m marketOnly) Transfer(context.Context, models.TransferEvent) (string, error) {
	return "", readOnlyError(m.venue, "transfer")
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
