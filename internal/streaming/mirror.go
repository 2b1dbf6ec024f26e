// Package streaming зеркалирует события шины в Redis Streams
// для внешних потребителей (дашборды, аудит).
package streaming

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"spotarb/internal/bus"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Имена потоков
const (
	StreamOrders    = "arb:orders"
	StreamTransfers = "arb:transfers"
	StreamTickers   = "arb:tickers"
)

// Config - параметры зеркала
type Config struct {
	URL string
	// MaxLen - примерная длина потока (XADD MAXLEN ~)
	MaxLen        int64
	MirrorTickers bool
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxLen:       10000,
		WriteTimeout: 2 * time.Second,
	}
}

// Mirror пишет ордера и переводы (и по желанию котировки) в Redis.
// Ошибки Redis только логируются: зеркало не влияет на торговлю.
type Mirror struct {
	rdb *redis.Client
	cfg Config
	log *utils.Logger
}

// Dial подключается по REDIS_URL и проверяет соединение
func Dial(ctx context.Context, cfg Config, log *utils.Logger) (*Mirror, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewMirror(rdb, cfg, log), nil
}

func NewMirror(rdb *redis.Client, cfg Config, log *utils.Logger) *Mirror {
	def := DefaultConfig()
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = def.MaxLen
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = utils.L()
	}
	return &Mirror{rdb: rdb, cfg: cfg, log: log.WithComponent("mirror")}
}

// Attach подписывает зеркало на шину
func (m *Mirror) Attach(b *bus.Bus) {
	b.Subscribe(models.KindOrder, m.HandleEvent)
	b.Subscribe(models.KindTransfer, m.HandleEvent)
	if m.cfg.MirrorTickers {
		b.Subscribe(models.KindTicker, m.HandleEvent)
	}
}

func (m *Mirror) HandleEvent(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := m.Append(ctx, ev); err != nil {
		m.log.Warn("mirror append failed",
			utils.String("kind", string(ev.Kind())), utils.Exchange(ev.Source()), utils.Err(err))
	}
}

// Append добавляет событие в поток его типа
func (m *Mirror) Append(ctx context.Context, ev models.Event) error {
	stream, ok := streamFor(ev.Kind())
	if !ok {
		return fmt.Errorf("no stream for %s", ev.Kind())
	}
	if ev.Kind() == models.KindTicker && !m.cfg.MirrorTickers {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: m.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    string(ev.Kind()),
			"source":  ev.Source(),
			"payload": string(payload),
		},
	}
	if err := m.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

func (m *Mirror) Close() error {
	return m.rdb.Close()
}

func streamFor(kind models.EventKind) (string, bool) {
	switch kind {
	case models.KindOrder:
		return StreamOrders, true
	case models.KindTransfer:
		return StreamTransfers, true
	case models.KindTicker:
		return StreamTickers, true
	default:
		return "", false
	}
}
