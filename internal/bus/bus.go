// Package bus - внутрипроцессная шина событий между шлюзами, движком
// и исполнителем ордеров.
package bus

import (
	"context"
	"sync"

	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Handler обрабатывает одно событие. Вызывается из воркера шарда,
// события одного источника приходят строго по порядку.
type Handler func(ev models.Event)

// Config - параметры шины
type Config struct {
	// Shards - воркеров на подписку; шард выбирается по fnv(Source)
	Shards int
	// BufferSize - ёмкость очереди одного шарда
	BufferSize int
}

func DefaultConfig() Config {
	return Config{Shards: 8, BufferSize: 1024}
}

type subscription struct {
	kind    models.EventKind
	handler Handler
	shards  []chan models.Event
}

// Bus - шина с шардированными очередями.
//
// Publish никогда не вызывает обработчики в своей горутине.
// Котировки ставятся в очередь без блокировки: при переполнении тик
// отбрасывается (следующий тик его всё равно заменит). Ордера и выводы
// ждут места в очереди и теряются только при закрытии шины.
type Bus struct {
	cfg Config
	log *utils.Logger

	mu   sync.RWMutex
	subs map[models.EventKind][]*subscription

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, log *utils.Logger) *Bus {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if log == nil {
		log = utils.L()
	}
	return &Bus{
		cfg:    cfg,
		log:    log.WithComponent("bus"),
		subs:   make(map[models.EventKind][]*subscription),
		closed: make(chan struct{}),
	}
}

// Subscribe регистрирует обработчик и сразу запускает его воркеры
func (b *Bus) Subscribe(kind models.EventKind, h Handler) {
	sub := &subscription{
		kind:    kind,
		handler: h,
		shards:  make([]chan models.Event, b.cfg.Shards),
	}
	for i := range sub.shards {
		sub.shards[i] = make(chan models.Event, b.cfg.BufferSize)
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	for i := range sub.shards {
		b.wg.Add(1)
		go b.worker(sub, sub.shards[i])
	}
}

// Publish ставит событие в очередь каждого подписчика его типа
func (b *Bus) Publish(ev models.Event) {
	if ev == nil || b.isClosed() {
		return
	}
	kind := ev.Kind()

	b.mu.RLock()
	subs := b.subs[kind]
	b.mu.RUnlock()

	idx := utils.FNVHash(ev.Source()) % uint32(b.cfg.Shards)
	for _, sub := range subs {
		ch := sub.shards[idx]
		if kind == models.KindTicker {
			select {
			case ch <- ev:
			default:
				metrics.RecordBufferOverflow(string(kind))
			}
			continue
		}
		select {
		case ch <- ev:
		case <-b.closed:
			b.log.Warn("bus closed, event not delivered",
				utils.String("kind", string(kind)), utils.String("source", ev.Source()))
			return
		}
	}
	metrics.RecordPublished(string(kind))
}

func (b *Bus) worker(sub *subscription, ch <-chan models.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.closed:
			return
		case ev := <-ch:
			b.dispatch(sub, ev)
		}
	}
}

// dispatch - паника обработчика не должна убить воркер
func (b *Bus) dispatch(sub *subscription, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerPanic(string(sub.kind))
			b.log.Error("handler panic recovered",
				utils.String("kind", string(sub.kind)),
				utils.String("source", ev.Source()),
				utils.Any("panic", r))
		}
	}()
	sub.handler(ev)
}

// Run блокируется до отмены контекста, затем закрывает шину
func (b *Bus) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-b.closed:
	}
	b.Close()
	return nil
}

// Close останавливает воркеры и ждёт их завершения.
// События, оставшиеся в очередях, не доставляются.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	b.wg.Wait()
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
