package bot

import (
	"context"
	"sync"
	"time"

	"spotarb/internal/bus"
	"spotarb/internal/exchange"
	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// DefaultExecTimeout - лимит на один вызов биржи
const DefaultExecTimeout = 10 * time.Second

// GatewayResolver - поиск шлюза по коду биржи (Registry)
type GatewayResolver interface {
	Get(code string) (exchange.Gateway, error)
}

// IntentJournal - запись отправленных ордеров и переводов.
// Ошибки журнала только логируются.
type IntentJournal interface {
	SaveOrder(ctx context.Context, rec models.IntentRecord) error
	SaveTransfer(ctx context.Context, rec models.IntentRecord) error
	MarkFailed(ctx context.Context, kind string, id int64, reason string) error
}

// Router исполняет ордера и переводы с шины.
//
// Каждое намерение отправляется ровно один раз в отдельной горутине,
// подтверждения не ждём. Ошибки биржи не возвращаются движку.
type Router struct {
	gateways GatewayResolver
	journal  IntentJournal
	timeout  time.Duration
	log      *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu упорядочивает wg.Add в spawn и wg.Wait в Stop
	mu      sync.Mutex
	stopped bool
}

func NewRouter(gateways GatewayResolver, journal IntentJournal, timeout time.Duration, log *utils.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if log == nil {
		log = utils.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		gateways: gateways,
		journal:  journal,
		timeout:  timeout,
		log:      log.WithComponent("router"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Attach подписывает роутер на ордера и переводы
func (r *Router) Attach(b *bus.Bus) {
	b.Subscribe(models.KindOrder, r.HandleEvent)
	b.Subscribe(models.KindTransfer, r.HandleEvent)
}

func (r *Router) HandleEvent(ev models.Event) {
	switch e := ev.(type) {
	case models.OrderEvent:
		r.spawn(func() { r.execOrder(e) })
	case models.TransferEvent:
		r.spawn(func() { r.execTransfer(e) })
	}
}

func (r *Router) spawn(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Stop отменяет незавершённые вызовы и ждёт горутины
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// Wait ждёт завершения уже запущенных вызовов
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) execOrder(o models.OrderEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	log := r.log.With(utils.Exchange(o.Exchange), utils.OrderID(o.ID), utils.Side(string(o.Type)))
	rec := models.NewOrderIntent(o)

	gw, err := r.gateways.Get(o.Exchange)
	if err != nil {
		metrics.RecordIntent(o.Exchange, "order", "unknown_exchange", time.Since(start))
		log.Error("order for unregistered exchange", utils.Err(err))
		rec.Status = models.IntentStatusRejected
		rec.ErrorMessage = err.Error()
		r.saveOrder(rec)
		return
	}

	r.saveOrder(rec)
	err = gw.PlaceOrder(ctx, o)
	metrics.RecordIntent(o.Exchange, "order", outcome(err), time.Since(start))
	if err != nil {
		log.Error("order failed",
			utils.Symbol(o.Symbol), utils.Volume(o.Amount), utils.Price(o.Price), utils.Err(err))
		r.markFailed("order", o.ID, err)
		return
	}
	log.Info("order sent", utils.Symbol(o.Symbol), utils.Volume(o.Amount), utils.Price(o.Price))
}

// execTransfer пишет в журнал после ответа: строка хранит id вывода
func (r *Router) execTransfer(t models.TransferEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	log := r.log.With(utils.Exchange(t.Exchange), utils.Asset(t.Symbol), utils.Int64("transfer_id", t.ID))

	gw, err := r.gateways.Get(t.Exchange)
	if err != nil {
		metrics.RecordIntent(t.Exchange, "transfer", "unknown_exchange", time.Since(start))
		log.Error("transfer for unregistered exchange", utils.Err(err))
		rec := models.NewTransferIntent(t, "")
		rec.Status = models.IntentStatusRejected
		rec.ErrorMessage = err.Error()
		r.saveTransfer(rec)
		return
	}

	externalID, err := gw.Transfer(ctx, t)
	metrics.RecordIntent(t.Exchange, "transfer", outcome(err), time.Since(start))

	rec := models.NewTransferIntent(t, externalID)
	if err != nil {
		log.Error("transfer failed", utils.Volume(t.Amount), utils.Err(err))
		rec.Status = models.IntentStatusFailed
		rec.ErrorMessage = err.Error()
	} else {
		log.Info("transfer sent", utils.Volume(t.Amount), utils.String("withdraw_id", externalID))
	}
	r.saveTransfer(rec)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case exchange.IsVenueRejected(err):
		return "rejected"
	case exchange.IsNetworkError(err):
		return "network_error"
	default:
		return "failed"
	}
}

// ============ журнал ============

// journalContext не зависит от отмены вызова биржи: неудача
// по таймауту тоже должна попасть в журнал
func (r *Router) journalContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), r.timeout)
}

func (r *Router) saveOrder(rec models.IntentRecord) {
	if r.journal == nil {
		return
	}
	ctx, cancel := r.journalContext()
	defer cancel()
	if err := r.journal.SaveOrder(ctx, rec); err != nil {
		r.log.Warn("journal order", utils.OrderID(rec.ID), utils.Err(err))
	}
}

func (r *Router) saveTransfer(rec models.IntentRecord) {
	if r.journal == nil {
		return
	}
	ctx, cancel := r.journalContext()
	defer cancel()
	if err := r.journal.SaveTransfer(ctx, rec); err != nil {
		r.log.Warn("journal transfer", utils.Int64("transfer_id", rec.ID), utils.Err(err))
	}
}

func (r *Router) markFailed(kind string, id int64, cause error) {
	if r.journal == nil {
		return
	}
	ctx, cancel := r.journalContext()
	defer cancel()
	if err := r.journal.MarkFailed(ctx, kind, id, cause.Error()); err != nil {
		r.log.Warn("journal mark failed", utils.Int64("id", id), utils.Err(err))
	}
}
