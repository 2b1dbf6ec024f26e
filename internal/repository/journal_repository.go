package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"spotarb/internal/models"
	"spotarb/pkg/retry"
	"spotarb/pkg/utils"
)

// Ошибки журнала
var (
	ErrIntentNotFound = errors.New("intent not found")
	ErrUnknownKind    = errors.New("unknown intent kind")
)

// Виды намерений для MarkFailed
const (
	KindOrder    = "order"
	KindTransfer = "transfer"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	dealQueueSize      = 256
)

// schema - идемпотентная схема журнала
var schema = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		id            TEXT PRIMARY KEY,
		trading_pair  TEXT NOT NULL,
		buy_exchange  TEXT NOT NULL,
		sell_exchange TEXT NOT NULL,
		buy_price     DOUBLE PRECISION NOT NULL,
		sell_price    DOUBLE PRECISION NOT NULL,
		spread        DOUBLE PRECISION NOT NULL,
		margin_pct    DOUBLE PRECISION NOT NULL,
		total_trades  INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_intents (
		id            BIGINT PRIMARY KEY,
		deal_id       TEXT NOT NULL DEFAULT '',
		exchange      TEXT NOT NULL,
		side          TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		amount        DOUBLE PRECISION NOT NULL,
		price         DOUBLE PRECISION NOT NULL,
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transfer_intents (
		id            BIGINT PRIMARY KEY,
		exchange      TEXT NOT NULL,
		asset         TEXT NOT NULL,
		amount        DOUBLE PRECISION NOT NULL,
		destination   TEXT NOT NULL,
		external_id   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_order_intents_created_at ON order_intents (created_at DESC)`,
}

// JournalRepository - журнал сделок, ордеров и переводов.
//
// Все записи повторяются через retry при сбоях соединения;
// ошибки данных (нарушение ограничений, синтаксис) не повторяются.
type JournalRepository struct {
	db    *sql.DB
	retry retry.Config
	log   *utils.Logger

	deals chan models.DealRecord
}

// NewJournalRepository создает новый экземпляр репозитория
func NewJournalRepository(db *sql.DB, log *utils.Logger) *JournalRepository {
	if log == nil {
		log = utils.L()
	}
	cfg := retry.DefaultConfig()
	cfg.RetryIf = isTransient
	return &JournalRepository{
		db:    db,
		retry: cfg,
		log:   log.WithComponent("journal"),
		deals: make(chan models.DealRecord, dealQueueSize),
	}
}

// WithRetry заменяет политику повторов (RetryIf сохраняется)
func (r *JournalRepository) WithRetry(cfg retry.Config) *JournalRepository {
	cfg.RetryIf = isTransient
	r.retry = cfg
	return r
}

// EnsureSchema создает таблицы, если их нет
func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveDeal записывает удержанную сделку
func (r *JournalRepository) SaveDeal(ctx context.Context, d models.DealRecord) error {
	query := `
		INSERT INTO deals (id, trading_pair, buy_exchange, sell_exchange, buy_price, sell_price, spread, margin_pct, total_trades, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	return r.exec(ctx, query,
		d.ID,
		d.TradingPair,
		d.BuyExchange,
		d.SellExchange,
		d.BuyPrice,
		d.SellPrice,
		d.Spread,
		d.Margin,
		d.TotalTrades,
		d.CreatedAt,
	)
}

// SaveOrder записывает ордер в момент отправки
func (r *JournalRepository) SaveOrder(ctx context.Context, rec models.IntentRecord) error {
	query := `
		INSERT INTO order_intents (id, deal_id, exchange, side, symbol, amount, price, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	return r.exec(ctx, query,
		rec.ID,
		rec.DealID,
		rec.Exchange,
		rec.Side,
		rec.Symbol,
		rec.Amount,
		rec.Price,
		rec.Status,
		rec.ErrorMessage,
		rec.CreatedAt,
	)
}

// SaveTransfer записывает вывод вместе с его итогом
func (r *JournalRepository) SaveTransfer(ctx context.Context, rec models.IntentRecord) error {
	query := `
		INSERT INTO transfer_intents (id, exchange, asset, amount, destination, external_id, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET external_id = EXCLUDED.external_id, status = EXCLUDED.status, error_message = EXCLUDED.error_message`

	return r.exec(ctx, query,
		rec.ID,
		rec.Exchange,
		rec.Symbol,
		rec.Amount,
		rec.Destination,
		rec.ExternalID,
		rec.Status,
		rec.ErrorMessage,
		rec.CreatedAt,
	)
}

// MarkFailed помечает ордер или перевод неудачным
func (r *JournalRepository) MarkFailed(ctx context.Context, kind string, id int64, reason string) error {
	var table string
	switch kind {
	case KindOrder:
		table = "order_intents"
	case KindTransfer:
		table = "transfer_intents"
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	query := `UPDATE ` + table + ` SET status = $1, error_message = $2 WHERE id = $3`

	return retry.Do(ctx, func() error {
		res, err := r.db.ExecContext(ctx, query, models.IntentStatusFailed, reason, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return retry.Permanent(fmt.Errorf("%w: %s %d", ErrIntentNotFound, kind, id))
		}
		return nil
	}, r.retry)
}

// RecentDeals - последние сделки, новые первыми
func (r *JournalRepository) RecentDeals(ctx context.Context, limit int) ([]models.DealRecord, error) {
	query := `
		SELECT id, trading_pair, buy_exchange, sell_exchange, buy_price, sell_price, spread, margin_pct, total_trades, created_at
		FROM deals
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deals := make([]models.DealRecord, 0)
	for rows.Next() {
		var d models.DealRecord
		err := rows.Scan(
			&d.ID,
			&d.TradingPair,
			&d.BuyExchange,
			&d.SellExchange,
			&d.BuyPrice,
			&d.SellPrice,
			&d.Spread,
			&d.Margin,
			&d.TotalTrades,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// RecentOrders - последние ордера, новые первыми
func (r *JournalRepository) RecentOrders(ctx context.Context, limit int) ([]models.IntentRecord, error) {
	query := `
		SELECT id, deal_id, exchange, side, symbol, amount, price, status, error_message, created_at
		FROM order_intents
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]models.IntentRecord, 0)
	for rows.Next() {
		var o models.IntentRecord
		err := rows.Scan(
			&o.ID,
			&o.DealID,
			&o.Exchange,
			&o.Side,
			&o.Symbol,
			&o.Amount,
			&o.Price,
			&o.Status,
			&o.ErrorMessage,
			&o.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ============================================================
// Асинхронная запись сделок
// ============================================================

// ObserveDeal ставит сделку в очередь записи. Не блокирует движок:
// при переполнении очереди сделка только логируется.
func (r *JournalRepository) ObserveDeal(d models.Deal) {
	select {
	case r.deals <- models.NewDealRecord(d):
	default:
		r.log.Warn("deal queue full, record dropped", utils.DealID(d.ID), utils.Symbol(d.TradingPair))
	}
}

// Run пишет сделки из очереди до отмены контекста
func (r *JournalRepository) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-r.deals:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := r.SaveDeal(writeCtx, d); err != nil {
				r.log.Error("failed to journal deal", utils.DealID(d.ID), utils.Err(err))
			}
			cancel()
		}
	}
}

func (r *JournalRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	}, r.retry)
}

// isTransient - повторяем сбои соединения и ресурсов PostgreSQL.
// Ошибки не от сервера (обрыв, bad conn) тоже считаются временными.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return true
	}
	switch pqErr.Code.Class() {
	case "08", "40", "53", "57":
		return true
	default:
		return false
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRecentLimit
	case limit > maxRecentLimit:
		return maxRecentLimit
	default:
		return limit
	}
}
