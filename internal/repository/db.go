package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"spotarb/pkg/retry"
	"spotarb/pkg/utils"
)

// Open создает пул подключений к PostgreSQL и проверяет его.
// Ping повторяется с backoff: база может подниматься вместе с демоном.
func Open(ctx context.Context, dsn string, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	cfg := retry.ConnectConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database ping failed, retrying",
			utils.Int("attempt", attempt), utils.Err(err), utils.Any("delay", delay))
	}
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
