package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Config содержит всю конфигурацию демона
type Config struct {
	// Exchanges - включённые биржи
	Exchanges []string `env:"EXCHANGES" envSeparator:"," envDefault:"BINANCE,BITFINEX,BYBIT,COINBASE,CEX,CURRENCY,DYDX"`
	// Symbols - базовые активы; котировка всегда USDT
	Symbols []string `env:"SYMBOLS" envSeparator:"," envDefault:"BTC,ETH"`

	Server    ServerConfig
	Logging   LoggingConfig
	Engine    EngineConfig
	Bus       BusConfig
	WS        WSConfig
	Rebalance RebalanceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Security  SecurityConfig

	// DepositAddresses - EXCH:ASSET:address[:tag], через запятую
	DepositAddresses []string `env:"DEPOSIT_ADDRESSES" envSeparator:","`
	// LotSteps - шаг объёма по активу, BTC:0.00001,ETH:0.0001
	LotSteps       map[string]float64 `env:"LOT_STEPS" envSeparator:"," envKeyValSeparator:":"`
	DefaultLotStep float64            `env:"DEFAULT_LOT_STEP" envDefault:"0.00001"`
	AccountRefresh time.Duration      `env:"ACCOUNT_REFRESH" envDefault:"5s"`
	Staleness      time.Duration      `env:"QUOTE_STALENESS" envDefault:"300s"`
}

// ServerConfig - HTTP API статуса
type ServerConfig struct {
	Addr     string   `env:"HTTP_ADDR" envDefault:":8080"`
	Username string   `env:"API_USERNAME"`
	Password string   `env:"API_PASSWORD"`
	Origins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	Output string `env:"LOG_OUTPUT"`
}

// EngineConfig - пороги движка и размер сделки
type EngineConfig struct {
	MinMargin       float64       `env:"MIN_MARGIN" envDefault:"0.2"`
	Cooldown        time.Duration `env:"DEAL_COOLDOWN" envDefault:"180s"`
	MaxSkew         time.Duration `env:"MAX_QUOTE_SKEW" envDefault:"60s"`
	Stripes         int           `env:"ENGINE_STRIPES" envDefault:"64"`
	PriceOffset     float64       `env:"PRICE_OFFSET" envDefault:"0"`
	BalanceFraction float64       `env:"BALANCE_FRACTION" envDefault:"0.5"`
	MinNotional     float64       `env:"MIN_NOTIONAL" envDefault:"10"`
	ExecTimeout     time.Duration `env:"EXEC_TIMEOUT" envDefault:"10s"`
}

// BusConfig - шина событий
type BusConfig struct {
	Shards     int `env:"BUS_SHARDS" envDefault:"8"`
	BufferSize int `env:"BUS_BUFFER" envDefault:"1024"`
}

// WSConfig - WebSocket event-driven, без polling
type WSConfig struct {
	ReconnectDelay    time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"1s"`
	MaxReconnectDelay time.Duration `env:"WS_MAX_RECONNECT_DELAY" envDefault:"60s"`
	PingInterval      time.Duration `env:"WS_PING_INTERVAL" envDefault:"15s"`
	ReadTimeout       time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
}

// RebalanceConfig - перераспределение балансов между биржами
type RebalanceConfig struct {
	Interval  time.Duration `env:"REBALANCE_INTERVAL" envDefault:"0s"`
	Ratio     float64       `env:"REBALANCE_RATIO" envDefault:"2"`
	MinAmount float64       `env:"REBALANCE_MIN_AMOUNT" envDefault:"0"`
	Cooldown  time.Duration `env:"REBALANCE_COOLDOWN" envDefault:"30m"`
	Venues    []string      `env:"REBALANCE_VENUES" envSeparator:"," envDefault:"BINANCE,BITFINEX"`
}

// DatabaseConfig - журнал; пустой URL выключает журнал
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

// RedisConfig - зеркало событий; пустой URL выключает зеркало
type RedisConfig struct {
	URL           string `env:"REDIS_URL"`
	MirrorTickers bool   `env:"REDIS_MIRROR_TICKERS" envDefault:"false"`
	MaxLen        int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
}

// SecurityConfig - расшифровка секретов "enc:..." в окружении
type SecurityConfig struct {
	Passphrase string `env:"CREDENTIALS_PASSPHRASE"`
	Salt       string `env:"CREDENTIALS_SALT" envDefault:"spotarb"`
}

// Load читает .env (если есть) и окружение.
// Переменные окружения имеют приоритет над .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse разбирает конфигурацию без чтения .env (тесты передают Environment)
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Exchanges = upperAll(c.Exchanges)
	c.Symbols = upperAll(c.Symbols)
	c.Rebalance.Venues = upperAll(c.Rebalance.Venues)

	if len(c.LotSteps) > 0 {
		steps := make(map[string]float64, len(c.LotSteps))
		for k, v := range c.LotSteps {
			steps[strings.ToUpper(strings.TrimSpace(k))] = v
		}
		c.LotSteps = steps
	}
}

// Validate проверяет числовые диапазоны и обязательные параметры
func (c *Config) Validate() error {
	if len(c.Exchanges) < 2 {
		return fmt.Errorf("EXCHANGES must list at least two venues, got %d", len(c.Exchanges))
	}
	if len(c.Symbols) == 0 {
		return errors.New("SYMBOLS must list at least one asset")
	}
	for _, s := range c.Symbols {
		if err := utils.ValidateAsset(s); err != nil {
			return fmt.Errorf("SYMBOLS: %w", err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.Logging.Level)
	}

	if c.Engine.MinMargin < 0 {
		return fmt.Errorf("MIN_MARGIN cannot be negative, got %v", c.Engine.MinMargin)
	}
	if c.Engine.Cooldown < 0 {
		return fmt.Errorf("DEAL_COOLDOWN cannot be negative, got %v", c.Engine.Cooldown)
	}
	if c.Engine.MaxSkew <= 0 {
		return fmt.Errorf("MAX_QUOTE_SKEW must be positive, got %v", c.Engine.MaxSkew)
	}
	if err := utils.ValidateFraction("BALANCE_FRACTION", c.Engine.BalanceFraction); err != nil {
		return err
	}
	if c.Engine.ExecTimeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be positive, got %v", c.Engine.ExecTimeout)
	}

	if c.Bus.Shards < 1 || c.Bus.BufferSize < 1 {
		return fmt.Errorf("BUS_SHARDS and BUS_BUFFER must be positive, got %d/%d", c.Bus.Shards, c.Bus.BufferSize)
	}

	if c.WS.ReadTimeout <= 0 {
		return fmt.Errorf("WS_READ_TIMEOUT must be positive, got %v", c.WS.ReadTimeout)
	}

	if c.Rebalance.Interval < 0 {
		return fmt.Errorf("REBALANCE_INTERVAL cannot be negative, got %v", c.Rebalance.Interval)
	}
	if c.Rebalance.Interval > 0 && c.Rebalance.Ratio <= 1 {
		return fmt.Errorf("REBALANCE_RATIO must exceed 1, got %v", c.Rebalance.Ratio)
	}

	if err := utils.ValidatePositive("DEFAULT_LOT_STEP", c.DefaultLotStep); err != nil {
		return err
	}
	for asset, step := range c.LotSteps {
		if err := utils.ValidatePositive("LOT_STEPS["+asset+"]", step); err != nil {
			return err
		}
	}

	if _, err := c.Deposits(); err != nil {
		return err
	}
	return nil
}

// Deposits разбирает DEPOSIT_ADDRESSES
func (c *Config) Deposits() ([]models.DepositAddress, error) {
	out := make([]models.DepositAddress, 0, len(c.DepositAddresses))
	for _, raw := range c.DepositAddresses {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := ParseDepositAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseDepositAddress - формат EXCH:ASSET:address[:tag]
func ParseDepositAddress(raw string) (models.DepositAddress, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return models.DepositAddress{}, fmt.Errorf("DEPOSIT_ADDRESSES: %q must be EXCH:ASSET:address[:tag]", raw)
	}
	d := models.DepositAddress{
		Exchange: strings.ToUpper(strings.TrimSpace(parts[0])),
		Asset:    strings.ToUpper(strings.TrimSpace(parts[1])),
		Address:  strings.TrimSpace(parts[2]),
	}
	if len(parts) == 4 {
		d.Tag = strings.TrimSpace(parts[3])
	}
	if d.Exchange == "" {
		return models.DepositAddress{}, fmt.Errorf("DEPOSIT_ADDRESSES: %q has an empty exchange", raw)
	}
	if err := utils.ValidateAsset(d.Asset); err != nil {
		return models.DepositAddress{}, fmt.Errorf("DEPOSIT_ADDRESSES: %w", err)
	}
	if err := utils.ValidateAddress(d.Address); err != nil {
		return models.DepositAddress{}, fmt.Errorf("DEPOSIT_ADDRESSES: %w", err)
	}
	return d, nil
}

// RebalanceAssets - базовые активы плюс котируемый USDT
func (c *Config) RebalanceAssets() []string {
	assets := append([]string(nil), c.Symbols...)
	return append(assets, models.QuoteAsset)
}

func upperAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
