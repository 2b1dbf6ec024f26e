// arbd - демон межбиржевого спотового арбитража.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"spotarb/internal/api"
	"spotarb/internal/api/handlers"
	"spotarb/internal/api/middleware"
	"spotarb/internal/bot"
	"spotarb/internal/bus"
	"spotarb/internal/config"
	"spotarb/internal/exchange"
	"spotarb/internal/models"
	"spotarb/internal/repository"
	"spotarb/internal/streaming"
	"spotarb/internal/websocket"
	"spotarb/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("arbd stopped with error", utils.Err(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("arbd exited")
	_ = log.Sync()
}

func run(ctx context.Context, cfg *config.Config, log *utils.Logger) error {
	provider, err := config.NewEnvProvider(cfg.Security)
	if err != nil {
		return err
	}
	deposits, err := cfg.Deposits()
	if err != nil {
		return err
	}

	eventBus := bus.New(bus.Config{Shards: cfg.Bus.Shards, BufferSize: cfg.Bus.BufferSize}, log)

	registry, err := buildRegistry(cfg, provider, eventBus, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.CloseAll(); err != nil {
			log.Warn("error closing gateways", utils.Err(err))
		}
	}()

	// Журнал (опционально)
	var (
		journal       *repository.JournalRepository
		intentJournal bot.IntentJournal
		journalReader handlers.JournalReader
	)
	if cfg.Database.URL != "" {
		db, err := repository.Open(ctx, cfg.Database.URL, log)
		if err != nil {
			return err
		}
		defer db.Close()

		journal = repository.NewJournalRepository(db, log)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		intentJournal, journalReader = journal, journal
		log.Info("trade journal enabled")
	}

	// Движок решений
	engine := bot.NewEngine(engineConfig(cfg), registry, eventBus, log)
	eventBus.Subscribe(models.KindTicker, engine.HandleEvent)
	if journal != nil {
		engine.OnDeal(journal.ObserveDeal)
	}

	// Исполнение
	router := bot.NewRouter(registry, intentJournal, cfg.Engine.ExecTimeout, log)
	router.Attach(eventBus)
	defer router.Stop()

	rebalancer := bot.NewRebalancer(bot.RebalanceConfig{
		Interval:  cfg.Rebalance.Interval,
		Ratio:     cfg.Rebalance.Ratio,
		MinAmount: cfg.Rebalance.MinAmount,
		Cooldown:  cfg.Rebalance.Cooldown,
		Venues:    cfg.Rebalance.Venues,
		Assets:    cfg.RebalanceAssets(),
	}, registry, deposits, eventBus, log)

	// Зеркало в Redis (опционально, сбой подключения не фатален)
	if cfg.Redis.URL != "" {
		mirror, err := streaming.Dial(ctx, streaming.Config{
			URL:           cfg.Redis.URL,
			MaxLen:        cfg.Redis.MaxLen,
			MirrorTickers: cfg.Redis.MirrorTickers,
		}, log)
		if err != nil {
			log.Warn("redis mirror disabled", utils.Err(err))
		} else {
			mirror.Attach(eventBus)
			defer mirror.Close()
			log.Info("redis mirror enabled")
		}
	}

	// HTTP API и поток для дашбордов
	origins := middleware.NewOriginPolicy(cfg.Server.Origins)
	hub := websocket.NewHub(origins.CheckOrigin, log)
	hub.Attach(eventBus)
	engine.OnDeal(hub.ObserveDeal)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.SetupRoutes(&api.Dependencies{
			Gateways: registry,
			Engine:   engine,
			Journal:  journalReader,
			Stream:   hub.ServeWS,
			Origins:  origins,
			Username: cfg.Server.Username,
			Password: cfg.Server.Password,
			Logger:   log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := registry.ConnectAll(ctx); err != nil {
		log.Warn("some gateways are still connecting", utils.Err(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eventBus.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return rebalancer.Run(gctx) })
	g.Go(func() error {
		registry.RefreshLoop(gctx, cfg.AccountRefresh)
		return nil
	})
	if journal != nil {
		g.Go(func() error { return journal.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("status API listening", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildRegistry создаёт шлюзы включённых бирж
func buildRegistry(cfg *config.Config, provider *config.EnvProvider, pub exchange.Publisher, log *utils.Logger) (*exchange.Registry, error) {
	ws := exchange.DefaultWSConfig()
	ws.InitialDelay = cfg.WS.ReconnectDelay
	ws.MaxDelay = cfg.WS.MaxReconnectDelay
	ws.PingInterval = cfg.WS.PingInterval
	ws.ReadTimeout = cfg.WS.ReadTimeout

	registry := exchange.NewRegistry(log)
	for _, code := range cfg.Exchanges {
		creds, err := provider.Credentials(code)
		if err != nil {
			return nil, fmt.Errorf("%s credentials: %w", code, err)
		}
		if creds.Empty() {
			log.Info("no credentials, quotes only", utils.Exchange(code))
		}

		g, err := exchange.NewGateway(code, exchange.Options{
			// withDefaults нормализует Symbols на месте
			Symbols:        append([]string(nil), cfg.Symbols...),
			Publisher:      pub,
			Logger:         log,
			Credentials:    creds,
			WS:             ws,
			Staleness:      cfg.Staleness,
			AccountRefresh: cfg.AccountRefresh,
			LotSteps:       cfg.LotSteps,
			DefaultLotStep: cfg.DefaultLotStep,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(g); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func engineConfig(cfg *config.Config) bot.Config {
	ec := bot.DefaultConfig()
	ec.MaxSkew = cfg.Engine.MaxSkew
	if cfg.Engine.Stripes > 0 {
		ec.Stripes = cfg.Engine.Stripes
	}
	ec.MinMargin = cfg.Engine.MinMargin
	ec.Cooldown = cfg.Engine.Cooldown
	ec.PriceOffset = cfg.Engine.PriceOffset
	ec.BalanceFraction = cfg.Engine.BalanceFraction
	ec.MinNotional = cfg.Engine.MinNotional
	return ec
}
