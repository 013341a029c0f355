package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kirillm/riskgate/internal/api"
	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/exchange"
	"github.com/kirillm/riskgate/internal/execution"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/metrics"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/kirillm/riskgate/internal/policy"
	"github.com/kirillm/riskgate/internal/risk"
	"github.com/kirillm/riskgate/internal/scheduler"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/internal/telegram"
	"github.com/kirillm/riskgate/internal/tenant"
	"github.com/kirillm/riskgate/internal/trigger"
	"github.com/kirillm/riskgate/pkg/utils"
	"gopkg.in/yaml.v3"
)

// paperBrokerCash общий кэш бумажного брокера; лимиты тенантов считает портфель
const paperBrokerCash = 10_000_000

// app собранный процесс: все компоненты поверх одного конфига
type app struct {
	cfg       *config.Config
	logger    *utils.Logger
	registry  *tenant.Registry
	trail     *audit.Trail
	locks     *lock.Manager
	metrics   *metrics.Metrics
	service   *orchestrator.Service
	scheduler *scheduler.Scheduler
	bot       *telegram.Bot
	guard     *guard.SystemGuard
	prices    guard.PriceProbe
	heartbeat string
	closers   []func() error
}

// paperQuote запись файла начальных цен бумажного рынка
type paperQuote struct {
	Price   float64   `yaml:"price"`
	History []float64 `yaml:"history"`
}

func newLogger(cfg *config.Config, opts *rootOptions) *utils.Logger {
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if opts.console || cfg.LogFormat == "console" {
		return utils.NewConsoleLogger(level)
	}
	return utils.NewLogger(level)
}

// buildApp собирает зависимости; withBot подключает Telegram, если задан токен
func buildApp(ctx context.Context, opts *rootOptions, withBot bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, opts)
	utils.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := a.build(ctx, opts, withBot); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts *rootOptions, withBot bool) error {
	cfg, logger := a.cfg, a.logger

	engine := policy.NewDefaultEngine()
	if cfg.Paths.PolicyFile != "" {
		var err error
		if engine, err = policy.NewEngine(cfg.Paths.PolicyFile); err != nil {
			return fmt.Errorf("failed to load risk policy: %w", err)
		}
		logger.Info("📋 Risk policy loaded from %s", cfg.Paths.PolicyFile)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Хранилище состояния: Postgres (и зеркало аудита) либо файлы
	var (
		store   storage.StateStore
		mirrors []audit.Sink
	)
	if cfg.Database.Enabled {
		pg, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		store = pg
		mirrors = append(mirrors, pg)
		logger.Info("🐘 Postgres state store connected (%s/%s)", cfg.Database.Host, cfg.Database.DBName)
	} else {
		fs, err := storage.NewFileStateStore(cfg.Paths.StateDir)
		if err != nil {
			return err
		}
		store = fs
		logger.Info("📁 File state store at %s", cfg.Paths.StateDir)
	}

	trail, err := audit.NewTrail(cfg.Paths.AuditRoot, loc, logger, mirrors...)
	if err != nil {
		return err
	}
	a.trail = trail

	var schedules scheduler.ScheduleStore
	if cfg.Redis.URL != "" {
		client, err := storage.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		schedules = storage.NewRedisScheduleStore(client, cfg.Redis.Prefix)
		logger.Info("🔴 Redis schedule store enabled")
	}

	// Рынок и брокеры
	paper := exchange.NewPaperMarket()
	if opts.paperPrices != "" {
		if err := seedPaperMarket(paper, opts.paperPrices); err != nil {
			return err
		}
	}
	prices := execution.NewPriceFailover(paper, logger)
	// рынок каждого брокера: котировки, исполнение и оценка риска из одного источника
	venues := map[string]orchestrator.Venue{
		config.BrokerPaper: {
			Executor:   execution.NewExecutor(exchange.NewPaperBroker(paper, paperBrokerCash), execution.NewPriceFailover(paper, logger), logger),
			Market:     paper,
			Controller: risk.NewController(risk.NewEstimator(paper), engine, execution.GenericCommission),
		},
	}
	if cfg.Bybit.APIKey != "" {
		bybit := exchange.NewBybitClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.BaseURL, exchange.BybitOptions{
			RequestsPerSecond: cfg.Bybit.RequestsPerSecond,
			Burst:             max(1, int(cfg.Bybit.RequestsPerSecond)),
			Timeout:           exchange.DefaultBybitOptions().Timeout,
		})
		prices = execution.NewPriceFailover(bybit, logger)
		prices.AddFallbackSource(paper)
		venues[config.BrokerBybit] = orchestrator.Venue{
			Executor:   execution.NewExecutor(bybit, prices, logger),
			Market:     bybit,
			Controller: risk.NewController(risk.NewEstimator(bybit), engine, execution.GenericCommission),
		}
		logger.Info("🔑 Bybit market data and broker enabled")
	}
	markets := make(map[string]domain.MarketData, len(venues))
	for name, v := range venues {
		markets[name] = v.Market
	}

	a.locks = lock.NewManager(trail, logger)
	intraday := trigger.NewIntradayEngine(a.locks, engine.Intraday(), logger)
	silent := trigger.NewSilentEngine(a.locks, engine.Daily(), logger)

	tenants, err := config.LoadTenants(cfg.Paths.TenantsFile)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		if _, ok := venues[t.Broker]; !ok {
			return fmt.Errorf("tenant %s uses broker %s, but it is not configured", t.ID, t.Broker)
		}
	}

	a.heartbeat, err = heartbeatSymbol(cfg.Guard.ProbeSymbol, tenants)
	if err != nil {
		return err
	}
	a.prices = prices
	a.guard = guard.NewSystemGuard(prices, a.heartbeat, logger)
	a.guard.SetInterval(cfg.Guard.HeartbeatInterval)
	a.registry = tenant.NewRegistry(store, logger)
	if err := a.registry.Load(ctx, tenants); err != nil {
		return err
	}
	logger.Info("👥 Loaded %d tenant(s) from %s", len(tenants), cfg.Paths.TenantsFile)

	a.service = orchestrator.NewService(orchestrator.Deps{
		Registry:   a.registry,
		Controller: venues[config.BrokerPaper].Controller,
		Locks:      a.locks,
		Intraday:   intraday,
		Executor:   venues[config.BrokerPaper].Executor,
		Market:     paper,
		Venues:     venues,
		Audit:      trail,
		Guard:      a.guard,
		Metrics:    a.metrics,
		Logger:     logger,
	})

	hour, minute, err := cfg.DailyWindowClock()
	if err != nil {
		return err
	}
	a.scheduler = scheduler.New(scheduler.Config{
		Workers:     cfg.Scheduler.Workers,
		Tick:        cfg.Scheduler.Tick,
		Location:    loc,
		DailyHour:   hour,
		DailyMinute: minute,
		DailyWindow: cfg.Scheduler.DailyWindow,
	}, scheduler.Deps{
		Registry:  a.registry,
		Market:    paper,
		Markets:   markets,
		Guard:     a.guard,
		Locks:     a.locks,
		Intraday:  intraday,
		Silent:    silent,
		Audit:     trail,
		Schedules: schedules,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	notifiers := lock.Notifiers{a.metrics}
	if withBot && cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.AdminIDs, a.service, logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		a.bot = bot
		notifiers = append(notifiers, bot)
		a.service.SetNotifier(bot)
	}
	a.locks.SetNotifier(notifiers)
	return nil
}

// heartbeatSymbol инструмент heartbeat SystemGuard: из конфига либо первый
// инструмент вселенной первого включенного тенанта
func heartbeatSymbol(configured string, tenants []config.TenantConfig) (string, error) {
	if configured != "" {
		return configured, nil
	}
	for _, t := range tenants {
		if t.Enabled && len(t.Universe) > 0 {
			return t.Universe[0], nil
		}
	}
	return "", fmt.Errorf("%w: GUARD_PROBE_SYMBOL is empty and no enabled tenant has a universe", domain.ErrInvalidInput)
}

// verifyHeartbeat без котировки heartbeat-инструмента каждое намерение было бы отклонено
func verifyHeartbeat(ctx context.Context, prices guard.PriceProbe, symbol string) error {
	price, err := prices.GetLatestPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("guard heartbeat symbol %s has no price (set GUARD_PROBE_SYMBOL or seed --paper-prices): %w", symbol, err)
	}
	if price <= 0 {
		return fmt.Errorf("guard heartbeat symbol %s has non-positive price %.4f", symbol, price)
	}
	return nil
}

// apiServer HTTP поверх собранного сервиса
func (a *app) apiServer() *api.Server {
	return api.NewServer(a.logger, a.service, a.cfg.HTTP.Port, api.Options{
		Cycles:  a.scheduler,
		Audit:   a.trail,
		Metrics: a.metrics.Handler(),
		Token:   a.cfg.HTTP.APIToken,
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("⚠️ Close failed: %v", err)
		}
	}
	a.closers = nil
}

// seedPaperMarket загружает YAML вида SYMBOL: {price: 100, history: [...]}
func seedPaperMarket(m *exchange.PaperMarket, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read paper prices: %w", err)
	}
	var quotes map[string]paperQuote
	if err := yaml.Unmarshal(data, &quotes); err != nil {
		return fmt.Errorf("failed to parse paper prices: %w", err)
	}
	for symbol, q := range quotes {
		if len(q.History) > 0 {
			m.SetHistory(symbol, q.History)
		}
		if q.Price > 0 {
			m.SetPrice(symbol, q.Price)
		}
	}
	return nil
}
