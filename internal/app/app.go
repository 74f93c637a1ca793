package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"swap-triggers/internal/alerting"
	"swap-triggers/internal/config"
	"swap-triggers/internal/engine"
	"swap-triggers/internal/evaluate"
	"swap-triggers/internal/execution"
	"swap-triggers/internal/metrics"
	"swap-triggers/internal/storage"
	"swap-triggers/internal/swap"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newMetricCache() (*metrics.Cache, error) {
	market := metrics.NewMarketClient(metrics.MarketOptions{
		BaseURL:     a.Config.Metrics.Market.BaseURL,
		QuoteSymbol: a.Config.Metrics.Market.QuoteSymbol,
		Timeout:     a.Config.Metrics.Market.RequestTimeout,
		UserAgent:   a.Config.Metrics.Market.UserAgent,
	}, a.Logger)

	indicators := metrics.NewIndicators(market, metrics.IndicatorOptions{
		Period:         a.Config.Metrics.Indicator.Period,
		CandleInterval: a.Config.Metrics.Indicator.CandleInterval,
		CandleLimit:    a.Config.Metrics.Indicator.CandleLimit,
	}, a.Logger)

	sentiment := metrics.NewSentiment(metrics.SentimentOptions{
		BaseURL: a.Config.Metrics.Sentiment.BaseURL,
		Timeout: a.Config.Metrics.Sentiment.RequestTimeout,
	}, a.Logger)

	gas := metrics.NewGas(metrics.GasOptions{
		RPCURL:  a.Config.Metrics.Gas.RPCURL,
		Timeout: a.Config.Metrics.Gas.RequestTimeout,
	}, a.Logger)

	providers := map[metrics.Metric]metrics.Provider{
		metrics.MetricPrice:     metrics.ProviderFunc(market.FetchPrice),
		metrics.MetricVolume:    metrics.ProviderFunc(market.FetchVolume),
		metrics.MetricRSI:       metrics.ProviderFunc(indicators.FetchRSI),
		metrics.MetricMA:        metrics.ProviderFunc(indicators.FetchMA),
		metrics.MetricSentiment: sentiment,
		metrics.MetricGas:       gas,
	}

	return metrics.NewCache(providers, a.Config.MetricTTLs(), a.Logger)
}

func (a *App) newExecutor() swap.Executor {
	return swap.NewCow(swap.CowOptions{
		BaseURL:      a.Config.Swap.BaseURL,
		QuoteToken:   a.Config.Swap.QuoteToken,
		Tokens:       a.Config.Swap.Tokens,
		PollInterval: a.Config.Swap.PollInterval,
		ValidFor:     a.Config.Swap.ValidFor,
		Timeout:      a.Config.Swap.RequestTimeout,
		UserAgent:    a.Config.Swap.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running trigger engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	cache, err := a.newMetricCache()
	if err != nil {
		return err
	}

	sched := engine.NewScheduler(engine.SchedulerOptions{
		Interval:     a.Config.Scheduler.Interval,
		AlignToTick:  a.Config.Scheduler.AlignToTick,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	evaluator := evaluate.New(cache, a.Logger)
	coordinator := execution.New(store, a.newExecutor(), a.newNotifier(), execution.Options{
		SettleTimeout: a.Config.Swap.SettleTimeout,
	}, a.Logger)

	eng := engine.New(sched, store, evaluator, coordinator, store, engine.Options{
		TriggerDelay: a.Config.Scheduler.TriggerDelay,
		Parallelism:  a.Config.Scheduler.Parallelism,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	a.Logger.Info().Msg("starting trigger engine")
	err = eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("trigger engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting execution history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the listing commands.
type ShowOptions struct {
	Limit int
}
