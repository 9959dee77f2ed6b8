package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"market-watchdog/internal/alerting"
	"market-watchdog/internal/analysis"
	"market-watchdog/internal/config"
	"market-watchdog/internal/cooldown"
	"market-watchdog/internal/digest"
	"market-watchdog/internal/engine"
	"market-watchdog/internal/escalation"
	"market-watchdog/internal/fetcher"
	"market-watchdog/internal/logging"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/scheduler"
	"market-watchdog/internal/service"
	"market-watchdog/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.WithComponent(logger, "app")}
}

func (a *App) loadRegistry() (*registry.Registry, error) {
	return registry.Load(a.Config.Assets.Path)
}

func (a *App) newSources() *fetcher.Sources {
	ds := a.Config.DataSources

	binance := fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL: ds.Binance.BaseURL,
		Timeout: ds.RequestTimeout,
	}, a.Logger)

	yahoo := fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   ds.Yahoo.BaseURL,
		UserAgent: ds.Yahoo.UserAgent,
		Timeout:   ds.RequestTimeout,
	}, a.Logger)

	adapters := map[string]fetcher.Source{
		"binance": binance,
		"yahoo":   yahoo,
	}

	if ds.Chainlink.RPCURL != "" {
		adapters["chainlink"] = fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  ds.Chainlink.RPCURL,
			Feeds:   ds.Chainlink.Feeds,
			Timeout: ds.RequestTimeout,
		}, a.Logger)
	}

	return fetcher.NewSources(adapters)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newAnalysis() (*analysis.Client, analysis.Analyzer, analysis.Analyzer) {
	ai := a.Config.AI
	if ai.APIKey == "" {
		a.Logger.Warn().Msg("ai.api_key not configured; analysis tiers disabled")
		return nil, nil, nil
	}

	client := analysis.NewClient(analysis.ClientOptions{
		BaseURL:   ai.BaseURL,
		APIKey:    ai.APIKey,
		Timeout:   ai.RequestTimeout,
		MaxTokens: ai.MaxTokens,
	}, a.Logger)

	return client, analysis.NewSentinel(client, ai.SentinelModel), analysis.NewDeep(client, ai.DeepModel)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
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

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := a.loadRegistry()
	if err != nil {
		return err
	}
	a.Logger.Info().Int("assets", len(reg.Enabled())).Msg("asset registry loaded")

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required for the monitoring service")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting disabled; escalations will only be recorded")
	}

	client, sentinel, deep := a.newAnalysis()

	cd := cooldown.New(a.Config.Monitor.Cooldown)

	coordinator := escalation.New(sentinel, deep, store, store, notifier, cd, escalation.Options{
		Channels:      a.Config.Alerting.Channels,
		HistoryWindow: a.Config.Monitor.HistoryWindow,
	}, a.Logger)

	var digester *digest.Generator
	if a.Config.Digest.Enabled {
		var narrator digest.Narrator
		model := ""
		if client != nil {
			narrator = client
			model = a.Config.AI.SentinelModel
		}
		digester = digest.New(reg, store, store, notifier, narrator, digest.Options{
			Window:        a.Config.Digest.Window,
			NarratorModel: model,
		}, a.Logger)
	}

	svc := service.New(a.Config, service.Deps{
		Scheduler:   sched,
		Registry:    reg,
		Sources:     a.newSources(),
		Engine:      engine.New(store, a.Logger),
		Cooldown:    cd,
		Coordinator: coordinator,
		Digester:    digester,
		Events:      store,
		Locker:      store,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting sample history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
