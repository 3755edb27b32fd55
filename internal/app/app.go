package app

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
	"github.com/jkristofgh/TradeAssist-sub001/internal/config"
	"github.com/jkristofgh/TradeAssist-sub001/internal/feed"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
	"github.com/jkristofgh/TradeAssist-sub001/internal/service"
	"github.com/jkristofgh/TradeAssist-sub001/internal/storage"
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

func (a *App) newSource() feed.TickSource {
	cfg := a.Config.Feed
	if cfg.Kind == "websocket" {
		return feed.NewWebsocketSource(feed.WebsocketOptions{
			URL:              cfg.URL,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subscribe:        json.RawMessage(cfg.Subscribe),
		}, a.Logger)
	}
	return feed.NewSyntheticSource(feed.SyntheticOptions{
		Symbols:    cfg.Symbols,
		Interval:   cfg.Interval,
		StartPrice: cfg.StartPrice,
		StepPct:    cfg.StepPct,
		BaseVolume: cfg.BaseVolume,
	}, a.Logger)
}

func (a *App) newChannels(b *bus.Bus) []notify.Channel {
	cfg := a.Config.Channels
	channels := make([]notify.Channel, 0, 3+len(cfg.Webhooks))

	if cfg.Broadcast.Enabled {
		channels = append(channels, notify.NewBroadcastChannel(b))
	}
	if cfg.Sound.Enabled {
		channels = append(channels, notify.NewSoundChannel(nil, cfg.Sound.Repeat, a.Logger))
	}
	if cfg.Telegram.Enabled {
		channels = append(channels, notify.NewTelegramChannel(
			cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
	}
	for _, hook := range cfg.Webhooks {
		channels = append(channels, notify.NewWebhookChannel(notify.WebhookOptions{
			Name:          hook.Name,
			URL:           hook.URL,
			Timeout:       hook.Timeout,
			RatePerSecond: hook.RatePerSecond,
			Burst:         hook.Burst,
		}, a.Logger))
	}
	return channels
}

func (a *App) newRuleStore() *rules.Store {
	store := rules.NewStore(a.Logger)
	for _, rule := range a.Config.Rules {
		// Seeded rules start active; deactivation is a runtime operation on
		// the store's write path.
		rule.Active = true
		if err := store.Upsert(rule); err != nil {
			// Flagged invalid inside the store; keep loading the rest.
			a.Logger.Warn().Str("rule_id", rule.ID).Err(err).Msg("seed rule rejected")
		}
	}
	return store
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
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Run executes the long-running alert pipeline.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert log goes to structured log only")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sink alertlog.Sink
	if store != nil {
		sink = store
	}

	b := bus.New()
	ruleStore := a.newRuleStore()
	svc := service.New(a.Config, ruleStore, a.newSource(), a.newChannels(b), sink, b, a.Logger)

	a.Logger.Info().
		Int("rules", len(ruleStore.All())).
		Int("invalid_rules", len(ruleStore.InvalidRules())).
		Msg("starting alert pipeline")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	Deliveries bool
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	Symbol    string
	Threshold float64
	Cooldown  time.Duration
	Ticks     int
	Interval  time.Duration
}
