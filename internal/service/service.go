package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
	"github.com/jkristofgh/TradeAssist-sub001/internal/config"
	"github.com/jkristofgh/TradeAssist-sub001/internal/dispatch"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
	"github.com/jkristofgh/TradeAssist-sub001/internal/feed"
	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
	"github.com/jkristofgh/TradeAssist-sub001/internal/wsfeed"
)

// Service assembles and runs the alert pipeline: feed, normalizer, engine,
// dispatcher, and alert log, with the bus tapped for live subscribers.
type Service struct {
	cfg        *config.Config
	source     feed.TickSource
	normalizer *market.Normalizer
	ruleStore  *rules.Store
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	alertLog   *alertlog.Log
	bus        *bus.Bus
	wsServer   *wsfeed.Server
	logger     zerolog.Logger
}

// New wires the pipeline. sink may be nil; the alert log then writes to the
// structured log only.
func New(cfg *config.Config, ruleStore *rules.Store, source feed.TickSource, channels []notify.Channel, sink alertlog.Sink, b *bus.Bus, logger zerolog.Logger) *Service {
	svcLogger := logger.With().Str("component", "service").Logger()

	if sink == nil {
		sink = alertlog.LoggerSink{Logger: logger}
	}
	log := alertlog.New(cfg.AlertLog, sink, logger)

	dispatcher := dispatch.New(cfg.Dispatcher, channels, log.RecordDeliveries, logger)
	eng := engine.New(cfg.Engine, ruleStore, log, dispatcher, logger)

	var wsServer *wsfeed.Server
	if cfg.Subscription.Enabled {
		wsServer = wsfeed.New(cfg.Subscription, b, logger)
	}

	return &Service{
		cfg:        cfg,
		source:     source,
		normalizer: market.NewNormalizer(logger),
		ruleStore:  ruleStore,
		engine:     eng,
		dispatcher: dispatcher,
		alertLog:   log,
		bus:        b,
		wsServer:   wsServer,
		logger:     svcLogger,
	}
}

// RuleStore exposes the store's write path for the management surface.
func (s *Service) RuleStore() *rules.Store {
	return s.ruleStore
}

// Run blocks until ctx is cancelled or the feed fails. Shutdown cascades
// stage by stage: the feed stops accepting, the engine drains its partitions,
// the dispatcher drains its queue, and finally the alert log flushes.
func (s *Service) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	logCtx, stopLog := context.WithCancel(context.Background())
	defer stopEngine()
	defer stopDispatch()
	defer stopLog()

	g, feedCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			s.engine.Stop()
			stopEngine()
		}()
		err := s.source.Run(feedCtx, s.handleRaw)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("tick feed terminated")
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer stopDispatch()
		return s.engine.Run(engineCtx)
	})

	g.Go(func() error {
		defer stopLog()
		return s.dispatcher.Run(dispatchCtx)
	})

	g.Go(func() error {
		return s.alertLog.Run(logCtx)
	})

	if s.wsServer != nil {
		g.Go(func() error {
			return s.wsServer.Run(feedCtx)
		})
	}

	s.logger.Info().Msg("alert pipeline started")
	err := g.Wait()
	s.reportHealth()
	return err
}

// handleRaw is the feed callback: normalize, publish, submit. Invalid ticks
// are dropped and counted at the normalizer boundary, never retried.
func (s *Service) handleRaw(raw market.RawTick) {
	tick, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.logger.Debug().Err(err).Msg("tick dropped")
		return
	}
	s.bus.Publish(bus.TopicTicks, tick)
	s.engine.Submit(tick)
}

// Health is a point-in-time snapshot for external reporting.
type Health struct {
	TicksAccepted  uint64
	TicksMalformed uint64
	TicksStale     uint64
	TicksDropped   uint64
	LogDropped     uint64
	Breakers       map[string]dispatch.BreakerState
}

// Health reports ingestion counters and circuit states.
func (s *Service) Health() Health {
	accepted, malformed, stale := s.normalizer.Stats()
	return Health{
		TicksAccepted:  accepted,
		TicksMalformed: malformed,
		TicksStale:     stale,
		TicksDropped:   s.engine.DroppedTicks(),
		LogDropped:     s.alertLog.Dropped(),
		Breakers:       s.dispatcher.BreakerStates(),
	}
}

func (s *Service) reportHealth() {
	h := s.Health()
	s.logger.Info().
		Uint64("ticks_accepted", h.TicksAccepted).
		Uint64("ticks_malformed", h.TicksMalformed).
		Uint64("ticks_stale", h.TicksStale).
		Uint64("ticks_dropped", h.TicksDropped).
		Uint64("log_dropped", h.LogDropped).
		Msg("pipeline stopped")
}
