package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
	"github.com/jkristofgh/TradeAssist-sub001/internal/feed"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
	"github.com/jkristofgh/TradeAssist-sub001/internal/service"
)

// Simulate drives the full pipeline with a synthetic feed and a single
// threshold rule, printing every fired alert. No database or external channel
// is touched.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Threshold <= 0 {
		return errors.New("simulate threshold must be greater than zero")
	}
	if opts.Ticks <= 0 {
		opts.Ticks = 200
	}
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}

	b := bus.New()

	store := rules.NewStore(a.Logger)
	rule := rules.Rule{
		ID:        "sim-threshold",
		Symbol:    opts.Symbol,
		Kind:      rules.KindThreshold,
		Condition: rules.Above,
		Threshold: decimal.NewFromFloat(opts.Threshold),
		Cooldown:  opts.Cooldown,
		Active:    true,
	}
	if err := store.Upsert(rule); err != nil {
		return err
	}

	// Start just under the threshold so the walk keeps crossing it.
	source := feed.NewSyntheticSource(feed.SyntheticOptions{
		Symbols:    []string{opts.Symbol},
		Interval:   opts.Interval,
		StartPrice: opts.Threshold * 0.999,
		StepPct:    0.3,
		MaxTicks:   opts.Ticks,
	}, a.Logger)

	channels := []notify.Channel{notify.NewBroadcastChannel(b)}
	svc := service.New(a.Config, store, source, channels, nil, b, a.Logger)

	alerts, unsub := b.Subscribe(bus.TopicAlerts, 100)
	defer unsub()
	go func() {
		for msg := range alerts {
			payload, ok := msg.(notify.Payload)
			if !ok {
				continue
			}
			fmt.Fprintf(os.Stdout, "ALERT %s: %s (value %s, threshold %s)\n",
				payload.Symbol, payload.Condition, payload.Value.StringFixed(2), payload.Threshold.StringFixed(2))
		}
	}()

	return svc.Run(ctx)
}
