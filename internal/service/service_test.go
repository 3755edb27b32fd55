package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
	"github.com/jkristofgh/TradeAssist-sub001/internal/config"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
	"github.com/jkristofgh/TradeAssist-sub001/internal/feed"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
)

type memorySink struct {
	mu      sync.Mutex
	entries []alertlog.Entry
}

func (s *memorySink) WriteEntry(_ context.Context, entry alertlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) fired() []alertlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alertlog.Entry
	for _, e := range s.entries {
		if e.Status == engine.OutcomeFired {
			out = append(out, e)
		}
	}
	return out
}

// Runs the whole pipeline against a bounded synthetic feed with a rule that
// must trigger immediately, and checks the alert comes out the other end on
// both the broadcast bus and the alert log.
func TestServiceEndToEnd(t *testing.T) {
	cfg := &config.Config{
		Engine:   engine.Config{Partitions: 2, QueueSize: 64},
		AlertLog: alertlog.Config{BufferSize: 64},
	}

	store := rules.NewStore(zerolog.Nop())
	err := store.Upsert(rules.Rule{
		ID:        "always",
		Symbol:    "ES",
		Kind:      rules.KindThreshold,
		Condition: rules.Above,
		Threshold: decimal.NewFromInt(1),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	source := feed.NewSyntheticSource(feed.SyntheticOptions{
		Symbols:    []string{"ES"},
		Interval:   time.Millisecond,
		StartPrice: 4500,
		MaxTicks:   10,
		Seed:       7,
	}, zerolog.Nop())

	b := bus.New()
	alerts, unsub := b.Subscribe(bus.TopicAlerts, 16)
	defer unsub()

	sink := &memorySink{}
	channels := []notify.Channel{notify.NewBroadcastChannel(b)}
	svc := New(cfg, store, source, channels, sink, b, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	select {
	case msg := <-alerts:
		payload, ok := msg.(notify.Payload)
		if !ok || payload.RuleID != "always" {
			t.Errorf("bus delivered %v, want the fired alert", msg)
		}
	default:
		t.Error("no alert reached the broadcast bus")
	}

	fired := sink.fired()
	if len(fired) != 1 {
		t.Fatalf("alert log recorded %d fired entries, want exactly 1 (edge-triggered)", len(fired))
	}
	entry := fired[0]
	if entry.RuleID != "always" || entry.EventID == "" {
		t.Errorf("entry = %+v, want fired entry for rule always", entry)
	}
	if len(entry.Deliveries) != 1 || entry.Deliveries[0].Channel != "broadcast" {
		t.Errorf("deliveries = %+v, want one broadcast record", entry.Deliveries)
	}

	h := svc.Health()
	if h.TicksAccepted != 10 {
		t.Errorf("accepted %d ticks, want 10", h.TicksAccepted)
	}
	if h.TicksMalformed != 0 || h.TicksStale != 0 {
		t.Errorf("unexpected drops: malformed=%d stale=%d", h.TicksMalformed, h.TicksStale)
	}
}
