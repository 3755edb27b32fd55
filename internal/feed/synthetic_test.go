package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
)

func TestSyntheticSourceEmitsBoundedTicks(t *testing.T) {
	src := NewSyntheticSource(SyntheticOptions{
		Symbols:    []string{"ES", "NQ"},
		Interval:   time.Millisecond,
		StartPrice: 4500,
		MaxTicks:   5,
		Seed:       1,
	}, zerolog.Nop())

	var got []market.RawTick
	err := src.Run(context.Background(), func(raw market.RawTick) {
		got = append(got, raw)
	})
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}

	// MaxTicks rounds, each round one tick per symbol.
	if len(got) != 10 {
		t.Fatalf("emitted %d ticks, want 10", len(got))
	}
	for i, raw := range got {
		if raw.Symbol != "ES" && raw.Symbol != "NQ" {
			t.Errorf("tick %d has symbol %q", i, raw.Symbol)
		}
		if raw.Price == nil || *raw.Price <= 0 {
			t.Errorf("tick %d has invalid price", i)
		}
		if raw.Volume == nil || *raw.Volume <= 0 {
			t.Errorf("tick %d has invalid volume", i)
		}
		if raw.Timestamp <= 0 {
			t.Errorf("tick %d has no timestamp", i)
		}
	}
}

func TestSyntheticSourceDeterministicWithSeed(t *testing.T) {
	run := func() []float64 {
		src := NewSyntheticSource(SyntheticOptions{
			Symbols:  []string{"ES"},
			Interval: time.Millisecond,
			MaxTicks: 20,
			Seed:     42,
		}, zerolog.Nop())
		var prices []float64
		_ = src.Run(context.Background(), func(raw market.RawTick) {
			prices = append(prices, *raw.Price)
		})
		return prices
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tick %d diverged: %f vs %f", i, first[i], second[i])
		}
	}
}

func TestSyntheticSourceStopsOnCancel(t *testing.T) {
	src := NewSyntheticSource(SyntheticOptions{
		Symbols:  []string{"ES"},
		Interval: time.Millisecond,
		Seed:     1,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := src.Run(ctx, func(market.RawTick) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
