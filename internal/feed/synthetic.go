package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
)

// SyntheticOptions parameterise the random-walk generator.
type SyntheticOptions struct {
	Symbols    []string
	Interval   time.Duration
	StartPrice float64
	StepPct    float64
	BaseVolume float64
	// MaxTicks stops the source after that many ticks per symbol; 0 runs
	// until cancelled.
	MaxTicks int
	// Seed fixes the walk for reproducible runs; 0 seeds from the clock.
	Seed int64
}

// SyntheticSource emits a random-walk tick stream. It backs the simulate
// command and local demos where no provider is reachable.
type SyntheticSource struct {
	opts   SyntheticOptions
	logger zerolog.Logger
}

// NewSyntheticSource constructs the generator.
func NewSyntheticSource(opts SyntheticOptions, logger zerolog.Logger) *SyntheticSource {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = 100
	}
	if opts.StepPct <= 0 {
		opts.StepPct = 0.2
	}
	if opts.BaseVolume <= 0 {
		opts.BaseVolume = 1000
	}
	if len(opts.Symbols) == 0 {
		opts.Symbols = []string{"ES"}
	}
	return &SyntheticSource{
		opts:   opts,
		logger: logger.With().Str("component", "feed_synthetic").Logger(),
	}
}

// Run walks each symbol's price until MaxTicks or cancellation.
func (s *SyntheticSource) Run(ctx context.Context, handle Handler) error {
	seed := s.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	prices := make(map[string]float64, len(s.opts.Symbols))
	for _, symbol := range s.opts.Symbols {
		prices[symbol] = s.opts.StartPrice
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now().UTC()
		for _, symbol := range s.opts.Symbols {
			step := (rng.Float64()*2 - 1) * s.opts.StepPct / 100
			prices[symbol] *= 1 + step

			price := prices[symbol]
			volume := s.opts.BaseVolume * (0.5 + rng.Float64())
			// Occasional burst so volume-spike rules have something to see.
			if rng.Intn(50) == 0 {
				volume *= 5
			}

			handle(market.RawTick{
				Symbol:    symbol,
				Timestamp: now.UnixMilli(),
				Price:     &price,
				Volume:    &volume,
			})
		}

		emitted++
		if s.opts.MaxTicks > 0 && emitted >= s.opts.MaxTicks {
			s.logger.Info().Int("ticks", emitted).Msg("synthetic feed finished")
			return nil
		}
	}
}

var _ TickSource = (*SyntheticSource)(nil)
