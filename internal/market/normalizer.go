package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedInput marks a provider payload missing required fields or
	// carrying non-numeric values.
	ErrMalformedInput = errors.New("market: malformed input")
	// ErrStaleTick marks a tick whose timestamp is not newer than the last
	// accepted tick for the same symbol.
	ErrStaleTick = errors.New("market: stale tick")
)

// Normalizer converts raw provider payloads into canonical Ticks, enforcing
// per-symbol timestamp monotonicity. Invalid input is dropped and counted,
// never retried.
type Normalizer struct {
	logger zerolog.Logger

	mu         sync.Mutex
	watermarks map[string]time.Time
	malformed  uint64
	stale      uint64
	accepted   uint64
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		logger:     logger.With().Str("component", "normalizer").Logger(),
		watermarks: make(map[string]time.Time),
	}
}

// Normalize validates a raw payload and returns the canonical Tick. The
// watermark for the symbol advances only when the tick is accepted.
func (n *Normalizer) Normalize(raw RawTick) (Tick, error) {
	tick, err := canonicalize(raw)
	if err != nil {
		n.mu.Lock()
		n.malformed++
		n.mu.Unlock()
		return Tick{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.watermarks[tick.Symbol]; ok && !tick.Timestamp.After(last) {
		n.stale++
		return Tick{}, fmt.Errorf("%w: %s at %s (watermark %s)", ErrStaleTick, tick.Symbol, tick.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}

	n.watermarks[tick.Symbol] = tick.Timestamp
	n.accepted++
	return tick, nil
}

// Watermark returns the last accepted timestamp for a symbol, used for
// staleness detection and external health reporting.
func (n *Normalizer) Watermark(symbol string) (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.watermarks[symbol]
	return ts, ok
}

// Stats reports accepted and dropped counts since start.
func (n *Normalizer) Stats() (accepted, malformed, stale uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accepted, n.malformed, n.stale
}

func canonicalize(raw RawTick) (Tick, error) {
	if raw.Symbol == "" {
		return Tick{}, fmt.Errorf("%w: missing symbol", ErrMalformedInput)
	}
	if raw.Timestamp <= 0 {
		return Tick{}, fmt.Errorf("%w: missing timestamp for %s", ErrMalformedInput, raw.Symbol)
	}
	if raw.Price == nil || *raw.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: missing or non-positive price for %s", ErrMalformedInput, raw.Symbol)
	}
	if raw.Volume == nil || *raw.Volume < 0 {
		return Tick{}, fmt.Errorf("%w: missing or negative volume for %s", ErrMalformedInput, raw.Symbol)
	}

	tick := Tick{
		Symbol:    raw.Symbol,
		Timestamp: time.UnixMilli(raw.Timestamp).UTC(),
		Price:     decimal.NewFromFloat(*raw.Price),
		Volume:    decimal.NewFromFloat(*raw.Volume),
	}
	if raw.Bid != nil {
		bid := decimal.NewFromFloat(*raw.Bid)
		tick.Bid = &bid
	}
	if raw.Ask != nil {
		ask := decimal.NewFromFloat(*raw.Ask)
		tick.Ask = &ask
	}
	return tick, nil
}
