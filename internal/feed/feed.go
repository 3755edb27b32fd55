package feed

import (
	"context"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
)

// Handler receives each raw provider payload as it arrives.
type Handler func(raw market.RawTick)

// TickSource produces the raw tick stream. Run blocks until the source is
// exhausted, fails, or ctx is cancelled. Reconnection and provider
// authentication are the connector's own concern, outside this engine.
type TickSource interface {
	Run(ctx context.Context, handle Handler) error
}
