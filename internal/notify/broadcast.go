package notify

import (
	"context"

	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
)

// BroadcastChannel publishes the alert onto the in-process bus so live
// subscribers (the websocket feed, tests) see it immediately.
type BroadcastChannel struct {
	bus *bus.Bus
}

// NewBroadcastChannel constructs the in-app broadcast channel.
func NewBroadcastChannel(b *bus.Bus) *BroadcastChannel {
	return &BroadcastChannel{bus: b}
}

// Name identifies the channel in delivery records.
func (c *BroadcastChannel) Name() string { return "broadcast" }

// Send publishes the payload; the bus never blocks, so this cannot fail
// except on cancellation.
func (c *BroadcastChannel) Send(ctx context.Context, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.bus.Publish(bus.TopicAlerts, payload)
	return nil
}

var _ Channel = (*BroadcastChannel)(nil)
