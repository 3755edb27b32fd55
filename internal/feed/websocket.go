package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
)

// WebsocketOptions parameterise the websocket connector.
type WebsocketOptions struct {
	URL              string
	HandshakeTimeout time.Duration
	// Subscribe is sent verbatim after connecting, for providers that expect
	// an explicit subscription message.
	Subscribe json.RawMessage
}

// WebsocketSource reads JSON tick payloads from a provider websocket. A read
// failure surfaces as the Run error; it does not retry.
type WebsocketSource struct {
	opts   WebsocketOptions
	logger zerolog.Logger
}

// NewWebsocketSource constructs the websocket connector.
func NewWebsocketSource(opts WebsocketOptions, logger zerolog.Logger) *WebsocketSource {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &WebsocketSource{
		opts:   opts,
		logger: logger.With().Str("component", "feed_websocket").Logger(),
	}
}

// Run connects and pumps payloads into handle until the stream ends or ctx is
// cancelled.
func (s *WebsocketSource) Run(ctx context.Context, handle Handler) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial tick feed: %w", err)
	}
	defer conn.Close()

	if len(s.opts.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, s.opts.Subscribe); err != nil {
			return fmt.Errorf("send subscribe message: %w", err)
		}
	}

	s.logger.Info().Str("url", s.opts.URL).Msg("tick feed connected")

	// Unblock the read loop when ctx is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read tick feed: %w", err)
		}

		var raw market.RawTick
		if err := json.Unmarshal(payload, &raw); err != nil {
			// Undecodable frames count as malformed input downstream; keep a
			// placeholder so the drop is observable.
			s.logger.Debug().Err(err).Msg("undecodable tick frame")
			handle(market.RawTick{})
			continue
		}
		handle(raw)
	}
}

var _ TickSource = (*WebsocketSource)(nil)
