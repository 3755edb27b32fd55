package wsfeed

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config tunes the subscription endpoint.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Server streams tick and alert broadcasts to external consumers over a
// websocket. Its only obligation is bounded-latency publishing; a subscriber
// that stalls loses messages and eventually the connection.
type Server struct {
	cfg    Config
	bus    *bus.Bus
	logger zerolog.Logger
}

// envelope wraps every outbound frame with its topic.
type envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// New constructs the subscription server.
func New(cfg Config, b *bus.Bus, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8787"
	}
	return &Server{
		cfg:    cfg,
		bus:    b,
		logger: logger.With().Str("component", "wsfeed").Logger(),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.subscribe)

	srv := &http.Server{Addr: s.cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("subscription feed listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticks, unsubTicks := s.bus.Subscribe(bus.TopicTicks, 100)
	defer unsubTicks()
	alerts, unsubAlerts := s.bus.Subscribe(bus.TopicAlerts, 100)
	defer unsubAlerts()

	for {
		var frame envelope
		select {
		case msg, ok := <-ticks:
			if !ok {
				return
			}
			frame = envelope{Topic: string(bus.TopicTicks), Data: msg}
		case msg, ok := <-alerts:
			if !ok {
				return
			}
			frame = envelope{Topic: string(bus.TopicAlerts), Data: msg}
		case <-r.Context().Done():
			return
		}

		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Debug().Err(err).Msg("subscriber write failed; dropping connection")
			return
		}
	}
}
