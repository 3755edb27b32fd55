package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
)

// DeliveryStatus is the terminal state of one channel delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliverySuppressed DeliveryStatus = "suppressed"
)

// DeliveryRecord tracks one channel's handling of one alert event.
type DeliveryRecord struct {
	EventID     string         `json:"event_id"`
	Channel     string         `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	Reason      string         `json:"reason,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// ResultFunc receives the per-channel delivery records once an event has been
// fanned out. Wired to the alert log by the service layer.
type ResultFunc func(event engine.AlertEvent, records []DeliveryRecord)

// Config tunes the dispatcher.
type Config struct {
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher fans fired alert events out to the configured channels. Each
// channel is guarded by its own circuit breaker and delivered concurrently; a
// slow or failing channel never delays its siblings.
type Dispatcher struct {
	cfg      Config
	channels []notify.Channel
	breakers map[string]*Breaker
	queue    chan engine.AlertEvent
	onResult ResultFunc
	logger   zerolog.Logger
}

// New constructs a Dispatcher for the given channels.
func New(cfg Config, channels []notify.Channel, onResult ResultFunc, logger zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()

	breakers := make(map[string]*Breaker, len(channels))
	for _, ch := range channels {
		breakers[ch.Name()] = NewBreaker(cfg.Breaker)
	}

	return &Dispatcher{
		cfg:      cfg,
		channels: channels,
		breakers: breakers,
		queue:    make(chan engine.AlertEvent, cfg.QueueSize),
		onResult: onResult,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// EnqueueAlert accepts a fired event for delivery. Reports false when the
// queue is full.
func (d *Dispatcher) EnqueueAlert(event engine.AlertEvent) bool {
	select {
	case d.queue <- event:
		return true
	default:
		return false
	}
}

var _ engine.AlertSink = (*Dispatcher)(nil)

// BreakerState exposes the circuit state of a channel for health reporting.
func (d *Dispatcher) BreakerState(channel string) (BreakerState, bool) {
	b, ok := d.breakers[channel]
	if !ok {
		return "", false
	}
	return b.State(), true
}

// BreakerStates snapshots every channel's circuit state.
func (d *Dispatcher) BreakerStates() map[string]BreakerState {
	states := make(map[string]BreakerState, len(d.breakers))
	for name, b := range d.breakers {
		states[name] = b.State()
	}
	return states
}

// Run consumes the event queue until ctx is cancelled, then drains whatever
// is buffered under the drain timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runWorker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.handle(ctx, event)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
			defer cancel()
			for {
				select {
				case event := <-d.queue:
					d.handle(drainCtx, event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event engine.AlertEvent) {
	records := d.Dispatch(ctx, event)
	if d.onResult != nil {
		d.onResult(event, records)
	}
}

// Dispatch fans one event out to every channel concurrently and returns the
// per-channel delivery records.
func (d *Dispatcher) Dispatch(ctx context.Context, event engine.AlertEvent) []DeliveryRecord {
	payload := notify.Payload{
		EventID:   event.ID,
		RuleID:    event.RuleID,
		Symbol:    event.Symbol,
		Value:     event.Value,
		Threshold: event.Threshold,
		Condition: event.Condition,
		FiredAt:   event.FiredAt,
	}

	records := make([]DeliveryRecord, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch notify.Channel) {
			defer wg.Done()
			records[i] = d.deliver(ctx, ch, payload)
		}(i, ch)
	}
	wg.Wait()
	return records
}

// deliver attempts one channel with retry, backoff, and breaker accounting.
func (d *Dispatcher) deliver(ctx context.Context, ch notify.Channel, payload notify.Payload) DeliveryRecord {
	record := DeliveryRecord{
		EventID:   payload.EventID,
		Channel:   ch.Name(),
		Status:    DeliveryPending,
		StartedAt: time.Now().UTC(),
	}
	breaker := d.breakers[ch.Name()]

	if !breaker.Allow() {
		record.Status = DeliveryFailed
		record.Reason = "circuit open"
		record.CompletedAt = time.Now().UTC()
		d.logger.Debug().
			Str("channel", ch.Name()).
			Str("event_id", payload.EventID).
			Msg("circuit open; delivery skipped")
		return record
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		record.Attempts = attempt

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := ch.Send(sendCtx, payload)
		cancel()

		if err == nil {
			breaker.Success()
			record.Status = DeliverySent
			record.Reason = ""
			record.CompletedAt = time.Now().UTC()
			return record
		}
		lastErr = err

		if attempt < d.cfg.MaxAttempts {
			backoff := d.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = d.cfg.MaxAttempts
			}
		}
	}

	breaker.Failure()
	record.Status = DeliveryFailed
	record.Reason = lastErr.Error()
	record.CompletedAt = time.Now().UTC()

	d.logger.Warn().
		Str("channel", ch.Name()).
		Str("event_id", payload.EventID).
		Int("attempts", record.Attempts).
		Err(lastErr).
		Str("breaker", string(breaker.State())).
		Msg("delivery failed")
	return record
}
