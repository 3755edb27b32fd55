package alertlog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/dispatch"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
)

// Entry is one appended evaluation outcome, with delivery records when the
// event was dispatched.
type Entry struct {
	EventID     string                    `json:"event_id,omitempty"`
	Status      engine.OutcomeStatus      `json:"status"`
	RuleID      string                    `json:"rule_id"`
	Symbol      string                    `json:"symbol"`
	Value       decimal.Decimal           `json:"value"`
	Threshold   decimal.Decimal           `json:"threshold"`
	Condition   string                    `json:"condition"`
	Error       string                    `json:"error,omitempty"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
	Latency     time.Duration             `json:"latency"`
	Deliveries  []dispatch.DeliveryRecord `json:"deliveries,omitempty"`
}

// Sink persists entries. Failures are reported by the Log but never fatal:
// the firing decision was already made upstream.
type Sink interface {
	WriteEntry(ctx context.Context, entry Entry) error
}

// Config sizes the log buffer.
type Config struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// Log is the append-only record of evaluation outcomes. Writes are buffered
// and flushed by a single background writer so neither the engine nor the
// dispatcher ever blocks on persistence.
type Log struct {
	sink   Sink
	buf    chan Entry
	logger zerolog.Logger

	dropped     atomic.Uint64
	writeErrors atomic.Uint64
}

// New constructs a Log writing to sink.
func New(cfg Config, sink Sink, logger zerolog.Logger) *Log {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Log{
		sink:   sink,
		buf:    make(chan Entry, cfg.BufferSize),
		logger: logger.With().Str("component", "alert_log").Logger(),
	}
}

// RecordOutcome appends a suppressed, errored, or undispatched-fired outcome.
// Implements engine.OutcomeRecorder.
func (l *Log) RecordOutcome(outcome engine.Outcome) {
	entry := Entry{
		Status:      outcome.Status,
		RuleID:      outcome.RuleID,
		Symbol:      outcome.Symbol,
		Value:       outcome.Value,
		Threshold:   outcome.Threshold,
		Condition:   outcome.Condition,
		EvaluatedAt: outcome.EvaluatedAt,
		Latency:     outcome.Latency,
	}
	if outcome.Event != nil {
		entry.EventID = outcome.Event.ID
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	l.append(entry)
}

var _ engine.OutcomeRecorder = (*Log)(nil)

// RecordDeliveries appends the fired outcome together with its per-channel
// delivery records. Wired to the dispatcher's result callback.
func (l *Log) RecordDeliveries(event engine.AlertEvent, records []dispatch.DeliveryRecord) {
	l.append(Entry{
		EventID:     event.ID,
		Status:      engine.OutcomeFired,
		RuleID:      event.RuleID,
		Symbol:      event.Symbol,
		Value:       event.Value,
		Threshold:   event.Threshold,
		Condition:   event.Condition,
		EvaluatedAt: event.FiredAt,
		Latency:     event.Latency,
		Deliveries:  records,
	})
}

func (l *Log) append(entry Entry) {
	select {
	case l.buf <- entry:
	default:
		dropped := l.dropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			l.logger.Error().
				Str("rule_id", entry.RuleID).
				Uint64("dropped_total", dropped).
				Msg("alert log buffer full; entry dropped")
		}
	}
}

// Run writes buffered entries until ctx is cancelled, then flushes what
// remains and returns.
func (l *Log) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-l.buf:
			l.write(ctx, entry)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case entry := <-l.buf:
					l.write(flushCtx, entry)
				default:
					return nil
				}
			}
		}
	}
}

// Dropped reports entries lost to buffer overflow.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *Log) write(ctx context.Context, entry Entry) {
	if l.sink == nil {
		return
	}
	if err := l.sink.WriteEntry(ctx, entry); err != nil {
		l.writeErrors.Add(1)
		l.logger.Error().
			Err(err).
			Str("rule_id", entry.RuleID).
			Str("status", string(entry.Status)).
			Msg("failed to persist alert log entry")
	}
}

// LoggerSink writes entries to the structured log. Used when no database is
// configured.
type LoggerSink struct {
	Logger zerolog.Logger
}

// WriteEntry implements Sink.
func (s LoggerSink) WriteEntry(_ context.Context, entry Entry) error {
	evt := s.Logger.Info().
		Str("status", string(entry.Status)).
		Str("rule_id", entry.RuleID).
		Str("symbol", entry.Symbol).
		Str("value", entry.Value.String()).
		Str("condition", entry.Condition).
		Dur("latency", entry.Latency)
	if entry.EventID != "" {
		evt = evt.Str("event_id", entry.EventID)
	}
	if entry.Error != "" {
		evt = evt.Str("error", entry.Error)
	}
	evt.Msg("alert outcome")
	return nil
}

var _ Sink = LoggerSink{}
