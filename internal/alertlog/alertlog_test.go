package alertlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/dispatch"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *fakeSink) WriteEntry(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeSink) written() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func runAndFlush(t *testing.T, l *Log) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestLogRecordsOutcomes(t *testing.T) {
	sink := &fakeSink{}
	l := New(Config{BufferSize: 16}, sink, zerolog.Nop())

	l.RecordOutcome(engine.Outcome{
		Status:      engine.OutcomeSuppressed,
		RuleID:      "r1",
		Symbol:      "ES",
		Value:       decimal.NewFromInt(4501),
		Threshold:   decimal.NewFromInt(4500),
		Condition:   "price above 4500",
		EvaluatedAt: time.Now().UTC(),
	})
	l.RecordOutcome(engine.Outcome{
		Status: engine.OutcomeError,
		RuleID: "r2",
		Symbol: "ES",
		Err:    errors.New("boom"),
	})

	runAndFlush(t, l)

	entries := sink.written()
	if len(entries) != 2 {
		t.Fatalf("sink received %d entries, want 2", len(entries))
	}
	if entries[0].Status != engine.OutcomeSuppressed || entries[0].RuleID != "r1" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Error != "boom" {
		t.Errorf("error outcome recorded as %q, want boom", entries[1].Error)
	}
}

func TestLogRecordsDeliveries(t *testing.T) {
	sink := &fakeSink{}
	l := New(Config{BufferSize: 16}, sink, zerolog.Nop())

	event := engine.AlertEvent{
		ID:      "e1",
		RuleID:  "r1",
		Symbol:  "ES",
		FiredAt: time.Now().UTC(),
	}
	records := []dispatch.DeliveryRecord{
		{EventID: "e1", Channel: "telegram", Status: dispatch.DeliverySent, Attempts: 1},
		{EventID: "e1", Channel: "webhook", Status: dispatch.DeliveryFailed, Attempts: 3, Reason: "send failed"},
	}
	l.RecordDeliveries(event, records)

	runAndFlush(t, l)

	entries := sink.written()
	if len(entries) != 1 {
		t.Fatalf("sink received %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Status != engine.OutcomeFired || entry.EventID != "e1" {
		t.Errorf("entry = %+v, want fired outcome for e1", entry)
	}
	if len(entry.Deliveries) != 2 {
		t.Errorf("entry carries %d delivery records, want 2", len(entry.Deliveries))
	}
}

func TestLogDropsWhenBufferFull(t *testing.T) {
	l := New(Config{BufferSize: 1}, &fakeSink{}, zerolog.Nop())

	// No writer running: the second append overflows.
	l.RecordOutcome(engine.Outcome{Status: engine.OutcomeSuppressed, RuleID: "r1"})
	l.RecordOutcome(engine.Outcome{Status: engine.OutcomeSuppressed, RuleID: "r2"})

	if got := l.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestLogSinkErrorIsNotFatal(t *testing.T) {
	sink := &fakeSink{err: errors.New("database unavailable")}
	l := New(Config{BufferSize: 16}, sink, zerolog.Nop())

	l.RecordOutcome(engine.Outcome{Status: engine.OutcomeSuppressed, RuleID: "r1"})

	runAndFlush(t, l)

	if got := l.writeErrors.Load(); got != 1 {
		t.Errorf("writeErrors = %d, want 1", got)
	}
}

func TestLogNilSink(t *testing.T) {
	l := New(Config{BufferSize: 4}, nil, zerolog.Nop())
	l.RecordOutcome(engine.Outcome{Status: engine.OutcomeSuppressed, RuleID: "r1"})
	runAndFlush(t, l)
}
