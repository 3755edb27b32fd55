package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
	"github.com/jkristofgh/TradeAssist-sub001/internal/notify"
)

type fakeChannel struct {
	name     string
	failN    int
	alwaysOK bool

	mu    sync.Mutex
	calls int
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, _ notify.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if !c.alwaysOK && c.calls <= c.failN {
		return errors.New("send failed")
	}
	return nil
}

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testEvent(id string) engine.AlertEvent {
	return engine.AlertEvent{
		ID:        id,
		RuleID:    "r1",
		Symbol:    "ES",
		Value:     decimal.NewFromInt(4501),
		Threshold: decimal.NewFromInt(4500),
		Condition: "price above 4500",
		FiredAt:   time.Now().UTC(),
	}
}

func fastConfig() Config {
	return Config{
		QueueSize:    8,
		Workers:      1,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		SendTimeout:  time.Second,
		DrainTimeout: time.Second,
		Breaker:      BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	}
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	a := &fakeChannel{name: "a", alwaysOK: true}
	b := &fakeChannel{name: "b", alwaysOK: true}
	d := New(fastConfig(), []notify.Channel{a, b}, nil, zerolog.Nop())

	records := d.Dispatch(context.Background(), testEvent("e1"))

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Status != DeliverySent {
			t.Errorf("channel %s status = %s, want sent", rec.Channel, rec.Status)
		}
		if rec.Attempts != 1 {
			t.Errorf("channel %s attempts = %d, want 1", rec.Channel, rec.Attempts)
		}
		if rec.EventID != "e1" {
			t.Errorf("channel %s event id = %s, want e1", rec.Channel, rec.EventID)
		}
	}
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	ch := &fakeChannel{name: "flaky", failN: 2}
	d := New(fastConfig(), []notify.Channel{ch}, nil, zerolog.Nop())

	records := d.Dispatch(context.Background(), testEvent("e1"))

	if records[0].Status != DeliverySent {
		t.Fatalf("status = %s, want sent after retries", records[0].Status)
	}
	if records[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", records[0].Attempts)
	}
	if ch.callCount() != 3 {
		t.Errorf("channel called %d times, want 3", ch.callCount())
	}
}

func TestDispatchTerminalFailure(t *testing.T) {
	ch := &fakeChannel{name: "down", failN: 100}
	d := New(fastConfig(), []notify.Channel{ch}, nil, zerolog.Nop())

	records := d.Dispatch(context.Background(), testEvent("e1"))

	rec := records[0]
	if rec.Status != DeliveryFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
	if rec.Reason == "" {
		t.Error("failed record carries no reason")
	}

	// One exhausted retry cycle counts as one breaker failure.
	if got := d.breakers["down"].Failures(); got != 1 {
		t.Errorf("breaker failures = %d, want 1", got)
	}
}

func TestDispatchCircuitIsolation(t *testing.T) {
	broken := &fakeChannel{name: "broken", failN: 1000}
	healthy := &fakeChannel{name: "healthy", alwaysOK: true}
	d := New(fastConfig(), []notify.Channel{broken, healthy}, nil, zerolog.Nop())

	// Two terminal failures trip the broken channel's breaker.
	d.Dispatch(context.Background(), testEvent("e1"))
	d.Dispatch(context.Background(), testEvent("e2"))

	if state, _ := d.BreakerState("broken"); state != BreakerOpen {
		t.Fatalf("broken channel breaker = %s, want open", state)
	}
	if state, _ := d.BreakerState("healthy"); state != BreakerClosed {
		t.Fatalf("healthy channel breaker = %s, want closed", state)
	}

	callsBefore := broken.callCount()
	records := d.Dispatch(context.Background(), testEvent("e3"))

	for _, rec := range records {
		switch rec.Channel {
		case "broken":
			if rec.Status != DeliveryFailed || rec.Reason != "circuit open" {
				t.Errorf("broken record = (%s, %q), want (failed, circuit open)", rec.Status, rec.Reason)
			}
		case "healthy":
			if rec.Status != DeliverySent {
				t.Errorf("healthy channel status = %s, want sent", rec.Status)
			}
		}
	}
	if broken.callCount() != callsBefore {
		t.Error("open circuit still reached the channel")
	}
}

func TestEnqueueAlertReportsQueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	d := New(cfg, []notify.Channel{&fakeChannel{name: "a", alwaysOK: true}}, nil, zerolog.Nop())

	if !d.EnqueueAlert(testEvent("e1")) {
		t.Fatal("enqueue into empty queue failed")
	}
	if d.EnqueueAlert(testEvent("e2")) {
		t.Fatal("enqueue into full queue succeeded")
	}
}

func TestDispatcherDrainsQueueOnShutdown(t *testing.T) {
	ch := &fakeChannel{name: "a", alwaysOK: true}

	var mu sync.Mutex
	var delivered []string
	onResult := func(event engine.AlertEvent, records []DeliveryRecord) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, event.ID)
	}

	d := New(fastConfig(), []notify.Channel{ch}, onResult, zerolog.Nop())
	d.EnqueueAlert(testEvent("e1"))
	d.EnqueueAlert(testEvent("e2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("delivered %d events during drain, want 2", len(delivered))
	}
}
