package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
)

// OutcomeStatus classifies the result of evaluating one rule for one tick.
type OutcomeStatus string

const (
	OutcomeFired      OutcomeStatus = "fired"
	OutcomeSuppressed OutcomeStatus = "suppressed"
	OutcomeError      OutcomeStatus = "error"
)

// AlertEvent is emitted exactly once per rule firing and is immutable after
// creation.
type AlertEvent struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"rule_id"`
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
	Condition string          `json:"condition"`
	FiredAt   time.Time       `json:"fired_at"`
	Latency   time.Duration   `json:"latency"`
}

// Outcome records one evaluation result for the alert log. Ticks whose
// condition simply stays false produce no outcome.
type Outcome struct {
	Status      OutcomeStatus
	RuleID      string
	Symbol      string
	Value       decimal.Decimal
	Threshold   decimal.Decimal
	Condition   string
	Tick        market.Tick
	Event       *AlertEvent
	Err         error
	EvaluatedAt time.Time
	Latency     time.Duration
}

// OutcomeRecorder receives every evaluation outcome. Implementations must not
// block: the authoritative firing decision is made here, logging is a side
// effect.
type OutcomeRecorder interface {
	RecordOutcome(Outcome)
}

// AlertSink receives fired events for delivery. Enqueue reports false when
// the sink's queue is full; the engine logs and moves on.
type AlertSink interface {
	EnqueueAlert(AlertEvent) bool
}

// Config sizes the engine's partitioned pipeline.
type Config struct {
	Partitions int `mapstructure:"partitions"`
	QueueSize  int `mapstructure:"queue_size"`
}

// Engine evaluates active rules against the normalized tick stream. Ticks for
// one symbol always land on the same partition and are processed in arrival
// order; partitions run fully in parallel.
type Engine struct {
	cfg      Config
	store    *rules.Store
	recorder OutcomeRecorder
	sink     AlertSink
	logger   zerolog.Logger

	partitions []chan market.Tick
	states     []map[string]*ruleState

	stopping     atomic.Bool
	droppedTicks atomic.Uint64
	droppedFires atomic.Uint64
}

// ruleState is the per-rule rolling state, owned exclusively by the partition
// goroutine that evaluates the rule's symbol.
type ruleState struct {
	revision      uint64
	eval          evaluator
	invalid       bool
	prev          bool
	lastTriggered time.Time
}

// New constructs the engine. The recorder and sink are required.
func New(cfg Config, store *rules.Store, recorder OutcomeRecorder, sink AlertSink, logger zerolog.Logger) *Engine {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		recorder:   recorder,
		sink:       sink,
		logger:     logger.With().Str("component", "engine").Logger(),
		partitions: make([]chan market.Tick, cfg.Partitions),
		states:     make([]map[string]*ruleState, cfg.Partitions),
	}
	for i := range e.partitions {
		e.partitions[i] = make(chan market.Tick, cfg.QueueSize)
		e.states[i] = make(map[string]*ruleState)
	}
	return e
}

// Run drains the partition queues until ctx is cancelled, then finishes
// whatever is already buffered and returns.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range e.partitions {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			e.runPartition(ctx, part)
		}(i)
	}
	wg.Wait()
	return nil
}

// Submit routes a normalized tick to its partition. When the partition queue
// is full the oldest buffered tick is discarded so the newest data keeps
// flowing. Drops are counted and logged as a health signal.
func (e *Engine) Submit(tick market.Tick) {
	if e.stopping.Load() {
		return
	}
	ch := e.partitions[e.partition(tick.Symbol)]
	for {
		select {
		case ch <- tick:
			return
		default:
		}
		select {
		case old := <-ch:
			dropped := e.droppedTicks.Add(1)
			if dropped == 1 || dropped%100 == 0 {
				e.logger.Warn().
					Str("symbol", old.Symbol).
					Uint64("dropped_total", dropped).
					Msg("evaluation queue full; dropping oldest tick")
			}
		default:
		}
	}
}

// Stop makes Submit a no-op so the pipeline can drain.
func (e *Engine) Stop() {
	e.stopping.Store(true)
}

// DroppedTicks reports how many buffered ticks were discarded to keep up.
func (e *Engine) DroppedTicks() uint64 {
	return e.droppedTicks.Load()
}

func (e *Engine) partition(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(e.partitions)))
}

func (e *Engine) runPartition(ctx context.Context, part int) {
	ch := e.partitions[part]
	ticks := 0
	for {
		select {
		case tick := <-ch:
			e.evaluateTick(part, tick)
			ticks++
			if ticks%1024 == 0 {
				e.pruneStates(part)
			}
		case <-ctx.Done():
			// Drain what is already buffered, then exit.
			for {
				select {
				case tick := <-ch:
					e.evaluateTick(part, tick)
				default:
					return
				}
			}
		}
	}
}

// evaluateTick runs every active rule for the tick's symbol. A failure in one
// rule never aborts its siblings.
func (e *Engine) evaluateTick(part int, tick market.Tick) {
	started := time.Now()
	for _, rule := range e.store.ActiveRules(tick.Symbol) {
		e.evaluateRule(part, rule, tick, started)
	}
}

func (e *Engine) evaluateRule(part int, rule *rules.Rule, tick market.Tick, started time.Time) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("rule evaluation panicked: %v", r)
			e.logger.Error().
				Str("rule_id", rule.ID).
				Str("symbol", tick.Symbol).
				Err(err).
				Msg("rule evaluation failed; siblings continue")
			e.record(Outcome{
				Status:      OutcomeError,
				RuleID:      rule.ID,
				Symbol:      tick.Symbol,
				Condition:   rule.Describe(),
				Tick:        tick,
				Err:         err,
				EvaluatedAt: time.Now().UTC(),
				Latency:     time.Since(started),
			})
		}
	}()

	st := e.state(part, rule)
	if st.invalid {
		return
	}

	obs := st.eval.observe(tick)

	if !obs.active {
		// Arm the edge for the next false-to-true transition.
		st.prev = false
		return
	}
	if st.prev {
		// Condition holds but already fired on its transition.
		return
	}
	st.prev = true

	now := time.Now().UTC()
	if rule.Cooldown > 0 && !st.lastTriggered.IsZero() && now.Sub(st.lastTriggered) < rule.Cooldown {
		e.record(Outcome{
			Status:      OutcomeSuppressed,
			RuleID:      rule.ID,
			Symbol:      tick.Symbol,
			Value:       obs.value,
			Threshold:   rule.Threshold,
			Condition:   rule.Describe(),
			Tick:        tick,
			EvaluatedAt: now,
			Latency:     time.Since(started),
		})
		return
	}

	st.lastTriggered = now
	e.store.MarkTriggered(rule.ID, now)

	event := AlertEvent{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		Symbol:    tick.Symbol,
		Value:     obs.value,
		Threshold: rule.Threshold,
		Condition: rule.Describe(),
		FiredAt:   now,
		Latency:   time.Since(started),
	}

	// A dispatched event is logged by the dispatcher together with its
	// delivery records; the outcome is recorded here only when it never
	// reaches the queue, so no firing is ever silently lost.
	if e.sink != nil && e.sink.EnqueueAlert(event) {
		return
	}
	if e.sink != nil {
		dropped := e.droppedFires.Add(1)
		e.logger.Warn().
			Str("rule_id", rule.ID).
			Str("event_id", event.ID).
			Uint64("dropped_total", dropped).
			Msg("alert queue full; event recorded but not dispatched")
	}
	e.record(Outcome{
		Status:      OutcomeFired,
		RuleID:      rule.ID,
		Symbol:      tick.Symbol,
		Value:       obs.value,
		Threshold:   rule.Threshold,
		Condition:   rule.Describe(),
		Tick:        tick,
		Event:       &event,
		EvaluatedAt: now,
		Latency:     event.Latency,
	})
}

// state fetches or (re)initialises the rolling state for a rule. A revision
// change means the rule was upserted or reactivated: detection restarts clean
// instead of firing on stale buffers.
func (e *Engine) state(part int, rule *rules.Rule) *ruleState {
	states := e.states[part]
	st, ok := states[rule.ID]
	if ok && st.revision == rule.Revision {
		return st
	}

	st = &ruleState{revision: rule.Revision, lastTriggered: rule.LastTriggered}
	eval, err := compileRule(*rule)
	if err != nil {
		// The store logs the validation warning once; compile can still fail
		// for rules mutated out from under us.
		st.invalid = true
		e.logger.Warn().Str("rule_id", rule.ID).Err(err).Msg("rule failed to compile; skipped")
	} else {
		st.eval = eval
	}
	states[rule.ID] = st
	return st
}

// pruneStates drops state for rules that no longer exist in the store.
func (e *Engine) pruneStates(part int) {
	for id := range e.states[part] {
		if _, ok := e.store.Get(id); !ok {
			delete(e.states[part], id)
		}
	}
}

func (e *Engine) record(outcome Outcome) {
	if e.recorder != nil {
		e.recorder.RecordOutcome(outcome)
	}
}
