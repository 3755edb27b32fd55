package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
)

// evaluator is the uniform capability every rule kind implements: feed it the
// next tick, get back the current boolean condition and the value that drove
// it. Edge detection and cooldown live one level up, in ruleState.
type evaluator interface {
	observe(t market.Tick) observation
}

// observation is the result of one evaluator step. ready is false while the
// rolling state is still warming up; the condition cannot hold before then.
type observation struct {
	active bool
	ready  bool
	value  decimal.Decimal
}

// compileRule maps a rule onto its evaluator. A rule whose parameters do not
// fit its kind fails here and is skipped on every subsequent tick.
func compileRule(r rules.Rule) (evaluator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return compileCondition(r)
}

func compileCondition(r rules.Rule) (evaluator, error) {
	switch r.Kind {
	case rules.KindThreshold:
		source := r.Source
		if source == "" {
			source = rules.SourcePrice
		}
		return &thresholdEval{condition: r.Condition, threshold: r.Threshold, source: source}, nil
	case rules.KindCrossover:
		return &crossoverEval{condition: r.Condition, window: newRing(r.Period)}, nil
	case rules.KindRateOfChange:
		return &rateOfChangeEval{condition: r.Condition, threshold: r.Threshold, window: r.Window}, nil
	case rules.KindVolumeSpike:
		return &volumeSpikeEval{ratio: r.SpikeRatio, baseline: newRing(r.Period)}, nil
	case rules.KindComposite:
		subs := make([]evaluator, 0, len(r.Subs))
		for i, sub := range r.Subs {
			child := sub
			child.Symbol = r.Symbol
			ev, err := compileCondition(child)
			if err != nil {
				return nil, fmt.Errorf("sub-condition %d: %w", i, err)
			}
			subs = append(subs, ev)
		}
		return &compositeEval{operator: r.Operator, subs: subs}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// ring is a fixed-size rolling window with an incremental sum.
type ring struct {
	values []decimal.Decimal
	next   int
	count  int
	sum    decimal.Decimal
}

func newRing(size int) *ring {
	return &ring{values: make([]decimal.Decimal, size)}
}

func (w *ring) push(v decimal.Decimal) {
	if w.count == len(w.values) {
		w.sum = w.sum.Sub(w.values[w.next])
	} else {
		w.count++
	}
	w.values[w.next] = v
	w.sum = w.sum.Add(v)
	w.next = (w.next + 1) % len(w.values)
}

func (w *ring) full() bool {
	return w.count == len(w.values)
}

func (w *ring) average() decimal.Decimal {
	if w.count == 0 {
		return decimal.Zero
	}
	return w.sum.Div(decimal.NewFromInt(int64(w.count)))
}

// thresholdEval is the level comparison against a fixed price or volume
// level. Level-triggered here; the transition gate above turns it into a
// single fire per crossing.
type thresholdEval struct {
	condition rules.Condition
	threshold decimal.Decimal
	source    rules.Source
}

func (e *thresholdEval) observe(t market.Tick) observation {
	value := t.Price
	if e.source == rules.SourceVolume {
		value = t.Volume
	}
	active := false
	switch e.condition {
	case rules.Above:
		active = value.GreaterThan(e.threshold)
	case rules.Below:
		active = value.LessThan(e.threshold)
	}
	return observation{active: active, ready: true, value: value}
}

// crossoverEval detects the price crossing its own moving average. The
// condition is true only on the crossing tick, so consecutive trues cannot
// occur and the outer edge detection passes every crossing through.
type crossoverEval struct {
	condition rules.Condition
	window    *ring
	prevAbove *bool
}

func (e *crossoverEval) observe(t market.Tick) observation {
	e.window.push(t.Price)
	if !e.window.full() {
		return observation{value: t.Price}
	}

	above := t.Price.GreaterThan(e.window.average())
	crossed := false
	if e.prevAbove != nil {
		switch e.condition {
		case rules.CrossesAbove:
			crossed = above && !*e.prevAbove
		case rules.CrossesBelow:
			crossed = !above && *e.prevAbove
		}
	}
	e.prevAbove = &above
	return observation{active: crossed, ready: true, value: t.Price}
}

// rateOfChangeEval compares the percent change over a trailing time window.
// The baseline is the newest sample at or before the window start, so a
// sparse stream still measures against the full window.
type rateOfChangeEval struct {
	condition rules.Condition
	threshold decimal.Decimal
	window    time.Duration
	samples   []pricePoint
}

type pricePoint struct {
	ts    time.Time
	price decimal.Decimal
}

func (e *rateOfChangeEval) observe(t market.Tick) observation {
	cutoff := t.Timestamp.Add(-e.window)

	e.samples = append(e.samples, pricePoint{ts: t.Timestamp, price: t.Price})
	// Evict everything older than the cutoff except the newest such sample,
	// which serves as the baseline.
	idx := 0
	for i, p := range e.samples {
		if p.ts.After(cutoff) {
			break
		}
		idx = i
	}
	if idx > 0 {
		e.samples = e.samples[idx:]
	}

	// Not ready until the baseline reaches back a full window.
	base := e.samples[0]
	if base.ts.After(cutoff) || base.price.IsZero() {
		return observation{value: decimal.Zero}
	}

	change := t.Price.Sub(base.price).Div(base.price).Mul(decimal.NewFromInt(100))
	active := false
	switch e.condition {
	case rules.Above:
		active = change.GreaterThan(e.threshold)
	case rules.Below:
		active = change.LessThan(e.threshold)
	}
	return observation{active: active, ready: true, value: change}
}

// volumeSpikeEval compares the current volume against a rolling baseline of
// the preceding ticks. The current tick joins the baseline only after the
// comparison, so a spike does not inflate its own reference.
type volumeSpikeEval struct {
	ratio    decimal.Decimal
	baseline *ring
}

func (e *volumeSpikeEval) observe(t market.Tick) observation {
	ready := e.baseline.full()
	active := false
	if ready {
		limit := e.baseline.average().Mul(e.ratio)
		active = limit.GreaterThan(decimal.Zero) && t.Volume.GreaterThanOrEqual(limit)
	}
	e.baseline.push(t.Volume)
	return observation{active: active, ready: ready, value: t.Volume}
}

// compositeEval combines sub-conditions with AND/OR. Every sub-evaluator
// observes every tick so rolling state stays warm; edge detection applies to
// the combined boolean, never per sub-condition.
type compositeEval struct {
	operator rules.Operator
	subs     []evaluator
}

func (e *compositeEval) observe(t market.Tick) observation {
	combined := e.operator == rules.OpAnd
	anyReady := false
	allReady := true
	for _, sub := range e.subs {
		obs := sub.observe(t)
		anyReady = anyReady || obs.ready
		allReady = allReady && obs.ready
		held := obs.ready && obs.active
		if e.operator == rules.OpAnd {
			combined = combined && held
		} else {
			combined = combined || held
		}
	}
	ready := allReady
	if e.operator == rules.OpOr {
		ready = anyReady
	}
	return observation{active: ready && combined, ready: ready, value: t.Price}
}
