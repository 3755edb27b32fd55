package rules

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates the closed set of rule kinds.
type Kind string

const (
	KindThreshold    Kind = "threshold"
	KindCrossover    Kind = "crossover"
	KindRateOfChange Kind = "rate_of_change"
	KindVolumeSpike  Kind = "volume_spike"
	KindComposite    Kind = "composite"
)

// Condition is the comparison a rule applies.
type Condition string

const (
	Above        Condition = "above"
	Below        Condition = "below"
	CrossesAbove Condition = "crosses_above"
	CrossesBelow Condition = "crosses_below"
)

// Source selects which tick field a threshold rule inspects.
type Source string

const (
	SourcePrice  Source = "price"
	SourceVolume Source = "volume"
)

// Operator combines sub-conditions of a composite rule.
type Operator string

const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// Rule is a user-defined trigger evaluated against the tick stream. All kinds
// are edge-triggered on their boolean condition; a fire happens only on the
// false-to-true transition, gated by Cooldown.
type Rule struct {
	ID        string        `json:"id" mapstructure:"id"`
	Symbol    string        `json:"symbol" mapstructure:"symbol"`
	Kind      Kind          `json:"kind" mapstructure:"kind"`
	Condition Condition     `json:"condition" mapstructure:"condition"`
	Active    bool          `json:"active" mapstructure:"active"`
	Cooldown  time.Duration `json:"cooldown" mapstructure:"cooldown"`

	// Threshold is the level compared against: a price or volume level for
	// threshold rules, a percent change for rate_of_change.
	Threshold decimal.Decimal `json:"threshold" mapstructure:"threshold"`
	// Source selects the tick field a threshold rule inspects. Defaults to
	// price; "volume" is used for volume-level sub-conditions.
	Source Source `json:"source,omitempty" mapstructure:"source"`
	// Period is the sample count for the moving average (crossover) or the
	// rolling volume baseline (volume_spike).
	Period int `json:"period,omitempty" mapstructure:"period"`
	// Window bounds the lookback for rate_of_change.
	Window time.Duration `json:"window,omitempty" mapstructure:"window"`
	// SpikeRatio is the multiple of baseline volume that counts as a spike.
	SpikeRatio decimal.Decimal `json:"spike_ratio,omitempty" mapstructure:"spike_ratio"`

	// Operator and Subs apply to composite rules only. Sub-rules contribute
	// kind, condition, and parameters; activation and cooldown are owned by
	// the parent.
	Operator Operator `json:"operator,omitempty" mapstructure:"operator"`
	Subs     []Rule   `json:"subs,omitempty" mapstructure:"subs"`

	// LastTriggered is mutated internally only, via Store.MarkTriggered.
	LastTriggered time.Time `json:"last_triggered,omitempty" mapstructure:"-"`

	// Revision is assigned by the Store on every upsert. The evaluation
	// engine discards per-rule state when it changes.
	Revision uint64 `json:"-" mapstructure:"-"`
}

// Describe renders a short human-readable condition summary for alerts.
func (r Rule) Describe() string {
	switch r.Kind {
	case KindThreshold:
		source := r.Source
		if source == "" {
			source = SourcePrice
		}
		return fmt.Sprintf("%s %s %s", source, r.Condition, r.Threshold.String())
	case KindCrossover:
		return fmt.Sprintf("price %s MA(%d)", r.Condition, r.Period)
	case KindRateOfChange:
		return fmt.Sprintf("change over %s %s %s%%", r.Window, r.Condition, r.Threshold.String())
	case KindVolumeSpike:
		return fmt.Sprintf("volume spike %sx over baseline(%d)", r.SpikeRatio.String(), r.Period)
	case KindComposite:
		return fmt.Sprintf("composite %s of %d conditions", r.Operator, len(r.Subs))
	default:
		return string(r.Kind)
	}
}

// Validate checks that the rule carries the parameters its kind requires.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Symbol == "" {
		return fmt.Errorf("rule %s: symbol is required", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown cannot be negative", r.ID)
	}
	return r.validateKind()
}

func (r Rule) validateKind() error {
	switch r.Kind {
	case KindThreshold:
		if r.Condition != Above && r.Condition != Below {
			return fmt.Errorf("rule %s: threshold requires condition above or below", r.ID)
		}
		if r.Threshold.IsZero() {
			return fmt.Errorf("rule %s: threshold value is required", r.ID)
		}
		if r.Source != "" && r.Source != SourcePrice && r.Source != SourceVolume {
			return fmt.Errorf("rule %s: unknown source %q", r.ID, r.Source)
		}
	case KindCrossover:
		if r.Condition != CrossesAbove && r.Condition != CrossesBelow {
			return fmt.Errorf("rule %s: crossover requires condition crosses_above or crosses_below", r.ID)
		}
		if r.Period < 2 {
			return fmt.Errorf("rule %s: crossover requires period >= 2", r.ID)
		}
	case KindRateOfChange:
		if r.Condition != Above && r.Condition != Below {
			return fmt.Errorf("rule %s: rate_of_change requires condition above or below", r.ID)
		}
		if r.Window <= 0 {
			return fmt.Errorf("rule %s: rate_of_change requires a positive window", r.ID)
		}
	case KindVolumeSpike:
		if r.Period < 1 {
			return fmt.Errorf("rule %s: volume_spike requires period >= 1", r.ID)
		}
		if r.SpikeRatio.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("rule %s: volume_spike requires a positive spike_ratio", r.ID)
		}
	case KindComposite:
		if r.Operator != OpAnd && r.Operator != OpOr {
			return fmt.Errorf("rule %s: composite requires operator and or or", r.ID)
		}
		if len(r.Subs) < 2 {
			return fmt.Errorf("rule %s: composite requires at least two sub-conditions", r.ID)
		}
		for i, sub := range r.Subs {
			if sub.Kind == KindComposite {
				return fmt.Errorf("rule %s: composite sub-conditions cannot nest", r.ID)
			}
			child := sub
			child.ID = fmt.Sprintf("%s.%d", r.ID, i)
			child.Symbol = r.Symbol
			if err := child.validateKind(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}
