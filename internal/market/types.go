package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentStatus is the lifecycle state of a tracked instrument.
type InstrumentStatus string

const (
	InstrumentActive   InstrumentStatus = "active"
	InstrumentInactive InstrumentStatus = "inactive"
)

// InstrumentType classifies a tracked instrument.
type InstrumentType string

const (
	TypeFuture   InstrumentType = "future"
	TypeIndex    InstrumentType = "index"
	TypeInternal InstrumentType = "internal"
)

// Instrument identifies a tracked market instrument. The symbol is immutable;
// status is flipped by the external management surface.
type Instrument struct {
	Symbol string           `json:"symbol"`
	Type   InstrumentType   `json:"type"`
	Status InstrumentStatus `json:"status"`
}

// Active reports whether the instrument should receive ticks.
func (i Instrument) Active() bool {
	return i.Status == InstrumentActive
}

// Tick is a single normalized price/volume observation. Timestamps are
// non-decreasing per symbol once past the Normalizer.
type Tick struct {
	Symbol    string           `json:"symbol"`
	Timestamp time.Time        `json:"timestamp"`
	Price     decimal.Decimal  `json:"price"`
	Volume    decimal.Decimal  `json:"volume"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
}

// RawTick is the provider payload before validation. Pointer fields
// distinguish absent from zero.
type RawTick struct {
	Symbol    string   `json:"symbol"`
	Timestamp int64    `json:"timestamp"`
	Price     *float64 `json:"price"`
	Volume    *float64 `json:"volume"`
	Bid       *float64 `json:"bid,omitempty"`
	Ask       *float64 `json:"ask,omitempty"`
}
