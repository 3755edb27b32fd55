package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload carries the alert context a channel renders and delivers.
type Payload struct {
	EventID   string          `json:"event_id"`
	RuleID    string          `json:"rule_id"`
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
	Condition string          `json:"condition"`
	FiredAt   time.Time       `json:"fired_at"`
}

// Channel is the uniform sink interface every notification channel
// implements. Concrete channels are configuration-selected, never hard-wired
// into the dispatcher.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

// RenderText formats the payload as the plain-text message shared by the
// chat-style channels.
func RenderText(p Payload) string {
	builder := strings.Builder{}
	builder.WriteString("[TradeAssist Alert]\n")
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", p.Symbol))
	builder.WriteString(fmt.Sprintf("Rule: %s (%s)\n", p.RuleID, p.Condition))
	builder.WriteString(fmt.Sprintf("Value: %s (threshold %s)\n", p.Value.String(), p.Threshold.String()))
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", p.FiredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}
