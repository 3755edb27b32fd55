package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/bus"
)

func TestSoundChannelWritesBells(t *testing.T) {
	var buf bytes.Buffer
	ch := NewSoundChannel(&buf, 3, zerolog.Nop())

	if err := ch.Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "\a\a\a") {
		t.Errorf("output %q does not start with three bells", out)
	}
	if !strings.Contains(out, "ES") || !strings.Contains(out, "4501") {
		t.Errorf("summary line missing alert context: %q", out)
	}
}

func TestSoundChannelCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	ch := NewSoundChannel(&buf, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, testPayload()); err == nil {
		t.Error("Send succeeded with a cancelled context")
	}
	if buf.Len() != 0 {
		t.Error("cancelled Send still wrote output")
	}
}

func TestBroadcastChannelPublishesToBus(t *testing.T) {
	b := bus.New()
	sub, unsub := b.Subscribe(bus.TopicAlerts, 1)
	defer unsub()

	ch := NewBroadcastChannel(b)
	if err := ch.Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-sub:
		payload, ok := msg.(Payload)
		if !ok || payload.EventID != "e1" {
			t.Errorf("received %v, want the alert payload", msg)
		}
	default:
		t.Fatal("alert not published to the bus")
	}
}
