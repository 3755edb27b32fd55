package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// SoundChannel rings the terminal bell as the audible cue. It exists for the
// single-operator console deployment; anything fancier belongs behind the
// webhook channel.
type SoundChannel struct {
	out    io.Writer
	repeat int
	logger zerolog.Logger
}

// NewSoundChannel constructs the audible channel. out defaults to stdout.
func NewSoundChannel(out io.Writer, repeat int, logger zerolog.Logger) *SoundChannel {
	if out == nil {
		out = os.Stdout
	}
	if repeat <= 0 {
		repeat = 1
	}
	return &SoundChannel{
		out:    out,
		repeat: repeat,
		logger: logger.With().Str("component", "channel_sound").Logger(),
	}
}

// Name identifies the channel in delivery records.
func (c *SoundChannel) Name() string { return "sound" }

// Send writes the bell character and a one-line summary.
func (c *SoundChannel) Send(ctx context.Context, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bells := strings.Repeat("\a", c.repeat)
	_, err := fmt.Fprintf(c.out, "%s%s %s (value %s, threshold %s)\n",
		bells, payload.Symbol, payload.Condition, payload.Value.String(), payload.Threshold.String())
	if err != nil {
		return fmt.Errorf("write audible cue: %w", err)
	}
	return nil
}

var _ Channel = (*SoundChannel)(nil)
