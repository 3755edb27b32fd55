package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkristofgh/TradeAssist-sub001/internal/app"
)

var (
	simulateSymbol    string
	simulateThreshold float64
	simulateCooldown  time.Duration
	simulateTicks     int
	simulateInterval  time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive the pipeline with a synthetic feed and one threshold rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateThreshold <= 0 {
			return errors.New("--threshold must be greater than zero")
		}

		opts := app.SimulateOptions{
			Symbol:    simulateSymbol,
			Threshold: simulateThreshold,
			Cooldown:  simulateCooldown,
			Ticks:     simulateTicks,
			Interval:  simulateInterval,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "ES", "Instrument symbol to simulate")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "Price threshold for the simulated rule")
	simulateCmd.Flags().DurationVar(&simulateCooldown, "cooldown", 0, "Cooldown between fires")
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 200, "Number of synthetic ticks to emit")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 50*time.Millisecond, "Interval between synthetic ticks")
}
