package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
)

// Export renders alert history as CSV and/or a PNG chart of trigger values
// against thresholds.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := store.ListEntriesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no alert outcomes found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting alert history")

	if opts.CSVPath != "" {
		if err := writeEntriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeEntriesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleEntries(entries []alertlog.Entry, max int) []alertlog.Entry {
	if max <= 0 || len(entries) <= max {
		return entries
	}

	result := make([]alertlog.Entry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeEntriesCSV(path string, entries []alertlog.Entry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"evaluated_at", "status", "rule_id", "symbol", "trigger_value", "threshold", "condition", "latency_us", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		record := []string{
			entry.EvaluatedAt.Format(time.RFC3339),
			string(entry.Status),
			entry.RuleID,
			entry.Symbol,
			entry.Value.String(),
			entry.Threshold.String(),
			entry.Condition,
			strconv.FormatInt(entry.Latency.Microseconds(), 10),
			entry.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeEntriesPNG(path string, entries []alertlog.Entry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fired := make([]alertlog.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == engine.OutcomeFired || entry.Status == engine.OutcomeSuppressed {
			fired = append(fired, entry)
		}
	}
	if len(fired) < 2 {
		return errors.New("not enough fired/suppressed outcomes to chart")
	}

	x := make([]time.Time, len(fired))
	values := make([]float64, len(fired))
	thresholds := make([]float64, len(fired))
	for i, entry := range fired {
		x[i] = entry.EvaluatedAt
		values[i] = entry.Value.InexactFloat64()
		thresholds[i] = entry.Threshold.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Trigger value",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Trigger value",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Threshold",
				XValues: x,
				YValues: thresholds,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
