package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent alert outcomes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alert history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	entries, err := store.ListRecentEntries(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no alert outcomes found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tStatus\tRule\tSymbol\tValue\tThreshold\tCondition\tLatency\tError")

	for _, entry := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.EvaluatedAt.UTC().Format(time.RFC3339),
			entry.Status,
			entry.RuleID,
			entry.Symbol,
			entry.Value.StringFixed(2),
			entry.Threshold.StringFixed(2),
			entry.Condition,
			entry.Latency.Round(time.Microsecond),
			sanitizeInline(entry.Error),
		)
	}
	writer.Flush()

	if !opts.Deliveries {
		return nil
	}

	for _, entry := range entries {
		if entry.EventID == "" {
			continue
		}
		records, err := store.ListDeliveries(ctx, entry.EventID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Fprintf(os.Stdout, "  %s -> %s: %s (attempts %d) %s\n",
				entry.EventID, rec.Channel, rec.Status, rec.Attempts, sanitizeInline(rec.Reason))
		}
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
