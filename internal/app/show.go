package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent volatility events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show events")
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tVolatility%\tLevel\tDeep\tDelivered\tTriage")

	for _, event := range events {
		deep := "-"
		if event.DeepOutput != nil {
			deep = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			event.TriggeredAt.UTC().Format(time.RFC3339),
			event.Symbol,
			event.Price.String(),
			event.Volatility.Mul(decimal.NewFromInt(100)).StringFixed(2),
			event.Level,
			deep,
			event.Delivered,
			sanitizeInline(firstLine(event.SentinelOutput)),
		)
	}

	writer.Flush()
	return nil
}

func firstLine(v string) string {
	if idx := strings.IndexAny(v, "\r\n"); idx >= 0 {
		return v[:idx]
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
