package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-watchdog/internal/alerting"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
)

// AssetSummary aggregates one asset's prior-window activity.
type AssetSummary struct {
	Symbol        string
	Name          string
	Level         registry.Level
	SampleCount   int
	EventCount    int
	MaxVolatility decimal.Decimal
	LastPrice     decimal.Decimal
	FirstPrice    decimal.Decimal
}

// Report is the digest handed to the notifier.
type Report struct {
	AsOf        time.Time
	Window      time.Duration
	Assets      []AssetSummary
	TotalEvents int
	Narrative   string
}

// Narrator produces an optional model-written summary paragraph. The cheap
// analysis tier satisfies this.
type Narrator interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// Options tune digest generation.
type Options struct {
	Window        time.Duration
	NarratorModel string
}

// Generator builds and dispatches the daily digest. It runs off the polling
// path; its failures never touch live monitoring.
type Generator struct {
	reg      *registry.Registry
	samples  storage.SampleStore
	events   storage.EventStore
	notifier alerting.Notifier
	narrator Narrator
	opts     Options
	logger   zerolog.Logger
}

// New constructs a digest generator. narrator may be nil.
func New(reg *registry.Registry, samples storage.SampleStore, events storage.EventStore, notifier alerting.Notifier, narrator Narrator, opts Options, logger zerolog.Logger) *Generator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Generator{
		reg:      reg,
		samples:  samples,
		events:   events,
		notifier: notifier,
		narrator: narrator,
		opts:     opts,
		logger:   logger.With().Str("component", "digest").Logger(),
	}
}

// Build summarises the window ending at asOf. Empty history yields an empty
// but valid report, never an error that could be mistaken for a failure.
func (g *Generator) Build(ctx context.Context, asOf time.Time) (Report, error) {
	from := asOf.Add(-g.opts.Window)

	events, err := g.events.ListEventsBetween(ctx, from, asOf)
	if err != nil {
		return Report{}, fmt.Errorf("load events for digest: %w", err)
	}

	bySymbol := make(map[string][]storage.Event)
	for _, event := range events {
		bySymbol[event.Symbol] = append(bySymbol[event.Symbol], event)
	}

	report := Report{AsOf: asOf, Window: g.opts.Window, TotalEvents: len(events)}

	for _, asset := range g.reg.Enabled() {
		summary := AssetSummary{Symbol: asset.Symbol, Name: asset.Name, Level: asset.Level}

		samples, err := g.samples.ListSamplesSince(ctx, asset.Symbol, from)
		if err != nil {
			g.logger.Warn().Err(err).Str("symbol", asset.Symbol).Msg("failed to load samples for digest")
		} else if len(samples) > 0 {
			summary.SampleCount = len(samples)
			summary.FirstPrice = samples[0].Price
			summary.LastPrice = samples[len(samples)-1].Price
		}

		for _, event := range bySymbol[asset.Symbol] {
			summary.EventCount++
			if event.Volatility.GreaterThan(summary.MaxVolatility) {
				summary.MaxVolatility = event.Volatility
			}
		}

		report.Assets = append(report.Assets, summary)
	}

	if g.narrator != nil && g.opts.NarratorModel != "" {
		report.Narrative = g.narrate(ctx, report)
	}

	return report, nil
}

// Dispatch sends a built report through the shared notifier.
func (g *Generator) Dispatch(ctx context.Context, report Report) error {
	if g.notifier == nil {
		return fmt.Errorf("no notifier configured for digest")
	}
	title := fmt.Sprintf("📋 Daily market digest — %s", report.AsOf.Format("2006-01-02"))
	if err := g.notifier.SendReport(ctx, title, renderReport(report)); err != nil {
		return err
	}
	g.logger.Info().Time("as_of", report.AsOf).Int("events", report.TotalEvents).Msg("digest dispatched")
	return nil
}

// Run builds and dispatches in one step, for the scheduled path and the CLI.
func (g *Generator) Run(ctx context.Context, asOf time.Time) error {
	report, err := g.Build(ctx, asOf)
	if err != nil {
		return err
	}
	return g.Dispatch(ctx, report)
}

func (g *Generator) narrate(ctx context.Context, report Report) string {
	const system = "You summarise a retail investor's market watchlist. " +
		"Write 3-5 sentences: overall picture, anything notable, tomorrow's watch points."

	var b strings.Builder
	fmt.Fprintf(&b, "Watchlist activity over the last %s:\n", report.Window)
	for _, summary := range report.Assets {
		line := fmt.Sprintf("%s: %d alerts", summary.Symbol, summary.EventCount)
		if summary.SampleCount > 0 && !summary.FirstPrice.IsZero() {
			change := summary.LastPrice.Sub(summary.FirstPrice).Div(summary.FirstPrice).Mul(decimal.NewFromInt(100))
			line += fmt.Sprintf(", price %s (%s%%)", summary.LastPrice.String(), change.StringFixed(2))
		}
		b.WriteString(line + "\n")
	}

	out, err := g.narrator.Complete(ctx, g.opts.NarratorModel, system, b.String())
	if err != nil {
		g.logger.Warn().Err(err).Msg("digest narrative unavailable")
		return ""
	}
	return out
}

func renderReport(report Report) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Window: last %s (as of %s UTC)\n", report.Window, report.AsOf.UTC().Format("15:04")))
	builder.WriteString(fmt.Sprintf("Alerts: %d\n\n", report.TotalEvents))

	for _, summary := range report.Assets {
		builder.WriteString(fmt.Sprintf("%s %s (%s)\n", levelDot(summary.Level), summary.Name, summary.Symbol))
		if summary.SampleCount == 0 {
			builder.WriteString("  no observations\n")
			continue
		}
		line := fmt.Sprintf("  last %s", summary.LastPrice.String())
		if !summary.FirstPrice.IsZero() {
			change := summary.LastPrice.Sub(summary.FirstPrice).Div(summary.FirstPrice).Mul(decimal.NewFromInt(100))
			line += fmt.Sprintf(" (%s%% over window)", change.StringFixed(2))
		}
		builder.WriteString(line + "\n")
		if summary.EventCount > 0 {
			builder.WriteString(fmt.Sprintf("  %d alerts, max volatility %s%%\n",
				summary.EventCount,
				summary.MaxVolatility.Mul(decimal.NewFromInt(100)).StringFixed(2)))
		}
	}

	if report.Narrative != "" {
		builder.WriteString("\n🤖 ")
		builder.WriteString(report.Narrative)
		builder.WriteString("\n")
	}

	return builder.String()
}

func levelDot(level registry.Level) string {
	switch level {
	case registry.LevelHigh:
		return "🔴"
	case registry.LevelMedium:
		return "🟡"
	}
	return "🟢"
}
