package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-watchdog/internal/alerting"
	"market-watchdog/internal/analysis"
	"market-watchdog/internal/cooldown"
	"market-watchdog/internal/engine"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
)

// Result describes what each escalation step achieved. Escalate never lets a
// collaborator failure propagate past its boundary; callers inspect the
// result instead.
type Result struct {
	SentinelOutput string
	DeepOutput     *string
	Verdict        analysis.Verdict
	Delivered      bool
	Escalated      bool

	SentinelErr error
	DeepErr     error
	DeliveryErr error
	RecordErr   error

	Event *storage.Event
}

// Options tune coordinator policy.
type Options struct {
	Channels      []string
	HistoryWindow time.Duration
}

// Coordinator drives the two-tier analysis and notification for one
// actionable, non-suppressed volatility breach.
type Coordinator struct {
	sentinel analysis.Analyzer
	deep     analysis.Analyzer
	samples  storage.SampleStore
	events   storage.EventStore
	notifier alerting.Notifier
	cooldown *cooldown.Scheduler
	opts     Options
	logger   zerolog.Logger
}

// New constructs an escalation coordinator.
func New(sentinel, deep analysis.Analyzer, samples storage.SampleStore, events storage.EventStore, notifier alerting.Notifier, cd *cooldown.Scheduler, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 24 * time.Hour
	}
	return &Coordinator{
		sentinel: sentinel,
		deep:     deep,
		samples:  samples,
		events:   events,
		notifier: notifier,
		cooldown: cd,
		opts:     opts,
		logger:   logger.With().Str("component", "escalation").Logger(),
	}
}

// Escalate runs sentinel analysis, optionally the deep tier, dispatches the
// notification, and records the event. The event is written even when
// analysis or delivery partially failed; partial results still matter for the
// audit trail. The cooldown is stamped only when the sentinel tier succeeded,
// so a total analysis outage cannot silence the next real opportunity.
func (c *Coordinator) Escalate(ctx context.Context, asset registry.Asset, reading engine.Reading, now time.Time) Result {
	result := Result{}

	req := analysis.Request{
		Asset:      asset,
		Price:      reading.Price,
		PriorPrice: reading.PriorPrice,
		Change:     reading.Change,
		Now:        now,
	}
	req.RecentSamples = c.loadSamples(ctx, asset.Symbol, now)

	if c.sentinel != nil {
		output, err := c.sentinel.Analyze(ctx, req)
		if err != nil {
			result.SentinelErr = err
			c.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("sentinel analysis failed")
		} else {
			result.SentinelOutput = output
			result.Verdict = analysis.ParseVerdict(output)
		}
	}

	if result.SentinelErr == nil && c.deep != nil &&
		wantsDeep(asset.Level, result.Verdict, reading.Magnitude, asset.Threshold) {
		req.SentinelOutput = result.SentinelOutput
		req.RecentEvents = c.loadEvents(ctx, asset.Symbol, now)

		output, err := c.deep.Analyze(ctx, req)
		if err != nil {
			result.DeepErr = err
			c.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("deep analysis failed")
		} else {
			result.DeepOutput = &output
		}
	}

	if c.notifier != nil {
		note := alerting.Notification{
			Symbol:      asset.Symbol,
			Name:        asset.Name,
			Price:       reading.Price,
			PriorPrice:  reading.PriorPrice,
			Change:      reading.Change,
			Threshold:   asset.Threshold,
			Level:       asset.Level,
			Analysis:    result.SentinelOutput,
			TriggeredAt: now,
			Channels:    c.opts.Channels,
		}
		if result.DeepOutput != nil {
			note.DeepAnalysis = *result.DeepOutput
		}
		if err := c.notifier.Notify(ctx, note); err != nil {
			result.DeliveryErr = err
			c.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("failed to dispatch alert")
		} else {
			result.Delivered = true
		}
	}

	if c.events != nil {
		event := storage.Event{
			Symbol:         asset.Symbol,
			Price:          reading.Price,
			Volatility:     reading.Magnitude,
			Level:          string(asset.Level),
			SentinelOutput: result.SentinelOutput,
			DeepOutput:     result.DeepOutput,
			Delivered:      result.Delivered,
			TriggeredAt:    now,
		}
		recorded, err := c.events.InsertEvent(ctx, event)
		if err != nil {
			result.RecordErr = err
			c.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("failed to record event")
		} else {
			result.Event = &recorded
		}
	}

	if result.SentinelErr == nil && c.cooldown != nil {
		c.cooldown.MarkEscalated(asset.Symbol, reading.Magnitude, now)
		result.Escalated = true
	}

	return result
}

// wantsDeep decides whether the expensive tier runs. High-severity assets
// always get it; medium needs at least an elevated sentinel verdict; low
// needs a critical verdict or a move at double the asset's threshold.
func wantsDeep(level registry.Level, verdict analysis.Verdict, magnitude, threshold decimal.Decimal) bool {
	switch level {
	case registry.LevelHigh:
		return true
	case registry.LevelMedium:
		return verdict >= analysis.VerdictElevated
	default:
		if verdict >= analysis.VerdictCritical {
			return true
		}
		return magnitude.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(2)))
	}
}

func (c *Coordinator) loadSamples(ctx context.Context, symbol string, now time.Time) []storage.Sample {
	if c.samples == nil {
		return nil
	}
	samples, err := c.samples.ListSamplesSince(ctx, symbol, now.Add(-c.opts.HistoryWindow))
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to load sample history for analysis")
		return nil
	}
	return samples
}

func (c *Coordinator) loadEvents(ctx context.Context, symbol string, now time.Time) []storage.Event {
	if c.events == nil {
		return nil
	}
	// Deep tier looks back 30 days for comparable alerts on this asset.
	events, err := c.events.ListEventsBetween(ctx, now.Add(-30*24*time.Hour), now)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to load event history for analysis")
		return nil
	}
	filtered := events[:0]
	for _, event := range events {
		if event.Symbol == symbol {
			filtered = append(filtered, event)
		}
	}
	// Newest first for prompt rendering.
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	return filtered
}
