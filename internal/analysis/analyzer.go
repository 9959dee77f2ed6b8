package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
	"market-watchdog/internal/watcherr"
)

// Request carries everything an analyzer may draw on. The sentinel tier gets
// the reading and a short sample tail; the deep tier additionally sees prior
// events and a longer price history.
type Request struct {
	Asset         registry.Asset
	Price         decimal.Decimal
	PriorPrice    decimal.Decimal
	Change        decimal.Decimal
	Now           time.Time
	RecentSamples []storage.Sample
	RecentEvents  []storage.Event
	// SentinelOutput is set when the deep tier runs after a sentinel pass.
	SentinelOutput string
}

// Analyzer produces a human-readable analysis for a volatility event.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// Sentinel is the fast, low-cost first-pass tier. Its reply leads with a
// verdict token so the coordinator can decide about the deep tier.
type Sentinel struct {
	client *Client
	model  string
}

// NewSentinel builds the sentinel-tier analyzer.
func NewSentinel(client *Client, model string) *Sentinel {
	return &Sentinel{client: client, model: model}
}

const sentinelSystemPrompt = "You are a market triage assistant for a personal " +
	"portfolio watchdog. Reply in under 80 words. Start your reply with exactly " +
	"one of the tokens CALM, ELEVATED or CRITICAL on its own line, then one short " +
	"paragraph explaining the move."

// Analyze runs the cheap tier over the immediate price move.
func (s *Sentinel) Analyze(ctx context.Context, req Request) (string, error) {
	prompt := fmt.Sprintf(
		"Asset %s (%s) moved %s%% within one polling interval: price %s -> %s. "+
			"Configured alert threshold is %s%%, severity level %s.%s\n"+
			"How concerning is this move?",
		req.Asset.Name, req.Asset.Symbol,
		req.Change.Mul(decimal.NewFromInt(100)).StringFixed(2),
		req.PriorPrice.String(), req.Price.String(),
		req.Asset.Threshold.Mul(decimal.NewFromInt(100)).StringFixed(2),
		req.Asset.Level,
		renderSampleTail(req.RecentSamples, 5),
	)

	out, err := s.client.Complete(ctx, s.model, sentinelSystemPrompt, prompt)
	if err != nil {
		return "", watcherr.New(watcherr.KindAnalysis, err)
	}
	return out, nil
}

// Deep is the slow, expensive tier with broader context. Invoked only when
// the coordinator's policy says the sentinel output warrants it.
type Deep struct {
	client *Client
	model  string
}

// NewDeep builds the deep-tier analyzer.
func NewDeep(client *Client, model string) *Deep {
	return &Deep{client: client, model: model}
}

const deepSystemPrompt = "You are a professional financial analyst writing for " +
	"a single retail investor. Produce a focused research note: likely cause of " +
	"the move (technical, fundamental or sentiment), trend direction and " +
	"strength, short- and mid-term outlook, a clear action suggestion " +
	"(hold/buy/sell/wait), and a risk warning. 200-400 words."

// Analyze runs the expensive tier with history and prior-event context.
func (d *Deep) Analyze(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\n", req.Now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Asset: %s (%s), severity %s\n", req.Asset.Name, req.Asset.Symbol, req.Asset.Level)
	fmt.Fprintf(&b, "Move: %s -> %s (%s%%), threshold %s%%\n",
		req.PriorPrice.String(), req.Price.String(),
		req.Change.Mul(decimal.NewFromInt(100)).StringFixed(2),
		req.Asset.Threshold.Mul(decimal.NewFromInt(100)).StringFixed(2))

	if low, high, ok := priceRange(req.RecentSamples); ok {
		fmt.Fprintf(&b, "24h range: %s - %s\n", low.String(), high.String())
		span := high.Sub(low)
		if span.IsPositive() {
			position := req.Price.Sub(low).Div(span).Mul(decimal.NewFromInt(100))
			fmt.Fprintf(&b, "Current price sits at %s%% of the 24h range\n", position.StringFixed(1))
		}
	}

	if req.SentinelOutput != "" {
		fmt.Fprintf(&b, "\nFirst-pass triage said:\n%s\n", req.SentinelOutput)
	}

	if len(req.RecentEvents) > 0 {
		b.WriteString("\nComparable past alerts for this asset:\n")
		for i, event := range req.RecentEvents {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "  %s volatility %s%%: %s\n",
				event.TriggeredAt.UTC().Format("01-02 15:04"),
				event.Volatility.Mul(decimal.NewFromInt(100)).StringFixed(2),
				truncate(event.SentinelOutput, 80))
		}
	}

	b.WriteString("\nWrite the research note.")

	out, err := d.client.Complete(ctx, d.model, deepSystemPrompt, b.String())
	if err != nil {
		return "", watcherr.New(watcherr.KindAnalysis, err)
	}
	return out, nil
}

func renderSampleTail(samples []storage.Sample, max int) string {
	if len(samples) == 0 {
		return ""
	}
	start := 0
	if len(samples) > max {
		start = len(samples) - max
	}
	var b strings.Builder
	b.WriteString("\nRecent observations:")
	for _, sample := range samples[start:] {
		fmt.Fprintf(&b, "\n  %s %s", sample.ObservedAt.UTC().Format("15:04"), sample.Price.String())
	}
	return b.String()
}

func priceRange(samples []storage.Sample) (low, high decimal.Decimal, ok bool) {
	if len(samples) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	low, high = samples[0].Price, samples[0].Price
	for _, sample := range samples[1:] {
		if sample.Price.LessThan(low) {
			low = sample.Price
		}
		if sample.Price.GreaterThan(high) {
			high = sample.Price
		}
	}
	return low, high, true
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Analyzer = (*Sentinel)(nil)
var _ Analyzer = (*Deep)(nil)
