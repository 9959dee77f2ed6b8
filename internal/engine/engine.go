package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-watchdog/internal/fetcher"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
	"market-watchdog/internal/watcherr"
)

// Outcome classifies one evaluation of a fresh sample.
type Outcome int

const (
	// OutcomeInsufficientHistory means no usable prior sample exists yet.
	OutcomeInsufficientHistory Outcome = iota
	// OutcomeBelowThreshold means the move stayed inside the asset's threshold.
	OutcomeBelowThreshold
	// OutcomeActionable means the move breached the threshold. Whether it
	// escalates is still up to the cooldown gate.
	OutcomeActionable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInsufficientHistory:
		return "insufficient_history"
	case OutcomeBelowThreshold:
		return "below_threshold"
	case OutcomeActionable:
		return "actionable"
	}
	return "unknown"
}

// Reading is the volatility derived from two consecutive samples. Change keeps
// its sign for downstream formatting; Magnitude is what thresholds compare to.
type Reading struct {
	Change     decimal.Decimal
	Magnitude  decimal.Decimal
	PriorPrice decimal.Decimal
	Price      decimal.Decimal
}

// Evaluation is the result of feeding one sample through the engine.
type Evaluation struct {
	Outcome Outcome
	Reading Reading
	Sample  storage.Sample
}

// Engine computes volatility readings against stored history.
type Engine struct {
	store  storage.SampleStore
	logger zerolog.Logger
}

// New constructs a volatility engine over a sample store.
func New(store storage.SampleStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Evaluate persists the fresh quote and compares it against the asset's most
// recent prior sample. The quote is persisted whether or not it triggers
// anything; history reflects every accepted observation. A missing prior
// sample or a zero prior price yields insufficient history, never an error.
func (e *Engine) Evaluate(ctx context.Context, asset registry.Asset, quote fetcher.Quote) (Evaluation, error) {
	prior, err := e.store.LatestSample(ctx, asset.Symbol)
	if err != nil {
		return Evaluation{}, watcherr.New(watcherr.KindPersistence, err)
	}

	sample := storage.Sample{
		Symbol:     asset.Symbol,
		Price:      quote.Price,
		Volume:     quote.Volume,
		Source:     quote.Source,
		ObservedAt: quote.ObservedAt,
	}
	persisted, err := e.store.InsertSample(ctx, sample)
	if err != nil {
		return Evaluation{}, watcherr.New(watcherr.KindPersistence, err)
	}

	if prior == nil || prior.Price.IsZero() {
		e.logger.Debug().Str("symbol", asset.Symbol).Msg("insufficient history for volatility reading")
		return Evaluation{Outcome: OutcomeInsufficientHistory, Sample: persisted}, nil
	}

	change := quote.Price.Sub(prior.Price).Div(prior.Price)
	reading := Reading{
		Change:     change,
		Magnitude:  change.Abs(),
		PriorPrice: prior.Price,
		Price:      quote.Price,
	}

	evaluation := Evaluation{Reading: reading, Sample: persisted}
	if reading.Magnitude.LessThan(asset.Threshold) {
		evaluation.Outcome = OutcomeBelowThreshold
		return evaluation, nil
	}

	evaluation.Outcome = OutcomeActionable
	e.logger.Info().
		Str("symbol", asset.Symbol).
		Str("change", change.String()).
		Str("threshold", asset.Threshold.String()).
		Msg("volatility threshold breached")
	return evaluation, nil
}
