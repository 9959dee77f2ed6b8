package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-watchdog/internal/watcherr"
)

// Quote is one fresh price observation from a data source.
type Quote struct {
	Symbol     string
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Source     string
	ObservedAt time.Time
}

// Source retrieves the current quote for a symbol.
type Source interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// Sources dispatches fetches to the adapter named in the asset config.
type Sources struct {
	adapters map[string]Source
}

// NewSources builds a dispatcher over named adapters.
func NewSources(adapters map[string]Source) *Sources {
	return &Sources{adapters: adapters}
}

// Fetch resolves the adapter for source and retrieves a quote. Every failure,
// including an unknown source name, is classified as a data-source error.
func (s *Sources) Fetch(ctx context.Context, source, symbol string) (Quote, error) {
	adapter, ok := s.adapters[source]
	if !ok {
		return Quote{}, watcherr.Newf(watcherr.KindDataSource, "unknown data source %q for %s", source, symbol)
	}

	quote, err := adapter.Fetch(ctx, symbol)
	if err != nil {
		return Quote{}, watcherr.New(watcherr.KindDataSource, fmt.Errorf("fetch %s via %s: %w", symbol, source, err))
	}
	if quote.Price.IsZero() || quote.Price.IsNegative() {
		return Quote{}, watcherr.Newf(watcherr.KindDataSource, "source %s returned non-positive price for %s", source, symbol)
	}
	if quote.ObservedAt.IsZero() {
		quote.ObservedAt = time.Now().UTC()
	}
	quote.Source = source
	return quote, nil
}
