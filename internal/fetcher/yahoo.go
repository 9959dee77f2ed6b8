package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const chartPath = "/v8/finance/chart/"

// YahooOptions parameterise the Yahoo Finance fetcher.
type YahooOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Yahoo fetches equities, indices, and commodities via the Yahoo chart API.
// It covers the symbols Binance cannot serve (GC=F, ^GSPC, and the like).
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo Finance fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				RegularMarketVolume float64 `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch retrieves the regular-market quote for a symbol.
func (y *Yahoo) Fetch(ctx context.Context, symbol string) (Quote, error) {
	endpoint := y.baseURL + chartPath + url.PathEscape(symbol) + "?range=1d&interval=1m"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "watchdog/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("yahoo api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var chart chartResponse
	if err := json.Unmarshal(payload, &chart); err != nil {
		return Quote{}, fmt.Errorf("decode chart: %w", err)
	}

	if chart.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo api error: %s (%s)", chart.Chart.Error.Description, chart.Chart.Error.Code)
	}
	if len(chart.Chart.Result) == 0 {
		return Quote{}, errors.New("yahoo returned no result for symbol")
	}

	meta := chart.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return Quote{}, errors.New("yahoo returned zero market price")
	}

	observed := time.Now().UTC()
	if meta.RegularMarketTime > 0 {
		observed = time.Unix(meta.RegularMarketTime, 0).UTC()
	}

	return Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(meta.RegularMarketPrice),
		Volume:     decimal.NewFromFloat(meta.RegularMarketVolume),
		ObservedAt: observed,
	}, nil
}

var _ Source = (*Yahoo)(nil)
