package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const tickerPath = "/api/v3/ticker/24hr"

// BinanceOptions parameterise the Binance spot fetcher.
type BinanceOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Binance fetches spot tickers from the Binance REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a Binance fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type tickerResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

// Fetch retrieves the 24hr ticker for a pair. Symbols use the BASE/QUOTE
// notation of the asset file and are flattened for the API (BTC/USDT -> BTCUSDT).
func (b *Binance) Fetch(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.ReplaceAll(symbol, "/", ""))

	endpoint := fmt.Sprintf("%s%s?%s", b.baseURL, tickerPath, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseBinanceError(resp.StatusCode, payload)
	}

	var ticker tickerResponse
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return Quote{}, fmt.Errorf("decode ticker: %w", err)
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("parse last price: %w", err)
	}

	volume := decimal.Zero
	if ticker.Volume != "" {
		if parsed, convErr := decimal.NewFromString(ticker.Volume); convErr == nil {
			volume = parsed
		}
	}

	observed := time.Now().UTC()
	if ticker.CloseTime > 0 {
		observed = time.UnixMilli(ticker.CloseTime).UTC()
	}

	return Quote{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		ObservedAt: observed,
	}, nil
}

type binanceErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseBinanceError(status int, payload []byte) error {
	var apiErr binanceErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}

var _ Source = (*Binance)(nil)
