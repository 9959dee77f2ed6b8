package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-watchdog/internal/config"
	"market-watchdog/internal/cooldown"
	"market-watchdog/internal/engine"
	"market-watchdog/internal/escalation"
	"market-watchdog/internal/fetcher"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	samples []storage.Sample
	events  []storage.Event
}

func (m *memoryStore) InsertSample(ctx context.Context, sample storage.Sample) (storage.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample.ID = int64(len(m.samples) + 1)
	m.samples = append(m.samples, sample)
	return sample, nil
}

func (m *memoryStore) LatestSample(ctx context.Context, symbol string) (*storage.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.samples) - 1; i >= 0; i-- {
		if m.samples[i].Symbol == symbol {
			s := m.samples[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ListSamplesSince(ctx context.Context, symbol string, since time.Time) ([]storage.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Sample
	for _, s := range m.samples {
		if s.Symbol == symbol && !s.ObservedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) CountSamples(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.samples)), nil
}

func (m *memoryStore) InsertEvent(ctx context.Context, event storage.Event) (storage.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event, nil
}

func (m *memoryStore) ListEventsBetween(ctx context.Context, from, to time.Time) ([]storage.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Event(nil), m.events...), nil
}

func (m *memoryStore) ListRecentEvents(ctx context.Context, limit int) ([]storage.Event, error) {
	return m.ListEventsBetween(ctx, time.Time{}, time.Now())
}

func (m *memoryStore) LatestEventPerSymbol(ctx context.Context) ([]storage.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]storage.Event)
	for _, e := range m.events {
		latest[e.Symbol] = e
	}
	out := make([]storage.Event, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	return out, nil
}

var _ storage.SampleStore = (*memoryStore)(nil)
var _ storage.EventStore = (*memoryStore)(nil)

func loadTestRegistry(t *testing.T, content string) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func binanceServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price, ok := prices[symbol]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": symbol, "lastPrice": price, "volume": "1"})
	}))
}

func testService(t *testing.T, reg *registry.Registry, sources *fetcher.Sources, store *memoryStore) *Service {
	t.Helper()
	cfg := &config.Config{}
	cd := cooldown.New(30 * time.Minute)
	coordinator := escalation.New(nil, nil, store, store, nil, cd, escalation.Options{}, zerolog.Nop())

	return New(cfg, Deps{
		Registry:    reg,
		Sources:     sources,
		Engine:      engine.New(store, zerolog.Nop()),
		Cooldown:    cd,
		Coordinator: coordinator,
		Events:      store,
	}, zerolog.Nop())
}

func TestProcessTickFailingAssetDoesNotBlockOthers(t *testing.T) {
	srv := binanceServer(t, map[string]string{"BTCUSDT": "50000"})
	defer srv.Close()

	reg := loadTestRegistry(t, `[
		{"symbol": "BTC/USDT", "source": "binance", "threshold": 0.04},
		{"symbol": "DEAD/USDT", "source": "binance", "threshold": 0.04}
	]`)
	sources := fetcher.NewSources(map[string]fetcher.Source{
		"binance": fetcher.NewBinance(fetcher.BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop()),
	})
	store := &memoryStore{}

	svc := testService(t, reg, sources, store)
	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("采样失败不应使整个周期报错: %v", err)
	}

	if len(store.samples) != 1 || store.samples[0].Symbol != "BTC/USDT" {
		t.Fatalf("失败的资产不应阻塞其他资产的采样: %+v", store.samples)
	}
}

func TestProcessTickNothingPersistedOnFetchFailure(t *testing.T) {
	srv := binanceServer(t, map[string]string{})
	defer srv.Close()

	reg := loadTestRegistry(t, `[{"symbol": "BTC/USDT", "source": "binance", "threshold": 0.04}]`)
	sources := fetcher.NewSources(map[string]fetcher.Source{
		"binance": fetcher.NewBinance(fetcher.BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop()),
	})
	store := &memoryStore{}

	svc := testService(t, reg, sources, store)
	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	if len(store.samples) != 0 {
		t.Fatalf("采样失败时不应持久化任何样本: %+v", store.samples)
	}
}

func TestProcessTickActionableBreachRecordsEvent(t *testing.T) {
	prices := map[string]string{"BTCUSDT": "50000"}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		price := prices["BTCUSDT"]
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "BTCUSDT", "lastPrice": price, "volume": "1"})
	}))
	defer srv.Close()

	reg := loadTestRegistry(t, `[{"symbol": "BTC/USDT", "source": "binance", "threshold": 0.04}]`)
	sources := fetcher.NewSources(map[string]fetcher.Source{
		"binance": fetcher.NewBinance(fetcher.BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop()),
	})
	store := &memoryStore{}
	svc := testService(t, reg, sources, store)
	ctx := context.Background()

	if err := svc.ProcessTick(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	prices["BTCUSDT"] = "52500"
	mu.Unlock()
	if err := svc.ProcessTick(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	if len(store.samples) != 2 {
		t.Fatalf("两个周期应各持久化一条样本: %d", len(store.samples))
	}
	if len(store.events) != 1 {
		t.Fatalf("5%% 的波动应记录一条事件: %d", len(store.events))
	}
	if !store.events[0].Volatility.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("事件波动率错误: %s", store.events[0].Volatility)
	}
}

func TestProcessTickCooldownSuppressesRepeat(t *testing.T) {
	step := 0
	series := []string{"50000", "52500", "55000"}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		price := series[step]
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "BTCUSDT", "lastPrice": price, "volume": "1"})
	}))
	defer srv.Close()

	reg := loadTestRegistry(t, `[{"symbol": "BTC/USDT", "source": "binance", "threshold": 0.04}]`)
	sources := fetcher.NewSources(map[string]fetcher.Source{
		"binance": fetcher.NewBinance(fetcher.BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop()),
	})
	store := &memoryStore{}
	svc := testService(t, reg, sources, store)
	ctx := context.Background()

	for i := range series {
		mu.Lock()
		step = i
		mu.Unlock()
		if err := svc.ProcessTick(ctx, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	// 52500 breaches and escalates; 55000 is another ~4.8% move inside the
	// cooldown window and below the breakthrough bar, so it stays suppressed.
	if len(store.events) != 1 {
		t.Fatalf("冷却窗口内的重复波动不应再次升级: %d", len(store.events))
	}
	if len(store.samples) != 3 {
		t.Fatalf("被抑制的波动样本仍应持久化: %d", len(store.samples))
	}
}

func TestSeedCooldownsFromEvents(t *testing.T) {
	reg := loadTestRegistry(t, `[{"symbol": "BTC/USDT", "source": "binance", "threshold": 0.04}]`)
	store := &memoryStore{}
	now := time.Now().UTC()
	_, _ = store.InsertEvent(context.Background(), storage.Event{
		Symbol:      "BTC/USDT",
		Volatility:  decimal.RequireFromString("0.05"),
		TriggeredAt: now.Add(-5 * time.Minute),
	})

	cd := cooldown.New(30 * time.Minute)
	cfg := &config.Config{}
	cfg.Monitor.CooldownPersist = true
	svc := New(cfg, Deps{
		Registry: reg,
		Cooldown: cd,
		Events:   store,
	}, zerolog.Nop())

	svc.seedCooldowns(context.Background())

	if !cd.IsSuppressed("BTC/USDT", decimal.RequireFromString("0.05"), now) {
		t.Fatal("重启后应从事件历史恢复冷却状态")
	}
}
