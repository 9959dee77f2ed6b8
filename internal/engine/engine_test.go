package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-watchdog/internal/fetcher"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/storage"
	"market-watchdog/internal/watcherr"
)

type memorySampleStore struct {
	samples   []storage.Sample
	latestErr error
	insertErr error
}

func (m *memorySampleStore) InsertSample(ctx context.Context, sample storage.Sample) (storage.Sample, error) {
	if m.insertErr != nil {
		return storage.Sample{}, m.insertErr
	}
	sample.ID = int64(len(m.samples) + 1)
	sample.CreatedAt = time.Now().UTC()
	m.samples = append(m.samples, sample)
	return sample, nil
}

func (m *memorySampleStore) LatestSample(ctx context.Context, symbol string) (*storage.Sample, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	for i := len(m.samples) - 1; i >= 0; i-- {
		if m.samples[i].Symbol == symbol {
			s := m.samples[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memorySampleStore) ListSamplesSince(ctx context.Context, symbol string, since time.Time) ([]storage.Sample, error) {
	var out []storage.Sample
	for _, s := range m.samples {
		if s.Symbol == symbol && !s.ObservedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySampleStore) CountSamples(ctx context.Context) (int64, error) {
	return int64(len(m.samples)), nil
}

var _ storage.SampleStore = (*memorySampleStore)(nil)

func testAsset(threshold string) registry.Asset {
	return registry.Asset{
		Symbol:    "BTC/USDT",
		Name:      "Bitcoin",
		Source:    "binance",
		Threshold: decimal.RequireFromString(threshold),
		Level:     registry.LevelMedium,
		Enabled:   true,
	}
}

func quoteAt(price string, at time.Time) fetcher.Quote {
	return fetcher.Quote{
		Symbol:     "BTC/USDT",
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.NewFromInt(100),
		Source:     "binance",
		ObservedAt: at,
	}
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	store := &memorySampleStore{}
	eng := New(store, zerolog.Nop())

	eval, err := eng.Evaluate(context.Background(), testAsset("0.04"), quoteAt("50000", time.Now()))
	if err != nil {
		t.Fatalf("首个样本不应报错: %v", err)
	}
	if eval.Outcome != OutcomeInsufficientHistory {
		t.Fatalf("首个样本应判定为历史不足, 实际 %s", eval.Outcome)
	}
	if len(store.samples) != 1 {
		t.Fatalf("首个样本也必须持久化, 实际存了 %d 条", len(store.samples))
	}
}

func TestEvaluateZeroPriorPrice(t *testing.T) {
	store := &memorySampleStore{samples: []storage.Sample{{
		Symbol: "BTC/USDT", Price: decimal.Zero, ObservedAt: time.Now().Add(-time.Minute),
	}}}
	eng := New(store, zerolog.Nop())

	eval, err := eng.Evaluate(context.Background(), testAsset("0.04"), quoteAt("50000", time.Now()))
	if err != nil {
		t.Fatalf("零前值价格不应报错: %v", err)
	}
	if eval.Outcome != OutcomeInsufficientHistory {
		t.Fatalf("零前值价格应判定为历史不足, 实际 %s", eval.Outcome)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	store := &memorySampleStore{}
	eng := New(store, zerolog.Nop())
	ctx := context.Background()
	asset := testAsset("0.04")

	if _, err := eng.Evaluate(ctx, asset, quoteAt("50000", time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	eval, err := eng.Evaluate(ctx, asset, quoteAt("50100", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Outcome != OutcomeBelowThreshold {
		t.Fatalf("0.2%% 的波动不应触发 4%% 阈值, 实际 %s", eval.Outcome)
	}
	if len(store.samples) != 2 {
		t.Fatalf("每次评估都应持久化一条样本, 实际 %d", len(store.samples))
	}
}

func TestEvaluateActionable(t *testing.T) {
	store := &memorySampleStore{}
	eng := New(store, zerolog.Nop())
	ctx := context.Background()
	asset := testAsset("0.04")

	if _, err := eng.Evaluate(ctx, asset, quoteAt("50000", time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	eval, err := eng.Evaluate(ctx, asset, quoteAt("52000", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Outcome != OutcomeActionable {
		t.Fatalf("4%% 的波动应触发 4%% 阈值, 实际 %s", eval.Outcome)
	}
	if !eval.Reading.Change.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("波动率计算错误: %s", eval.Reading.Change)
	}
	if !eval.Reading.Magnitude.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("幅度应为变化的绝对值: %s", eval.Reading.Magnitude)
	}
}

func TestEvaluateNegativeMoveUsesMagnitude(t *testing.T) {
	store := &memorySampleStore{}
	eng := New(store, zerolog.Nop())
	ctx := context.Background()
	asset := testAsset("0.04")

	if _, err := eng.Evaluate(ctx, asset, quoteAt("50000", time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	eval, err := eng.Evaluate(ctx, asset, quoteAt("47500", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Outcome != OutcomeActionable {
		t.Fatalf("-5%% 的波动应触发阈值, 实际 %s", eval.Outcome)
	}
	if !eval.Reading.Change.IsNegative() {
		t.Fatal("Change 应保留符号")
	}
}

func TestEvaluateStoreErrorsWrappedAsPersistence(t *testing.T) {
	store := &memorySampleStore{insertErr: errors.New("boom")}
	eng := New(store, zerolog.Nop())

	_, err := eng.Evaluate(context.Background(), testAsset("0.04"), quoteAt("50000", time.Now()))
	if err == nil {
		t.Fatal("写入失败应返回错误")
	}
	if watcherr.KindOf(err) != watcherr.KindPersistence {
		t.Fatalf("存储错误应归类为 persistence, 实际 %s", watcherr.KindOf(err))
	}
}
