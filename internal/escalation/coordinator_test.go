package escalation

import (
	"context"
	"errors"
	"testing"
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

type stubAnalyzer struct {
	output string
	err    error
	calls  int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req analysis.Request) (string, error) {
	s.calls++
	return s.output, s.err
}

type stubNotifier struct {
	err   error
	notes []alerting.Notification
}

func (s *stubNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubNotifier) SendReport(ctx context.Context, title, body string) error {
	return s.err
}

type stubEventStore struct {
	insertErr error
	events    []storage.Event
}

func (s *stubEventStore) InsertEvent(ctx context.Context, event storage.Event) (storage.Event, error) {
	if s.insertErr != nil {
		return storage.Event{}, s.insertErr
	}
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return event, nil
}

func (s *stubEventStore) ListEventsBetween(ctx context.Context, from, to time.Time) ([]storage.Event, error) {
	return s.events, nil
}

func (s *stubEventStore) ListRecentEvents(ctx context.Context, limit int) ([]storage.Event, error) {
	return s.events, nil
}

func (s *stubEventStore) LatestEventPerSymbol(ctx context.Context) ([]storage.Event, error) {
	return nil, nil
}

var _ storage.EventStore = (*stubEventStore)(nil)
var _ alerting.Notifier = (*stubNotifier)(nil)

func escalationAsset(level registry.Level) registry.Asset {
	return registry.Asset{
		Symbol:    "BTC/USDT",
		Name:      "Bitcoin",
		Source:    "binance",
		Threshold: decimal.RequireFromString("0.04"),
		Level:     level,
		Enabled:   true,
	}
}

func escalationReading(change string) engine.Reading {
	c := decimal.RequireFromString(change)
	return engine.Reading{
		Change:     c,
		Magnitude:  c.Abs(),
		PriorPrice: decimal.RequireFromString("50000"),
		Price:      decimal.RequireFromString("52000"),
	}
}

func TestEscalateHappyPath(t *testing.T) {
	sentinel := &stubAnalyzer{output: "ELEVATED unusual volume."}
	deep := &stubAnalyzer{output: "Research note."}
	events := &stubEventStore{}
	notifier := &stubNotifier{}
	cd := cooldown.New(30 * time.Minute)

	c := New(sentinel, deep, nil, events, notifier, cd, Options{}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := c.Escalate(context.Background(), escalationAsset(registry.LevelMedium), escalationReading("0.05"), now)

	if result.SentinelErr != nil || result.DeepErr != nil || result.DeliveryErr != nil || result.RecordErr != nil {
		t.Fatalf("完整流程不应有失败: %+v", result)
	}
	if !result.Delivered || !result.Escalated {
		t.Fatalf("应完成投递并进入冷却: %+v", result)
	}
	if result.DeepOutput == nil || *result.DeepOutput != "Research note." {
		t.Fatal("medium 级别遇 ELEVATED 裁决应触发深度分析")
	}
	if len(events.events) != 1 {
		t.Fatalf("应记录一条事件, 实际 %d", len(events.events))
	}
	if !events.events[0].Delivered {
		t.Fatal("事件应标记已投递")
	}
	if !cd.IsSuppressed("BTC/USDT", decimal.RequireFromString("0.05"), now.Add(time.Minute)) {
		t.Fatal("升级后冷却窗口应立即生效")
	}
}

func TestEscalateSentinelFailureStillRecordsEvent(t *testing.T) {
	sentinel := &stubAnalyzer{err: errors.New("api down")}
	deep := &stubAnalyzer{output: "should not run"}
	events := &stubEventStore{}
	notifier := &stubNotifier{}
	cd := cooldown.New(30 * time.Minute)

	c := New(sentinel, deep, nil, events, notifier, cd, Options{}, zerolog.Nop())
	now := time.Now().UTC()

	result := c.Escalate(context.Background(), escalationAsset(registry.LevelHigh), escalationReading("0.05"), now)

	if result.SentinelErr == nil {
		t.Fatal("sentinel 失败应反映在结果中")
	}
	if deep.calls != 0 {
		t.Fatal("sentinel 失败后不应调用深度层")
	}
	if len(events.events) != 1 {
		t.Fatalf("即使分析失败也应记录事件, 实际 %d", len(events.events))
	}
	if result.Escalated {
		t.Fatal("sentinel 失败时不应写入冷却状态")
	}
	if cd.IsSuppressed("BTC/USDT", decimal.RequireFromString("0.05"), now.Add(time.Minute)) {
		t.Fatal("sentinel 失败后下一次机会不应被抑制")
	}
}

func TestEscalateDeliveryFailureRecordsUndelivered(t *testing.T) {
	sentinel := &stubAnalyzer{output: "CALM beta move."}
	events := &stubEventStore{}
	notifier := &stubNotifier{err: errors.New("telegram down")}
	cd := cooldown.New(30 * time.Minute)

	c := New(sentinel, nil, nil, events, notifier, cd, Options{}, zerolog.Nop())

	result := c.Escalate(context.Background(), escalationAsset(registry.LevelMedium), escalationReading("0.05"), time.Now().UTC())

	if result.DeliveryErr == nil {
		t.Fatal("投递失败应反映在结果中")
	}
	if len(events.events) != 1 || events.events[0].Delivered {
		t.Fatal("投递失败的事件仍应记录且标记未投递")
	}
	if !result.Escalated {
		t.Fatal("投递失败不影响冷却写入")
	}
}

func TestDeepTierPolicy(t *testing.T) {
	cases := []struct {
		name      string
		level     registry.Level
		verdict   string
		magnitude string
		want      bool
	}{
		{"high always", registry.LevelHigh, "CALM quiet.", "0.04", true},
		{"medium calm skips", registry.LevelMedium, "CALM quiet.", "0.04", false},
		{"medium elevated runs", registry.LevelMedium, "ELEVATED watch.", "0.04", true},
		{"medium critical runs", registry.LevelMedium, "CRITICAL cascade.", "0.04", true},
		{"low elevated skips", registry.LevelLow, "ELEVATED watch.", "0.05", false},
		{"low critical runs", registry.LevelLow, "CRITICAL cascade.", "0.05", true},
		{"low double threshold runs", registry.LevelLow, "CALM quiet.", "0.08", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sentinel := &stubAnalyzer{output: tc.verdict}
			deep := &stubAnalyzer{output: "Research note."}
			c := New(sentinel, deep, nil, &stubEventStore{}, nil, nil, Options{}, zerolog.Nop())

			result := c.Escalate(context.Background(), escalationAsset(tc.level), escalationReading(tc.magnitude), time.Now().UTC())

			ran := result.DeepOutput != nil
			if ran != tc.want {
				t.Fatalf("深度层触发策略错误: got %v, want %v", ran, tc.want)
			}
		})
	}
}

func TestEscalateWithoutNotifierRecordsUndelivered(t *testing.T) {
	sentinel := &stubAnalyzer{output: "CALM quiet."}
	events := &stubEventStore{}

	c := New(sentinel, nil, nil, events, nil, nil, Options{}, zerolog.Nop())
	result := c.Escalate(context.Background(), escalationAsset(registry.LevelMedium), escalationReading("0.05"), time.Now().UTC())

	if result.Delivered {
		t.Fatal("无通知渠道时不应标记已投递")
	}
	if len(events.events) != 1 || events.events[0].Delivered {
		t.Fatal("事件仍应记录且标记未投递")
	}
}
