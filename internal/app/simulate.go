package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-watchdog/internal/engine"
	"market-watchdog/internal/escalation"
)

// SimulateAlert 通过给定的当前/前值价格模拟一次完整的告警升级流程。
// No samples or events are persisted; the analysis tiers and the notifier
// run for real so the rendered message can be inspected end to end.
func (a *App) SimulateAlert(ctx context.Context, symbol string, price, priorPrice decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	reg, err := a.loadRegistry()
	if err != nil {
		return err
	}
	asset, ok := reg.Lookup(symbol)
	if !ok {
		return fmt.Errorf("symbol %q not found in asset registry", symbol)
	}

	if priorPrice.IsZero() {
		return errors.New("prior price must be non-zero")
	}
	change := price.Sub(priorPrice).Div(priorPrice)
	reading := engine.Reading{
		Price:      price,
		PriorPrice: priorPrice,
		Change:     change,
		Magnitude:  change.Abs(),
	}

	_, sentinel, deep := a.newAnalysis()

	coordinator := escalation.New(sentinel, deep, nil, nil, notifier, nil, escalation.Options{
		Channels: a.Config.Alerting.Channels,
	}, a.Logger)

	result := coordinator.Escalate(ctx, asset, reading, time.Now().UTC())
	if result.SentinelErr != nil {
		a.Logger.Warn().Err(result.SentinelErr).Msg("sentinel tier failed during simulation")
	}
	if result.DeliveryErr != nil {
		return result.DeliveryErr
	}

	a.Logger.Info().
		Str("symbol", asset.Symbol).
		Str("change", change.String()).
		Bool("delivered", result.Delivered).
		Msg("simulated alert dispatched")
	return nil
}
