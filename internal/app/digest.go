package app

import (
	"context"
	"errors"
	"time"

	"market-watchdog/internal/digest"
)

// RunDigest builds and dispatches a digest once, outside the scheduler.
func (a *App) RunDigest(ctx context.Context) error {
	reg, err := a.loadRegistry()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required for digest generation")
	}
	if closeStore != nil {
		defer closeStore()
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting disabled; digest will only be logged")
	}

	client, _, _ := a.newAnalysis()
	var narrator digest.Narrator
	model := ""
	if client != nil {
		narrator = client
		model = a.Config.AI.SentinelModel
	}

	generator := digest.New(reg, store, store, notifier, narrator, digest.Options{
		Window:        a.Config.Digest.Window,
		NarratorModel: model,
	}, a.Logger)

	return generator.Run(ctx, time.Now().UTC())
}
