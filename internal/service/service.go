package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-watchdog/internal/config"
	"market-watchdog/internal/cooldown"
	"market-watchdog/internal/digest"
	"market-watchdog/internal/engine"
	"market-watchdog/internal/escalation"
	"market-watchdog/internal/fetcher"
	"market-watchdog/internal/registry"
	"market-watchdog/internal/scheduler"
	"market-watchdog/internal/storage"
	"market-watchdog/internal/watcherr"
)

// Service orchestrates sampling, evaluation, cooldown gating, and escalation.
type Service struct {
	scheduler   *scheduler.Scheduler
	reg         *registry.Registry
	sources     *fetcher.Sources
	engine      *engine.Engine
	cooldown    *cooldown.Scheduler
	coordinator *escalation.Coordinator
	digester    *digest.Generator
	events      storage.EventStore
	logger      zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64

	cooldownPersist bool

	digestAt   time.Duration
	digestOn   bool
	digestMux  sync.Mutex
	lastDigest time.Time
}

// Deps bundles the collaborators the service coordinates.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Registry    *registry.Registry
	Sources     *fetcher.Sources
	Engine      *engine.Engine
	Cooldown    *cooldown.Scheduler
	Coordinator *escalation.Coordinator
	Digester    *digest.Generator
	Events      storage.EventStore
	Locker      storage.AdvisoryLocker
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	svc := &Service{
		scheduler:       deps.Scheduler,
		reg:             deps.Registry,
		sources:         deps.Sources,
		engine:          deps.Engine,
		cooldown:        deps.Cooldown,
		coordinator:     deps.Coordinator,
		digester:        deps.Digester,
		events:          deps.Events,
		logger:          logger.With().Str("component", "service").Logger(),
		locker:          deps.Locker,
		lockKey:         cfg.Scheduler.AdvisoryLockKey,
		cooldownPersist: cfg.Monitor.CooldownPersist,
	}

	if cfg.Digest.Enabled && deps.Digester != nil {
		if at, err := config.ParseClock(cfg.Digest.At); err == nil {
			svc.digestAt = at
			svc.digestOn = true
		}
	}

	return svc
}

// Run seeds cooldown state if configured and begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	if s.cooldownPersist {
		s.seedCooldowns(ctx)
	}

	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个轮询周期：并发采样全部启用的资产，再检查每日摘要。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	assets := s.reg.Enabled()

	// One goroutine per asset; a slow or failing source must not stall the
	// others. Each goroutine owns its asset's full sample->escalate path, so
	// the only cross-asset state is the store's append-only writes.
	var wg sync.WaitGroup
	for _, asset := range assets {
		wg.Add(1)
		go func(asset registry.Asset) {
			defer wg.Done()
			s.processAsset(ctx, asset, tick)
		}(asset)
	}
	wg.Wait()

	s.maybeDigest(ctx, tick)
	return nil
}

// processAsset runs one asset's tick. Failures are logged and contained; no
// error escapes to abort sibling assets.
func (s *Service) processAsset(ctx context.Context, asset registry.Asset, tick time.Time) {
	quote, err := s.sources.Fetch(ctx, asset.Source, asset.Symbol)
	if err != nil {
		// Next tick is the retry; nothing is persisted for a failed fetch.
		s.logger.Warn().Err(err).Str("symbol", asset.Symbol).Msg("sample fetch failed, skipping asset for this tick")
		return
	}

	evaluation, err := s.engine.Evaluate(ctx, asset, quote)
	if err != nil {
		if watcherr.Is(err, watcherr.KindPersistence) {
			s.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("persistence failed, abandoning asset for this tick")
		} else {
			s.logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("evaluation failed")
		}
		return
	}

	switch evaluation.Outcome {
	case engine.OutcomeInsufficientHistory, engine.OutcomeBelowThreshold:
		return
	case engine.OutcomeActionable:
	}

	now := time.Now().UTC()
	if s.cooldown != nil && s.cooldown.IsSuppressed(asset.Symbol, evaluation.Reading.Magnitude, now) {
		s.logger.Info().Str("symbol", asset.Symbol).
			Str("change", evaluation.Reading.Change.String()).
			Msg("breach suppressed by cooldown")
		return
	}

	result := s.coordinator.Escalate(ctx, asset, evaluation.Reading, now)
	s.logger.Info().Str("symbol", asset.Symbol).
		Str("verdict", result.Verdict.String()).
		Bool("delivered", result.Delivered).
		Bool("deep", result.DeepOutput != nil).
		Bool("escalated", result.Escalated).
		Msg("escalation completed")
}

// maybeDigest dispatches the daily digest once per calendar day after the
// configured wall-clock time. Digest failures never affect monitoring.
func (s *Service) maybeDigest(ctx context.Context, tick time.Time) {
	if !s.digestOn || s.digester == nil {
		return
	}

	now := time.Now()
	due := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(s.digestAt)
	if now.Before(due) {
		return
	}

	s.digestMux.Lock()
	alreadySent := !s.lastDigest.IsZero() &&
		s.lastDigest.Year() == now.Year() && s.lastDigest.YearDay() == now.YearDay()
	if !alreadySent {
		s.lastDigest = now
	}
	s.digestMux.Unlock()
	if alreadySent {
		return
	}

	if err := s.digester.Run(ctx, now.UTC()); err != nil {
		s.logger.Error().Err(err).Msg("daily digest failed")
	}
}

// seedCooldowns restores suppression windows from the newest stored event per
// symbol, so a restart inside a cooldown does not immediately re-alert.
func (s *Service) seedCooldowns(ctx context.Context) {
	if s.cooldown == nil || s.events == nil {
		return
	}

	events, err := s.events.LatestEventPerSymbol(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to seed cooldown state from events")
		return
	}

	now := time.Now().UTC()
	seeded := 0
	for _, event := range events {
		if _, ok := s.reg.Lookup(event.Symbol); !ok {
			continue
		}
		s.cooldown.Seed(event.Symbol, event.Volatility, event.TriggeredAt, now)
		seeded++
	}
	s.logger.Info().Int("symbols", seeded).Msg("cooldown state seeded from event history")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
