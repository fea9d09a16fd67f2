// Package scheduler periodically rebuilds compliance snapshots and evaluates
// escalation rules, and serves on-demand recalculations between ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/lock"
	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/risk"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/telemetry"
	"compliance/engine-service/internal/workflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrRecalcInProgress is returned by an on-demand recalculation when another
// holder owns the entity lock and no snapshot exists yet.
var ErrRecalcInProgress = errors.New("recalculation in progress")

const systemActor = "system"

type Store interface {
	store.RequestStore
	store.ObligationStore
	store.ComplianceStateStore
	store.RuleStore
	store.BreachStore
}

type Evaluator interface {
	EvaluateItem(ctx context.Context, req models.ServiceRequest, rules []escalation.Compiled, now time.Time) ([]models.EscalationExecution, error)
}

type Config struct {
	Interval      time.Duration
	Concurrency   int
	EntityTimeout time.Duration
}

type Summary struct {
	Entities    int `json:"entities"`
	Changed     int `json:"changed"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Requests    int `json:"requests"`
	Escalations int `json:"escalations"`
	Breaches    int `json:"breaches"`
}

type Scheduler struct {
	cfg       Config
	store     Store
	evaluator Evaluator
	locker    lock.Locker
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	running atomic.Bool
	flights singleflight.Group
	wg      sync.WaitGroup
}

func New(cfg Config, st Store, evaluator Evaluator, locker lock.Locker, logger *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.EntityTimeout <= 0 {
		cfg.EntityTimeout = 30 * time.Second
	}
	if locker == nil {
		locker = lock.NewKeyedLocker()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		evaluator: evaluator,
		locker:    locker,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("compliance/engine-service/scheduler"),
		now:       time.Now,
	}
}

// Start runs a pass on every tick until ctx is done, then waits for the
// pass in flight to finish.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Tick(ctx)
			}()
		}
	}
}

// Tick runs one pass unless another pass is still running, in which case the
// tick is dropped and ran is false.
func (s *Scheduler) Tick(ctx context.Context) (summary Summary, ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SkippedTicks.Add(ctx, 1)
		s.logger.Debug("scheduler tick skipped, previous pass still running")
		return Summary{}, false
	}
	defer s.running.Store(false)

	summary, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduler pass failed", zap.Error(err))
	}
	return summary, true
}

// RunOnce recalculates every entity with live obligations and evaluates every
// open request. Per-entity and per-request failures are counted, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "scheduler.pass")
	defer span.End()
	defer func() {
		s.metrics.RecalcDuration.Record(ctx, s.now().Sub(started).Seconds())
	}()

	var (
		mu      sync.Mutex
		summary Summary
	)

	entities, err := s.store.ListActiveEntities(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("list entities: %w", err)
	}
	summary.Entities = len(entities)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, entityID := range entities {
		g.Go(func() error {
			_, changed, skipped, err := s.recalculate(gctx, entityID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
			case skipped:
				summary.Skipped++
			case changed:
				summary.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()

	rules, err := s.activeRules(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	requests, err := s.store.ListOpenRequests(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("list requests: %w", err)
	}
	summary.Requests = len(requests)

	now := s.now()
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, req := range requests {
		g.Go(func() error {
			fired, breached, err := s.evaluateRequest(gctx, req, rules, now)
			if err != nil {
				s.logger.Warn("request evaluation failed", zap.String("request_id", req.RequestID), zap.Error(err))
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Escalations += len(fired)
			if breached {
				summary.Breaches++
			}
			if err != nil {
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("entities", summary.Entities),
		attribute.Int("requests", summary.Requests),
		attribute.Int("escalations", summary.Escalations),
	)
	s.logger.Info("scheduler pass complete",
		zap.Int("entities", summary.Entities),
		zap.Int("changed", summary.Changed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("requests", summary.Requests),
		zap.Int("escalations", summary.Escalations),
		zap.Int("breaches", summary.Breaches),
		zap.Duration("took", s.now().Sub(started)),
	)
	return summary, nil
}

type entityResult struct {
	state   models.ComplianceState
	changed bool
}

// TriggerEntity recalculates one entity now. Concurrent calls for the same
// entity share a single recalculation.
func (s *Scheduler) TriggerEntity(ctx context.Context, entityID string) (models.ComplianceState, bool, error) {
	v, err, _ := s.flights.Do(entityID, func() (interface{}, error) {
		state, changed, skipped, err := s.recalculate(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if skipped {
			current, err := s.store.GetComplianceState(ctx, entityID)
			if errors.Is(err, store.ErrStateNotFound) {
				return nil, ErrRecalcInProgress
			}
			if err != nil {
				return nil, err
			}
			return entityResult{state: current}, nil
		}
		return entityResult{state: state, changed: changed}, nil
	})
	if err != nil {
		return models.ComplianceState{}, false, err
	}
	result := v.(entityResult)
	return result.state, result.changed, nil
}

// TriggerRequest evaluates breach detection and escalation rules for one
// request without waiting for the next tick.
func (s *Scheduler) TriggerRequest(ctx context.Context, requestID string) ([]models.EscalationExecution, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	rules, err := s.activeRules(ctx)
	if err != nil {
		return nil, err
	}
	fired, _, err := s.evaluateRequest(ctx, req, rules, s.now())
	return fired, err
}

func (s *Scheduler) recalculate(ctx context.Context, entityID string) (state models.ComplianceState, changed, skipped bool, err error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.recalculate", trace.WithAttributes(attribute.String("entity_id", entityID)))
	defer span.End()

	release, ok, err := s.locker.TryLock(ctx, "entity:"+entityID)
	if err != nil {
		s.recordFailure(ctx, span, entityID, err)
		return models.ComplianceState{}, false, false, err
	}
	if !ok {
		s.logger.Debug("entity locked, skipping recalculation", zap.String("entity_id", entityID))
		return models.ComplianceState{}, false, true, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.EntityTimeout)
	defer cancel()

	obligations, err := s.store.ListObligations(ctx, entityID)
	if err != nil {
		err = fmt.Errorf("list obligations for %s: %w", entityID, err)
		s.recordFailure(ctx, span, entityID, err)
		return models.ComplianceState{}, false, false, err
	}
	state = risk.Score(entityID, obligations, s.now().UTC())
	changed, err = s.store.SaveComplianceState(ctx, state)
	if err != nil {
		err = fmt.Errorf("save compliance state for %s: %w", entityID, err)
		s.recordFailure(ctx, span, entityID, err)
		return models.ComplianceState{}, false, false, err
	}
	s.metrics.Recalculations.Add(ctx, 1)
	span.SetAttributes(attribute.Bool("changed", changed), attribute.String("grade", string(state.Grade)))
	return state, changed, false, nil
}

func (s *Scheduler) recordFailure(ctx context.Context, span trace.Span, entityID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.RecalcFailures.Add(ctx, 1)
	s.logger.Error("entity recalculation failed", zap.String("entity_id", entityID), zap.Error(err))
}

func (s *Scheduler) activeRules(ctx context.Context) ([]escalation.Compiled, error) {
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return escalation.Compile(rules, s.logger), nil
}

func (s *Scheduler) evaluateRequest(ctx context.Context, req models.ServiceRequest, rules []escalation.Compiled, now time.Time) ([]models.EscalationExecution, bool, error) {
	var errs []error
	breached := false
	if risk.EvaluateSLA(req.SLADeadline, false, now) == risk.SLABreached && !workflow.IsTerminal(req.Status) {
		updated, opened, err := s.openBreach(ctx, req, now)
		if err != nil {
			errs = append(errs, err)
		} else {
			req = updated
			breached = opened
		}
	}
	if s.evaluator != nil {
		fired, err := s.evaluator.EvaluateItem(ctx, req, rules, now)
		if err != nil {
			errs = append(errs, err)
		}
		return fired, breached, errors.Join(errs...)
	}
	return nil, breached, errors.Join(errs...)
}
