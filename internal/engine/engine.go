// Package engine is the exposed API surface of the experiment core:
// assignment, event tracking and results, wired over one store.
//
// Construction takes everything explicitly; there are no package-level
// clients or singletons.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shipsplit/shipsplit/internal/assign"
	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/guardrail"
	"github.com/shipsplit/shipsplit/internal/ltv"
	"github.com/shipsplit/shipsplit/internal/stats"
	"github.com/shipsplit/shipsplit/internal/store"
	"github.com/shipsplit/shipsplit/internal/targeting"
	"github.com/shipsplit/shipsplit/internal/track"
)

type Config struct {
	Tracker   track.Options
	Guardrail guardrail.Options
	Stats     stats.Options
	LTV       ltv.Config
}

type Engine struct {
	store        store.Store
	orchestrator *assign.Orchestrator
	tracker      *track.Tracker
	monitor      *guardrail.Monitor
	cfg          Config
	logger       *slog.Logger
}

func New(st store.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        st,
		orchestrator: assign.New(st, logger),
		tracker:      track.New(st, cfg.Tracker, logger),
		monitor:      guardrail.New(cfg.Guardrail, logger),
		cfg:          cfg,
		logger:       logger,
	}
}

// AssignVisitor resolves the test, produces a sticky assignment and
// records the exposure. The exposure event is deduplicated per
// (test, visitor), so repeat visits do not inflate sample counts.
func (e *Engine) AssignVisitor(ctx context.Context, testID string, vctx experiment.VisitorContext) (assign.Result, error) {
	t, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return assign.Result{}, fmt.Errorf("failed to load test %s: %w", testID, err)
	}

	var arms []experiment.BanditArm
	if t.Type == experiment.TypeBandit {
		arms, err = e.store.GetBanditArms(ctx, testID)
		if err != nil {
			return assign.Result{}, fmt.Errorf("failed to load bandit arms: %w", err)
		}
	}

	res, err := e.orchestrator.AssignVisitor(ctx, t, arms, vctx)
	if err != nil || !res.Assigned {
		return res, err
	}

	if !res.Assignment.FailOpen {
		e.tracker.QueueEvent(experiment.Event{
			TenantID:  res.Assignment.TenantID,
			TestID:    res.Assignment.TestID,
			VariantID: res.Assignment.VariantID,
			VisitorID: res.Assignment.VisitorID,
			Type:      experiment.EventExposure,
			DedupKey:  fmt.Sprintf("exposure/%s/%s", res.Assignment.TestID, res.Assignment.VisitorID),
		})
		if t.Type == experiment.TypeBandit && res.New {
			e.recordAsync(func(ctx context.Context) error {
				return e.store.RecordTrial(ctx, t.ID, res.Assignment.VariantID)
			}, "record trial")
		}
	}
	return res, nil
}

// EligibleTests evaluates all of a tenant's running tests for a visitor
// in one pass.
func (e *Engine) EligibleTests(ctx context.Context, tenantID string, vctx experiment.VisitorContext) ([]*experiment.Test, error) {
	tests, err := e.store.ListTests(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	return targeting.EvaluateAll(tests, vctx), nil
}

// TrackEvent queues an event without blocking on persistence. Bandit
// reward updates ride along asynchronously on conversion and revenue
// events; the allocator only ever sees the resulting snapshots.
func (e *Engine) TrackEvent(ctx context.Context, ev experiment.Event) error {
	switch ev.Type {
	case experiment.EventExposure, experiment.EventConversion, experiment.EventRevenue, experiment.EventCustom:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.TestID == "" || ev.VisitorID == "" {
		return fmt.Errorf("event missing test or visitor id")
	}

	e.tracker.QueueEvent(ev)

	if ev.Type == experiment.EventConversion || ev.Type == experiment.EventRevenue {
		e.recordAsync(func(ctx context.Context) error {
			return e.updateReward(ctx, ev)
		}, "update reward")
	}
	return nil
}

func (e *Engine) updateReward(ctx context.Context, ev experiment.Event) error {
	t, err := e.store.GetTest(ctx, ev.TestID)
	if err != nil {
		return err
	}
	if t.Type != experiment.TypeBandit {
		return nil
	}
	assignment, err := e.store.GetAssignment(ctx, ev.TenantID, ev.TestID, ev.VisitorID)
	if err != nil || assignment == nil {
		return err
	}
	reward := 1.0
	if ev.Type == experiment.EventRevenue && ev.Value > 0 {
		reward = ev.Value
	}
	return e.store.RecordReward(ctx, ev.TestID, assignment.VariantID, reward)
}

func (e *Engine) recordAsync(fn func(context.Context) error, what string) {
	go func() {
		if err := fn(context.Background()); err != nil {
			e.logger.Warn("async store update failed", "op", what, "error", err)
		}
	}()
}

// RatesToHide answers which shipping rates to hide at checkout for a
// visitor's assigned variant on a shipping test. An unassigned visitor
// sees every rate.
func (e *Engine) RatesToHide(ctx context.Context, testID, visitorID string, rateTitles []string) ([]string, error) {
	t, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test %s: %w", testID, err)
	}
	if t.Type != experiment.TypeShipping {
		return nil, fmt.Errorf("test %s is not a shipping test", testID)
	}

	assignment, err := e.store.GetAssignment(ctx, t.TenantID, testID, visitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, nil
	}

	v, ok := t.VariantByID(assignment.VariantID)
	if !ok {
		return nil, nil
	}
	return experiment.RatesToHide(rateTitles, v.RateSuffix), nil
}

// FlushEvents forces the tracker's buffer out, for tests and shutdown
// paths that need events visible before reading results.
func (e *Engine) FlushEvents() track.BatchResult {
	return e.tracker.FlushEvents()
}

// Close flushes buffered events best effort and stops background work.
func (e *Engine) Close() {
	e.tracker.Close()
}
