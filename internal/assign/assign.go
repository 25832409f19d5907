// Package assign produces sticky visitor assignments.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shipsplit/shipsplit/internal/allocate"
	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/hash"
	"github.com/shipsplit/shipsplit/internal/targeting"
)

// Store is the slice of the persistence collaborator the orchestrator
// needs. Writes must be insert-if-absent: two concurrent first-time
// evaluations of the same (test, visitor) race to the same deterministic
// variant, so the storage layer only needs insert-or-ignore semantics.
type Store interface {
	GetAssignment(ctx context.Context, tenantID, testID, visitorID string) (*experiment.Assignment, error)
	PutAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, bool, error)
}

// Result is the outcome of one assignment evaluation. Not being
// assigned (targeting miss, bot traffic, inactive test) is a normal
// outcome, not an error.
type Result struct {
	Assigned bool
	Reason   string
	New      bool

	Assignment *experiment.Assignment
}

type Orchestrator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, logger: logger, now: time.Now}
}

// AssignVisitor runs targeting, honors any prior sticky assignment, and
// otherwise allocates and persists a new one. Repeated calls for the
// same (test, visitor) return the same variant for the life of the
// test, even if weights are edited afterward.
//
// If the store is unavailable the visitor fails open to the control
// variant: the returned assignment is flagged FailOpen and never
// persisted, so the visitor experience is not blocked.
func (o *Orchestrator) AssignVisitor(ctx context.Context, t *experiment.Test, arms []experiment.BanditArm, vctx experiment.VisitorContext) (Result, error) {
	if t.Status != experiment.StatusRunning {
		return Result{Reason: fmt.Sprintf("test is %s", t.Status)}, nil
	}

	decision := targeting.Evaluate(t.Rules, vctx)
	if !decision.Included {
		return Result{Reason: "excluded by targeting"}, nil
	}

	prior, err := o.store.GetAssignment(ctx, t.TenantID, t.ID, vctx.VisitorID)
	if err == nil && prior != nil && prior.ExpiredAt == nil {
		return Result{Assigned: true, Reason: "sticky", Assignment: prior}, nil
	}
	if err != nil {
		return o.failOpen(t, vctx, err), nil
	}

	variantID := ""
	if decision.ForcedVariant != "" {
		v, ok := t.VariantByID(decision.ForcedVariant)
		if !ok {
			return Result{}, fmt.Errorf("forced variant %q not in test %s", decision.ForcedVariant, t.ID)
		}
		variantID = v.ID
	} else {
		bucket := hash.Bucket(t.ID, vctx.VisitorID)
		variantID, err = allocate.Allocate(t, arms, bucket)
		if err != nil {
			return Result{}, fmt.Errorf("allocate visitor %s: %w", vctx.VisitorID, err)
		}
	}

	assignment := &experiment.Assignment{
		TenantID:   t.TenantID,
		TestID:     t.ID,
		VisitorID:  vctx.VisitorID,
		VariantID:  variantID,
		AssignedAt: o.now(),
	}

	// The winner of a concurrent insert race comes back; both racers
	// computed the same variant, so either row is correct.
	persisted, inserted, err := o.store.PutAssignmentIfAbsent(ctx, assignment)
	if err != nil {
		return o.failOpen(t, vctx, err), nil
	}

	return Result{
		Assigned:   true,
		Reason:     "allocated",
		New:        inserted,
		Assignment: persisted,
	}, nil
}

func (o *Orchestrator) failOpen(t *experiment.Test, vctx experiment.VisitorContext, cause error) Result {
	control, ok := t.Control()
	if !ok {
		// Validation guarantees a control; fall back to the first
		// variant if an unvalidated test sneaks through.
		control = t.Variants[0]
	}

	o.logger.Warn("assignment store unavailable, failing open to control",
		"test", t.ID,
		"visitor", vctx.VisitorID,
		"error", cause)

	return Result{
		Assigned: true,
		Reason:   "fail-open",
		Assignment: &experiment.Assignment{
			TenantID:   t.TenantID,
			TestID:     t.ID,
			VisitorID:  vctx.VisitorID,
			VariantID:  control.ID,
			AssignedAt: o.now(),
			FailOpen:   true,
		},
	}
}
