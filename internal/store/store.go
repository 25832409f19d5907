package store

import (
	"context"
	"errors"
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

var ErrNotFound = errors.New("not found")

// EventFilter narrows ReadEvents. Zero values mean "no constraint".
// Quarantined events are excluded unless explicitly requested, so
// statistics readers never see them by accident.
type EventFilter struct {
	Types              []experiment.EventType
	VisitorID          string
	Since              time.Time
	Until              time.Time
	IncludeQuarantined bool
}

// DateRange bounds ReadOrders. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Store is the persistence collaborator. Assignment writes are
// insert-if-absent and event writes are append-only with
// insert-or-ignore dedup, so every write here is safe to retry.
type Store interface {
	// Test definitions
	CreateTest(ctx context.Context, t *experiment.Test) error
	GetTest(ctx context.Context, testID string) (*experiment.Test, error)
	ListTests(ctx context.Context, tenantID string) ([]*experiment.Test, error)
	UpdateTestStatus(ctx context.Context, testID string, status experiment.Status, winnerVariant string) error
	DeleteTest(ctx context.Context, testID string) error

	// Assignments
	GetAssignment(ctx context.Context, tenantID, testID, visitorID string) (*experiment.Assignment, error)
	PutAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, bool, error)

	// Events
	AppendEvents(ctx context.Context, events []experiment.Event) error
	ReadEvents(ctx context.Context, testID string, filter EventFilter) ([]experiment.Event, error)

	// Bandit reward snapshots
	GetBanditArms(ctx context.Context, testID string) ([]experiment.BanditArm, error)
	RecordTrial(ctx context.Context, testID, variantID string) error
	RecordReward(ctx context.Context, testID, variantID string, reward float64) error

	// Orders (for LTV analysis)
	PutOrder(ctx context.Context, o *experiment.Order) error
	ReadOrders(ctx context.Context, customerIDs []string, dateRange DateRange) ([]experiment.Order, error)

	Close() error
}
