package experiment

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type TestType string

const (
	TypeFixed    TestType = "fixed"
	TypeBandit   TestType = "bandit"
	TypeShipping TestType = "shipping"
)

// Test is an experiment definition. Immutable once running, except for
// bandit arm statistics which update as conversions arrive.
type Test struct {
	ID       string
	TenantID string
	Name     string
	Type     TestType
	Status   Status

	Variants []Variant
	Rules    []Rule // all rules must match for a visitor to qualify

	// ExplorationRate is the epsilon for bandit allocation, in [0,1].
	ExplorationRate float64

	// AttributionWindow bounds how long after exposure a conversion may
	// be credited. Zero means "until the test ends".
	AttributionWindow time.Duration

	// MutuallyExclusive lists test IDs whose conversions this test will
	// not share. Used by attribution merging.
	MutuallyExclusive []string

	WinnerVariant string

	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant is one arm of a test. Weight is a percentage (fixed mode);
// bandit mode ignores it and allocates from arm statistics instead.
type Variant struct {
	ID      string
	Label   string
	Weight  int
	Control bool

	// RateSuffix identifies the shipping rate group this variant shows
	// (shipping tests only). Valid values: A, B, C, D.
	RateSuffix string
}

// BanditArm is a read-only snapshot of one variant's reward statistics.
// The allocator never mutates these; updates happen asynchronously as
// conversion events are processed.
type BanditArm struct {
	VariantID string
	Trials    int64
	Rewards   float64
}

// Rate returns the observed reward rate, zero when untried.
func (a BanditArm) Rate() float64 {
	if a.Trials == 0 {
		return 0
	}
	return a.Rewards / float64(a.Trials)
}

// VisitorContext carries everything targeting and allocation need about
// a visitor. Attribute lookups on a missing key fail the condition; there
// is no default-true path.
type VisitorContext struct {
	VisitorID string
	TenantID  string

	// Attributes holds geo/device/UTM values keyed by attribute name,
	// e.g. "country", "device", "utm_source".
	Attributes map[string]string

	// ForcedVariant overrides hashing when set (query param or preview
	// cookie). Exclusion rules still apply.
	ForcedVariant string

	Bot      bool
	Internal bool
}

// Attr returns the named attribute and whether it was present.
func (c VisitorContext) Attr(name string) (string, bool) {
	v, ok := c.Attributes[name]
	return v, ok
}

// Excluded reports whether the visitor is never eligible for assignment,
// regardless of targeting rules or overrides.
func (c VisitorContext) Excluded() bool {
	return c.Bot || c.Internal
}

// Assignment is the sticky (tenant, test, visitor) -> variant record.
// At most one active assignment exists per key; it is never rewritten
// while the test runs.
type Assignment struct {
	TenantID  string
	TestID    string
	VisitorID string
	VariantID string

	AssignedAt time.Time
	ExpiredAt  *time.Time

	// FailOpen marks an assignment that was handed out without being
	// persisted because the store was unavailable. It always points at
	// the control variant.
	FailOpen bool
}

type EventType string

const (
	EventExposure   EventType = "exposure"
	EventConversion EventType = "conversion"
	EventRevenue    EventType = "revenue"
	EventCustom     EventType = "custom"
)

// Event is an append-only analytics record. Quarantined events are kept
// for audit but excluded from statistics.
type Event struct {
	ID        int64
	TenantID  string
	TestID    string
	VariantID string
	VisitorID string
	Type      EventType

	// Value carries revenue amounts; zero otherwise.
	Value float64

	// DedupKey makes conversion writes idempotent under retried
	// deliveries. Empty means no deduplication.
	DedupKey string

	Quarantined bool
	OccurredAt  time.Time
}

// Order is a customer purchase, read from the commerce backend for
// LTV analysis.
type Order struct {
	OrderID    string
	CustomerID string
	Revenue    float64
	PlacedAt   time.Time
}

// Control returns the test's control variant.
func (t *Test) Control() (Variant, bool) {
	for _, v := range t.Variants {
		if v.Control {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantByID looks up a variant in declaration order.
func (t *Test) VariantByID(id string) (Variant, bool) {
	for _, v := range t.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// ExclusiveWith reports whether the test declares itself mutually
// exclusive with the given test.
func (t *Test) ExclusiveWith(testID string) bool {
	for _, id := range t.MutuallyExclusive {
		if id == testID {
			return true
		}
	}
	return false
}
