package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTest() *experiment.Test {
	return &experiment.Test{
		ID:       "t1",
		TenantID: "shop1",
		Name:     "Checkout banner",
		Type:     experiment.TypeFixed,
		Status:   experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Label: "Control", Weight: 50, Control: true},
			{ID: "variant_a", Label: "Challenger", Weight: 50},
		},
		Rules: []experiment.Rule{{
			Op: experiment.RuleAnd,
			Conditions: []experiment.Condition{
				{Attribute: "country", Op: experiment.OpEq, Value: "US"},
			},
		}},
		AttributionWindow: 48 * time.Hour,
		MutuallyExclusive: []string{"t2"},
	}
}

func TestCreateAndGetTest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTest(ctx, sampleTest()))

	got, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, "shop1", got.TenantID)
	assert.Equal(t, experiment.TypeFixed, got.Type)
	assert.Equal(t, experiment.StatusRunning, got.Status)
	require.Len(t, got.Variants, 2)
	assert.True(t, got.Variants[0].Control)
	assert.Equal(t, 50, got.Variants[1].Weight)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "country", got.Rules[0].Conditions[0].Attribute)
	assert.Equal(t, 48*time.Hour, got.AttributionWindow)
	assert.Equal(t, []string{"t2"}, got.MutuallyExclusive)
}

func TestGetTest_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDeleteTests(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleTest()
	require.NoError(t, s.CreateTest(ctx, first))
	second := sampleTest()
	second.ID = "t2"
	second.TenantID = "shop2"
	require.NoError(t, s.CreateTest(ctx, second))

	all, err := s.ListTests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	shop1, err := s.ListTests(ctx, "shop1")
	require.NoError(t, err)
	require.Len(t, shop1, 1)
	assert.Equal(t, "t1", shop1[0].ID)

	require.NoError(t, s.DeleteTest(ctx, "t1"))
	assert.ErrorIs(t, s.DeleteTest(ctx, "t1"), ErrNotFound)
}

func TestUpdateTestStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTest(ctx, sampleTest()))
	require.NoError(t, s.UpdateTestStatus(ctx, "t1", experiment.StatusCompleted, "variant_a"))

	got, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusCompleted, got.Status)
	assert.Equal(t, "variant_a", got.WinnerVariant)

	assert.ErrorIs(t, s.UpdateTestStatus(ctx, "missing", experiment.StatusPaused, ""), ErrNotFound)
}

func TestPutAssignmentIfAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &experiment.Assignment{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
		VariantID: "control", AssignedAt: time.Unix(1000, 0),
	}
	got, inserted, err := s.PutAssignmentIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "control", got.VariantID)

	// A second writer loses the race and gets the original row back.
	second := &experiment.Assignment{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
		VariantID: "variant_a", AssignedAt: time.Unix(2000, 0),
	}
	got, inserted, err = s.PutAssignmentIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "control", got.VariantID)
	assert.Equal(t, time.Unix(1000, 0), got.AssignedAt)
}

func TestGetAssignment_MissingIsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetAssignment(context.Background(), "shop1", "t1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAppendEvents_DedupKeyIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := experiment.Event{
		TenantID: "shop1", TestID: "t1", VariantID: "control", VisitorID: "v1",
		Type: experiment.EventConversion, DedupKey: "order-42/t1",
		OccurredAt: time.Now(),
	}
	// Retried webhook delivery: same dedup key twice, plus once more in
	// a separate batch.
	require.NoError(t, s.AppendEvents(ctx, []experiment.Event{ev, ev}))
	require.NoError(t, s.AppendEvents(ctx, []experiment.Event{ev}))

	events, err := s.ReadEvents(ctx, "t1", EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadEvents_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(10000, 0)

	events := []experiment.Event{
		{TenantID: "shop1", TestID: "t1", VariantID: "control", VisitorID: "v1", Type: experiment.EventExposure, OccurredAt: base},
		{TenantID: "shop1", TestID: "t1", VariantID: "control", VisitorID: "v1", Type: experiment.EventConversion, OccurredAt: base.Add(time.Hour)},
		{TenantID: "shop1", TestID: "t1", VariantID: "variant_a", VisitorID: "v2", Type: experiment.EventConversion, Quarantined: true, OccurredAt: base.Add(2 * time.Hour)},
		{TenantID: "shop1", TestID: "t2", VariantID: "control", VisitorID: "v1", Type: experiment.EventExposure, OccurredAt: base},
	}
	require.NoError(t, s.AppendEvents(ctx, events))

	// Quarantined events are invisible by default.
	got, err := s.ReadEvents(ctx, "t1", EventFilter{Types: []experiment.EventType{experiment.EventConversion}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v1", got[0].VisitorID)

	got, err = s.ReadEvents(ctx, "t1", EventFilter{
		Types:              []experiment.EventType{experiment.EventConversion},
		IncludeQuarantined: true,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ReadEvents(ctx, "t1", EventFilter{VisitorID: "v1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ReadEvents(ctx, "t1", EventFilter{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, experiment.EventConversion, got[0].Type)
}

func TestBanditArms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTrial(ctx, "t1", "control"))
	require.NoError(t, s.RecordTrial(ctx, "t1", "control"))
	require.NoError(t, s.RecordTrial(ctx, "t1", "variant_a"))
	require.NoError(t, s.RecordReward(ctx, "t1", "control", 1))

	arms, err := s.GetBanditArms(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, arms, 2)

	byID := map[string]experiment.BanditArm{}
	for _, a := range arms {
		byID[a.VariantID] = a
	}
	assert.EqualValues(t, 2, byID["control"].Trials)
	assert.EqualValues(t, 1, byID["control"].Rewards)
	assert.EqualValues(t, 1, byID["variant_a"].Trials)
	assert.EqualValues(t, 0, byID["variant_a"].Rewards)
}

func TestOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(100000, 0)

	orders := []*experiment.Order{
		{OrderID: "o1", CustomerID: "c1", Revenue: 50, PlacedAt: base},
		{OrderID: "o2", CustomerID: "c1", Revenue: 30, PlacedAt: base.Add(48 * time.Hour)},
		{OrderID: "o3", CustomerID: "c2", Revenue: 80, PlacedAt: base},
	}
	for _, o := range orders {
		require.NoError(t, s.PutOrder(ctx, o))
	}
	// Retried ingestion of the same order is a no-op.
	require.NoError(t, s.PutOrder(ctx, orders[0]))

	got, err := s.ReadOrders(ctx, []string{"c1"}, DateRange{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ReadOrders(ctx, []string{"c1", "c2"}, DateRange{From: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o2", got[0].OrderID)

	got, err = s.ReadOrders(ctx, nil, DateRange{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
