package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/guardrail"
	"github.com/shipsplit/shipsplit/internal/ltv"
	"github.com/shipsplit/shipsplit/internal/stats"
	"github.com/shipsplit/shipsplit/internal/store"
)

// VariantStats is the per-variant rollup shown on results surfaces.
type VariantStats struct {
	VariantID      string
	Label          string
	Control        bool
	Exposures      int
	Conversions    int
	ConversionRate float64
	RateLower      float64
	RateUpper      float64
	Revenue        float64
}

// Comparison is control vs one challenger on per-visitor revenue.
type Comparison struct {
	VariantID   string
	Difference  stats.Result
	Significant bool
	PValue      stats.PValue
}

// Results is the full report for one test.
type Results struct {
	Test        *experiment.Test
	Variants    []VariantStats
	Comparisons []Comparison
	LTV         []ltv.Comparison
	Alerts      []guardrail.Alert
}

// GetTestResults builds the report from recorded events: per-variant
// stats with Wilson intervals, bootstrap revenue comparisons against
// control, cohort LTV comparisons and guardrail alerts. Quarantined
// events never enter any of it.
func (e *Engine) GetTestResults(ctx context.Context, testID string) (*Results, error) {
	t, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test %s: %w", testID, err)
	}

	events, err := e.store.ReadEvents(ctx, testID, store.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	exposures := make(map[string]int)
	conversions := make(map[string]int)
	revenue := make(map[string]float64)
	// Per-visitor revenue samples feed the bootstrap comparison.
	visitorRevenue := make(map[string]map[string]float64)
	firstConversion := make(map[string]*experiment.Event)

	for i := range events {
		ev := &events[i]
		switch ev.Type {
		case experiment.EventExposure:
			exposures[ev.VariantID]++
			if visitorRevenue[ev.VariantID] == nil {
				visitorRevenue[ev.VariantID] = make(map[string]float64)
			}
			// Exposed visitors with no revenue stay at zero: they are
			// part of the denominator.
			visitorRevenue[ev.VariantID][ev.VisitorID] += 0
		case experiment.EventConversion:
			conversions[ev.VariantID]++
			if prior, ok := firstConversion[ev.VisitorID]; !ok || ev.OccurredAt.Before(prior.OccurredAt) {
				firstConversion[ev.VisitorID] = ev
			}
		case experiment.EventRevenue:
			revenue[ev.VariantID] += ev.Value
			if visitorRevenue[ev.VariantID] == nil {
				visitorRevenue[ev.VariantID] = make(map[string]float64)
			}
			visitorRevenue[ev.VariantID][ev.VisitorID] += ev.Value
		}
	}

	results := &Results{Test: t}
	for _, v := range t.Variants {
		vs := VariantStats{
			VariantID:   v.ID,
			Label:       v.Label,
			Control:     v.Control,
			Exposures:   exposures[v.ID],
			Conversions: conversions[v.ID],
			Revenue:     revenue[v.ID],
		}
		if vs.Exposures > 0 {
			vs.ConversionRate = float64(vs.Conversions) / float64(vs.Exposures)
		}
		vs.RateLower, vs.RateUpper = stats.WilsonInterval(vs.Conversions, vs.Exposures, 0.95)
		results.Variants = append(results.Variants, vs)
	}

	control, ok := t.Control()
	if ok {
		controlSamples := revenueSamples(visitorRevenue[control.ID])
		for _, v := range t.Variants {
			if v.ID == control.ID {
				continue
			}
			diff := stats.Difference(controlSamples, revenueSamples(visitorRevenue[v.ID]), e.cfg.Stats)
			results.Comparisons = append(results.Comparisons, Comparison{
				VariantID:   v.ID,
				Difference:  diff,
				Significant: diff.Significant(),
				PValue:      stats.ApproxPValue(diff),
			})
		}
	}

	results.Alerts = e.monitor.CheckSampleRatio(t, exposures)

	if ok && len(firstConversion) > 0 {
		comparisons, err := e.ltvComparisons(ctx, t, control.ID, firstConversion)
		if err != nil {
			// LTV is an enrichment; the core report still stands.
			e.logger.Warn("ltv comparison failed", "test", testID, "error", err)
		} else {
			results.LTV = comparisons
		}
	}

	return results, nil
}

// ltvComparisons treats converted visitors as customers keyed by their
// first conversion and pulls their order history for cohort analysis.
func (e *Engine) ltvComparisons(ctx context.Context, t *experiment.Test, controlID string, firstConversion map[string]*experiment.Event) ([]ltv.Comparison, error) {
	customerIDs := make([]string, 0, len(firstConversion))
	for visitorID := range firstConversion {
		customerIDs = append(customerIDs, visitorID)
	}
	sort.Strings(customerIDs)

	orders, err := e.store.ReadOrders(ctx, customerIDs, store.DateRange{})
	if err != nil {
		return nil, err
	}
	ordersByCustomer := make(map[string][]experiment.Order)
	for _, o := range orders {
		ordersByCustomer[o.CustomerID] = append(ordersByCustomer[o.CustomerID], o)
	}

	customers := make([]ltv.Customer, 0, len(customerIDs))
	for _, id := range customerIDs {
		ev := firstConversion[id]
		customers = append(customers, ltv.Customer{
			ID:              id,
			VariantID:       ev.VariantID,
			FirstConversion: ev.OccurredAt,
			Orders:          ordersByCustomer[id],
		})
	}

	cohortStart := t.StartAt
	if cohortStart.IsZero() {
		cohortStart = t.CreatedAt
	}

	var comparisons []ltv.Comparison
	for _, v := range t.Variants {
		if v.ID == controlID {
			continue
		}
		comparisons = append(comparisons, ltv.Compare(customers, controlID, v.ID, cohortStart, e.cfg.LTV))
	}
	return comparisons, nil
}

func revenueSamples(byVisitor map[string]float64) []float64 {
	visitors := make([]string, 0, len(byVisitor))
	for v := range byVisitor {
		visitors = append(visitors, v)
	}
	// Stable order keeps seeded bootstrap runs reproducible.
	sort.Strings(visitors)

	out := make([]float64, 0, len(visitors))
	for _, v := range visitors {
		out = append(out, byVisitor[v])
	}
	return out
}
