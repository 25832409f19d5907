// Package ltv compares long-horizon revenue between test cohorts.
//
// A cohort is the set of customers whose first conversion falls on or
// after the cohort start date, tracked over 30/60/90-day windows keyed
// to each customer's own first conversion.
package ltv

import (
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/stats"
)

// driftThresholdPct is the lift drift between the shortest and longest
// horizon that flags LongTermDifferent. Tuned to product risk
// tolerance; do not re-derive.
const driftThresholdPct = 10.0

var defaultPeriods = []int{30, 60, 90}

type Config struct {
	// PeriodDays are the analysis horizons. Default 30/60/90.
	PeriodDays []int
	// MinCohortSize marks analyses low-confidence below it. Default 30.
	MinCohortSize int

	Bootstrap stats.Options
}

func (c Config) withDefaults() Config {
	if len(c.PeriodDays) == 0 {
		c.PeriodDays = defaultPeriods
	}
	if c.MinCohortSize <= 0 {
		c.MinCohortSize = 30
	}
	return c
}

// Customer is one converted visitor with their order history, read from
// the commerce backend.
type Customer struct {
	ID              string
	VariantID       string
	FirstConversion time.Time
	Orders          []experiment.Order
}

// PeriodMetrics summarizes one horizon for one cohort.
type PeriodMetrics struct {
	Days           int
	MeanLTV        float64
	RepurchaseRate float64
	AvgOrderValue  float64
	Interval       stats.Result
}

// Analysis is the full per-variant cohort report. Callers should treat
// LowConfidence analyses as directional only.
type Analysis struct {
	VariantID     string
	CohortStart   time.Time
	CohortSize    int
	LowConfidence bool
	Periods       []PeriodMetrics
}

// PeriodComparison is control vs variant over one horizon.
type PeriodComparison struct {
	Days        int
	LiftPct     float64
	Difference  stats.Result
	Significant bool
	PValue      stats.PValue
}

// Comparison is the control/variant report across all horizons.
// LongTermDifferent cautions that the long-horizon picture disagrees
// with the short one and decisions should wait for more data.
type Comparison struct {
	Control Analysis
	Variant Analysis

	Periods           []PeriodComparison
	LongTermDifferent bool
}

// Calculate builds the cohort LTV analysis for one variant.
func Calculate(customers []Customer, variantID string, cohortStart time.Time, cfg Config) Analysis {
	cfg = cfg.withDefaults()
	cohort := filterCohort(customers, variantID, cohortStart)

	analysis := Analysis{
		VariantID:     variantID,
		CohortStart:   cohortStart,
		CohortSize:    len(cohort),
		LowConfidence: len(cohort) < cfg.MinCohortSize,
	}

	for _, days := range cfg.PeriodDays {
		analysis.Periods = append(analysis.Periods, periodMetrics(cohort, days, cfg))
	}
	return analysis
}

// Compare runs Calculate for control and variant and bootstraps the
// per-customer LTV difference at each horizon.
func Compare(customers []Customer, controlID, variantID string, cohortStart time.Time, cfg Config) Comparison {
	cfg = cfg.withDefaults()

	comparison := Comparison{
		Control: Calculate(customers, controlID, cohortStart, cfg),
		Variant: Calculate(customers, variantID, cohortStart, cfg),
	}

	controlCohort := filterCohort(customers, controlID, cohortStart)
	variantCohort := filterCohort(customers, variantID, cohortStart)

	for _, days := range cfg.PeriodDays {
		controlLTV := ltvSamples(controlCohort, days)
		variantLTV := ltvSamples(variantCohort, days)

		diff := stats.Difference(controlLTV, variantLTV, cfg.Bootstrap)
		pc := PeriodComparison{
			Days:        days,
			Difference:  diff,
			Significant: diff.Significant(),
			PValue:      stats.ApproxPValue(diff),
		}
		if controlMean := stats.Mean(controlLTV); controlMean != 0 {
			pc.LiftPct = diff.Estimate / controlMean * 100
		}
		comparison.Periods = append(comparison.Periods, pc)
	}

	comparison.LongTermDifferent = longTermDifferent(comparison.Periods)
	return comparison
}

// longTermDifferent flags a sign flip between the shortest and longest
// horizon, or lift drift beyond 10 percentage points.
func longTermDifferent(periods []PeriodComparison) bool {
	if len(periods) < 2 {
		return false
	}
	short := periods[0].LiftPct
	long := periods[len(periods)-1].LiftPct

	if short*long < 0 {
		return true
	}
	drift := long - short
	if drift < 0 {
		drift = -drift
	}
	return drift > driftThresholdPct
}

func periodMetrics(cohort []Customer, days int, cfg Config) PeriodMetrics {
	ltvs := make([]float64, 0, len(cohort))
	repurchasers := 0
	totalRevenue := 0.0
	totalOrders := 0

	for _, c := range cohort {
		revenue := 0.0
		orders := 0
		for _, o := range ordersWithin(c, days) {
			revenue += o.Revenue
			orders++
		}
		ltvs = append(ltvs, revenue)
		totalRevenue += revenue
		totalOrders += orders
		if orders >= 2 {
			repurchasers++
		}
	}

	m := PeriodMetrics{
		Days:     days,
		MeanLTV:  stats.Mean(ltvs),
		Interval: stats.ConfidenceInterval(ltvs, cfg.Bootstrap),
	}
	if len(cohort) > 0 {
		m.RepurchaseRate = float64(repurchasers) / float64(len(cohort))
	}
	if totalOrders > 0 {
		m.AvgOrderValue = totalRevenue / float64(totalOrders)
	}
	return m
}

func ltvSamples(cohort []Customer, days int) []float64 {
	out := make([]float64, 0, len(cohort))
	for _, c := range cohort {
		revenue := 0.0
		for _, o := range ordersWithin(c, days) {
			revenue += o.Revenue
		}
		out = append(out, revenue)
	}
	return out
}

// ordersWithin filters a customer's orders to those placed within the
// period after their own first conversion.
func ordersWithin(c Customer, days int) []experiment.Order {
	cutoff := c.FirstConversion.AddDate(0, 0, days)
	var out []experiment.Order
	for _, o := range c.Orders {
		if !o.PlacedAt.Before(c.FirstConversion) && !o.PlacedAt.After(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

func filterCohort(customers []Customer, variantID string, cohortStart time.Time) []Customer {
	var out []Customer
	for _, c := range customers {
		if c.VariantID != variantID || c.FirstConversion.IsZero() {
			continue
		}
		if c.FirstConversion.Before(cohortStart) {
			continue
		}
		out = append(out, c)
	}
	return out
}
