// Package guardrail runs periodic health checks over running tests.
//
// Checks only observe and alert. Pausing a test is an operator action;
// nothing here mutates test state.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/stats"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a structured breach report.
type Alert struct {
	Metric         string
	Severity       Severity
	TestID         string
	VariantID      string
	Observed       float64
	Expected       float64
	Message        string
	Recommendation string
}

type Options struct {
	// SRMWarnP and SRMCritP are the p-value thresholds for sample-ratio
	// mismatch alerts. Defaults 0.01 and 0.001.
	SRMWarnP float64
	SRMCritP float64
	// MinSampleSize gates checks until enough traffic has arrived.
	// Default 100 exposures per test.
	MinSampleSize int

	Bootstrap stats.Options
}

func (o Options) withDefaults() Options {
	if o.SRMWarnP <= 0 {
		o.SRMWarnP = 0.01
	}
	if o.SRMCritP <= 0 {
		o.SRMCritP = 0.001
	}
	if o.MinSampleSize <= 0 {
		o.MinSampleSize = 100
	}
	return o
}

type Monitor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{opts: opts.withDefaults(), logger: logger}
}

// CheckSampleRatio compares observed exposure counts per variant with
// the configured split. Bandit tests are skipped: their allocation is
// intentionally uneven. A mismatch usually means broken bucketing or
// lost exposure events, which silently invalidates the analysis.
func (m *Monitor) CheckSampleRatio(t *experiment.Test, exposures map[string]int) []Alert {
	if t.Type == experiment.TypeBandit {
		return nil
	}

	total := 0
	for _, n := range exposures {
		total += n
	}
	if total < m.opts.MinSampleSize {
		return nil
	}

	var alerts []Alert
	for _, v := range t.Variants {
		expected := float64(v.Weight) / 100
		if expected <= 0 || expected >= 1 {
			continue
		}
		observed := exposures[v.ID]
		p := stats.ProportionTest(observed, total, expected)

		var severity Severity
		switch {
		case p.Value < m.opts.SRMCritP:
			severity = SeverityCritical
		case p.Value < m.opts.SRMWarnP:
			severity = SeverityWarning
		default:
			continue
		}

		observedShare := float64(observed) / float64(total)
		alerts = append(alerts, Alert{
			Metric:    "sample_ratio_mismatch",
			Severity:  severity,
			TestID:    t.ID,
			VariantID: v.ID,
			Observed:  observedShare,
			Expected:  expected,
			Message: fmt.Sprintf("variant %s received %.1f%% of traffic, configured %.0f%% (p=%.4f)",
				v.ID, observedShare*100, expected*100, p.Value),
			Recommendation: "investigate bucketing and event delivery before trusting results; consider pausing the test",
		})
	}
	return alerts
}

// CheckMetricDegradation bootstraps the difference of a protected
// metric (variant minus control) and alerts when the variant is
// significantly worse.
func (m *Monitor) CheckMetricDegradation(t *experiment.Test, metric, variantID string, control, variant []float64) *Alert {
	if len(control) < m.opts.MinSampleSize || len(variant) < m.opts.MinSampleSize {
		return nil
	}

	diff := stats.Difference(control, variant, m.opts.Bootstrap)
	if !diff.Significant() || diff.Estimate >= 0 {
		return nil
	}

	return &Alert{
		Metric:    metric,
		Severity:  SeverityCritical,
		TestID:    t.ID,
		VariantID: variantID,
		Observed:  stats.Mean(variant),
		Expected:  stats.Mean(control),
		Message: fmt.Sprintf("protected metric %s degraded by %.2f (95%% CI [%.2f, %.2f])",
			metric, diff.Estimate, diff.Lower, diff.Upper),
		Recommendation: "review the variant for regressions; consider pausing the test",
	}
}

// Watch runs check on a ticker until ctx is done, forwarding alerts to
// emit. Alerts are also logged at warn/error according to severity.
func (m *Monitor) Watch(ctx context.Context, every time.Duration, check func(context.Context) []Alert, emit func(Alert)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, a := range check(ctx) {
				m.log(a)
				if emit != nil {
					emit(a)
				}
			}
		}
	}
}

func (m *Monitor) log(a Alert) {
	attrs := []any{
		"metric", a.Metric,
		"test", a.TestID,
		"variant", a.VariantID,
		"observed", a.Observed,
		"expected", a.Expected,
	}
	if a.Severity == SeverityCritical {
		m.logger.Error(a.Message, attrs...)
	} else {
		m.logger.Warn(a.Message, attrs...)
	}
}
