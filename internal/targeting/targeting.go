// Package targeting evaluates visitor contexts against rule trees.
package targeting

import (
	"strconv"
	"strings"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

// Decision is the outcome of evaluating one test's rules for a visitor.
type Decision struct {
	Included bool

	// ForcedVariant carries the visitor's override when one is set and
	// the visitor is not excluded. The caller is responsible for
	// checking it names a real variant.
	ForcedVariant string
}

// Evaluate matches a visitor against a test's targeting rules. All rules
// in the list must match. Bot and internal traffic is always excluded,
// even when a forced variant override is present.
func Evaluate(rules []experiment.Rule, ctx experiment.VisitorContext) Decision {
	if ctx.Excluded() {
		return Decision{}
	}
	for _, r := range rules {
		if !evalRule(r, ctx) {
			return Decision{}
		}
	}
	return Decision{Included: true, ForcedVariant: ctx.ForcedVariant}
}

// EvaluateAll filters the active tests a visitor qualifies for in a
// single pass, so callers parse the visitor context once per request.
func EvaluateAll(tests []*experiment.Test, ctx experiment.VisitorContext) []*experiment.Test {
	var qualified []*experiment.Test
	if ctx.Excluded() {
		return qualified
	}
	for _, t := range tests {
		if t.Status != experiment.StatusRunning {
			continue
		}
		if Evaluate(t.Rules, ctx).Included {
			qualified = append(qualified, t)
		}
	}
	return qualified
}

func evalRule(r experiment.Rule, ctx experiment.VisitorContext) bool {
	switch r.Op {
	case experiment.RuleOr:
		for _, c := range r.Conditions {
			if evalCondition(c, ctx) {
				return true
			}
		}
		for _, child := range r.Children {
			if evalRule(child, ctx) {
				return true
			}
		}
		return false
	default:
		// AND. Unknown operators are rejected at validation time.
		for _, c := range r.Conditions {
			if !evalCondition(c, ctx) {
				return false
			}
		}
		for _, child := range r.Children {
			if !evalRule(child, ctx) {
				return false
			}
		}
		return true
	}
}

// evalCondition compares one attribute against the condition literal.
// A missing attribute fails every operator, including neq: absence of
// data is never treated as a match.
func evalCondition(c experiment.Condition, ctx experiment.VisitorContext) bool {
	val, ok := ctx.Attr(c.Attribute)
	if !ok {
		return false
	}

	switch c.Op {
	case experiment.OpEq:
		return val == c.Value
	case experiment.OpNeq:
		return val != c.Value
	case experiment.OpIn:
		for _, candidate := range c.Values {
			if val == candidate {
				return true
			}
		}
		return false
	case experiment.OpContains:
		return strings.Contains(val, c.Value)
	case experiment.OpGt, experiment.OpLt:
		a, errA := strconv.ParseFloat(val, 64)
		b, errB := strconv.ParseFloat(c.Value, 64)
		if errA != nil || errB != nil {
			return false
		}
		if c.Op == experiment.OpGt {
			return a > b
		}
		return a < b
	}
	return false
}
