package experiment

import "fmt"

// Validate checks a test definition against the activation invariants.
// A test failing validation cannot transition to running.
func Validate(t *Test) error {
	fail := func(format string, args ...any) error {
		return &ConfigurationError{TestID: t.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if t.ID == "" {
		return fail("missing test id")
	}
	if len(t.Variants) == 0 {
		return fail("no variants")
	}

	switch t.Type {
	case TypeFixed, TypeBandit, TypeShipping:
	default:
		return fail("unknown test type %q", t.Type)
	}

	seen := make(map[string]bool, len(t.Variants))
	controls := 0
	for i, v := range t.Variants {
		if v.ID == "" {
			return fail("variant %d has no id", i)
		}
		if seen[v.ID] {
			return fail("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = true
		if v.Control {
			controls++
		}
		if v.Weight < 0 {
			return fail("variant %q has negative weight %d", v.ID, v.Weight)
		}
		if t.Type == TypeShipping && v.RateSuffix != "" && !ValidRateSuffix(v.RateSuffix) {
			return fail("variant %q has invalid rate suffix %q", v.ID, v.RateSuffix)
		}
	}
	if controls == 0 {
		return fail("no control variant")
	}

	// Fixed and shipping tests split traffic by weight; the ranges must
	// cover [0,100) exactly.
	if t.Type != TypeBandit {
		sum := 0
		for _, v := range t.Variants {
			sum += v.Weight
		}
		if sum != 100 {
			return fail("variant weights sum to %d, want 100", sum)
		}
	}

	if t.Type == TypeBandit {
		if t.ExplorationRate < 0 || t.ExplorationRate > 1 {
			return fail("exploration rate %v outside [0,1]", t.ExplorationRate)
		}
	}

	for i, r := range t.Rules {
		if err := validateRule(r); err != nil {
			return fail("rule %d: %v", i, err)
		}
	}

	return nil
}

func validateRule(r Rule) error {
	if !validRuleOp(r.Op) {
		return fmt.Errorf("unknown rule operator %q", r.Op)
	}
	if len(r.Conditions) == 0 && len(r.Children) == 0 {
		return fmt.Errorf("empty rule node")
	}
	for _, c := range r.Conditions {
		if c.Attribute == "" {
			return fmt.Errorf("condition has no attribute")
		}
		if !validOperator(c.Op) {
			return fmt.Errorf("unknown condition operator %q", c.Op)
		}
		if c.Op == OpIn && len(c.Values) == 0 {
			return fmt.Errorf("in condition on %q has no values", c.Attribute)
		}
	}
	for _, child := range r.Children {
		if err := validateRule(child); err != nil {
			return err
		}
	}
	return nil
}
