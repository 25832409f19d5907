package targeting

import (
	"testing"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

func visitor(attrs map[string]string) experiment.VisitorContext {
	return experiment.VisitorContext{
		VisitorID:  "v1",
		TenantID:   "shop1",
		Attributes: attrs,
	}
}

func cond(attr string, op experiment.Operator, value string) experiment.Condition {
	return experiment.Condition{Attribute: attr, Op: op, Value: value}
}

func TestEvaluate_NoRulesIncludesEveryone(t *testing.T) {
	d := Evaluate(nil, visitor(nil))
	if !d.Included {
		t.Fatal("visitor with no rules should be included")
	}
}

func TestEvaluate_Operators(t *testing.T) {
	ctx := visitor(map[string]string{
		"country":    "US",
		"device":     "mobile",
		"utm_source": "spring_sale_email",
		"cart_total": "149.50",
	})

	cases := []struct {
		name string
		c    experiment.Condition
		want bool
	}{
		{"eq match", cond("country", experiment.OpEq, "US"), true},
		{"eq mismatch", cond("country", experiment.OpEq, "CA"), false},
		{"neq match", cond("country", experiment.OpNeq, "CA"), true},
		{"neq mismatch", cond("country", experiment.OpNeq, "US"), false},
		{"contains match", cond("utm_source", experiment.OpContains, "sale"), true},
		{"contains mismatch", cond("utm_source", experiment.OpContains, "winter"), false},
		{"gt match", cond("cart_total", experiment.OpGt, "100"), true},
		{"gt mismatch", cond("cart_total", experiment.OpGt, "200"), false},
		{"lt match", cond("cart_total", experiment.OpLt, "200"), true},
		{"gt non-numeric", cond("device", experiment.OpGt, "100"), false},
		{
			"in match",
			experiment.Condition{Attribute: "country", Op: experiment.OpIn, Values: []string{"US", "CA"}},
			true,
		},
		{
			"in mismatch",
			experiment.Condition{Attribute: "country", Op: experiment.OpIn, Values: []string{"FR", "DE"}},
			false,
		},
	}

	for _, tc := range cases {
		rules := []experiment.Rule{{Op: experiment.RuleAnd, Conditions: []experiment.Condition{tc.c}}}
		if got := Evaluate(rules, ctx).Included; got != tc.want {
			t.Errorf("%s: included = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluate_MissingAttributeAlwaysFails(t *testing.T) {
	ctx := visitor(map[string]string{})

	ops := []experiment.Operator{
		experiment.OpEq, experiment.OpNeq, experiment.OpGt,
		experiment.OpLt, experiment.OpContains,
	}
	for _, op := range ops {
		rules := []experiment.Rule{{
			Op:         experiment.RuleAnd,
			Conditions: []experiment.Condition{cond("country", op, "US")},
		}}
		if Evaluate(rules, ctx).Included {
			t.Errorf("missing attribute should fail %q condition", op)
		}
	}
}

func TestEvaluate_AndOrTrees(t *testing.T) {
	ctx := visitor(map[string]string{"country": "US", "device": "desktop"})

	// (country == US AND device == mobile) OR country == US
	rules := []experiment.Rule{{
		Op: experiment.RuleOr,
		Children: []experiment.Rule{
			{Op: experiment.RuleAnd, Conditions: []experiment.Condition{
				cond("country", experiment.OpEq, "US"),
				cond("device", experiment.OpEq, "mobile"),
			}},
			{Op: experiment.RuleAnd, Conditions: []experiment.Condition{
				cond("country", experiment.OpEq, "US"),
			}},
		},
	}}
	if !Evaluate(rules, ctx).Included {
		t.Error("OR tree with one matching branch should include visitor")
	}

	// AND of two rules at the top level: both must pass.
	rules = []experiment.Rule{
		{Op: experiment.RuleAnd, Conditions: []experiment.Condition{cond("country", experiment.OpEq, "US")}},
		{Op: experiment.RuleAnd, Conditions: []experiment.Condition{cond("device", experiment.OpEq, "mobile")}},
	}
	if Evaluate(rules, ctx).Included {
		t.Error("top-level rule list must AND together")
	}
}

func TestEvaluate_BotExclusionBeatsForcedVariant(t *testing.T) {
	ctx := visitor(nil)
	ctx.ForcedVariant = "variant_a"
	ctx.Bot = true

	d := Evaluate(nil, ctx)
	if d.Included || d.ForcedVariant != "" {
		t.Errorf("bot traffic must be excluded even with an override, got %+v", d)
	}

	ctx.Bot = false
	ctx.Internal = true
	d = Evaluate(nil, ctx)
	if d.Included {
		t.Error("internal traffic must be excluded")
	}
}

func TestEvaluate_ForcedVariantPassesThrough(t *testing.T) {
	ctx := visitor(nil)
	ctx.ForcedVariant = "variant_a"

	d := Evaluate(nil, ctx)
	if !d.Included || d.ForcedVariant != "variant_a" {
		t.Errorf("expected included with forced variant, got %+v", d)
	}
}

func TestEvaluateAll(t *testing.T) {
	usOnly := []experiment.Rule{{
		Op:         experiment.RuleAnd,
		Conditions: []experiment.Condition{cond("country", experiment.OpEq, "US")},
	}}

	tests := []*experiment.Test{
		{ID: "t1", Status: experiment.StatusRunning},
		{ID: "t2", Status: experiment.StatusRunning, Rules: usOnly},
		{ID: "t3", Status: experiment.StatusPaused},
		{ID: "t4", Status: experiment.StatusCompleted},
	}

	ctx := visitor(map[string]string{"country": "CA"})
	qualified := EvaluateAll(tests, ctx)
	if len(qualified) != 1 || qualified[0].ID != "t1" {
		t.Fatalf("CA visitor should qualify only for t1, got %d tests", len(qualified))
	}

	ctx = visitor(map[string]string{"country": "US"})
	qualified = EvaluateAll(tests, ctx)
	if len(qualified) != 2 {
		t.Fatalf("US visitor should qualify for t1 and t2, got %d tests", len(qualified))
	}

	ctx.Bot = true
	if got := EvaluateAll(tests, ctx); len(got) != 0 {
		t.Fatalf("bot should qualify for nothing, got %d tests", len(got))
	}
}
