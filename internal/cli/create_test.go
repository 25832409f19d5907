package cli

import (
	"testing"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

func TestEvenSplit(t *testing.T) {
	cases := []struct {
		n    int
		want []int
	}{
		{2, []int{50, 50}},
		{3, []int{34, 33, 33}},
		{4, []int{25, 25, 25, 25}},
		{6, []int{20, 16, 16, 16, 16, 16}},
	}

	for _, tc := range cases {
		got := evenSplit(tc.n)
		total := 0
		for i, w := range got {
			total += w
			if w != tc.want[i] {
				t.Errorf("evenSplit(%d)[%d] = %d, want %d", tc.n, i, w, tc.want[i])
			}
		}
		if total != 100 {
			t.Errorf("evenSplit(%d) sums to %d", tc.n, total)
		}
	}
}

func TestBuildVariants(t *testing.T) {
	test := &experiment.Test{ID: "t1", Type: experiment.TypeFixed}
	if err := buildVariants(test, "control, variant_a", "", ""); err != nil {
		t.Fatal(err)
	}
	if len(test.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(test.Variants))
	}
	if !test.Variants[0].Control || test.Variants[1].Control {
		t.Error("first variant should be the control")
	}
	if test.Variants[0].Weight+test.Variants[1].Weight != 100 {
		t.Error("default weights should sum to 100")
	}
	if err := experiment.Validate(test); err != nil {
		t.Errorf("built test should validate: %v", err)
	}
}

func TestBuildVariants_ExplicitWeights(t *testing.T) {
	test := &experiment.Test{ID: "t1", Type: experiment.TypeFixed}
	if err := buildVariants(test, "control,a,b", "20,30,50", ""); err != nil {
		t.Fatal(err)
	}
	if test.Variants[2].Weight != 50 {
		t.Errorf("weight = %d, want 50", test.Variants[2].Weight)
	}
}

func TestBuildVariants_Errors(t *testing.T) {
	test := &experiment.Test{ID: "t1"}
	if err := buildVariants(test, "only-one", "", ""); err == nil {
		t.Error("expected error for a single variant")
	}
	if err := buildVariants(test, "a,b", "50", ""); err == nil {
		t.Error("expected error for weight count mismatch")
	}
	if err := buildVariants(test, "a,b", "x,y", ""); err == nil {
		t.Error("expected error for non-numeric weights")
	}
	if err := buildVariants(test, "a,b", "", "A"); err == nil {
		t.Error("expected error for suffix count mismatch")
	}
}

func TestBuildVariants_ShippingSuffixes(t *testing.T) {
	test := &experiment.Test{ID: "s1", Type: experiment.TypeShipping}
	if err := buildVariants(test, "control,variant_a", "", "A,B"); err != nil {
		t.Fatal(err)
	}
	if test.Variants[0].RateSuffix != "A" || test.Variants[1].RateSuffix != "B" {
		t.Errorf("suffixes not applied: %+v", test.Variants)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
