package experiment

import (
	"reflect"
	"testing"
)

func TestExtractRateSuffix_Valid(t *testing.T) {
	cases := map[string]string{
		"Standard Shipping (A)": "A",
		"Free Shipping (B)":     "B",
		"Express (C)":           "C",
		"Overnight (D)":         "D",
	}
	for title, want := range cases {
		if got := ExtractRateSuffix(title); got != want {
			t.Errorf("ExtractRateSuffix(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestExtractRateSuffix_Invalid(t *testing.T) {
	for _, title := range []string{
		"Express Shipping",       // no suffix
		"Standard Shipping (E)",  // unknown group
		"Standard Shipping (AB)", // too long
		"Standard (A) Shipping",  // suffix not at end
		"(A",
		"",
	} {
		if got := ExtractRateSuffix(title); got != "" {
			t.Errorf("ExtractRateSuffix(%q) = %q, want empty", title, got)
		}
	}
}

func TestRatesToHide(t *testing.T) {
	rates := []string{
		"Standard Shipping (A)",
		"Standard Shipping (B)",
		"Express Shipping", // unsuffixed, always shown
	}

	hide := RatesToHide(rates, "A")
	want := []string{"Standard Shipping (B)"}
	if !reflect.DeepEqual(hide, want) {
		t.Errorf("RatesToHide = %v, want %v", hide, want)
	}

	if got := RatesToHide(rates, ""); got != nil {
		t.Errorf("unassigned visitor should see all rates, got hide list %v", got)
	}
}
