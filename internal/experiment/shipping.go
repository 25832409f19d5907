package experiment

import "strings"

// Shipping tests expose one rate group per variant. Rates are named with
// a trailing single-letter suffix, e.g. "Standard Shipping (A)". Rates
// without a suffix are shown to everyone.

// ValidRateSuffix reports whether s is a recognized rate group.
func ValidRateSuffix(s string) bool {
	switch s {
	case "A", "B", "C", "D":
		return true
	}
	return false
}

// ExtractRateSuffix parses the rate group out of a shipping rate title:
// "Standard Shipping (A)" -> "A". Returns "" when the title carries no
// valid suffix.
func ExtractRateSuffix(title string) string {
	start := strings.LastIndex(title, "(")
	end := strings.LastIndex(title, ")")
	if start < 0 || end < 0 || start >= end || end != len(title)-1 {
		return ""
	}
	suffix := title[start+1 : end]
	if !ValidRateSuffix(suffix) {
		return ""
	}
	return suffix
}

// RatesToHide returns the shipping rate titles that should be hidden
// from a visitor assigned to the variant with the given rate suffix.
// Unsuffixed rates are never hidden; an empty suffix hides nothing.
func RatesToHide(rateTitles []string, variantSuffix string) []string {
	if variantSuffix == "" {
		return nil
	}
	var hide []string
	for _, title := range rateTitles {
		s := ExtractRateSuffix(title)
		if s != "" && s != variantSuffix {
			hide = append(hide, title)
		}
	}
	return hide
}
