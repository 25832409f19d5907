package track

import (
	"sort"
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

// Exposure is one test's claim on a visitor: the visitor saw this
// test's variant at ExposedAt.
type Exposure struct {
	TestID    string
	VariantID string
	ExposedAt time.Time
}

// MergeAttributions picks which exposure may claim a conversion when a
// visitor was exposed to several tests. Precedence is deterministic:
// tests that declare themselves mutually exclusive with another
// candidate outrank the rest, then the most recent exposure wins.
// Returns false when there are no candidates.
func MergeAttributions(exposures []Exposure, tests map[string]*experiment.Test) (Exposure, bool) {
	if len(exposures) == 0 {
		return Exposure{}, false
	}

	candidates := make([]Exposure, len(exposures))
	copy(candidates, exposures)

	// Most recent first; ties break on test id so the result is stable
	// regardless of input order.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ExposedAt.Equal(candidates[j].ExposedAt) {
			return candidates[i].ExposedAt.After(candidates[j].ExposedAt)
		}
		return candidates[i].TestID < candidates[j].TestID
	})

	for _, c := range candidates {
		t, ok := tests[c.TestID]
		if !ok {
			continue
		}
		for _, other := range candidates {
			if other.TestID != c.TestID && t.ExclusiveWith(other.TestID) {
				return c, true
			}
		}
	}

	return candidates[0], true
}
