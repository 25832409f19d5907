// Package allocate maps hash buckets onto variants.
package allocate

import (
	"sort"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

// Allocate selects a variant for a bucket in [0,100). Fixed and shipping
// tests split the bucket space by declared weights; bandit tests run
// epsilon-greedy over the supplied arm snapshot. The snapshot is read
// only; reward updates happen elsewhere, asynchronously.
func Allocate(t *experiment.Test, arms []experiment.BanditArm, bucket int) (string, error) {
	if len(t.Variants) == 0 {
		return "", experiment.ErrNoVariants
	}
	if len(t.Variants) == 1 {
		return t.Variants[0].ID, nil
	}

	if t.Type == experiment.TypeBandit {
		return allocateBandit(t, arms, bucket), nil
	}
	return allocateFixed(t, bucket)
}

// allocateFixed picks the variant whose cumulative weight range contains
// the bucket. Ranges follow declaration order: weights 50/50 give
// control buckets 0-49 and the challenger 50-99.
func allocateFixed(t *experiment.Test, bucket int) (string, error) {
	cumulative := make([]int, len(t.Variants))
	sum := 0
	for i, v := range t.Variants {
		if v.Weight < 0 {
			return "", &experiment.ConfigurationError{TestID: t.ID, Reason: "negative variant weight"}
		}
		sum += v.Weight
		cumulative[i] = sum
	}
	if sum != 100 {
		return "", &experiment.ConfigurationError{TestID: t.ID, Reason: "variant weights do not sum to 100"}
	}

	idx := sort.Search(len(cumulative), func(i int) bool {
		return cumulative[i] > bucket
	})
	return t.Variants[idx].ID, nil
}

// allocateBandit is epsilon-greedy with the visitor's bucket standing in
// for the random draw: exploration and the uniform arm pick are both
// derived from the bucket, so the same visitor always resolves to the
// same variant for a given reward snapshot.
func allocateBandit(t *experiment.Test, arms []experiment.BanditArm, bucket int) string {
	rate := t.ExplorationRate
	if float64(bucket) < rate*100 {
		return t.Variants[bucket%len(t.Variants)].ID
	}

	byVariant := make(map[string]experiment.BanditArm, len(arms))
	for _, a := range arms {
		byVariant[a.VariantID] = a
	}

	// Exploit: highest reward rate, ties to the lowest declaration index.
	best := 0
	bestRate := byVariant[t.Variants[0].ID].Rate()
	for i := 1; i < len(t.Variants); i++ {
		if r := byVariant[t.Variants[i].ID].Rate(); r > bestRate {
			best = i
			bestRate = r
		}
	}
	return t.Variants[best].ID
}
