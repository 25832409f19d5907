// Package hash maps (test, visitor) pairs onto percentage buckets.
//
// The mapping is the anchor for every sticky assignment in the system:
// changing the hash function (or the separator) invalidates all in-flight
// assignments and is a breaking migration.
package hash

import "github.com/twmb/murmur3"

// Bucket returns a deterministic bucket in [0,100) for the pair.
// Murmur3 gives a well-mixed distribution without cryptographic cost.
func Bucket(testID, visitorID string) int {
	h := murmur3.Sum32([]byte(testID + ":" + visitorID))
	return int(h % 100)
}

// InPercentage reports whether a bucket falls inside the first pct
// percent of traffic. Used for gradual rollout gating.
func InPercentage(bucket, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return bucket < pct
}
