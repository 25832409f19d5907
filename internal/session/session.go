// Package session is the boundary to the cookie/session layer: stable
// visitor ids and a compact codec for the per-visitor assignment set.
//
// The serialized form travels in a cookie owned by the surrounding web
// layer. It is a hint only: the store remains the system of record and
// the engine re-verifies hints against it.
package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ResolveVisitorID returns the existing id when present, otherwise
// mints a new one. Ids are opaque; nothing downstream parses them.
func ResolveVisitorID(existing string) string {
	if existing != "" {
		return existing
	}
	return uuid.NewString()
}

// EncodeAssignments serializes a testID -> variantID map as
// "test:variant|test:variant", sorted for a stable cookie value.
// Ids containing the separators are skipped rather than corrupting
// the encoding.
func EncodeAssignments(assignments map[string]string) string {
	pairs := make([]string, 0, len(assignments))
	for testID, variantID := range assignments {
		if strings.ContainsAny(testID, ":|") || strings.ContainsAny(variantID, ":|") {
			continue
		}
		pairs = append(pairs, testID+":"+variantID)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}

// DecodeAssignments parses the cookie form back into a map. Malformed
// input is an error: a corrupt cookie should be discarded and rebuilt
// from the store, not partially trusted.
func DecodeAssignments(encoded string) (map[string]string, error) {
	out := make(map[string]string)
	if encoded == "" {
		return out, nil
	}
	for _, pair := range strings.Split(encoded, "|") {
		testID, variantID, ok := strings.Cut(pair, ":")
		if !ok || testID == "" || variantID == "" {
			return nil, fmt.Errorf("malformed assignment pair %q", pair)
		}
		out[testID] = variantID
	}
	return out, nil
}
