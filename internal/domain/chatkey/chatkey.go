// Package chatkey derives the canonical id of a conversation from its two
// participants and optional listing, so that either side computes the same
// key without a lookup.
package chatkey

import (
	"sort"
	"strings"

	"pasarchat/pkg/errors"
)

const separator = "_"

// Compute returns "{lo}_{hi}" or "{lo}_{hi}_{productID}" where lo and hi are
// the two user ids in sorted order. It is commutative in userA and userB.
func Compute(userA, userB, productID string) (string, error) {
	if userA == "" || userB == "" {
		return "", errors.InvalidParticipants("Both participants are required")
	}
	if userA == userB {
		return "", errors.InvalidParticipants("A chat needs two different participants")
	}
	if !validPart(userA) || !validPart(userB) {
		return "", errors.InvalidParticipants("Participant ids must not contain '_' or '/'")
	}
	if productID != "" && !validPart(productID) {
		return "", errors.Validation("Product id must not contain '_' or '/'")
	}

	ids := []string{userA, userB}
	sort.Strings(ids)
	if productID == "" {
		return ids[0] + separator + ids[1], nil
	}
	return ids[0] + separator + ids[1] + separator + productID, nil
}

// validPart keeps keys unambiguous: with '_' banned inside parts, a general
// key can never equal a product-scoped one. '/' is a document path separator.
func validPart(s string) bool {
	return !strings.ContainsAny(s, separator+"/")
}
