package models

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderIdempotencyKey is the stored key of the order for group index of a
// checkout. The format is shared with already persisted rows.
func OrderIdempotencyKey(checkoutKey string, index int) string {
	return fmt.Sprintf("%s:%d", checkoutKey, index)
}

// PaymentIdempotencyKey is the key sent to the payment service for group
// index of a checkout.
func PaymentIdempotencyKey(checkoutKey string, index int) string {
	return fmt.Sprintf("payment:%s:%d", checkoutKey, index)
}

// GroupIndex extracts the group index from a stored key belonging to
// checkoutKey. ok is false when stored was not derived from checkoutKey.
func GroupIndex(checkoutKey, stored string) (index int, ok bool) {
	suffix, found := strings.CutPrefix(stored, checkoutKey+":")
	if !found || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return index, true
}
