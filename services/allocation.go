package services

import "math/big"

// AllocateDiscount splits total across groups in proportion to their
// subtotals. When the subtotals sum to zero or less nothing is allocated,
// because there is nothing to discount against.
func AllocateDiscount(subtotals []int64, total int64) []int64 {
	return allocate(subtotals, total, false)
}

// AllocateCharge splits a shipping or tax total across groups in
// proportion to their subtotals. When the subtotals sum to zero or less the
// whole charge goes to the first group so it is still collected.
func AllocateCharge(subtotals []int64, total int64) []int64 {
	return allocate(subtotals, total, true)
}

// allocate floors each proportional share and adds the remainder to the
// last group, so the result always sums to total.
func allocate(subtotals []int64, total int64, chargeFirstOnEmpty bool) []int64 {
	out := make([]int64, len(subtotals))
	if len(subtotals) == 0 || total <= 0 {
		return out
	}

	sum := new(big.Int)
	for _, s := range subtotals {
		if s > 0 {
			sum.Add(sum, big.NewInt(s))
		}
	}

	if sum.Sign() <= 0 {
		if chargeFirstOnEmpty {
			out[0] = total
		}
		return out
	}

	bigTotal := big.NewInt(total)
	share := new(big.Int)
	var allocated int64
	for i, s := range subtotals {
		if s <= 0 {
			continue
		}
		// share <= total, so it always fits in an int64.
		share.Mul(bigTotal, big.NewInt(s))
		share.Quo(share, sum)
		out[i] = share.Int64()
		allocated += out[i]
	}

	out[len(out)-1] += total - allocated
	return out
}
