package services_test

import (
	"testing"

	"order-service/services"

	"github.com/stretchr/testify/assert"
)

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func TestAllocate_RemainderGoesToLastGroup(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 4}, services.AllocateDiscount([]int64{100, 200, 300}, 7))
	assert.Equal(t, []int64{1, 2, 4}, services.AllocateCharge([]int64{100, 200, 300}, 7))
}

func TestAllocate_SellerAndHouseBrandSplit(t *testing.T) {
	subtotals := []int64{100000, 50000}

	discount := services.AllocateDiscount(subtotals, 15000)
	shipping := services.AllocateCharge(subtotals, 20000)

	assert.Equal(t, []int64{10000, 5000}, discount)
	assert.Equal(t, []int64{13333, 6667}, shipping)
	assert.Equal(t, int64(15000), sum(discount))
	assert.Equal(t, int64(20000), sum(shipping))
}

func TestAllocate_NonPositiveTotal(t *testing.T) {
	assert.Equal(t, []int64{0, 0}, services.AllocateDiscount([]int64{10, 20}, 0))
	assert.Equal(t, []int64{0, 0}, services.AllocateCharge([]int64{10, 20}, -5))
}

func TestAllocate_DegenerateSubtotals(t *testing.T) {
	// Discounts are never fabricated; charges land on the first group.
	assert.Equal(t, []int64{0, 0, 0}, services.AllocateDiscount([]int64{0, 0, 0}, 500))
	assert.Equal(t, []int64{500, 0, 0}, services.AllocateCharge([]int64{0, 0, 0}, 500))
	assert.Equal(t, []int64{900, 0}, services.AllocateCharge([]int64{-10, 0}, 900))
}

func TestAllocate_NegativeSubtotalWeightsAsZero(t *testing.T) {
	assert.Equal(t, []int64{0, 300}, services.AllocateCharge([]int64{-100, 100}, 300))
}

func TestAllocate_EmptyGroups(t *testing.T) {
	assert.Empty(t, services.AllocateCharge(nil, 100))
}

func TestAllocate_LargeValuesDoNotOverflow(t *testing.T) {
	const huge = int64(1) << 62
	got := services.AllocateCharge([]int64{huge, huge, 1}, huge)
	assert.Equal(t, huge, sum(got))
	for _, v := range got {
		assert.GreaterOrEqual(t, v, int64(0))
	}
}

func FuzzAllocate_SumsToTotal(f *testing.F) {
	f.Add(int64(100), int64(200), int64(300), int64(7))
	f.Add(int64(100000), int64(50000), int64(0), int64(20000))
	f.Add(int64(0), int64(0), int64(0), int64(999))
	f.Add(int64(1), int64(1), int64(1), int64(1)<<62)

	f.Fuzz(func(t *testing.T, a, b, c, total int64) {
		if a < 0 || b < 0 || c < 0 || total < 0 {
			t.Skip()
		}
		subtotals := []int64{a, b, c}

		charge := services.AllocateCharge(subtotals, total)
		if sum(charge) != total {
			t.Fatalf("charge allocation %v of %d sums to %d", charge, total, sum(charge))
		}

		discount := services.AllocateDiscount(subtotals, total)
		if a > 0 || b > 0 || c > 0 {
			if sum(discount) != total {
				t.Fatalf("discount allocation %v of %d sums to %d", discount, total, sum(discount))
			}
		}
		for _, v := range append(charge, discount...) {
			if v < 0 {
				t.Fatalf("negative share in %v / %v", charge, discount)
			}
		}
	})
}
