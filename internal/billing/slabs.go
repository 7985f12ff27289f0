package billing

import (
	"cmp"
	"slices"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/shopspring/decimal"
)

// SlabAllocation records how many units one slab absorbed. Amount is unrounded.
type SlabAllocation struct {
	Slab   model.TariffSlab
	Units  decimal.Decimal
	Amount decimal.Decimal
}

// ApplySlabs spreads units over slabs in ascending position order and returns the
// unrounded energy charge with one allocation per slab that received units.
// units must not be negative.
func ApplySlabs(units decimal.Decimal, slabs []model.TariffSlab) (decimal.Decimal, []SlabAllocation) {
	ordered := slices.Clone(slabs)
	slices.SortStableFunc(ordered, func(a, b model.TariffSlab) int {
		return cmp.Compare(a.Position, b.Position)
	})

	energy := decimal.Zero
	remaining := units
	trace := make([]SlabAllocation, 0, len(ordered))

	for _, slab := range ordered {
		if remaining.Sign() <= 0 {
			break
		}
		allocated := remaining
		if capacity, bounded := slab.Capacity(); bounded {
			allocated = decimal.Min(remaining, capacity)
		}
		if allocated.Sign() <= 0 {
			continue
		}
		amount := allocated.Mul(slab.RatePerUnit)
		energy = energy.Add(amount)
		remaining = remaining.Sub(allocated)
		trace = append(trace, SlabAllocation{Slab: slab, Units: allocated, Amount: amount})
	}
	return energy, trace
}
