package billing

import (
	"testing"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

func threeSlabs() []model.TariffSlab {
	return []model.TariffSlab{
		{Position: 1, MinUnit: d("0"), MaxUnit: dp("100"), RatePerUnit: d("4.12")},
		{Position: 2, MinUnit: d("101"), MaxUnit: dp("200"), RatePerUnit: d("4.73")},
		{Position: 3, MinUnit: d("201"), MaxUnit: nil, RatePerUnit: d("5.85")},
	}
}

func TestTariffSlab_Capacity(t *testing.T) {
	slabs := threeSlabs()

	c, bounded := slabs[0].Capacity()
	assert.True(t, bounded)
	assert.True(t, c.Equal(d("100")), "0-100 holds %s units", c)

	c, bounded = slabs[1].Capacity()
	assert.True(t, bounded)
	assert.True(t, c.Equal(d("100")))

	_, bounded = slabs[2].Capacity()
	assert.False(t, bounded)

	c, _ = model.TariffSlab{MinUnit: d("51"), MaxUnit: dp("100")}.Capacity()
	assert.True(t, c.Equal(d("50")))
	c, _ = model.TariffSlab{MinUnit: d("1"), MaxUnit: dp("50")}.Capacity()
	assert.True(t, c.Equal(d("50")))
}

func TestApplySlabs(t *testing.T) {
	tests := []struct {
		name       string
		units      string
		wantEnergy string
		wantUnits  []string
	}{
		{name: "zero units", units: "0", wantEnergy: "0", wantUnits: nil},
		{name: "within first slab", units: "40", wantEnergy: "164.8", wantUnits: []string{"40"}},
		{name: "fills first slab exactly", units: "100", wantEnergy: "412", wantUnits: []string{"100"}},
		{name: "spills into second", units: "150", wantEnergy: "648.5", wantUnits: []string{"100", "50"}},
		{name: "unbounded last slab absorbs rest", units: "500", wantEnergy: "2640", wantUnits: []string{"100", "100", "300"}},
		{name: "fractional units", units: "0.5", wantEnergy: "2.06", wantUnits: []string{"0.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			energy, trace := ApplySlabs(d(tt.units), threeSlabs())
			assert.True(t, energy.Equal(d(tt.wantEnergy)), "energy %s, want %s", energy, tt.wantEnergy)
			require.Len(t, trace, len(tt.wantUnits))
			for i, want := range tt.wantUnits {
				assert.True(t, trace[i].Units.Equal(d(want)), "slab %d units %s, want %s", i, trace[i].Units, want)
				assert.True(t, trace[i].Amount.Equal(trace[i].Units.Mul(trace[i].Slab.RatePerUnit)))
			}
		})
	}
}

func TestApplySlabs_OrdersByPosition(t *testing.T) {
	slabs := threeSlabs()
	shuffled := []model.TariffSlab{slabs[2], slabs[0], slabs[1]}

	energy, trace := ApplySlabs(d("250"), shuffled)
	require.Len(t, trace, 3)
	assert.Equal(t, 1, trace[0].Slab.Position)
	assert.Equal(t, 2, trace[1].Slab.Position)
	assert.Equal(t, 3, trace[2].Slab.Position)
	assert.True(t, energy.Equal(d("1177.5")), "energy %s", energy)
	// The caller's slice is left untouched.
	assert.Equal(t, 3, shuffled[0].Position)
}

func TestApplySlabs_UnitsBeyondCoverageAreNotBilled(t *testing.T) {
	slabs := threeSlabs()[:2]

	energy, trace := ApplySlabs(d("250"), slabs)
	require.Len(t, trace, 2)
	allocated := trace[0].Units.Add(trace[1].Units)
	assert.True(t, allocated.Equal(d("200")))
	assert.True(t, energy.Equal(d("885")))
}

func TestApplySlabs_NoSlabs(t *testing.T) {
	energy, trace := ApplySlabs(d("10"), nil)
	assert.True(t, energy.IsZero())
	assert.Empty(t, trace)
}

func TestComputeSurcharges(t *testing.T) {
	provider := &model.Provider{
		FixedChargePerKVA:     d("50"),
		MeterRent:             d("10"),
		GovernmentDutyPercent: d("5"),
	}
	rate := &model.FppcaRate{Rate: d("0.50")}

	t.Run("duty excludes fppca and meter rent", func(t *testing.T) {
		s := computeSurcharges(provider, d("1.0"), d("40"), d("98"), rate)
		assert.True(t, s.Fixed.Equal(d("50")))
		assert.True(t, s.MeterRent.Equal(d("10")))
		assert.True(t, s.Fppca.Equal(d("20")))
		// (98 + 50) * 5%
		assert.True(t, s.Duty.Equal(d("7.4")), "duty %s", s.Duty)
		assert.False(t, s.FppcaMissing)
	})

	t.Run("duty unchanged without fppca", func(t *testing.T) {
		s := computeSurcharges(provider, d("1.0"), d("40"), d("98"), nil)
		assert.True(t, s.Duty.Equal(d("7.4")), "duty %s", s.Duty)
	})

	t.Run("missing rate", func(t *testing.T) {
		s := computeSurcharges(provider, d("2.5"), d("40"), d("98"), nil)
		assert.True(t, s.FppcaMissing)
		assert.True(t, s.Fppca.IsZero())
		assert.True(t, s.Fixed.Equal(d("125")))
	})
}

func TestTariffModelFor(t *testing.T) {
	tm, err := tariffModelFor(&model.Provider{})
	require.NoError(t, err)
	assert.IsType(t, biharModel{}, tm)

	assert.False(t, tm.lifelineRequiresRegistration(&model.Provider{}))
	assert.True(t, tm.lifelineRequiresRegistration(&model.Provider{LifelineRequiresRegistration: true}))

	tm, err = tariffModelFor(&model.Provider{TariffModel: model.TariffModelCESC})
	require.NoError(t, err)
	assert.IsType(t, cescModel{}, tm)
	assert.True(t, tm.lifelineRequiresRegistration(&model.Provider{}))

	_, err = tariffModelFor(&model.Provider{Code: "X", TariffModel: "FLAT"})
	assert.ErrorIs(t, err, ErrTariffNotFound)
}

func TestRebateBase(t *testing.T) {
	c := Charges{Energy: d("100"), Fixed: d("20"), Fppca: d("5"), Duty: d("6"), MeterRent: d("10")}

	assert.True(t, rebateBase(model.AppliesToEnergyAndFixed, c).Equal(d("120")))
	assert.True(t, rebateBase(model.AppliesToEnergy, c).Equal(d("100")))
	assert.True(t, rebateBase(model.AppliesToTotal, c).Equal(d("141")))
	assert.True(t, rebateBase("SOMETHING_ELSE", c).IsZero())
}

func TestEvaluateRebates_SumsSameCode(t *testing.T) {
	provider := &model.Provider{SupportsTimelyRebate: false}
	rules := []model.RebateRule{
		{Code: model.RebateCodeGovtSubsidy, Percent: d("1"), AppliesTo: model.AppliesToEnergy, Active: true},
		{Code: model.RebateCodeGovtSubsidy, AmountFixed: d("2.505"), AppliesTo: model.AppliesToEnergy, Active: true},
		{Code: model.RebateCodeTimelyPayment, Percent: d("50"), AppliesTo: model.AppliesToEnergy, Active: true},
		{Code: model.RebateCodeGovtSubsidy, Percent: d("90"), AppliesTo: model.AppliesToEnergy, Active: false},
	}
	req := &model.BillRequest{TimelyPaymentOptIn: true}

	res := EvaluateRebates(provider, rules, req, Charges{Energy: d("100")})
	require.Len(t, res.Amounts, 1)
	assert.Equal(t, "3.51", res.Amounts[model.RebateCodeGovtSubsidy].StringFixed(2))
	assert.Equal(t, "3.51", res.Total.StringFixed(2))
	// The provider does not offer the timely payment rebate.
	assert.False(t, res.TimelyPaymentApplied)
}

func TestLifelineEligible(t *testing.T) {
	provider := &model.Provider{SupportsLifeline: true, LifelineThresholdUnits: d("50")}

	assert.True(t, LifelineEligible(provider, &model.BillRequest{UnitsKWh: d("50")}))
	assert.False(t, LifelineEligible(provider, &model.BillRequest{UnitsKWh: d("50.01")}))
	assert.False(t, LifelineEligible(&model.Provider{LifelineThresholdUnits: d("50")}, &model.BillRequest{UnitsKWh: d("10")}))

	provider.LifelineRequiresRegistration = true
	assert.False(t, LifelineEligible(provider, &model.BillRequest{UnitsKWh: d("10")}))
	assert.True(t, LifelineEligible(provider, &model.BillRequest{UnitsKWh: d("10"), IsLifelineRegistered: true}))

	cesc := &model.Provider{TariffModel: model.TariffModelCESC, SupportsLifeline: true, LifelineThresholdUnits: d("25")}
	assert.False(t, LifelineEligible(cesc, &model.BillRequest{UnitsKWh: d("10")}))
	assert.True(t, LifelineEligible(cesc, &model.BillRequest{UnitsKWh: d("10"), IsLifelineRegistered: true}))

	unsupported := &model.Provider{TariffModel: "FLAT", SupportsLifeline: true, LifelineThresholdUnits: d("25")}
	assert.False(t, LifelineEligible(unsupported, &model.BillRequest{UnitsKWh: d("10"), IsLifelineRegistered: true}))
}
