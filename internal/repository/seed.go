package repository

import (
	"time"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Categories present in the reference data.
const (
	CategoryRuralDomestic = "rural-domestic"
	CategoryUrbanDomestic = "urban-domestic"
	CategoryDomestic      = "domestic"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func dp(v string) *decimal.Decimal {
	x := decimal.RequireFromString(v)
	return &x
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func slab(pos int, min string, max *decimal.Decimal, rate string) model.TariffSlab {
	return model.TariffSlab{Position: pos, MinUnit: d(min), MaxUnit: max, RatePerUnit: d(rate)}
}

// NewSeededMemory returns an in-memory repository loaded with reference tariffs for
// SBPDCL (Bihar model) and CESC (CESC model).
func NewSeededMemory() *Memory {
	m := NewMemory()
	Seed(m)
	return m
}

// Seed loads the reference tariffs into m.
func Seed(m *Memory) {
	sb := m.AddProvider(model.Provider{
		Code:                   "SBPDCL",
		Name:                   "South Bihar Power Distribution Company Ltd",
		Active:                 true,
		TariffModel:            model.TariffModelBihar,
		SupportsLifeline:       true,
		LifelineThresholdUnits: d("50"),
		SupportsTimelyRebate:   true,
		FixedChargePerKVA:      d("50"),
		MeterRent:              d("0"),
		GovernmentDutyPercent:  d("5"),
	})

	m.AddTariffVersion(model.TariffVersion{
		ProviderID:    sb.ID,
		Code:          "SBPDCL-DS1-2023",
		Category:      CategoryRuralDomestic,
		EffectiveFrom: date(2023, time.April, 1),
		Active:        true,
		Description:   "Kutir Jyoti and rural domestic, FY 2023-24",
	}, slab(1, "0", dp("50"), "2.45"), slab(2, "51", nil, "2.80"))

	m.AddTariffVersion(model.TariffVersion{
		ProviderID:    sb.ID,
		Code:          "SBPDCL-DS2-2023",
		Category:      CategoryUrbanDomestic,
		EffectiveFrom: date(2023, time.April, 1),
		Active:        true,
		Description:   "Urban domestic, FY 2023-24",
	}, slab(1, "0", dp("100"), "3.95"), slab(2, "101", nil, "4.55"))

	m.AddTariffVersion(model.TariffVersion{
		ProviderID:    sb.ID,
		Code:          "SBPDCL-DS2-2024",
		Category:      CategoryUrbanDomestic,
		EffectiveFrom: date(2024, time.April, 1),
		Active:        true,
		Description:   "Urban domestic, FY 2024-25",
	}, slab(1, "0", dp("100"), "4.12"), slab(2, "101", dp("200"), "4.73"), slab(3, "201", nil, "5.85"))

	for month := 1; month <= 12; month++ {
		m.AddFppcaRate(model.FppcaRate{ProviderID: sb.ID, Year: 2024, Month: month, Rate: d("0.50")})
	}

	m.AddRebateRule(model.RebateRule{
		ProviderID: sb.ID,
		Code:       model.RebateCodeTimelyPayment,
		Percent:    d("1.5"),
		AppliesTo:  model.AppliesToEnergyAndFixed,
		Active:     true,
	})
	m.AddRebateRule(model.RebateRule{
		ProviderID:  sb.ID,
		Code:        model.RebateCodeGovtSubsidy,
		Percent:     d("0"),
		AmountFixed: d("0"),
		AppliesTo:   model.AppliesToEnergy,
		Active:      false,
	})

	cesc := m.AddProvider(model.Provider{
		Code:                         "CESC",
		Name:                         "CESC Limited",
		Active:                       true,
		TariffModel:                  model.TariffModelCESC,
		SupportsLifeline:             true,
		LifelineThresholdUnits:       d("25"),
		LifelineRequiresRegistration: true,
		SupportsTimelyRebate:         true,
		FixedChargePerKVA:            d("15"),
		MeterRent:                    d("10"),
		GovernmentDutyPercent:        d("10"),
	})

	m.AddTariffVersion(model.TariffVersion{
		ProviderID:    cesc.ID,
		Code:          "CESC-DOM-2024",
		Category:      CategoryDomestic,
		EffectiveFrom: date(2024, time.April, 1),
		Active:        true,
		Description:   "Domestic (urban), FY 2024-25",
	},
		slab(1, "0", dp("25"), "5.12"),
		slab(2, "26", dp("60"), "5.74"),
		slab(3, "61", dp("100"), "6.86"),
		slab(4, "101", dp("150"), "7.23"),
		slab(5, "151", dp("300"), "7.59"),
		slab(6, "301", nil, "8.90"),
	)

	for month := 4; month <= 12; month++ {
		m.AddFppcaRate(model.FppcaRate{ProviderID: cesc.ID, Year: 2024, Month: month, Rate: d("0.26")})
	}

	m.AddRebateRule(model.RebateRule{
		ProviderID: cesc.ID,
		Code:       model.RebateCodeTimelyPayment,
		Percent:    d("2"),
		AppliesTo:  model.AppliesToEnergy,
		Active:     true,
	})
	m.AddRebateRule(model.RebateRule{
		ProviderID:  cesc.ID,
		Code:        model.RebateCodeGovtSubsidy,
		AmountFixed: d("20"),
		AppliesTo:   model.AppliesToTotal,
		Active:      true,
	})
}
