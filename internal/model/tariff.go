// internal/model/tariff.go
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TariffModel selects the charge rules a provider bills under.
type TariffModel string

const (
	// TariffModelBihar follows the provider's own lifeline registration flag.
	TariffModelBihar TariffModel = "BIHAR"
	// TariffModelCESC always requires lifeline registration. Its FPPCA is published as MVCA.
	TariffModelCESC TariffModel = "CESC"
)

// ParseTariffModel normalizes a stored tariff model. An empty value means BIHAR.
func ParseTariffModel(v string) (TariffModel, error) {
	switch TariffModel(strings.ToUpper(strings.TrimSpace(v))) {
	case "", TariffModelBihar:
		return TariffModelBihar, nil
	case TariffModelCESC:
		return TariffModelCESC, nil
	default:
		return "", fmt.Errorf("unknown tariff model: %s", v)
	}
}

// Provider is an electricity distribution company.
type Provider struct {
	ID          uuid.UUID   `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Active      bool        `json:"active"`
	TariffModel TariffModel `json:"tariff_model"`

	SupportsLifeline             bool            `json:"supports_lifeline"`
	LifelineThresholdUnits       decimal.Decimal `json:"lifeline_threshold_units"`
	LifelineRequiresRegistration bool            `json:"lifeline_requires_registration"`
	SupportsTimelyRebate         bool            `json:"supports_timely_rebate"`

	// FixedChargePerKVA is billed per kVA of sanctioned load.
	FixedChargePerKVA     decimal.Decimal `json:"fixed_charge_per_kva"`
	MeterRent             decimal.Decimal `json:"meter_rent"`
	GovernmentDutyPercent decimal.Decimal `json:"government_duty_percent"`
}

// TariffVersion is a dated rate plan for one provider and consumption category.
type TariffVersion struct {
	ID            uuid.UUID `json:"id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	Code          string    `json:"code"`
	Category      string    `json:"category"`
	EffectiveFrom time.Time `json:"effective_from"`
	Active        bool      `json:"active"`
	Description   string    `json:"description,omitempty"`
}

// TariffSlab is one consumption tier of a tariff version.
// MaxUnit is inclusive; nil means the slab is unbounded.
type TariffSlab struct {
	ID              uuid.UUID        `json:"id"`
	TariffVersionID uuid.UUID        `json:"tariff_version_id"`
	MinUnit         decimal.Decimal  `json:"min_unit"`
	MaxUnit         *decimal.Decimal `json:"max_unit"`
	RatePerUnit     decimal.Decimal  `json:"rate_per_unit"`
	Position        int              `json:"position"`
}

// Capacity returns the number of units the slab can absorb and whether it is bounded.
// Bounds are inclusive unit numbers, so a slab holds max-min+1 units. Unit numbering
// starts at 1: a first slab written as 0-100 holds the first 100 units.
func (s TariffSlab) Capacity() (decimal.Decimal, bool) {
	if s.MaxUnit == nil {
		return decimal.Zero, false
	}
	first := decimal.Max(s.MinUnit, one)
	return decimal.Max(s.MaxUnit.Sub(first).Add(one), decimal.Zero), true
}

var one = decimal.NewFromInt(1)

// FppcaRate is the per-unit fuel and power purchase cost adjustment for a month.
type FppcaRate struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	Year       int             `json:"year"`
	Month      int             `json:"month"`
	Rate       decimal.Decimal `json:"rate"`
}

// Rebate rule codes with built-in eligibility handling.
const (
	RebateCodeTimelyPayment = "TIMELY_PAYMENT"
	RebateCodeGovtSubsidy   = "GOVT_SUBSIDY"
)

// AppliesTo names the charge base a rebate percentage is taken from.
type AppliesTo string

const (
	AppliesToEnergyAndFixed AppliesTo = "ENERGY_AND_FIXED"
	AppliesToEnergy         AppliesTo = "ENERGY"
	AppliesToTotal          AppliesTo = "TOTAL"
)

// ParseAppliesTo rejects bases outside the closed set.
func ParseAppliesTo(v string) (AppliesTo, error) {
	switch b := AppliesTo(strings.ToUpper(strings.TrimSpace(v))); b {
	case AppliesToEnergyAndFixed, AppliesToEnergy, AppliesToTotal:
		return b, nil
	default:
		return "", fmt.Errorf("unknown rebate base: %s", v)
	}
}

// RebateRule is a provider-scoped deduction policy.
type RebateRule struct {
	ID          uuid.UUID       `json:"id"`
	ProviderID  uuid.UUID       `json:"provider_id"`
	Code        string          `json:"code"`
	Percent     decimal.Decimal `json:"percent"`
	AmountFixed decimal.Decimal `json:"amount_fixed"`
	AppliesTo   AppliesTo       `json:"applies_to"`
	Active      bool            `json:"active"`
}
