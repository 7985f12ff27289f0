// internal/model/bill.go
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func init() {
	// Units, rates and loads go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// BillingPeriod is a calendar month.
type BillingPeriod struct {
	Year  int
	Month int
}

// Start returns the first day of the period; tariff versions are resolved as of this date.
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// BillRequest is the caller's input to a bill computation.
// The target provider is always named explicitly.
type BillRequest struct {
	ProviderCode         string          `json:"provider_code" validate:"required"`
	Category             string          `json:"category" validate:"required"`
	Year                 int             `json:"year" validate:"gte=2000"`
	Month                int             `json:"month" validate:"min=1,max=12"`
	UnitsKWh             decimal.Decimal `json:"units_kwh"`
	SanctionedLoadKVA    decimal.Decimal `json:"sanctioned_load_kva"`
	TimelyPaymentOptIn   bool            `json:"timely_payment_opt_in,omitempty"`
	IsLifelineRegistered bool            `json:"is_lifeline_registered,omitempty"`
}

// Period returns the billing month of the request.
func (r *BillRequest) Period() BillingPeriod {
	return BillingPeriod{Year: r.Year, Month: r.Month}
}

// Validate checks the request shape. It never touches any data source.
func (r *BillRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	if r.UnitsKWh.IsNegative() {
		return fmt.Errorf("units_kwh cannot be negative")
	}
	if r.SanctionedLoadKVA.IsNegative() {
		return fmt.Errorf("sanctioned_load_kva cannot be negative")
	}
	return nil
}

// Money is a currency amount rounded to two places. It encodes with exactly two decimals.
type Money struct {
	decimal.Decimal
}

// NewMoney rounds d half away from zero to two places.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d.Round(2)}
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Decimal: m.Decimal.Add(o.Decimal)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{Decimal: m.Decimal.Sub(o.Decimal)}
}

// Breakdown holds the rounded charge components of a bill.
type Breakdown struct {
	EnergyCharge Money            `json:"energy_charge"`
	FixedCharge  Money            `json:"fixed_charge"`
	FppcaCharge  Money            `json:"fppca_charge"`
	DutyCharge   Money            `json:"duty_charge"`
	MeterRent    Money            `json:"meter_rent"`
	Rebates      map[string]Money `json:"rebates"`
}

// AppliedRules reports which eligibility rules matched.
type AppliedRules struct {
	LifelineApplied      bool `json:"lifeline_applied"`
	TimelyPaymentApplied bool `json:"timely_payment_applied"`
}

// SlabCharge is one line of the per-slab trace.
type SlabCharge struct {
	MinUnit decimal.Decimal  `json:"min_unit"`
	MaxUnit *decimal.Decimal `json:"max_unit"`
	Units   decimal.Decimal  `json:"units"`
	Rate    decimal.Decimal  `json:"rate"`
	Amount  Money            `json:"amount"`
}

// Warnings carries non-fatal anomalies found while billing.
type Warnings struct {
	FppcaMissing bool `json:"fppca_missing,omitempty"`
}

// BillResult is the full computed bill.
type BillResult struct {
	ProviderCode  string          `json:"provider_code"`
	Category      string          `json:"category"`
	Year          int             `json:"year"`
	Month         int             `json:"month"`
	UnitsKWh      decimal.Decimal `json:"units_kwh"`
	TariffVersion string          `json:"tariff_version"`

	Breakdown         Breakdown    `json:"breakdown"`
	TotalBeforeRebate Money        `json:"total_before_rebate"`
	TotalRebate       Money        `json:"total_rebate"`
	TotalPayable      Money        `json:"total_payable"`
	AppliedRules      AppliedRules `json:"applied_rules"`
	SlabWise          []SlabCharge `json:"slab_wise"`
	Warnings          *Warnings    `json:"warnings,omitempty"`
}
