package billing

import (
	"context"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Surcharges are the non-energy charges of a bill, unrounded.
type Surcharges struct {
	Fixed        decimal.Decimal
	MeterRent    decimal.Decimal
	Fppca        decimal.Decimal
	Duty         decimal.Decimal
	FppcaMissing bool
}

// Aggregator computes fixed charge, meter rent, FPPCA and duty.
type Aggregator struct {
	repo TariffRepository
}

// NewAggregator creates an Aggregator reading FPPCA rates from repo.
func NewAggregator(repo TariffRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Aggregate looks up the period's FPPCA rate and computes the surcharges for a bill whose
// unrounded energy charge is energy. A missing FPPCA rate is reported, not returned as an error.
func (a *Aggregator) Aggregate(ctx context.Context, provider *model.Provider, loadKVA, units, energy decimal.Decimal, period model.BillingPeriod) (Surcharges, error) {
	rate, err := a.repo.GetFppcaRate(ctx, provider.ID, period.Year, period.Month)
	if err != nil {
		return Surcharges{}, repositoryError(err, "get fppca rate")
	}
	return computeSurcharges(provider, loadKVA, units, energy, rate), nil
}

func computeSurcharges(provider *model.Provider, loadKVA, units, energy decimal.Decimal, rate *model.FppcaRate) Surcharges {
	s := Surcharges{
		Fixed:     loadKVA.Mul(provider.FixedChargePerKVA),
		MeterRent: provider.MeterRent,
		Fppca:     decimal.Zero,
	}
	if rate == nil {
		s.FppcaMissing = true
	} else {
		s.Fppca = units.Mul(rate.Rate)
	}

	s.Duty = dutyBase(energy, s.Fixed).Mul(provider.GovernmentDutyPercent).Div(hundred)
	return s
}

// dutyBase is the amount government duty is levied on: energy and fixed charges only,
// never FPPCA or meter rent.
func dutyBase(energy, fixed decimal.Decimal) decimal.Decimal {
	return energy.Add(fixed)
}
