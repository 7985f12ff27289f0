// Package billing computes electricity bills from versioned tariff data.
//
// A bill is produced in four stages: the Resolver picks the provider and tariff
// version, ApplySlabs prices the consumption, the Aggregator adds fixed charge,
// meter rent, FPPCA and duty, and EvaluateRebates computes deductions. The Engine
// validates the request, runs the stages and assembles the rounded result.
package billing

import (
	"context"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"go.uber.org/zap"
)

// Engine computes bills. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	repo       TariffRepository
	resolver   *Resolver
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewEngine creates an Engine reading tariff data from repo.
func NewEngine(repo TariffRepository, logger *zap.Logger) *Engine {
	return &Engine{
		repo:       repo,
		resolver:   NewResolver(repo),
		aggregator: NewAggregator(repo),
		logger:     logger,
	}
}

// Calculate computes the bill for req. Request validation happens before any repository call.
func (e *Engine) Calculate(ctx context.Context, req model.BillRequest) (*model.BillResult, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidInput(err)
	}
	period := req.Period()

	provider, version, err := e.resolver.Resolve(ctx, req.ProviderCode, req.Category, period)
	if err != nil {
		return nil, err
	}
	tm, err := tariffModelFor(provider)
	if err != nil {
		return nil, err
	}

	slabs, err := e.repo.GetSlabs(ctx, version.ID)
	if err != nil {
		return nil, repositoryError(err, "get slabs")
	}
	energy, allocations := ApplySlabs(req.UnitsKWh, slabs)
	e.logger.Debug("Slabs applied",
		zap.String("provider", provider.Code),
		zap.String("tariff_version", version.Code),
		zap.Int("slabs", len(slabs)),
		zap.String("energy_charge", energy.String()),
	)

	surcharges, err := e.aggregator.Aggregate(ctx, provider, req.SanctionedLoadKVA, req.UnitsKWh, energy, period)
	if err != nil {
		return nil, err
	}
	if surcharges.FppcaMissing {
		e.logger.Warn("No FPPCA rate published for period, billing without it",
			zap.String("provider", provider.Code),
			zap.Stringer("period", period),
		)
	}

	rules, err := e.repo.GetActiveRebateRules(ctx, provider.ID)
	if err != nil {
		return nil, repositoryError(err, "get rebate rules")
	}
	charges := Charges{
		Energy:    energy,
		Fixed:     surcharges.Fixed,
		Fppca:     surcharges.Fppca,
		Duty:      surcharges.Duty,
		MeterRent: surcharges.MeterRent,
	}
	rebates := EvaluateRebates(provider, rules, &req, charges)

	result := assemble(&req, version, charges, allocations, rebates)
	result.AppliedRules.LifelineApplied = lifelineEligible(tm, provider, &req)
	if surcharges.FppcaMissing {
		result.Warnings = &model.Warnings{FppcaMissing: true}
	}
	return result, nil
}

// assemble rounds each component and derives the totals from the rounded values,
// so the totals always reconcile with the breakdown to the cent.
func assemble(req *model.BillRequest, version *model.TariffVersion, c Charges, allocations []SlabAllocation, rebates RebateResult) *model.BillResult {
	breakdown := model.Breakdown{
		EnergyCharge: model.NewMoney(c.Energy),
		FixedCharge:  model.NewMoney(c.Fixed),
		FppcaCharge:  model.NewMoney(c.Fppca),
		DutyCharge:   model.NewMoney(c.Duty),
		MeterRent:    model.NewMoney(c.MeterRent),
		Rebates:      rebates.Amounts,
	}
	before := breakdown.EnergyCharge.
		Add(breakdown.FixedCharge).
		Add(breakdown.FppcaCharge).
		Add(breakdown.DutyCharge).
		Add(breakdown.MeterRent)

	slabWise := make([]model.SlabCharge, 0, len(allocations))
	for _, a := range allocations {
		slabWise = append(slabWise, model.SlabCharge{
			MinUnit: a.Slab.MinUnit,
			MaxUnit: a.Slab.MaxUnit,
			Units:   a.Units,
			Rate:    a.Slab.RatePerUnit,
			Amount:  model.NewMoney(a.Amount),
		})
	}

	return &model.BillResult{
		ProviderCode:      req.ProviderCode,
		Category:          req.Category,
		Year:              req.Year,
		Month:             req.Month,
		UnitsKWh:          req.UnitsKWh,
		TariffVersion:     version.Code,
		Breakdown:         breakdown,
		TotalBeforeRebate: before,
		TotalRebate:       rebates.Total,
		TotalPayable:      before.Sub(rebates.Total),
		AppliedRules:      model.AppliedRules{TimelyPaymentApplied: rebates.TimelyPaymentApplied},
		SlabWise:          slabWise,
	}
}
