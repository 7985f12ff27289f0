package billing

import (
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// RebateResult holds the deductions for a bill. Amounts are rounded per code and
// Total is the sum of the rounded amounts.
type RebateResult struct {
	Amounts              map[string]model.Money
	Total                model.Money
	TimelyPaymentApplied bool
}

// LifelineEligible reports whether the request qualifies for the provider's lifeline
// category. The lifeline rate is already part of the slab data; this is reporting only.
// Providers with an unsupported tariff model are never eligible.
func LifelineEligible(provider *model.Provider, req *model.BillRequest) bool {
	tm, err := tariffModelFor(provider)
	if err != nil {
		return false
	}
	return lifelineEligible(tm, provider, req)
}

func lifelineEligible(tm tariffModel, provider *model.Provider, req *model.BillRequest) bool {
	return provider.SupportsLifeline &&
		req.UnitsKWh.LessThanOrEqual(provider.LifelineThresholdUnits) &&
		(!tm.lifelineRequiresRegistration(provider) || req.IsLifelineRegistered)
}

// EvaluateRebates applies every active rule to the unrounded charges. Rules stack without
// a ceiling; rules sharing a code are summed; unknown codes contribute nothing.
func EvaluateRebates(provider *model.Provider, rules []model.RebateRule, req *model.BillRequest, charges Charges) RebateResult {
	unrounded := make(map[string]decimal.Decimal)
	timely := false

	for _, rule := range lo.Filter(rules, func(r model.RebateRule, _ int) bool { return r.Active }) {
		switch rule.Code {
		case model.RebateCodeTimelyPayment:
			if !req.TimelyPaymentOptIn || !provider.SupportsTimelyRebate {
				continue
			}
			timely = true
		case model.RebateCodeGovtSubsidy:
		default:
			continue
		}
		amount := rebateBase(rule.AppliesTo, charges).Mul(rule.Percent).Div(hundred).Add(rule.AmountFixed)
		unrounded[rule.Code] = unrounded[rule.Code].Add(amount)
	}

	amounts := lo.MapValues(unrounded, func(v decimal.Decimal, _ string) model.Money {
		return model.NewMoney(v)
	})
	total := model.NewMoney(decimal.Zero)
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return RebateResult{Amounts: amounts, Total: total, TimelyPaymentApplied: timely}
}

func rebateBase(base model.AppliesTo, c Charges) decimal.Decimal {
	switch base {
	case model.AppliesToEnergyAndFixed:
		return c.Energy.Add(c.Fixed)
	case model.AppliesToEnergy:
		return c.Energy
	case model.AppliesToTotal:
		return c.Total()
	default:
		return decimal.Zero
	}
}
