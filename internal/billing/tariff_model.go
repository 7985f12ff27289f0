package billing

import (
	"github.com/cockroachdb/errors"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Charges are the unrounded charge components of a bill.
type Charges struct {
	Energy    decimal.Decimal
	Fixed     decimal.Decimal
	Fppca     decimal.Decimal
	Duty      decimal.Decimal
	MeterRent decimal.Decimal
}

// Total is the sum of all five components.
func (c Charges) Total() decimal.Decimal {
	return c.Energy.Add(c.Fixed).Add(c.Fppca).Add(c.Duty).Add(c.MeterRent)
}

// tariffModel captures the rules that differ between provider families.
// Charge arithmetic, duty included, is shared by every model.
type tariffModel interface {
	lifelineRequiresRegistration(p *model.Provider) bool
}

type biharModel struct{}

func (biharModel) lifelineRequiresRegistration(p *model.Provider) bool {
	return p.LifelineRequiresRegistration
}

// cescModel only grants the lifeline category to registered consumers.
type cescModel struct{}

func (cescModel) lifelineRequiresRegistration(*model.Provider) bool {
	return true
}

func tariffModelFor(p *model.Provider) (tariffModel, error) {
	switch p.TariffModel {
	case "", model.TariffModelBihar:
		return biharModel{}, nil
	case model.TariffModelCESC:
		return cescModel{}, nil
	default:
		return nil, withClass(
			errors.Newf("provider %q uses unsupported tariff model %q", p.Code, p.TariffModel),
			ErrTariffNotFound,
		)
	}
}
