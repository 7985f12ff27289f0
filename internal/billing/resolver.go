package billing

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/deannos/tariff-billing-engine/internal/model"
)

// Resolver finds the provider and the tariff version in force for a billing period.
type Resolver struct {
	repo TariffRepository
}

// NewResolver creates a Resolver reading from repo.
func NewResolver(repo TariffRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve looks up the active provider by code and the latest active tariff version for
// category whose effective date is on or before the first day of period.
func (r *Resolver) Resolve(ctx context.Context, providerCode, category string, period model.BillingPeriod) (*model.Provider, *model.TariffVersion, error) {
	provider, err := r.repo.GetActiveProvider(ctx, providerCode)
	if err != nil {
		return nil, nil, repositoryError(err, "get provider")
	}
	if provider == nil || !provider.Active {
		return nil, nil, withClass(
			errors.WithHint(errors.Newf("provider %q", providerCode), "check the provider code and that the provider is active"),
			ErrProviderNotFound,
		)
	}

	asOf := period.Start()
	version, err := r.repo.GetActiveTariffVersion(ctx, provider.ID, category, asOf)
	if err != nil {
		return nil, nil, repositoryError(err, "get tariff version")
	}
	if version == nil || !version.Active || version.EffectiveFrom.After(asOf) {
		return nil, nil, withClass(
			errors.Newf("no active %q tariff for provider %q as of %s", category, providerCode, period),
			ErrTariffNotFound,
		)
	}
	return provider, version, nil
}
