package billing

import (
	"context"
	"time"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/google/uuid"
)

// TariffRepository is the read-only data source the engine bills from.
// Lookups that find nothing return a nil value and a nil error.
type TariffRepository interface {
	GetActiveProvider(ctx context.Context, code string) (*model.Provider, error)
	// GetActiveTariffVersion returns the latest active version with EffectiveFrom <= asOf.
	GetActiveTariffVersion(ctx context.Context, providerID uuid.UUID, category string, asOf time.Time) (*model.TariffVersion, error)
	// GetSlabs returns the version's slabs ordered by position.
	GetSlabs(ctx context.Context, tariffVersionID uuid.UUID) ([]model.TariffSlab, error)
	GetFppcaRate(ctx context.Context, providerID uuid.UUID, year, month int) (*model.FppcaRate, error)
	GetActiveRebateRules(ctx context.Context, providerID uuid.UUID) ([]model.RebateRule, error)
}
