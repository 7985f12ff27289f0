package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

var _ billing.TariffRepository = (*Cached)(nil)

// Cached is a read-through cache in front of another repository. Both hits and
// misses are cached for the configured TTL; errors are not cached.
type Cached struct {
	next  billing.TariffRepository
	cache *gocache.Cache
}

// NewCached wraps next with a cache whose entries expire after ttl.
func NewCached(next billing.TariffRepository, ttl, cleanupInterval time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}

// ItemCount returns the number of cached entries, including expired ones not yet cleaned up.
func (c *Cached) ItemCount() int {
	return c.cache.ItemCount()
}

func lookup[T any](c *Cached, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(T), nil
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache.SetDefault(key, v)
	return v, nil
}

func (c *Cached) GetActiveProvider(ctx context.Context, code string) (*model.Provider, error) {
	return lookup(c, "provider:"+code, func() (*model.Provider, error) {
		return c.next.GetActiveProvider(ctx, code)
	})
}

func (c *Cached) GetActiveTariffVersion(ctx context.Context, providerID uuid.UUID, category string, asOf time.Time) (*model.TariffVersion, error) {
	key := fmt.Sprintf("version:%s:%s:%s", providerID, category, asOf.Format(time.DateOnly))
	return lookup(c, key, func() (*model.TariffVersion, error) {
		return c.next.GetActiveTariffVersion(ctx, providerID, category, asOf)
	})
}

func (c *Cached) GetSlabs(ctx context.Context, tariffVersionID uuid.UUID) ([]model.TariffSlab, error) {
	return lookup(c, "slabs:"+tariffVersionID.String(), func() ([]model.TariffSlab, error) {
		return c.next.GetSlabs(ctx, tariffVersionID)
	})
}

func (c *Cached) GetFppcaRate(ctx context.Context, providerID uuid.UUID, year, month int) (*model.FppcaRate, error) {
	key := fmt.Sprintf("fppca:%s:%04d-%02d", providerID, year, month)
	return lookup(c, key, func() (*model.FppcaRate, error) {
		return c.next.GetFppcaRate(ctx, providerID, year, month)
	})
}

func (c *Cached) GetActiveRebateRules(ctx context.Context, providerID uuid.UUID) ([]model.RebateRule, error) {
	return lookup(c, "rules:"+providerID.String(), func() ([]model.RebateRule, error) {
		return c.next.GetActiveRebateRules(ctx, providerID)
	})
}
