// Package repository provides TariffRepository implementations: an in-memory store,
// a PostgreSQL store and a read-through cache that wraps either.
package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ billing.TariffRepository = (*Memory)(nil)

type fppcaKey struct {
	providerID uuid.UUID
	year       int
	month      int
}

// Memory is an in-memory tariff repository. It counts every read so tests can
// assert whether the engine reached the data layer.
type Memory struct {
	mu        sync.RWMutex
	providers map[string]model.Provider
	versions  []model.TariffVersion
	slabs     map[uuid.UUID][]model.TariffSlab
	fppca     map[fppcaKey]model.FppcaRate
	rules     map[uuid.UUID][]model.RebateRule
	failWith  error

	calls atomic.Int64
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		providers: make(map[string]model.Provider),
		slabs:     make(map[uuid.UUID][]model.TariffSlab),
		fppca:     make(map[fppcaKey]model.FppcaRate),
		rules:     make(map[uuid.UUID][]model.RebateRule),
	}
}

// AddProvider stores p, assigning an ID if it has none, and returns the stored value.
func (m *Memory) AddProvider(p model.Provider) model.Provider {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Code] = p
	return p
}

// AddTariffVersion stores v together with its slabs.
func (m *Memory) AddTariffVersion(v model.TariffVersion, slabs ...model.TariffSlab) model.TariffVersion {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	for i := range slabs {
		if slabs[i].ID == uuid.Nil {
			slabs[i].ID = uuid.New()
		}
		slabs[i].TariffVersionID = v.ID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, v)
	m.slabs[v.ID] = append(m.slabs[v.ID], slabs...)
	return v
}

// AddFppcaRate stores r, replacing any rate for the same provider and month.
func (m *Memory) AddFppcaRate(r model.FppcaRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fppca[fppcaKey{r.ProviderID, r.Year, r.Month}] = r
}

// AddRebateRule stores r.
func (m *Memory) AddRebateRule(r model.RebateRule) model.RebateRule {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ProviderID] = append(m.rules[r.ProviderID], r)
	return r
}

// FailWith makes every subsequent read return err. A nil err restores normal reads.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns the number of reads served so far.
func (m *Memory) Calls() int64 {
	return m.calls.Load()
}

func (m *Memory) read() (func(), error) {
	m.calls.Add(1)
	m.mu.RLock()
	if m.failWith != nil {
		err := m.failWith
		m.mu.RUnlock()
		return nil, err
	}
	return m.mu.RUnlock, nil
}

func (m *Memory) GetActiveProvider(ctx context.Context, code string) (*model.Provider, error) {
	unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, ok := m.providers[code]
	if !ok || !p.Active {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetActiveTariffVersion(ctx context.Context, providerID uuid.UUID, category string, asOf time.Time) (*model.TariffVersion, error) {
	unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	candidates := lo.Filter(m.versions, func(v model.TariffVersion, _ int) bool {
		return v.ProviderID == providerID && v.Category == category && v.Active && !v.EffectiveFrom.After(asOf)
	})
	if len(candidates) == 0 {
		return nil, nil
	}
	latest := lo.MaxBy(candidates, func(a, b model.TariffVersion) bool {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	})
	return &latest, nil
}

func (m *Memory) GetSlabs(ctx context.Context, tariffVersionID uuid.UUID) ([]model.TariffSlab, error) {
	unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	slabs := append([]model.TariffSlab(nil), m.slabs[tariffVersionID]...)
	sortSlabs(slabs)
	return slabs, nil
}

func (m *Memory) GetFppcaRate(ctx context.Context, providerID uuid.UUID, year, month int) (*model.FppcaRate, error) {
	unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, ok := m.fppca[fppcaKey{providerID, year, month}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) GetActiveRebateRules(ctx context.Context, providerID uuid.UUID) ([]model.RebateRule, error) {
	unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	return lo.Filter(m.rules[providerID], func(r model.RebateRule, _ int) bool { return r.Active }), nil
}

func sortSlabs(slabs []model.TariffSlab) {
	slices.SortStableFunc(slabs, func(a, b model.TariffSlab) int {
		return cmp.Compare(a.Position, b.Position)
	})
}
