package repository

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ billing.TariffRepository = (*Postgres)(nil)

// Postgres reads tariff data from PostgreSQL.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenPostgres connects using cfg and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapPQ(err, "ping postgres")
	}
	return NewPostgres(db, logger), nil
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate applies the embedded schema files in name order. The statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	for _, name := range files {
		stmt, err := migrations.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}
		if _, err := p.db.ExecContext(ctx, string(stmt)); err != nil {
			return wrapPQ(err, "apply migration "+name)
		}
		p.logger.Info("Migration applied", zap.String("file", name))
	}
	return nil
}

func wrapPQ(err error, op string) error {
	wrapped := errors.Wrap(err, op)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return errors.WithDetailf(wrapped, "postgres error %s (%s)", pqErr.Code, pqErr.Code.Name())
	}
	return wrapped
}

const providerQuery = `
SELECT id, code, name, is_active, tariff_model, supports_lifeline, lifeline_threshold_units,
       lifeline_requires_registration, supports_timely_rebate, fixed_charge_per_kva,
       meter_rent, government_duty_percent
FROM providers
WHERE code = $1 AND is_active`

func (p *Postgres) GetActiveProvider(ctx context.Context, code string) (*model.Provider, error) {
	var (
		pr    model.Provider
		tmRaw string
	)
	err := p.db.QueryRowContext(ctx, providerQuery, code).Scan(
		&pr.ID, &pr.Code, &pr.Name, &pr.Active, &tmRaw, &pr.SupportsLifeline, &pr.LifelineThresholdUnits,
		&pr.LifelineRequiresRegistration, &pr.SupportsTimelyRebate, &pr.FixedChargePerKVA,
		&pr.MeterRent, &pr.GovernmentDutyPercent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPQ(err, "select provider")
	}
	tm, err := model.ParseTariffModel(tmRaw)
	if err != nil {
		// Unsupported models are passed through; the engine reports them as tariff_not_found.
		p.logger.Warn("Provider has unsupported tariff model",
			zap.String("provider", code), zap.String("tariff_model", tmRaw))
		tm = model.TariffModel(tmRaw)
	}
	pr.TariffModel = tm
	return &pr, nil
}

const tariffVersionQuery = `
SELECT id, provider_id, code, category, effective_from, is_active, description
FROM tariff_versions
WHERE provider_id = $1 AND category = $2 AND is_active AND effective_from <= $3
ORDER BY effective_from DESC
LIMIT 1`

func (p *Postgres) GetActiveTariffVersion(ctx context.Context, providerID uuid.UUID, category string, asOf time.Time) (*model.TariffVersion, error) {
	var (
		v    model.TariffVersion
		desc sql.NullString
	)
	err := p.db.QueryRowContext(ctx, tariffVersionQuery, providerID, category, asOf).Scan(
		&v.ID, &v.ProviderID, &v.Code, &v.Category, &v.EffectiveFrom, &v.Active, &desc,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPQ(err, "select tariff version")
	}
	v.Description = desc.String
	return &v, nil
}

const slabsQuery = `
SELECT id, tariff_version_id, min_unit, max_unit, rate_per_unit, position
FROM tariff_slabs
WHERE tariff_version_id = $1
ORDER BY position`

func (p *Postgres) GetSlabs(ctx context.Context, tariffVersionID uuid.UUID) ([]model.TariffSlab, error) {
	rows, err := p.db.QueryContext(ctx, slabsQuery, tariffVersionID)
	if err != nil {
		return nil, wrapPQ(err, "select slabs")
	}
	defer rows.Close()

	var slabs []model.TariffSlab
	for rows.Next() {
		var (
			s       model.TariffSlab
			maxUnit decimal.NullDecimal
		)
		if err := rows.Scan(&s.ID, &s.TariffVersionID, &s.MinUnit, &maxUnit, &s.RatePerUnit, &s.Position); err != nil {
			return nil, wrapPQ(err, "scan slab")
		}
		if maxUnit.Valid {
			s.MaxUnit = &maxUnit.Decimal
		}
		slabs = append(slabs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQ(err, "iterate slabs")
	}
	return slabs, nil
}

const fppcaQuery = `
SELECT provider_id, year, month, rate
FROM fppca_rates
WHERE provider_id = $1 AND year = $2 AND month = $3`

func (p *Postgres) GetFppcaRate(ctx context.Context, providerID uuid.UUID, year, month int) (*model.FppcaRate, error) {
	var r model.FppcaRate
	err := p.db.QueryRowContext(ctx, fppcaQuery, providerID, year, month).Scan(&r.ProviderID, &r.Year, &r.Month, &r.Rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPQ(err, "select fppca rate")
	}
	return &r, nil
}

const rebateRulesQuery = `
SELECT id, provider_id, code, percent, amount_fixed, applies_to, is_active
FROM rebate_rules
WHERE provider_id = $1 AND is_active
ORDER BY code, id`

func (p *Postgres) GetActiveRebateRules(ctx context.Context, providerID uuid.UUID) ([]model.RebateRule, error) {
	rows, err := p.db.QueryContext(ctx, rebateRulesQuery, providerID)
	if err != nil {
		return nil, wrapPQ(err, "select rebate rules")
	}
	defer rows.Close()

	var rules []model.RebateRule
	for rows.Next() {
		var (
			r    model.RebateRule
			base string
		)
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.Code, &r.Percent, &r.AmountFixed, &base, &r.Active); err != nil {
			return nil, wrapPQ(err, "scan rebate rule")
		}
		if r.AppliesTo, err = model.ParseAppliesTo(base); err != nil {
			return nil, errors.Wrapf(err, "rebate rule %s", r.ID)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQ(err, "iterate rebate rules")
	}
	return rules, nil
}
