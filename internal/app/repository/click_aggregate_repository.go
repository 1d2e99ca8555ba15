package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/PowerPulse/internal/app/model"
)

// AggregateWindow bounds a breakdown query to recent clicks and a row count.
type AggregateWindow struct {
	Since time.Time
	Limit int
}

// ClickAggregateRepository computes per-URL dimension breakdowns. Queries are
// always bounded by AggregateWindow so they never scan the full fact table.
type ClickAggregateRepository interface {
	TopCountries(ctx context.Context, targetID int64, w AggregateWindow) ([]model.CountryCount, error)
	TopDevices(ctx context.Context, targetID int64, w AggregateWindow) ([]model.DeviceCount, error)
}

type clickAggregateRepository struct {
	pool *pgxpool.Pool
}

// NewClickAggregateRepository returns a pgx-backed aggregate repository. The
// pool should point at the read replica.
func NewClickAggregateRepository(pool *pgxpool.Pool) ClickAggregateRepository {
	return &clickAggregateRepository{pool: pool}
}

const topCountriesSQL = `
SELECT l.country_code, l.country_name, COUNT(*) AS clicks
FROM service_references r
JOIN click_events c ON c.id = r.local_id
JOIN locations l ON l.id = c.location_id
WHERE r.target_id = $1 AND r.target_table = $2 AND r.local_table = $3
  AND c.clicked_at >= $4
GROUP BY l.country_code, l.country_name
ORDER BY clicks DESC, l.country_code ASC
LIMIT $5`

const topDevicesSQL = `
SELECT d.device_type, COUNT(*) AS clicks
FROM service_references r
JOIN click_events c ON c.id = r.local_id
JOIN devices d ON d.id = c.device_id
WHERE r.target_id = $1 AND r.target_table = $2 AND r.local_table = $3
  AND c.clicked_at >= $4
GROUP BY d.device_type
ORDER BY clicks DESC, d.device_type ASC
LIMIT $5`

func (r *clickAggregateRepository) TopCountries(ctx context.Context, targetID int64, w AggregateWindow) ([]model.CountryCount, error) {
	rows, err := r.pool.Query(ctx, topCountriesSQL,
		targetID, model.TableURLs, model.TableClickEvents, w.Since, w.Limit)
	if err != nil {
		return nil, fmt.Errorf("top countries: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CountryCount, error) {
		var c model.CountryCount
		err := row.Scan(&c.CountryCode, &c.CountryName, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("top countries: %w", err)
	}
	return result, nil
}

func (r *clickAggregateRepository) TopDevices(ctx context.Context, targetID int64, w AggregateWindow) ([]model.DeviceCount, error) {
	rows, err := r.pool.Query(ctx, topDevicesSQL,
		targetID, model.TableURLs, model.TableClickEvents, w.Since, w.Limit)
	if err != nil {
		return nil, fmt.Errorf("top devices: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DeviceCount, error) {
		var (
			c          model.DeviceCount
			deviceType string
		)
		err := row.Scan(&deviceType, &c.Count)
		c.DeviceType = model.DeviceType(deviceType)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("top devices: %w", err)
	}
	return result, nil
}
