package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/adperf/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS client_settings (
	client_name    TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL UNIQUE,
	building_count TEXT,
	business_type  TEXT,
	focus_level    TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unit_mapping (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	unit            TEXT NOT NULL,
	employment_type TEXT,
	start_month     DATE NOT NULL,
	end_month       DATE
);

CREATE INDEX IF NOT EXISTS unit_mapping_owner_idx ON unit_mapping (owner, start_month);

CREATE TABLE IF NOT EXISTS kpi_thresholds (
	medium        TEXT NOT NULL,
	main_category TEXT NOT NULL,
	sub_category  TEXT NOT NULL,
	ad_objective  TEXT NOT NULL,
	cpa_best DOUBLE PRECISION, cpa_good DOUBLE PRECISION, cpa_min DOUBLE PRECISION,
	cvr_best DOUBLE PRECISION, cvr_good DOUBLE PRECISION, cvr_min DOUBLE PRECISION,
	ctr_best DOUBLE PRECISION, ctr_good DOUBLE PRECISION, ctr_min DOUBLE PRECISION,
	cpc_best DOUBLE PRECISION, cpc_good DOUBLE PRECISION, cpc_min DOUBLE PRECISION,
	cpm_best DOUBLE PRECISION, cpm_good DOUBLE PRECISION, cpm_min DOUBLE PRECISION,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (medium, main_category, sub_category, ad_objective)
);
`

// PostgresRepo implements Repository using PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a new PostgreSQL-backed settings repository.
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// Migrate creates the settings tables when absent.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate settings schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListClients(ctx context.Context) ([]models.ClientSettings, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT client_name, client_id, building_count, business_type, focus_level, created_at
		FROM client_settings ORDER BY client_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.ClientSettings
	for rows.Next() {
		var c models.ClientSettings
		var buildingCount, businessType, focusLevel *string
		if err := rows.Scan(&c.ClientName, &c.ClientID, &buildingCount, &businessType, &focusLevel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.BuildingCount = deref(buildingCount)
		c.BusinessType = deref(businessType)
		c.FocusLevel = deref(focusLevel)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *PostgresRepo) UpsertClient(ctx context.Context, c *models.ClientSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO client_settings (client_name, client_id, building_count, business_type, focus_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_name) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			building_count = EXCLUDED.building_count,
			business_type = EXCLUDED.business_type,
			focus_level = EXCLUDED.focus_level
	`, c.ClientName, c.ClientID, nullString(c.BuildingCount), nullString(c.BusinessType), nullString(c.FocusLevel), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteClient(ctx context.Context, clientName string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM client_settings WHERE client_name = $1`, clientName)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListUnits(ctx context.Context) ([]models.UnitAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner, unit, employment_type, start_month, end_month
		FROM unit_mapping ORDER BY owner, start_month
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit mapping: %w", err)
	}
	defer rows.Close()

	var units []models.UnitAssignment
	for rows.Next() {
		var u models.UnitAssignment
		var employmentType *string
		var end *time.Time
		if err := rows.Scan(&u.ID, &u.Owner, &u.Unit, &employmentType, &u.StartMonth, &end); err != nil {
			return nil, fmt.Errorf("failed to scan unit mapping: %w", err)
		}
		u.EmploymentType = deref(employmentType)
		if end != nil {
			u.EndMonth = *end
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *PostgresRepo) UpsertUnit(ctx context.Context, u *models.UnitAssignment) error {
	var end *time.Time
	if !u.EndMonth.IsZero() {
		end = &u.EndMonth
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO unit_mapping (id, owner, unit, employment_type, start_month, end_month)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			unit = EXCLUDED.unit,
			employment_type = EXCLUDED.employment_type,
			start_month = EXCLUDED.start_month,
			end_month = EXCLUDED.end_month
	`, u.ID, u.Owner, u.Unit, nullString(u.EmploymentType), u.StartMonth, end)
	if err != nil {
		return fmt.Errorf("failed to upsert unit mapping: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteUnit(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM unit_mapping WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete unit mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const thresholdColumns = `medium, main_category, sub_category, ad_objective,
	cpa_best, cpa_good, cpa_min, cvr_best, cvr_good, cvr_min,
	ctr_best, ctr_good, ctr_min, cpc_best, cpc_good, cpc_min,
	cpm_best, cpm_good, cpm_min, updated_at`

func (r *PostgresRepo) ListThresholds(ctx context.Context) ([]models.KPIThreshold, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+thresholdColumns+`
		FROM kpi_thresholds ORDER BY medium, main_category, sub_category, ad_objective`)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpi thresholds: %w", err)
	}
	defer rows.Close()

	var out []models.KPIThreshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanThreshold(row pgx.Row) (models.KPIThreshold, error) {
	var t models.KPIThreshold
	var lv [15]*float64
	dest := []any{&t.Medium, &t.MainCategory, &t.SubCategory, &t.AdObjective}
	for i := range lv {
		dest = append(dest, &lv[i])
	}
	dest = append(dest, &t.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return t, fmt.Errorf("failed to scan kpi threshold: %w", err)
	}
	levels := func(i int) models.Levels {
		return models.Levels{Best: num(lv[i]), Good: num(lv[i+1]), Min: num(lv[i+2])}
	}
	t.CPA, t.CVR, t.CTR, t.CPC, t.CPM = levels(0), levels(3), levels(6), levels(9), levels(12)
	return t, nil
}

func (r *PostgresRepo) UpsertThreshold(ctx context.Context, t *models.KPIThreshold) error {
	args := []any{t.Medium, t.MainCategory, t.SubCategory, t.AdObjective}
	for _, l := range []models.Levels{t.CPA, t.CVR, t.CTR, t.CPC, t.CPM} {
		args = append(args, l.Best.Ptr(), l.Good.Ptr(), l.Min.Ptr())
	}
	args = append(args, t.UpdatedAt)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO kpi_thresholds (`+thresholdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (medium, main_category, sub_category, ad_objective) DO UPDATE SET
			cpa_best = EXCLUDED.cpa_best, cpa_good = EXCLUDED.cpa_good, cpa_min = EXCLUDED.cpa_min,
			cvr_best = EXCLUDED.cvr_best, cvr_good = EXCLUDED.cvr_good, cvr_min = EXCLUDED.cvr_min,
			ctr_best = EXCLUDED.ctr_best, ctr_good = EXCLUDED.ctr_good, ctr_min = EXCLUDED.ctr_min,
			cpc_best = EXCLUDED.cpc_best, cpc_good = EXCLUDED.cpc_good, cpc_min = EXCLUDED.cpc_min,
			cpm_best = EXCLUDED.cpm_best, cpm_good = EXCLUDED.cpm_good, cpm_min = EXCLUDED.cpm_min,
			updated_at = EXCLUDED.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert kpi threshold: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteThreshold(ctx context.Context, key models.KPIKey) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM kpi_thresholds
		WHERE medium = $1 AND main_category = $2 AND sub_category = $3 AND ad_objective = $4
	`, key.Medium, key.MainCategory, key.SubCategory, key.AdObjective)
	if err != nil {
		return fmt.Errorf("failed to delete kpi threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(f *float64) models.Num {
	if f == nil {
		return models.Missing
	}
	return models.Some(*f)
}
