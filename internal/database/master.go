package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"partnerqueue/internal/models"
)

// MasterDB is the shared catalog of tenants. Each tenant row points at its own database file.
type MasterDB struct {
	*sql.DB
	logger zerolog.Logger
}

var masterSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
        id INTEGER PRIMARY KEY,
        code TEXT NOT NULL UNIQUE COLLATE NOCASE,
        name TEXT NOT NULL DEFAULT '',
        database_name TEXT NOT NULL,
        timezone TEXT NOT NULL DEFAULT '',
        enable_queue_mode INTEGER,
        enable_queue_worker INTEGER,
        use_queue_middleware INTEGER,
        queue_worker_batch_size INTEGER,
        default_partner TEXT
    )`,
}

func NewMasterDB(path string, logger *zerolog.Logger) (*MasterDB, error) {
	conn, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	m := &MasterDB{DB: conn, logger: zerolog.Nop()}
	if logger != nil {
		m.logger = logger.With().Str("component", "master_db").Logger()
	}

	if err := createTables(conn, masterSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

const tenantColumns = `id, code, name, database_name, timezone, enable_queue_mode, enable_queue_worker,
        use_queue_middleware, queue_worker_batch_size, default_partner`

// UpsertTenant inserts the tenant or replaces the row with the same id.
func (m *MasterDB) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	_, err := m.ExecContext(ctx, `INSERT INTO tenants (`+tenantColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            code = excluded.code,
            name = excluded.name,
            database_name = excluded.database_name,
            timezone = excluded.timezone,
            enable_queue_mode = excluded.enable_queue_mode,
            enable_queue_worker = excluded.enable_queue_worker,
            use_queue_middleware = excluded.use_queue_middleware,
            queue_worker_batch_size = excluded.queue_worker_batch_size,
            default_partner = excluded.default_partner`,
		t.ID, t.Code, t.Name, t.DatabaseName, t.Timezone,
		nullBool(t.EnableQueueMode), nullBool(t.EnableQueueWorker), nullBool(t.UseMiddleware),
		nullInt(t.WorkerBatchSize), nullString(t.DefaultPartner),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", t.Code, err)
	}
	return nil
}

func (m *MasterDB) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	row := m.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	return scanTenantRow(row)
}

// GetTenantByCode matches the code case-insensitively.
func (m *MasterDB) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	row := m.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE code = ? COLLATE NOCASE`, code)
	return scanTenantRow(row)
}

func (m *MasterDB) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := m.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func scanTenantRow(row *sql.Row) (*models.Tenant, error) {
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		t                models.Tenant
		mode, worker, mw sql.NullBool
		batch            sql.NullInt64
		partner          sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.DatabaseName, &t.Timezone,
		&mode, &worker, &mw, &batch, &partner); err != nil {
		return nil, err
	}
	t.EnableQueueMode = boolPtr(mode)
	t.EnableQueueWorker = boolPtr(worker)
	t.UseMiddleware = boolPtr(mw)
	if batch.Valid {
		v := int(batch.Int64)
		t.WorkerBatchSize = &v
	}
	t.DefaultPartner = stringPtr(partner)
	return &t, nil
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func boolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	v := nb.Bool
	return &v
}
