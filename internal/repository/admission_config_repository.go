package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
)

const configColumns = `id, school_id, academic_year, batch, active, available_majors, admission_paths, total_capacity, created_at, updated_at`

// AdmissionConfigRepository persists admission cycle configurations and
// their quota tables.
type AdmissionConfigRepository struct {
	db *sqlx.DB
}

// NewAdmissionConfigRepository constructs the repository.
func NewAdmissionConfigRepository(db *sqlx.DB) *AdmissionConfigRepository {
	return &AdmissionConfigRepository{db: db}
}

// Create persists a configuration and its quota rows atomically.
func (r *AdmissionConfigRepository) Create(ctx context.Context, cfg *models.AdmissionConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	return WithinTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		const query = `INSERT INTO admission_configs (id, school_id, academic_year, batch, active, available_majors, admission_paths, total_capacity, created_at, updated_at)
            VALUES (:id, :school_id, :academic_year, :batch, :active, :available_majors, :admission_paths, :total_capacity, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, cfg); err != nil {
			return fmt.Errorf("create admission config: %w", err)
		}
		return r.insertQuotas(ctx, tx, cfg)
	})
}

// Update rewrites a configuration and replaces its quota rows.
func (r *AdmissionConfigRepository) Update(ctx context.Context, cfg *models.AdmissionConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	return WithinTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		const query = `UPDATE admission_configs
            SET available_majors = :available_majors, admission_paths = :admission_paths, total_capacity = :total_capacity, updated_at = :updated_at
            WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, query, cfg); err != nil {
			return fmt.Errorf("update admission config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM admission_quotas WHERE config_id = $1", cfg.ID); err != nil {
			return fmt.Errorf("clear quotas: %w", err)
		}
		return r.insertQuotas(ctx, tx, cfg)
	})
}

func (r *AdmissionConfigRepository) insertQuotas(ctx context.Context, tx *sqlx.Tx, cfg *models.AdmissionConfig) error {
	const query = `INSERT INTO admission_quotas (id, config_id, major, path, capacity)
        VALUES (:id, :config_id, :major, :path, :capacity)`
	for i := range cfg.Quotas {
		if cfg.Quotas[i].ID == "" {
			cfg.Quotas[i].ID = uuid.NewString()
		}
		cfg.Quotas[i].ConfigID = cfg.ID
		if _, err := tx.NamedExecContext(ctx, query, cfg.Quotas[i]); err != nil {
			return fmt.Errorf("insert quota: %w", err)
		}
	}
	return nil
}

// FindByID returns a configuration with its quota table.
func (r *AdmissionConfigRepository) FindByID(ctx context.Context, id string) (*models.AdmissionConfig, error) {
	return r.findByID(ctx, r.db, id)
}

// FindByIDTx reads the configuration inside an existing transaction so
// a selection run sees a consistent snapshot of config and quotas.
func (r *AdmissionConfigRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.AdmissionConfig, error) {
	return r.findByID(ctx, tx, id)
}

func (r *AdmissionConfigRepository) findByID(ctx context.Context, q sqlx.QueryerContext, id string) (*models.AdmissionConfig, error) {
	query := fmt.Sprintf("SELECT %s FROM admission_configs WHERE id = $1", configColumns)
	var cfg models.AdmissionConfig
	if err := sqlx.GetContext(ctx, q, &cfg, query, id); err != nil {
		return nil, err
	}
	const quotaQuery = `SELECT id, config_id, major, path, capacity FROM admission_quotas WHERE config_id = $1 ORDER BY major, path`
	if err := sqlx.SelectContext(ctx, q, &cfg.Quotas, quotaQuery, id); err != nil {
		return nil, fmt.Errorf("load quotas: %w", err)
	}
	return &cfg, nil
}

// FindActive returns the active configuration for a scope.
func (r *AdmissionConfigRepository) FindActive(ctx context.Context, schoolID, academicYear string, batch int) (*models.AdmissionConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM admission_configs
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3 AND active = TRUE
        LIMIT 1`, configColumns)
	var cfg models.AdmissionConfig
	if err := r.db.GetContext(ctx, &cfg, query, schoolID, academicYear, batch); err != nil {
		return nil, err
	}
	const quotaQuery = `SELECT id, config_id, major, path, capacity FROM admission_quotas WHERE config_id = $1 ORDER BY major, path`
	if err := r.db.SelectContext(ctx, &cfg.Quotas, quotaQuery, cfg.ID); err != nil {
		return nil, fmt.Errorf("load quotas: %w", err)
	}
	return &cfg, nil
}

// List returns configurations for a school, newest cycle first.
func (r *AdmissionConfigRepository) List(ctx context.Context, schoolID string) ([]models.AdmissionConfig, error) {
	query := fmt.Sprintf("SELECT %s FROM admission_configs WHERE school_id = $1 ORDER BY academic_year DESC, batch DESC", configColumns)
	var cfgs []models.AdmissionConfig
	if err := r.db.SelectContext(ctx, &cfgs, query, schoolID); err != nil {
		return nil, fmt.Errorf("list admission configs: %w", err)
	}
	return cfgs, nil
}

// Activate flips the given configuration active and deactivates its
// siblings in the same (school, year, batch) scope in one transaction.
func (r *AdmissionConfigRepository) Activate(ctx context.Context, id string) error {
	return WithinTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		const deactivate = `UPDATE admission_configs SET active = FALSE, updated_at = $2
            WHERE id <> $1 AND (school_id, academic_year, batch) = (SELECT school_id, academic_year, batch FROM admission_configs WHERE id = $1)`
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, deactivate, id, now); err != nil {
			return fmt.Errorf("deactivate sibling configs: %w", err)
		}
		const activate = `UPDATE admission_configs SET active = TRUE, updated_at = $2 WHERE id = $1`
		res, err := tx.ExecContext(ctx, activate, id, now)
		if err != nil {
			return fmt.Errorf("activate admission config: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("activate admission config: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("admission config %s not found", id)
		}
		return nil
	})
}
