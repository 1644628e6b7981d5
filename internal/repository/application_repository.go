package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
)

const applicationColumns = `id, school_id, registration_number, academic_year, batch, full_name, email, phone, address,
        major_choice, admission_path, prior_school, selection_score, interview_score, document_score, total_score,
        status, registration_date, selection_date, announcement_date, accepted_date, cancel_reason, created_at, updated_at`

// ApplicationRepository handles persistence of admission applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// CreateTx persists a new application inside the provided transaction.
func (r *ApplicationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	const query = `INSERT INTO applications (id, school_id, registration_number, academic_year, batch, full_name, email, phone, address,
        major_choice, admission_path, prior_school, status, registration_date, created_at, updated_at)
        VALUES (:id, :school_id, :registration_number, :academic_year, :batch, :full_name, :email, :phone, :address,
        :major_choice, :admission_path, :prior_school, :status, :registration_date, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf("SELECT %s FROM applications WHERE id = $1", applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// FindByIDTx loads an application inside a transaction and locks its
// row, so the status check and the write that follows act on the same
// stored state even when writers race.
func (r *ApplicationRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Application, error) {
	query := fmt.Sprintf("SELECT %s FROM applications WHERE id = $1 FOR UPDATE", applicationColumns)
	var app models.Application
	if err := tx.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// FindByNumber returns an application by its registration number.
func (r *ApplicationRepository) FindByNumber(ctx context.Context, schoolID, number string) (*models.Application, error) {
	query := fmt.Sprintf("SELECT %s FROM applications WHERE school_id = $1 AND registration_number = $2", applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, schoolID, number); err != nil {
		return nil, err
	}
	return &app, nil
}

// ExistsByIdentity checks the registration idempotency key: one
// application per applicant email within a (school, year, batch) scope.
func (r *ApplicationRepository) ExistsByIdentity(ctx context.Context, schoolID, academicYear string, batch int, email string) (bool, error) {
	const query = `SELECT 1 FROM applications
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3 AND lower(email) = lower($4) AND status <> $5
        LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, schoolID, academicYear, batch, email, models.ApplicationStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate application: %w", err)
	}
	return true, nil
}

// List returns applications filtered by the provided criteria.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	base := "FROM applications"
	var conditions []string
	var args []interface{}

	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Batch > 0 {
		conditions = append(conditions, fmt.Sprintf("batch = $%d", len(args)+1))
		args = append(args, filter.Batch)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.MajorChoice != "" {
		conditions = append(conditions, fmt.Sprintf("major_choice = $%d", len(args)+1))
		args = append(args, filter.MajorChoice)
	}
	if filter.AdmissionPath != "" {
		conditions = append(conditions, fmt.Sprintf("admission_path = $%d", len(args)+1))
		args = append(args, filter.AdmissionPath)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR registration_number ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"registration_date":   "registration_date",
		"registration_number": "registration_number",
		"full_name":           "full_name",
		"total_score":         "total_score",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "registration_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d",
		applicationColumns, base+clause, orderBy, order, size, offset)

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// ListEligibleTx loads and locks the eligible application set of a
// cycle for a selection run. The row locks keep concurrent score or
// status writes out until the run commits; applications registered
// after the snapshot simply wait for the next run.
func (r *ApplicationRepository) ListEligibleTx(ctx context.Context, tx *sqlx.Tx, schoolID, academicYear string, batch int) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3 AND status IN ($4, $5)
        ORDER BY registration_date, registration_number
        FOR UPDATE`, applicationColumns)
	var apps []models.Application
	err := tx.SelectContext(ctx, &apps, query, schoolID, academicYear, batch,
		models.ApplicationStatusSelection, models.ApplicationStatusAnnounced)
	if err != nil {
		return nil, fmt.Errorf("list eligible applications: %w", err)
	}
	return apps, nil
}

// UpdateScoresTx persists the component scores and the derived total.
// Callers take the row lock first (FindByIDTx) so concurrent partial
// updates cannot erase each other's components.
func (r *ApplicationRepository) UpdateScoresTx(ctx context.Context, tx *sqlx.Tx, id string, selection, interview, document, total *float64) error {
	const query = `UPDATE applications
        SET selection_score = $2, interview_score = $3, document_score = $4, total_score = $5, updated_at = $6
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, selection, interview, document, total, time.Now().UTC()); err != nil {
		return fmt.Errorf("update application scores: %w", err)
	}
	return nil
}

// UpdateStatusTx moves an application to a new status inside a
// transaction that holds the row lock. The entry timestamp for the
// target status, when one exists, is stamped exactly once via COALESCE
// so re-entry never rewrites it.
func (r *ApplicationRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ApplicationStatus, at time.Time) error {
	query := "UPDATE applications SET status = $2, updated_at = $3"
	args := []interface{}{id, status, at}
	if col := models.EntryTimestampColumn(status); col != "" {
		query += fmt.Sprintf(", %s = COALESCE(%s, $4)", col, col)
		args = append(args, at)
	}
	query += " WHERE id = $1"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return nil
}

// MarkSelectionBulk moves every registered application of a cycle into
// the selection stage, stamping selection_date on first entry.
func (r *ApplicationRepository) MarkSelectionBulk(ctx context.Context, schoolID, academicYear string, batch int, at time.Time) (int64, error) {
	const query = `UPDATE applications
        SET status = $4, selection_date = COALESCE(selection_date, $5), updated_at = $5
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, schoolID, academicYear, batch,
		models.ApplicationStatusSelection, at, models.ApplicationStatusRegistered)
	if err != nil {
		return 0, fmt.Errorf("mark applications for selection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark applications for selection: %w", err)
	}
	return affected, nil
}

// SetCancelledTx moves an application to the terminal cancelled status
// inside a transaction that holds the row lock.
func (r *ApplicationRepository) SetCancelledTx(ctx context.Context, tx *sqlx.Tx, id, reason string) error {
	const query = `UPDATE applications SET status = $2, cancel_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, models.ApplicationStatusCancelled, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("cancel application: %w", err)
	}
	return nil
}

// CountByGroup aggregates applications per (major, path, status) for a
// cycle, used for quota statistics.
func (r *ApplicationRepository) CountByGroup(ctx context.Context, schoolID, academicYear string, batch int) ([]models.GroupCount, error) {
	const query = `SELECT major_choice, admission_path, status, COUNT(*) AS count
        FROM applications
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3
        GROUP BY major_choice, admission_path, status`
	var counts []models.GroupCount
	if err := r.db.SelectContext(ctx, &counts, query, schoolID, academicYear, batch); err != nil {
		return nil, fmt.Errorf("count applications by group: %w", err)
	}
	return counts, nil
}

// ListDecided returns finalized applications of a cycle for exports.
func (r *ApplicationRepository) ListDecided(ctx context.Context, schoolID, academicYear string, batch int) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications
        WHERE school_id = $1 AND academic_year = $2 AND batch = $3 AND status IN ($4, $5)
        ORDER BY major_choice, admission_path, total_score DESC NULLS LAST, registration_date`, applicationColumns)
	var apps []models.Application
	err := r.db.SelectContext(ctx, &apps, query, schoolID, academicYear, batch,
		models.ApplicationStatusAccepted, models.ApplicationStatusRejected)
	if err != nil {
		return nil, fmt.Errorf("list decided applications: %w", err)
	}
	return apps, nil
}
