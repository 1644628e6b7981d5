package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
)

// StudentRepository persists students materialized from accepted
// applications. The enrollment bridge runs inside the selection or
// accept transaction, so the write paths are transaction-scoped.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByEmailTx looks up a student by its stable identity within a school.
func (r *StudentRepository) FindByEmailTx(ctx context.Context, tx *sqlx.Tx, schoolID, email string) (*models.Student, error) {
	const query = `SELECT id, school_id, nis, email, full_name, major, academic_year, phone, address, active, created_at, updated_at
        FROM students WHERE school_id = $1 AND lower(email) = lower($2)`
	var student models.Student
	if err := tx.GetContext(ctx, &student, query, schoolID, email); err != nil {
		return nil, err
	}
	return &student, nil
}

// CreateTx inserts a new student record.
func (r *StudentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, school_id, nis, email, full_name, major, academic_year, phone, address, active, created_at, updated_at)
        VALUES (:id, :school_id, :nis, :email, :full_name, :major, :academic_year, :phone, :address, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// ReactivateTx reactivates an existing student and refreshes its
// admission fields instead of creating a duplicate record.
func (r *StudentRepository) ReactivateTx(ctx context.Context, tx *sqlx.Tx, id, nis, major, academicYear string) error {
	const query = `UPDATE students SET active = TRUE, nis = $2, major = $3, academic_year = $4, updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, nis, major, academicYear, time.Now().UTC()); err != nil {
		return fmt.Errorf("reactivate student: %w", err)
	}
	return nil
}
