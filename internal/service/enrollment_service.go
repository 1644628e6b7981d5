package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
)

type enrollmentStudentRepository interface {
	FindByEmailTx(ctx context.Context, tx *sqlx.Tx, schoolID, email string) (*models.Student, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
	ReactivateTx(ctx context.Context, tx *sqlx.Tx, id, nis, major, academicYear string) error
}

type enrollmentUserRepository interface {
	FindByEmailTx(ctx context.Context, tx *sqlx.Tx, schoolID, email string) (*models.User, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error
	PromoteRoleTx(ctx context.Context, tx *sqlx.Tx, id string, role models.UserRole) error
}

// EnrollmentService turns accepted applications into student records.
// It runs inside the caller's transaction so acceptance and enrollment
// commit or roll back together.
type EnrollmentService struct {
	students enrollmentStudentRepository
	users    enrollmentUserRepository
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(students enrollmentStudentRepository, users enrollmentUserRepository, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{students: students, users: users, metrics: metrics, logger: logger}
}

// OnAccepted enrolls the applicant behind an accepted application. The
// student identity key is (school, email): an existing record is
// reactivated and refreshed rather than duplicated, so re-running a
// selection that re-accepts the same applicant stays idempotent. The
// registration number is carried over as the student number.
func (s *EnrollmentService) OnAccepted(ctx context.Context, tx *sqlx.Tx, app *models.Application) error {
	existing, err := s.students.FindByEmailTx(ctx, tx, app.SchoolID, app.Email)
	switch {
	case err == nil:
		if err := s.students.ReactivateTx(ctx, tx, existing.ID, app.RegistrationNumber, app.MajorChoice, app.AcademicYear); err != nil {
			return fmt.Errorf("reactivate student for %s: %w", app.RegistrationNumber, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		student := &models.Student{
			SchoolID:     app.SchoolID,
			NIS:          app.RegistrationNumber,
			Email:        app.Email,
			FullName:     app.FullName,
			Major:        app.MajorChoice,
			AcademicYear: app.AcademicYear,
			Phone:        app.Phone,
			Address:      app.Address,
			Active:       true,
		}
		if err := s.students.CreateTx(ctx, tx, student); err != nil {
			return fmt.Errorf("create student for %s: %w", app.RegistrationNumber, err)
		}
	default:
		return fmt.Errorf("lookup student for %s: %w", app.RegistrationNumber, err)
	}

	if err := s.ensureAccount(ctx, tx, app); err != nil {
		return err
	}

	s.metrics.RecordEnrollment()
	s.logger.Info("student enrolled",
		zap.String("registration_number", app.RegistrationNumber),
		zap.String("school_id", app.SchoolID),
		zap.String("major", app.MajorChoice),
	)
	return nil
}

// ensureAccount gives the enrolled student a portal account. Existing
// applicant accounts are promoted; staff accounts are left untouched.
func (s *EnrollmentService) ensureAccount(ctx context.Context, tx *sqlx.Tx, app *models.Application) error {
	user, err := s.users.FindByEmailTx(ctx, tx, app.SchoolID, app.Email)
	switch {
	case err == nil:
		if user.Role == models.RoleApplicant {
			if err := s.users.PromoteRoleTx(ctx, tx, user.ID, models.RoleStudent); err != nil {
				return fmt.Errorf("promote account for %s: %w", app.RegistrationNumber, err)
			}
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		account := &models.User{
			SchoolID: app.SchoolID,
			Email:    app.Email,
			FullName: app.FullName,
			Role:     models.RoleStudent,
			Active:   true,
		}
		if err := s.users.CreateTx(ctx, tx, account); err != nil {
			return fmt.Errorf("create account for %s: %w", app.RegistrationNumber, err)
		}
		return nil
	default:
		return fmt.Errorf("lookup account for %s: %w", app.RegistrationNumber, err)
	}
}
