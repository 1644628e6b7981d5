package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/internal/repository"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

type applicationRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Application, error)
	FindByNumber(ctx context.Context, schoolID, number string) (*models.Application, error)
	ExistsByIdentity(ctx context.Context, schoolID, academicYear string, batch int, email string) (bool, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
	UpdateScoresTx(ctx context.Context, tx *sqlx.Tx, id string, selection, interview, document, total *float64) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ApplicationStatus, at time.Time) error
	MarkSelectionBulk(ctx context.Context, schoolID, academicYear string, batch int, at time.Time) (int64, error)
	SetCancelledTx(ctx context.Context, tx *sqlx.Tx, id, reason string) error
}

type sequenceAllocator interface {
	NextTx(ctx context.Context, tx *sqlx.Tx, schoolID, academicYear string, batch int) (string, error)
}

type enrollmentBridge interface {
	OnAccepted(ctx context.Context, tx *sqlx.Tx, app *models.Application) error
}

// RegisterApplicationRequest describes an applicant submission.
type RegisterApplicationRequest struct {
	SchoolID      string          `json:"school_id" validate:"required"`
	AcademicYear  string          `json:"academic_year" validate:"required"`
	Batch         int             `json:"batch" validate:"required,min=1"`
	FullName      string          `json:"full_name" validate:"required"`
	Email         string          `json:"email" validate:"required,email"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	MajorChoice   string          `json:"major_choice" validate:"required"`
	AdmissionPath string          `json:"admission_path" validate:"required"`
	PriorSchool   json.RawMessage `json:"prior_school"`
}

// UpdateScoresRequest carries partial score updates. Omitted components
// keep their stored value.
type UpdateScoresRequest struct {
	SelectionScore *float64 `json:"selection_score" validate:"omitempty,min=0,max=100"`
	InterviewScore *float64 `json:"interview_score" validate:"omitempty,min=0,max=100"`
	DocumentScore  *float64 `json:"document_score" validate:"omitempty,min=0,max=100"`
}

// TransitionRequest moves an application to a target status.
type TransitionRequest struct {
	Status models.ApplicationStatus `json:"status" validate:"required"`
	Reason string                   `json:"reason"`
}

// OpenSelectionRequest moves a cycle's registered applications into the
// selection stage.
type OpenSelectionRequest struct {
	SchoolID     string `json:"school_id" validate:"required"`
	AcademicYear string `json:"academic_year" validate:"required"`
	Batch        int    `json:"batch" validate:"required,min=1"`
}

// RegistrationService orchestrates application intake and the status
// state machine.
type RegistrationService struct {
	db        *sqlx.DB
	apps      applicationRepository
	sequences sequenceAllocator
	bridge    enrollmentBridge
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(db *sqlx.DB, apps applicationRepository, sequences sequenceAllocator, bridge enrollmentBridge, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{db: db, apps: apps, sequences: sequences, bridge: bridge, metrics: metrics, validator: validate, logger: logger}
}

// Register validates a submission, allocates a registration number and
// persists the application. Number allocation and the application row
// commit together: a failed insert never leaves a numberless
// application nor an application-less visible number.
func (s *RegistrationService) Register(ctx context.Context, req RegisterApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	exists, err := s.apps.ExistsByIdentity(ctx, req.SchoolID, req.AcademicYear, req.Batch, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRegistration, "")
	}

	app := &models.Application{
		SchoolID:         req.SchoolID,
		AcademicYear:     req.AcademicYear,
		Batch:            req.Batch,
		FullName:         req.FullName,
		Email:            req.Email,
		Phone:            req.Phone,
		Address:          req.Address,
		MajorChoice:      req.MajorChoice,
		AdmissionPath:    req.AdmissionPath,
		PriorSchool:      req.PriorSchool,
		Status:           models.ApplicationStatusRegistered,
		RegistrationDate: time.Now().UTC(),
	}

	err = repository.WithinTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		number, err := s.sequences.NextTx(ctx, tx, req.SchoolID, req.AcademicYear, req.Batch)
		if err != nil {
			return err
		}
		app.RegistrationNumber = number
		return s.apps.CreateTx(ctx, tx, app)
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrSequenceExhausted) {
			return nil, err
		}
		if isUniqueViolation(err) {
			// Lost the race against a concurrent submission with the
			// same applicant identity.
			return nil, appErrors.Clone(appErrors.ErrDuplicateRegistration, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register application")
	}

	s.metrics.RecordRegistration(req.SchoolID)
	s.logger.Info("application registered",
		zap.String("registration_number", app.RegistrationNumber),
		zap.String("school_id", app.SchoolID),
		zap.String("major", app.MajorChoice),
		zap.String("path", app.AdmissionPath),
	)
	return app, nil
}

// Get returns an application by ID.
func (s *RegistrationService) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// GetByNumber returns an application by registration number.
func (s *RegistrationService) GetByNumber(ctx context.Context, schoolID, number string) (*models.Application, error) {
	app, err := s.apps.FindByNumber(ctx, schoolID, number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// List returns applications with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	apps, total, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return apps, pagination, nil
}

// UpdateScores applies component score changes and recomputes the total.
// The total is a pure function of the three components: it stays null
// until all three are present and is never accumulated incrementally.
// The row is read under a lock and written in the same transaction, so
// concurrent single-component updates merge instead of erasing each
// other.
func (s *RegistrationService) UpdateScores(ctx context.Context, id string, req UpdateScoresRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid score payload")
	}

	var app *models.Application
	err := repository.WithinTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		loaded, err := s.apps.FindByIDTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return err
		}
		if loaded.Status.IsTerminal() {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "scores are frozen for finalized applications")
		}

		if req.SelectionScore != nil {
			loaded.SelectionScore = req.SelectionScore
		}
		if req.InterviewScore != nil {
			loaded.InterviewScore = req.InterviewScore
		}
		if req.DocumentScore != nil {
			loaded.DocumentScore = req.DocumentScore
		}
		loaded.TotalScore = models.ComputeTotalScore(loaded.SelectionScore, loaded.InterviewScore, loaded.DocumentScore)

		if err := s.apps.UpdateScoresTx(ctx, tx, id, loaded.SelectionScore, loaded.InterviewScore, loaded.DocumentScore, loaded.TotalScore); err != nil {
			return err
		}
		app = loaded
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to update scores")
	}
	return app, nil
}

// Transition moves an application along the status graph. The row is
// read under a lock and written in the same transaction, so the
// legality check always runs against the stored status even when
// operators race or a transition races a selection run. Entry side
// effects run exactly once: timestamps stamp on first entry, and
// entering ACCEPTED enrolls the student inside the same transaction.
// Re-entering ACCEPTED is a no-op rather than a duplicate enrollment.
func (s *RegistrationService) Transition(ctx context.Context, id string, req TransitionRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	target := req.Status
	var app *models.Application
	err := repository.WithinTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		loaded, err := s.apps.FindByIDTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return err
		}
		app = loaded

		if loaded.Status == models.ApplicationStatusAccepted && target == models.ApplicationStatusAccepted {
			return nil
		}
		if !models.CanTransition(loaded.Status, target) {
			return appErrors.Clone(appErrors.ErrIllegalTransition,
				fmt.Sprintf("cannot move application from %s to %s", loaded.Status, target))
		}

		now := time.Now().UTC()
		switch target {
		case models.ApplicationStatusCancelled:
			if err := s.apps.SetCancelledTx(ctx, tx, id, req.Reason); err != nil {
				return err
			}
			reason := req.Reason
			loaded.CancelReason = &reason
		case models.ApplicationStatusAccepted:
			if err := s.apps.UpdateStatusTx(ctx, tx, id, target, now); err != nil {
				return err
			}
			if loaded.AcceptedDate == nil {
				loaded.AcceptedDate = &now
			}
			if err := s.bridge.OnAccepted(ctx, tx, loaded); err != nil {
				return appErrors.Wrap(err, appErrors.ErrEnrollmentFailed.Code, appErrors.ErrEnrollmentFailed.Status, "failed to accept application")
			}
		default:
			if err := s.apps.UpdateStatusTx(ctx, tx, id, target, now); err != nil {
				return err
			}
			switch target {
			case models.ApplicationStatusSelection:
				if loaded.SelectionDate == nil {
					loaded.SelectionDate = &now
				}
			case models.ApplicationStatusAnnounced:
				if loaded.AnnouncementDate == nil {
					loaded.AnnouncementDate = &now
				}
			}
		}

		loaded.Status = target
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to update application status")
	}
	return app, nil
}

// OpenSelection moves every registered application of a cycle into the
// selection stage ahead of a run.
func (s *RegistrationService) OpenSelection(ctx context.Context, req OpenSelectionRequest) (int64, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	moved, err := s.apps.MarkSelectionBulk(ctx, req.SchoolID, req.AcademicYear, req.Batch, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open selection")
	}
	return moved, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// asAppError passes typed domain errors through and wraps anything else
// as internal.
func asAppError(err error, message string) error {
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
