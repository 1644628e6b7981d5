package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

type admissionConfigRepository interface {
	Create(ctx context.Context, cfg *models.AdmissionConfig) error
	Update(ctx context.Context, cfg *models.AdmissionConfig) error
	FindByID(ctx context.Context, id string) (*models.AdmissionConfig, error)
	FindActive(ctx context.Context, schoolID, academicYear string, batch int) (*models.AdmissionConfig, error)
	List(ctx context.Context, schoolID string) ([]models.AdmissionConfig, error)
	Activate(ctx context.Context, id string) error
}

// QuotaInput defines one quota row in a config payload.
type QuotaInput struct {
	Major    string `json:"major" validate:"required"`
	Path     string `json:"path" validate:"required"`
	Capacity int    `json:"capacity" validate:"min=0"`
}

// AdmissionConfigRequest creates or replaces an admission cycle config.
type AdmissionConfigRequest struct {
	SchoolID        string       `json:"school_id" validate:"required"`
	AcademicYear    string       `json:"academic_year" validate:"required"`
	Batch           int          `json:"batch" validate:"required,min=1"`
	AvailableMajors []string     `json:"available_majors" validate:"required,min=1,dive,required"`
	AdmissionPaths  []string     `json:"admission_paths" validate:"required,min=1,dive,required"`
	TotalCapacity   int          `json:"total_capacity" validate:"min=0"`
	Quotas          []QuotaInput `json:"quotas" validate:"dive"`
}

// AdmissionConfigService manages cycle configurations and their
// validity rules.
type AdmissionConfigService struct {
	configs   admissionConfigRepository
	cache     statsCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAdmissionConfigService constructs AdmissionConfigService.
func NewAdmissionConfigService(configs admissionConfigRepository, cache statsCache, validate *validator.Validate, logger *zap.Logger) *AdmissionConfigService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionConfigService{configs: configs, cache: cache, validator: validate, logger: logger}
}

// ValidateConfig checks the internal consistency of a configuration.
// A config that fails any of these rules must never drive a selection
// run: quota keys must reference declared majors and paths, capacities
// must be non-negative and duplicate quota keys are rejected.
func ValidateConfig(cfg *models.AdmissionConfig) []models.ConfigurationError {
	var errs []models.ConfigurationError

	if len(cfg.AvailableMajors) == 0 {
		errs = append(errs, models.ConfigurationError{Field: "available_majors", Message: "at least one major is required"})
	}
	if len(cfg.AdmissionPaths) == 0 {
		errs = append(errs, models.ConfigurationError{Field: "admission_paths", Message: "at least one admission path is required"})
	}
	if cfg.TotalCapacity < 0 {
		errs = append(errs, models.ConfigurationError{Field: "total_capacity", Message: "capacity cannot be negative"})
	}

	seen := make(map[models.QuotaKey]struct{}, len(cfg.Quotas))
	quotaSum := 0
	for i, q := range cfg.Quotas {
		field := fmt.Sprintf("quotas[%d]", i)
		key := models.QuotaKey{Major: q.Major, Path: q.Path}
		if _, dup := seen[key]; dup {
			errs = append(errs, models.ConfigurationError{Field: field, Message: fmt.Sprintf("duplicate quota for %s/%s", q.Major, q.Path)})
		}
		seen[key] = struct{}{}
		if !cfg.HasMajor(q.Major) {
			errs = append(errs, models.ConfigurationError{Field: field, Message: fmt.Sprintf("major %q is not offered in this cycle", q.Major)})
		}
		if !cfg.HasPath(q.Path) {
			errs = append(errs, models.ConfigurationError{Field: field, Message: fmt.Sprintf("admission path %q is not offered in this cycle", q.Path)})
		}
		if q.Capacity < 0 {
			errs = append(errs, models.ConfigurationError{Field: field, Message: "capacity cannot be negative"})
		}
		quotaSum += q.Capacity
	}
	if cfg.TotalCapacity > 0 && quotaSum > cfg.TotalCapacity {
		errs = append(errs, models.ConfigurationError{
			Field:   "total_capacity",
			Message: fmt.Sprintf("quota capacities sum to %d, exceeding the total capacity of %d", quotaSum, cfg.TotalCapacity),
		})
	}
	return errs
}

func (s *AdmissionConfigService) buildConfig(req AdmissionConfigRequest) *models.AdmissionConfig {
	cfg := &models.AdmissionConfig{
		SchoolID:        req.SchoolID,
		AcademicYear:    req.AcademicYear,
		Batch:           req.Batch,
		AvailableMajors: req.AvailableMajors,
		AdmissionPaths:  req.AdmissionPaths,
		TotalCapacity:   req.TotalCapacity,
	}
	for _, q := range req.Quotas {
		cfg.Quotas = append(cfg.Quotas, models.Quota{Major: q.Major, Path: q.Path, Capacity: q.Capacity})
	}
	return cfg
}

// Create validates and persists a new configuration. It is created
// inactive; activation is an explicit second step.
func (s *AdmissionConfigService) Create(ctx context.Context, req AdmissionConfigRequest) (*models.AdmissionConfig, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid config payload")
	}
	cfg := s.buildConfig(req)
	if errs := ValidateConfig(cfg); len(errs) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, configurationMessage(errs))
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create admission config")
	}
	s.logger.Info("admission config created",
		zap.String("config_id", cfg.ID),
		zap.String("school_id", cfg.SchoolID),
		zap.String("academic_year", cfg.AcademicYear),
		zap.Int("batch", cfg.Batch),
	)
	return cfg, nil
}

// Update replaces the majors, paths, capacity and quota table of an
// existing configuration.
func (s *AdmissionConfigService) Update(ctx context.Context, id string, req AdmissionConfigRequest) (*models.AdmissionConfig, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid config payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg := s.buildConfig(req)
	cfg.ID = existing.ID
	cfg.SchoolID = existing.SchoolID
	cfg.AcademicYear = existing.AcademicYear
	cfg.Batch = existing.Batch
	cfg.Active = existing.Active
	if errs := ValidateConfig(cfg); len(errs) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, configurationMessage(errs))
	}
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update admission config")
	}
	s.invalidateStats(ctx, cfg.ID)
	return cfg, nil
}

// Get returns a configuration with its quota table.
func (s *AdmissionConfigService) Get(ctx context.Context, id string) (*models.AdmissionConfig, error) {
	cfg, err := s.configs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admission config not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admission config")
	}
	return cfg, nil
}

// GetActive returns the active configuration for a cycle scope.
func (s *AdmissionConfigService) GetActive(ctx context.Context, schoolID, academicYear string, batch int) (*models.AdmissionConfig, error) {
	cfg, err := s.configs.FindActive(ctx, schoolID, academicYear, batch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active admission config for this cycle")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active config")
	}
	return cfg, nil
}

// List returns all configurations for a school.
func (s *AdmissionConfigService) List(ctx context.Context, schoolID string) ([]models.AdmissionConfig, error) {
	cfgs, err := s.configs.List(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list admission configs")
	}
	return cfgs, nil
}

// Validate re-checks a stored configuration and returns its problems
// without touching it, so operators can audit a cycle before going live.
func (s *AdmissionConfigService) Validate(ctx context.Context, id string) ([]models.ConfigurationError, error) {
	cfg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ValidateConfig(cfg), nil
}

// Activate marks a configuration as the live one for its scope. An
// invalid configuration cannot be activated.
func (s *AdmissionConfigService) Activate(ctx context.Context, id string) (*models.AdmissionConfig, error) {
	cfg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if errs := ValidateConfig(cfg); len(errs) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, configurationMessage(errs))
	}
	if err := s.configs.Activate(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate admission config")
	}
	cfg.Active = true
	s.invalidateStats(ctx, id)
	s.logger.Info("admission config activated", zap.String("config_id", id))
	return cfg, nil
}

func (s *AdmissionConfigService) invalidateStats(ctx context.Context, configID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statsCacheKeyPrefix+configID); err != nil {
		s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}
