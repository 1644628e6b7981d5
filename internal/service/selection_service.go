package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/internal/repository"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

const statsCacheKeyPrefix = "admission:stats:"

type selectionConfigRepository interface {
	FindByID(ctx context.Context, id string) (*models.AdmissionConfig, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.AdmissionConfig, error)
}

type selectionApplicationRepository interface {
	ListEligibleTx(ctx context.Context, tx *sqlx.Tx, schoolID, academicYear string, batch int) ([]models.Application, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ApplicationStatus, at time.Time) error
	CountByGroup(ctx context.Context, schoolID, academicYear string, batch int) ([]models.GroupCount, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SelectionService runs quota-bounded selection over the eligible
// applications of an admission cycle.
type SelectionService struct {
	db       *sqlx.DB
	configs  selectionConfigRepository
	apps     selectionApplicationRepository
	bridge   enrollmentBridge
	cache    statsCache
	metrics  *MetricsService
	logger   *zap.Logger
	statsTTL time.Duration
}

// NewSelectionService constructs SelectionService.
func NewSelectionService(db *sqlx.DB, configs selectionConfigRepository, apps selectionApplicationRepository, bridge enrollmentBridge, cache statsCache, metrics *MetricsService, logger *zap.Logger, statsTTL time.Duration) *SelectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTTL <= 0 {
		statsTTL = 5 * time.Minute
	}
	return &SelectionService{db: db, configs: configs, apps: apps, bridge: bridge, cache: cache, metrics: metrics, logger: logger, statsTTL: statsTTL}
}

// Run executes one selection pass for the given configuration inside a
// single transaction. The eligible set is locked for the duration of
// the run; decisions are computed from a snapshot of the config and
// scores, then persisted, with accepted applicants enrolled in the same
// transaction. An invalid config or an applicant group without a quota
// row aborts the run before any state changes.
func (s *SelectionService) Run(ctx context.Context, configID string) (*models.SelectionResult, error) {
	start := time.Now()
	var result *models.SelectionResult

	err := repository.WithinTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sqlx.Tx) error {
		cfg, err := s.configs.FindByIDTx(ctx, tx, configID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "admission config not found")
			}
			return fmt.Errorf("load admission config: %w", err)
		}
		if errs := ValidateConfig(cfg); len(errs) > 0 {
			return appErrors.Clone(appErrors.ErrConfiguration, configurationMessage(errs))
		}

		eligible, err := s.apps.ListEligibleTx(ctx, tx, cfg.SchoolID, cfg.AcademicYear, cfg.Batch)
		if err != nil {
			return fmt.Errorf("list eligible applications: %w", err)
		}

		accepted, rejected, err := decide(cfg, eligible)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range accepted {
			if err := s.apps.UpdateStatusTx(ctx, tx, accepted[i].ID, models.ApplicationStatusAccepted, now); err != nil {
				return fmt.Errorf("accept %s: %w", accepted[i].RegistrationNumber, err)
			}
		}
		for i := range rejected {
			if err := s.apps.UpdateStatusTx(ctx, tx, rejected[i].ID, models.ApplicationStatusRejected, now); err != nil {
				return fmt.Errorf("reject %s: %w", rejected[i].RegistrationNumber, err)
			}
		}
		for i := range accepted {
			if err := s.bridge.OnAccepted(ctx, tx, &accepted[i]); err != nil {
				return appErrors.Wrap(err, appErrors.ErrEnrollmentFailed.Code, appErrors.ErrEnrollmentFailed.Status,
					fmt.Sprintf("enrollment failed for %s", accepted[i].RegistrationNumber))
			}
		}

		result = &models.SelectionResult{
			ConfigID:     cfg.ID,
			AcademicYear: cfg.AcademicYear,
			Batch:        cfg.Batch,
			Accepted:     toDecisions(accepted),
			Rejected:     toDecisions(rejected),
			RanAt:        now,
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordSelectionRun("error", time.Since(start))
		return nil, err
	}

	s.metrics.RecordSelectionRun("success", time.Since(start))
	s.logger.Info("selection run completed",
		zap.String("config_id", configID),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Duration("duration", time.Since(start)),
	)

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, statsCacheKeyPrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
		}
	}
	return result, nil
}

// decide partitions the eligible set into accepted and rejected. Every
// eligible application lands in exactly one side. The function is pure:
// the same config and application set always produce the same split.
func decide(cfg *models.AdmissionConfig, eligible []models.Application) (accepted, rejected []models.Application, err error) {
	groups := make(map[models.QuotaKey][]models.Application)
	for _, app := range eligible {
		key := app.GroupKey()
		if _, ok := cfg.QuotaFor(key); !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrUnconfiguredGroup,
				fmt.Sprintf("no quota configured for major %q via path %q", key.Major, key.Path))
		}
		groups[key] = append(groups[key], app)
	}

	keys := make([]models.QuotaKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Major != keys[j].Major {
			return keys[i].Major < keys[j].Major
		}
		return keys[i].Path < keys[j].Path
	})

	for _, key := range keys {
		apps := groups[key]
		sort.SliceStable(apps, func(i, j int) bool { return rankBefore(&apps[i], &apps[j]) })
		capacity, _ := cfg.QuotaFor(key)
		if capacity > len(apps) {
			capacity = len(apps)
		}
		accepted = append(accepted, apps[:capacity]...)
		rejected = append(rejected, apps[capacity:]...)
	}
	return accepted, rejected, nil
}

// rankBefore orders applications within a group: highest total score
// first, with unscored applications ranked after all scored ones, then
// earliest registration, then registration number as the final
// tiebreak. The chain ends on a unique key so the ranking is total.
func rankBefore(a, b *models.Application) bool {
	switch {
	case a.TotalScore != nil && b.TotalScore == nil:
		return true
	case a.TotalScore == nil && b.TotalScore != nil:
		return false
	case a.TotalScore != nil && b.TotalScore != nil && *a.TotalScore != *b.TotalScore:
		return *a.TotalScore > *b.TotalScore
	}
	if !a.RegistrationDate.Equal(b.RegistrationDate) {
		return a.RegistrationDate.Before(b.RegistrationDate)
	}
	return a.RegistrationNumber < b.RegistrationNumber
}

func toDecisions(apps []models.Application) []models.SelectionDecision {
	decisions := make([]models.SelectionDecision, 0, len(apps))
	for _, app := range apps {
		decisions = append(decisions, models.SelectionDecision{
			ApplicationID:      app.ID,
			RegistrationNumber: app.RegistrationNumber,
			Major:              app.MajorChoice,
			Path:               app.AdmissionPath,
			TotalScore:         app.TotalScore,
		})
	}
	return decisions
}

func configurationMessage(errs []models.ConfigurationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "admission configuration is invalid: " + strings.Join(parts, "; ")
}

// Statistics summarises per-group counts for a cycle, cached briefly
// since the numbers back a public dashboard.
func (s *SelectionService) Statistics(ctx context.Context, configID string) (*models.SelectionStatistics, error) {
	cacheKey := statsCacheKeyPrefix + configID
	if s.cache != nil {
		var cached models.SelectionStatistics
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	cfg, err := s.configs.FindByID(ctx, configID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admission config not found")
		}
		return nil, fmt.Errorf("load admission config: %w", err)
	}

	counts, err := s.apps.CountByGroup(ctx, cfg.SchoolID, cfg.AcademicYear, cfg.Batch)
	if err != nil {
		return nil, fmt.Errorf("count applications: %w", err)
	}

	byGroup := make(map[models.QuotaKey]*models.GroupStatistics, len(cfg.Quotas))
	stats := &models.SelectionStatistics{
		ConfigID:     cfg.ID,
		AcademicYear: cfg.AcademicYear,
		Batch:        cfg.Batch,
		Groups:       make([]models.GroupStatistics, 0, len(cfg.Quotas)),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, q := range cfg.Quotas {
		stats.Groups = append(stats.Groups, models.GroupStatistics{Major: q.Major, Path: q.Path, Capacity: q.Capacity})
		byGroup[models.QuotaKey{Major: q.Major, Path: q.Path}] = &stats.Groups[len(stats.Groups)-1]
	}

	for _, c := range counts {
		group, ok := byGroup[models.QuotaKey{Major: c.Major, Path: c.Path}]
		if !ok {
			continue
		}
		if c.Status != models.ApplicationStatusCancelled {
			group.Registered += c.Count
		}
		switch c.Status {
		case models.ApplicationStatusSelection, models.ApplicationStatusAnnounced:
			group.Eligible += c.Count
		case models.ApplicationStatusAccepted:
			group.Accepted += c.Count
		case models.ApplicationStatusRejected:
			group.Rejected += c.Count
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.statsTTL); err != nil {
			s.logger.Warn("failed to cache statistics", zap.Error(err))
		}
	}
	return stats, nil
}
