package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
	"github.com/noah-isme/sma-ppdb-api/pkg/export"
	"github.com/noah-isme/sma-ppdb-api/pkg/jobs"
)

const exportJobType = "announcement_export"

type exportApplicationRepository interface {
	ListDecided(ctx context.Context, schoolID, academicYear string, batch int) ([]models.Application, error)
}

type exportConfigRepository interface {
	FindByID(ctx context.Context, id string) (*models.AdmissionConfig, error)
}

// ExportService produces announcement lists for a decided cycle as CSV
// or PDF. Rendering happens asynchronously on a worker queue; results
// are kept in memory until they expire.
type ExportService struct {
	apps      exportApplicationRepository
	configs   exportConfigRepository
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	queue     *jobs.Queue
	logger    *zap.Logger
	resultTTL time.Duration

	mu   sync.RWMutex
	jobs map[string]*models.ExportJob
}

// NewExportService constructs ExportService and its worker queue. Call
// Start before enqueueing and Stop on shutdown.
func NewExportService(apps exportApplicationRepository, configs exportConfigRepository, workers, retries int, resultTTL time.Duration, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	s := &ExportService{
		apps:      apps,
		configs:   configs,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
		resultTTL: resultTTL,
		jobs:      make(map[string]*models.ExportJob),
	}
	s.queue = jobs.NewQueue("announcement-exports", s.process, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: retries,
		Logger:     logger,
	})
	return s
}

// Start launches the export workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Enqueue schedules an announcement export for a cycle and returns the
// job handle immediately.
func (s *ExportService) Enqueue(ctx context.Context, configID string, format models.ExportFormat) (*models.ExportJob, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if _, err := s.configs.FindByID(ctx, configID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "admission config not found")
	}

	job := &models.ExportJob{
		ID:          uuid.NewString(),
		ConfigID:    configID,
		Format:      format,
		Status:      models.ExportJobQueued,
		RequestedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sweepLocked()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: exportJobType, Payload: job.ID}); err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}
	return job, nil
}

// Get returns a job snapshot by ID.
func (s *ExportService) Get(jobID string) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *ExportService) process(ctx context.Context, j jobs.Job) error {
	jobID, _ := j.Payload.(string)

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	job.Status = models.ExportJobRunning
	configID, format := job.ConfigID, job.Format
	s.mu.Unlock()

	payload, filename, contentType, err := s.render(ctx, configID, format)

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		job.Status = models.ExportJobFailed
		job.Error = err.Error()
		job.CompletedAt = &now
		return err
	}
	job.Status = models.ExportJobCompleted
	job.Error = ""
	job.Payload = payload
	job.Filename = filename
	job.ContentType = contentType
	job.CompletedAt = &now
	return nil
}

func (s *ExportService) render(ctx context.Context, configID string, format models.ExportFormat) ([]byte, string, string, error) {
	cfg, err := s.configs.FindByID(ctx, configID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load admission config: %w", err)
	}
	decided, err := s.apps.ListDecided(ctx, cfg.SchoolID, cfg.AcademicYear, cfg.Batch)
	if err != nil {
		return nil, "", "", fmt.Errorf("list decided applications: %w", err)
	}
	sort.SliceStable(decided, func(i, j int) bool {
		return decided[i].RegistrationNumber < decided[j].RegistrationNumber
	})

	dataset := export.Dataset{
		Headers: []string{"Registration Number", "Full Name", "Major", "Path", "Total Score", "Result"},
	}
	for _, app := range decided {
		score := ""
		if app.TotalScore != nil {
			score = strconv.FormatFloat(*app.TotalScore, 'f', 2, 64)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Registration Number": app.RegistrationNumber,
			"Full Name":           app.FullName,
			"Major":               app.MajorChoice,
			"Path":                app.AdmissionPath,
			"Total Score":         score,
			"Result":              string(app.Status),
		})
	}

	base := fmt.Sprintf("announcement_%s_batch%d", sanitizeYear(cfg.AcademicYear), cfg.Batch)
	switch format {
	case models.ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", "", err
		}
		return payload, base + ".csv", "text/csv", nil
	case models.ExportFormatPDF:
		title := fmt.Sprintf("Admission Announcement %s Batch %d", cfg.AcademicYear, cfg.Batch)
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", "", err
		}
		return payload, base + ".pdf", "application/pdf", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported export format %q", format)
	}
}

// sweepLocked drops expired finished jobs. Caller holds the write lock.
func (s *ExportService) sweepLocked() {
	cutoff := time.Now().UTC().Add(-s.resultTTL)
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func sanitizeYear(year string) string {
	out := make([]rune, 0, len(year))
	for _, r := range year {
		if r == '/' || r == '\\' || r == ' ' {
			r = '-'
		}
		out = append(out, r)
	}
	return string(out)
}
