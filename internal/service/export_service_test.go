package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
	"github.com/noah-isme/sma-ppdb-api/pkg/jobs"
)

type exportAppsStub struct {
	decided []models.Application
}

func (s *exportAppsStub) ListDecided(ctx context.Context, schoolID, academicYear string, batch int) ([]models.Application, error) {
	return s.decided, nil
}

func exportTestService(decided []models.Application) (*ExportService, *configRepoStub) {
	configs := newConfigRepoStub()
	configs.configs["cfg-1"] = testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 10})
	svc := NewExportService(&exportAppsStub{decided: decided}, configs, 1, 1, time.Hour, nil)
	return svc, configs
}

func decidedApplications() []models.Application {
	total := 88.5
	return []models.Application{
		{
			RegistrationNumber: "PPDB-2025-1-0001",
			FullName:           "Siti Rahma",
			MajorChoice:        "IPA",
			AdmissionPath:      "ZONASI",
			TotalScore:         &total,
			Status:             models.ApplicationStatusAccepted,
		},
		{
			RegistrationNumber: "PPDB-2025-1-0002",
			FullName:           "Budi Santoso",
			MajorChoice:        "IPA",
			AdmissionPath:      "ZONASI",
			Status:             models.ApplicationStatusRejected,
		},
	}
}

func TestExportEnqueueRejectsUnknownFormat(t *testing.T) {
	svc, _ := exportTestService(nil)
	_, err := svc.Enqueue(context.Background(), "cfg-1", models.ExportFormat("xlsx"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestExportEnqueueRejectsUnknownConfig(t *testing.T) {
	svc, _ := exportTestService(nil)
	_, err := svc.Enqueue(context.Background(), "missing", models.ExportFormatCSV)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestExportGetUnknownJob(t *testing.T) {
	svc, _ := exportTestService(nil)
	_, err := svc.Get("missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestExportProcessRendersCSV(t *testing.T) {
	svc, _ := exportTestService(decidedApplications())

	job := &models.ExportJob{
		ID:          "job-1",
		ConfigID:    "cfg-1",
		Format:      models.ExportFormatCSV,
		Status:      models.ExportJobQueued,
		RequestedAt: time.Now().UTC(),
	}
	svc.jobs[job.ID] = job

	err := svc.process(context.Background(), jobs.Job{ID: job.ID, Type: exportJobType, Payload: job.ID})
	require.NoError(t, err)

	stored, err := svc.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportJobCompleted, stored.Status)
	assert.Equal(t, "text/csv", stored.ContentType)
	assert.True(t, strings.HasSuffix(stored.Filename, ".csv"))

	body := string(stored.Payload)
	assert.Contains(t, body, "PPDB-2025-1-0001")
	assert.Contains(t, body, "Siti Rahma")
	assert.Contains(t, body, "88.50")
	assert.Contains(t, body, string(models.ApplicationStatusRejected))
}

func TestExportProcessRendersPDF(t *testing.T) {
	svc, _ := exportTestService(decidedApplications())

	job := &models.ExportJob{
		ID:       "job-2",
		ConfigID: "cfg-1",
		Format:   models.ExportFormatPDF,
		Status:   models.ExportJobQueued,
	}
	svc.jobs[job.ID] = job

	err := svc.process(context.Background(), jobs.Job{ID: job.ID, Type: exportJobType, Payload: job.ID})
	require.NoError(t, err)

	stored, err := svc.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, models.ExportJobCompleted, stored.Status)
	assert.Equal(t, "application/pdf", stored.ContentType)
	assert.NotEmpty(t, stored.Payload)
}

func TestExportSweepDropsExpiredJobs(t *testing.T) {
	svc, _ := exportTestService(nil)

	old := time.Now().UTC().Add(-2 * time.Hour)
	svc.jobs["stale"] = &models.ExportJob{
		ID:          "stale",
		Status:      models.ExportJobCompleted,
		CompletedAt: &old,
	}
	svc.jobs["fresh"] = &models.ExportJob{
		ID:     "fresh",
		Status: models.ExportJobRunning,
	}

	svc.mu.Lock()
	svc.sweepLocked()
	svc.mu.Unlock()

	_, err := svc.Get("stale")
	assert.Error(t, err)
	_, err = svc.Get("fresh")
	assert.NoError(t, err)
}
