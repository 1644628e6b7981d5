package models

import "time"

// ExportFormat enumerates supported announcement export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportJobStatus tracks the lifecycle of an export job.
type ExportJobStatus string

const (
	ExportJobQueued    ExportJobStatus = "QUEUED"
	ExportJobRunning   ExportJobStatus = "RUNNING"
	ExportJobCompleted ExportJobStatus = "COMPLETED"
	ExportJobFailed    ExportJobStatus = "FAILED"
)

// ExportJob describes one announcement export request and its result.
type ExportJob struct {
	ID          string          `json:"id"`
	ConfigID    string          `json:"config_id"`
	Format      ExportFormat    `json:"format"`
	Status      ExportJobStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Payload     []byte          `json:"-"`
	RequestedAt time.Time       `json:"requested_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
