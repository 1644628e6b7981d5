package models

import (
	"time"

	"github.com/lib/pq"
)

// QuotaKey addresses one (major, admission path) group.
type QuotaKey struct {
	Major string `json:"major"`
	Path  string `json:"path"`
}

// Quota defines the seat capacity for a single group within a cycle.
type Quota struct {
	ID       string `db:"id" json:"id"`
	ConfigID string `db:"config_id" json:"config_id"`
	Major    string `db:"major" json:"major"`
	Path     string `db:"path" json:"path"`
	Capacity int    `db:"capacity" json:"capacity"`
}

// AdmissionConfig defines one admission cycle: its majors, paths and
// the quota table. Exactly one config per (school, year, batch) scope
// is expected to be active, tracked as a queryable attribute.
type AdmissionConfig struct {
	ID              string         `db:"id" json:"id"`
	SchoolID        string         `db:"school_id" json:"school_id"`
	AcademicYear    string         `db:"academic_year" json:"academic_year"`
	Batch           int            `db:"batch" json:"batch"`
	Active          bool           `db:"active" json:"active"`
	AvailableMajors pq.StringArray `db:"available_majors" json:"available_majors"`
	AdmissionPaths  pq.StringArray `db:"admission_paths" json:"admission_paths"`
	TotalCapacity   int            `db:"total_capacity" json:"total_capacity"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	Quotas []Quota `db:"-" json:"quotas"`
}

// QuotaFor returns the capacity configured for a group, and whether a
// quota row exists for it at all.
func (c *AdmissionConfig) QuotaFor(key QuotaKey) (int, bool) {
	for _, q := range c.Quotas {
		if q.Major == key.Major && q.Path == key.Path {
			return q.Capacity, true
		}
	}
	return 0, false
}

// HasMajor reports whether the major is offered in this cycle.
func (c *AdmissionConfig) HasMajor(major string) bool {
	for _, m := range c.AvailableMajors {
		if m == major {
			return true
		}
	}
	return false
}

// HasPath reports whether the admission path is offered in this cycle.
func (c *AdmissionConfig) HasPath(path string) bool {
	for _, p := range c.AdmissionPaths {
		if p == path {
			return true
		}
	}
	return false
}

// ConfigurationError describes one validation failure in a config.
type ConfigurationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
