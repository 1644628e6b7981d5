package models

import "time"

// SelectionDecision captures the outcome for one application in a run.
type SelectionDecision struct {
	ApplicationID      string   `json:"application_id"`
	RegistrationNumber string   `json:"registration_number"`
	Major              string   `json:"major"`
	Path               string   `json:"path"`
	TotalScore         *float64 `json:"total_score,omitempty"`
}

// SelectionResult partitions the eligible set of a run into accepted
// and rejected decisions with no omissions and no overlap.
type SelectionResult struct {
	ConfigID     string              `json:"config_id"`
	AcademicYear string              `json:"academic_year"`
	Batch        int                 `json:"batch"`
	Accepted     []SelectionDecision `json:"accepted"`
	Rejected     []SelectionDecision `json:"rejected"`
	RanAt        time.Time           `json:"ran_at"`
}

// GroupStatistics summarises one quota group of a cycle.
type GroupStatistics struct {
	Major      string `json:"major"`
	Path       string `json:"path"`
	Capacity   int    `json:"capacity"`
	Registered int    `json:"registered"`
	Eligible   int    `json:"eligible"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
}

// SelectionStatistics aggregates group statistics for a cycle.
type SelectionStatistics struct {
	ConfigID     string            `json:"config_id"`
	AcademicYear string            `json:"academic_year"`
	Batch        int               `json:"batch"`
	Groups       []GroupStatistics `json:"groups"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
