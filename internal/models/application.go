package models

import (
	"encoding/json"
	"time"
)

// ApplicationStatus represents the lifecycle of an admission application.
type ApplicationStatus string

// Possible application statuses. The flow is forward-only:
// PENDING -> REGISTERED -> SELECTION -> ANNOUNCED -> ACCEPTED, with
// REJECTED reachable from any active flow state past PENDING and
// CANCELLED as a terminal escape hatch outside the flow.
const (
	ApplicationStatusPending    ApplicationStatus = "PENDING"
	ApplicationStatusRegistered ApplicationStatus = "REGISTERED"
	ApplicationStatusSelection  ApplicationStatus = "SELECTION"
	ApplicationStatusAnnounced  ApplicationStatus = "ANNOUNCED"
	ApplicationStatusAccepted   ApplicationStatus = "ACCEPTED"
	ApplicationStatusRejected   ApplicationStatus = "REJECTED"
	ApplicationStatusCancelled  ApplicationStatus = "CANCELLED"
)

var forwardTransitions = map[ApplicationStatus]ApplicationStatus{
	ApplicationStatusPending:    ApplicationStatusRegistered,
	ApplicationStatusRegistered: ApplicationStatusSelection,
	ApplicationStatusSelection:  ApplicationStatusAnnounced,
	ApplicationStatusAnnounced:  ApplicationStatusAccepted,
}

var rejectableStatuses = map[ApplicationStatus]struct{}{
	ApplicationStatusRegistered: {},
	ApplicationStatusSelection:  {},
	ApplicationStatusAnnounced:  {},
}

// IsTerminal reports whether a status admits no further transitions.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case ApplicationStatusAccepted, ApplicationStatusRejected, ApplicationStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from -> to is allowed by the
// application state machine.
func CanTransition(from, to ApplicationStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case ApplicationStatusRejected:
		_, ok := rejectableStatuses[from]
		return ok
	case ApplicationStatusCancelled:
		return true
	default:
		return forwardTransitions[from] == to
	}
}

// EntryTimestampColumn maps a status to the applications column stamped
// on first entry into that status. Statuses without an entry timestamp
// return an empty string.
func EntryTimestampColumn(status ApplicationStatus) string {
	switch status {
	case ApplicationStatusSelection:
		return "selection_date"
	case ApplicationStatusAnnounced:
		return "announcement_date"
	case ApplicationStatusAccepted:
		return "accepted_date"
	}
	return ""
}

// Application captures one admission application within a cycle.
type Application struct {
	ID                 string            `db:"id" json:"id"`
	SchoolID           string            `db:"school_id" json:"school_id"`
	RegistrationNumber string            `db:"registration_number" json:"registration_number"`
	AcademicYear       string            `db:"academic_year" json:"academic_year"`
	Batch              int               `db:"batch" json:"batch"`
	FullName           string            `db:"full_name" json:"full_name"`
	Email              string            `db:"email" json:"email"`
	Phone              string            `db:"phone" json:"phone"`
	Address            string            `db:"address" json:"address"`
	MajorChoice        string            `db:"major_choice" json:"major_choice"`
	AdmissionPath      string            `db:"admission_path" json:"admission_path"`
	PriorSchool        json.RawMessage   `db:"prior_school" json:"prior_school,omitempty"`
	SelectionScore     *float64          `db:"selection_score" json:"selection_score,omitempty"`
	InterviewScore     *float64          `db:"interview_score" json:"interview_score,omitempty"`
	DocumentScore      *float64          `db:"document_score" json:"document_score,omitempty"`
	TotalScore         *float64          `db:"total_score" json:"total_score,omitempty"`
	Status             ApplicationStatus `db:"status" json:"status"`
	RegistrationDate   time.Time         `db:"registration_date" json:"registration_date"`
	SelectionDate      *time.Time        `db:"selection_date" json:"selection_date,omitempty"`
	AnnouncementDate   *time.Time        `db:"announcement_date" json:"announcement_date,omitempty"`
	AcceptedDate       *time.Time        `db:"accepted_date" json:"accepted_date,omitempty"`
	CancelReason       *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// ComputeTotalScore derives the total score as the plain average of the
// three component scores. The total stays nil until all three are set;
// it is never partially averaged.
func ComputeTotalScore(selection, interview, document *float64) *float64 {
	if selection == nil || interview == nil || document == nil {
		return nil
	}
	total := (*selection + *interview + *document) / 3
	return &total
}

// GroupKey identifies the quota group an application competes in.
func (a *Application) GroupKey() QuotaKey {
	return QuotaKey{Major: a.MajorChoice, Path: a.AdmissionPath}
}

// Eligible reports whether the application participates in a selection
// run: it has reached the selection stage but is not yet finalized.
func (a *Application) Eligible() bool {
	return a.Status == ApplicationStatusSelection || a.Status == ApplicationStatusAnnounced
}

// ApplicationFilter provides filters for listing applications.
type ApplicationFilter struct {
	SchoolID      string
	AcademicYear  string
	Batch         int
	Status        ApplicationStatus
	MajorChoice   string
	AdmissionPath string
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// GroupCount aggregates application counts per quota group and status.
type GroupCount struct {
	Major  string            `db:"major_choice" json:"major"`
	Path   string            `db:"admission_path" json:"path"`
	Status ApplicationStatus `db:"status" json:"status"`
	Count  int               `db:"count" json:"count"`
}
