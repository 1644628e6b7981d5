package models

import "time"

// RegistrationSequence persists the last ordinal issued per admission
// scope so restarts never reuse registration numbers.
type RegistrationSequence struct {
	SchoolID     string    `db:"school_id" json:"school_id"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Batch        int       `db:"batch" json:"batch"`
	LastOrdinal  int64     `db:"last_ordinal" json:"last_ordinal"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
