package models

import "time"

// Student represents a learner materialized from an accepted
// application. NIS carries the registration number the student was
// admitted under.
type Student struct {
	ID           string    `db:"id" json:"id"`
	SchoolID     string    `db:"school_id" json:"school_id"`
	NIS          string    `db:"nis" json:"nis"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	Major        string    `db:"major" json:"major"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Phone        string    `db:"phone" json:"phone"`
	Address      string    `db:"address" json:"address"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
