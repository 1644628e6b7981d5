package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
)

type studentRepoStub struct {
	students    map[string]*models.Student
	created     []*models.Student
	reactivated []string
}

func newStudentRepoStub() *studentRepoStub {
	return &studentRepoStub{students: make(map[string]*models.Student)}
}

func (s *studentRepoStub) FindByEmailTx(ctx context.Context, tx *sqlx.Tx, schoolID, email string) (*models.Student, error) {
	if student, ok := s.students[email]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (s *studentRepoStub) CreateTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	s.created = append(s.created, student)
	s.students[student.Email] = student
	return nil
}

func (s *studentRepoStub) ReactivateTx(ctx context.Context, tx *sqlx.Tx, id, nis, major, academicYear string) error {
	s.reactivated = append(s.reactivated, id)
	return nil
}

type userRepoStub struct {
	users    map[string]*models.User
	created  []*models.User
	promoted []string
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[string]*models.User)}
}

func (s *userRepoStub) FindByEmailTx(ctx context.Context, tx *sqlx.Tx, schoolID, email string) (*models.User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) CreateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	s.created = append(s.created, user)
	s.users[user.Email] = user
	return nil
}

func (s *userRepoStub) PromoteRoleTx(ctx context.Context, tx *sqlx.Tx, id string, role models.UserRole) error {
	s.promoted = append(s.promoted, id)
	return nil
}

func acceptedApplication() *models.Application {
	return &models.Application{
		ID:                 "app-1",
		SchoolID:           "school-1",
		RegistrationNumber: "PPDB-2025-1-0001",
		AcademicYear:       "2025/2026",
		Batch:              1,
		FullName:           "Siti Rahma",
		Email:              "siti@example.com",
		MajorChoice:        "IPA",
		AdmissionPath:      "ZONASI",
		Status:             models.ApplicationStatusAnnounced,
	}
}

func TestOnAcceptedCreatesStudentAndAccount(t *testing.T) {
	students := newStudentRepoStub()
	users := newUserRepoStub()
	svc := NewEnrollmentService(students, users, nil, nil)

	err := svc.OnAccepted(context.Background(), nil, acceptedApplication())
	require.NoError(t, err)

	require.Len(t, students.created, 1)
	student := students.created[0]
	assert.Equal(t, "PPDB-2025-1-0001", student.NIS)
	assert.Equal(t, "IPA", student.Major)
	assert.True(t, student.Active)

	require.Len(t, users.created, 1)
	assert.Equal(t, models.RoleStudent, users.created[0].Role)
}

func TestOnAcceptedReactivatesExistingStudent(t *testing.T) {
	students := newStudentRepoStub()
	students.students["siti@example.com"] = &models.Student{
		ID:     "student-1",
		Email:  "siti@example.com",
		Active: false,
	}
	users := newUserRepoStub()
	svc := NewEnrollmentService(students, users, nil, nil)

	err := svc.OnAccepted(context.Background(), nil, acceptedApplication())
	require.NoError(t, err)

	assert.Empty(t, students.created, "existing student must not be duplicated")
	assert.Equal(t, []string{"student-1"}, students.reactivated)
}

func TestOnAcceptedIsIdempotent(t *testing.T) {
	students := newStudentRepoStub()
	users := newUserRepoStub()
	svc := NewEnrollmentService(students, users, nil, nil)

	app := acceptedApplication()
	require.NoError(t, svc.OnAccepted(context.Background(), nil, app))
	require.NoError(t, svc.OnAccepted(context.Background(), nil, app))

	assert.Len(t, students.created, 1)
	assert.Len(t, students.reactivated, 1)
	assert.Len(t, users.created, 1)
}

func TestOnAcceptedPromotesApplicantAccount(t *testing.T) {
	students := newStudentRepoStub()
	users := newUserRepoStub()
	users.users["siti@example.com"] = &models.User{
		ID:    "user-1",
		Email: "siti@example.com",
		Role:  models.RoleApplicant,
	}
	svc := NewEnrollmentService(students, users, nil, nil)

	err := svc.OnAccepted(context.Background(), nil, acceptedApplication())
	require.NoError(t, err)

	assert.Empty(t, users.created)
	assert.Equal(t, []string{"user-1"}, users.promoted)
}

func TestOnAcceptedLeavesStaffAccountsAlone(t *testing.T) {
	students := newStudentRepoStub()
	users := newUserRepoStub()
	users.users["siti@example.com"] = &models.User{
		ID:    "user-1",
		Email: "siti@example.com",
		Role:  models.RoleAdmin,
	}
	svc := NewEnrollmentService(students, users, nil, nil)

	err := svc.OnAccepted(context.Background(), nil, acceptedApplication())
	require.NoError(t, err)
	assert.Empty(t, users.promoted)
	assert.Empty(t, users.created)
}
