package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func score(v float64) *float64 { return &v }

func eligibleApp(id, number, major, path string, total *float64, registeredAt time.Time) models.Application {
	return models.Application{
		ID:                 id,
		SchoolID:           "school-1",
		RegistrationNumber: number,
		AcademicYear:       "2025/2026",
		Batch:              1,
		MajorChoice:        major,
		AdmissionPath:      path,
		TotalScore:         total,
		Status:             models.ApplicationStatusSelection,
		RegistrationDate:   registeredAt,
	}
}

func testConfig(quotas ...models.Quota) *models.AdmissionConfig {
	return &models.AdmissionConfig{
		ID:              "cfg-1",
		SchoolID:        "school-1",
		AcademicYear:    "2025/2026",
		Batch:           1,
		Active:          true,
		AvailableMajors: pq.StringArray{"IPA", "IPS"},
		AdmissionPaths:  pq.StringArray{"ZONASI", "PRESTASI"},
		TotalCapacity:   100,
		Quotas:          quotas,
	}
}

func decisionIDs(decisions []models.SelectionDecision) []string {
	ids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ApplicationID)
	}
	return ids
}

func appIDs(apps []models.Application) []string {
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestDecideRespectsQuotaAndTieBreaks(t *testing.T) {
	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 2})
	early := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	// Two applicants tie on score; the earlier registration wins the
	// last seat.
	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), late),
		eligibleApp("b", "PPDB-2025-1-0002", "IPA", "ZONASI", score(90), early),
		eligibleApp("c", "PPDB-2025-1-0003", "IPA", "ZONASI", score(70), early),
	}

	accepted, rejected, err := decide(cfg, apps)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, appIDs(accepted))
	assert.Equal(t, []string{"c"}, appIDs(rejected))
}

func TestDecideRegistrationNumberIsFinalTieBreak(t *testing.T) {
	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 1})
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0002", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
	}

	accepted, rejected, err := decide(cfg, apps)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, appIDs(accepted))
	assert.Equal(t, []string{"a"}, appIDs(rejected))
}

func TestDecideZeroQuotaRejectsEveryone(t *testing.T) {
	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 0})
	at := time.Now().UTC()

	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(99), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPA", "ZONASI", score(95), at),
	}

	accepted, rejected, err := decide(cfg, apps)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, rejected, 2)
}

func TestDecideUnscoredRankLastButFillSpareCapacity(t *testing.T) {
	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 3})
	at := time.Now().UTC()

	apps := []models.Application{
		eligibleApp("unscored", "PPDB-2025-1-0001", "IPA", "ZONASI", nil, at),
		eligibleApp("low", "PPDB-2025-1-0002", "IPA", "ZONASI", score(50), at),
		eligibleApp("high", "PPDB-2025-1-0003", "IPA", "ZONASI", score(95), at),
	}

	accepted, rejected, err := decide(cfg, apps)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "unscored"}, appIDs(accepted))
	assert.Empty(t, rejected)
}

func TestDecidePartitionsEligibleSetCompletely(t *testing.T) {
	cfg := testConfig(
		models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 1},
		models.Quota{Major: "IPS", Path: "PRESTASI", Capacity: 2},
	)
	at := time.Now().UTC()

	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(80), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPA", "ZONASI", score(70), at),
		eligibleApp("c", "PPDB-2025-1-0003", "IPS", "PRESTASI", score(60), at),
	}

	accepted, rejected, err := decide(cfg, apps)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, a := range accepted {
		seen[a.ID]++
	}
	for _, r := range rejected {
		seen[r.ID]++
	}
	assert.Len(t, seen, len(apps))
	for id, count := range seen {
		assert.Equal(t, 1, count, "application %s decided more than once", id)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	cfg := testConfig(
		models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 2},
		models.Quota{Major: "IPS", Path: "PRESTASI", Capacity: 1},
	)
	at := time.Now().UTC()

	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPS", "PRESTASI", score(85), at),
		eligibleApp("c", "PPDB-2025-1-0003", "IPA", "ZONASI", nil, at),
		eligibleApp("d", "PPDB-2025-1-0004", "IPS", "PRESTASI", score(88), at),
	}

	firstAccepted, firstRejected, err := decide(cfg, apps)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		accepted, rejected, err := decide(cfg, apps)
		require.NoError(t, err)
		assert.Equal(t, appIDs(firstAccepted), appIDs(accepted))
		assert.Equal(t, appIDs(firstRejected), appIDs(rejected))
	}
}

func TestDecideFailsFastOnUnconfiguredGroup(t *testing.T) {
	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 5})
	at := time.Now().UTC()

	apps := []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPS", "ZONASI", score(95), at),
	}

	_, _, err := decide(cfg, apps)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnconfiguredGroup))
}

type selectionConfigStub struct {
	cfg *models.AdmissionConfig
}

func (s *selectionConfigStub) FindByID(ctx context.Context, id string) (*models.AdmissionConfig, error) {
	return s.cfg, nil
}

func (s *selectionConfigStub) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.AdmissionConfig, error) {
	return s.cfg, nil
}

type statusUpdate struct {
	ID     string
	Status models.ApplicationStatus
}

type selectionAppsStub struct {
	eligible []models.Application
	counts   []models.GroupCount
	updates  []statusUpdate
}

func (s *selectionAppsStub) ListEligibleTx(ctx context.Context, tx *sqlx.Tx, schoolID, academicYear string, batch int) ([]models.Application, error) {
	return s.eligible, nil
}

func (s *selectionAppsStub) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ApplicationStatus, at time.Time) error {
	s.updates = append(s.updates, statusUpdate{ID: id, Status: status})
	return nil
}

func (s *selectionAppsStub) CountByGroup(ctx context.Context, schoolID, academicYear string, batch int) ([]models.GroupCount, error) {
	return s.counts, nil
}

type bridgeStub struct {
	enrolled []string
	err      error
}

func (b *bridgeStub) OnAccepted(ctx context.Context, tx *sqlx.Tx, app *models.Application) error {
	if b.err != nil {
		return b.err
	}
	b.enrolled = append(b.enrolled, app.RegistrationNumber)
	return nil
}

func TestSelectionRunPersistsDecisionsAndEnrolls(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 1})
	at := time.Now().UTC()
	apps := &selectionAppsStub{eligible: []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPA", "ZONASI", score(80), at),
	}}
	bridge := &bridgeStub{}

	mock.ExpectBegin()
	mock.ExpectCommit()

	svc := NewSelectionService(db, &selectionConfigStub{cfg: cfg}, apps, bridge, nil, nil, nil, time.Minute)
	result, err := svc.Run(context.Background(), "cfg-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, decisionIDs(result.Accepted))
	assert.Equal(t, []string{"b"}, decisionIDs(result.Rejected))
	assert.Equal(t, []statusUpdate{
		{ID: "a", Status: models.ApplicationStatusAccepted},
		{ID: "b", Status: models.ApplicationStatusRejected},
	}, apps.updates)
	assert.Equal(t, []string{"PPDB-2025-1-0001"}, bridge.enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRunAgainAfterDecisionsIsNoOp(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 1})
	at := time.Now().UTC()
	apps := &selectionAppsStub{eligible: []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPA", "ZONASI", score(80), at),
	}}
	bridge := &bridgeStub{}

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	svc := NewSelectionService(db, &selectionConfigStub{cfg: cfg}, apps, bridge, nil, nil, nil, time.Minute)
	_, err := svc.Run(context.Background(), "cfg-1")
	require.NoError(t, err)

	// Decided applications leave the eligible set, so a second run over
	// unchanged data finds nothing to decide, writes nothing and does
	// not enroll anyone twice.
	apps.eligible = nil
	result, err := svc.Run(context.Background(), "cfg-1")
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	assert.Empty(t, result.Rejected)
	assert.Len(t, apps.updates, 2)
	assert.Equal(t, []string{"PPDB-2025-1-0001"}, bridge.enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRunAbortsBeforeWritesOnUnconfiguredGroup(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 5})
	at := time.Now().UTC()
	apps := &selectionAppsStub{eligible: []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
		eligibleApp("b", "PPDB-2025-1-0002", "IPS", "PRESTASI", score(95), at),
	}}
	bridge := &bridgeStub{}

	mock.ExpectBegin()
	mock.ExpectRollback()

	svc := NewSelectionService(db, &selectionConfigStub{cfg: cfg}, apps, bridge, nil, nil, nil, time.Minute)
	_, err := svc.Run(context.Background(), "cfg-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnconfiguredGroup))
	assert.Empty(t, apps.updates)
	assert.Empty(t, bridge.enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRunRejectsInvalidConfig(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	// Quota references a major the cycle does not offer.
	cfg := testConfig(models.Quota{Major: "BAHASA", Path: "ZONASI", Capacity: 5})
	apps := &selectionAppsStub{}

	mock.ExpectBegin()
	mock.ExpectRollback()

	svc := NewSelectionService(db, &selectionConfigStub{cfg: cfg}, apps, &bridgeStub{}, nil, nil, nil, time.Minute)
	_, err := svc.Run(context.Background(), "cfg-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
	assert.Empty(t, apps.updates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRunRollsBackOnEnrollmentFailure(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	cfg := testConfig(models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 1})
	at := time.Now().UTC()
	apps := &selectionAppsStub{eligible: []models.Application{
		eligibleApp("a", "PPDB-2025-1-0001", "IPA", "ZONASI", score(90), at),
	}}
	bridge := &bridgeStub{err: assert.AnError}

	mock.ExpectBegin()
	mock.ExpectRollback()

	svc := NewSelectionService(db, &selectionConfigStub{cfg: cfg}, apps, bridge, nil, nil, nil, time.Minute)
	_, err := svc.Run(context.Background(), "cfg-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEnrollmentFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionStatistics(t *testing.T) {
	cfg := testConfig(
		models.Quota{Major: "IPA", Path: "ZONASI", Capacity: 30},
		models.Quota{Major: "IPS", Path: "PRESTASI", Capacity: 10},
	)
	apps := &selectionAppsStub{counts: []models.GroupCount{
		{Major: "IPA", Path: "ZONASI", Status: models.ApplicationStatusRegistered, Count: 5},
		{Major: "IPA", Path: "ZONASI", Status: models.ApplicationStatusSelection, Count: 12},
		{Major: "IPA", Path: "ZONASI", Status: models.ApplicationStatusAccepted, Count: 20},
		{Major: "IPA", Path: "ZONASI", Status: models.ApplicationStatusCancelled, Count: 3},
		{Major: "IPS", Path: "PRESTASI", Status: models.ApplicationStatusRejected, Count: 4},
	}}

	svc := NewSelectionService(nil, &selectionConfigStub{cfg: cfg}, apps, &bridgeStub{}, nil, nil, nil, time.Minute)
	stats, err := svc.Statistics(context.Background(), "cfg-1")
	require.NoError(t, err)

	require.Len(t, stats.Groups, 2)
	ipa := stats.Groups[0]
	assert.Equal(t, "IPA", ipa.Major)
	assert.Equal(t, 30, ipa.Capacity)
	assert.Equal(t, 37, ipa.Registered)
	assert.Equal(t, 12, ipa.Eligible)
	assert.Equal(t, 20, ipa.Accepted)

	ips := stats.Groups[1]
	assert.Equal(t, 4, ips.Rejected)
	assert.Equal(t, 4, ips.Registered)
}
