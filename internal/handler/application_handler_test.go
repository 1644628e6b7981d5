package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/internal/service"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

type registrationServiceMock struct {
	app           *models.Application
	registerErr   error
	transitionErr error
	lastRequest   service.TransitionRequest
}

func (m *registrationServiceMock) Register(ctx context.Context, req service.RegisterApplicationRequest) (*models.Application, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return m.app, nil
}

func (m *registrationServiceMock) Get(ctx context.Context, id string) (*models.Application, error) {
	if m.app == nil {
		return nil, appErrors.ErrNotFound
	}
	return m.app, nil
}

func (m *registrationServiceMock) GetByNumber(ctx context.Context, schoolID, number string) (*models.Application, error) {
	if m.app == nil {
		return nil, appErrors.ErrNotFound
	}
	return m.app, nil
}

func (m *registrationServiceMock) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *registrationServiceMock) UpdateScores(ctx context.Context, id string, req service.UpdateScoresRequest) (*models.Application, error) {
	return m.app, nil
}

func (m *registrationServiceMock) Transition(ctx context.Context, id string, req service.TransitionRequest) (*models.Application, error) {
	m.lastRequest = req
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	return m.app, nil
}

func (m *registrationServiceMock) OpenSelection(ctx context.Context, req service.OpenSelectionRequest) (int64, error) {
	return 10, nil
}

func testContext(t *testing.T, method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestApplicationHandlerRegisterCreated(t *testing.T) {
	mock := &registrationServiceMock{app: &models.Application{
		ID:                 "app-1",
		RegistrationNumber: "PPDB-2025-1-0001",
		Status:             models.ApplicationStatusRegistered,
	}}
	h := NewApplicationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/applications", service.RegisterApplicationRequest{
		SchoolID:      "school-1",
		AcademicYear:  "2025/2026",
		Batch:         1,
		FullName:      "Siti",
		Email:         "siti@example.com",
		MajorChoice:   "IPA",
		AdmissionPath: "ZONASI",
	})
	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "PPDB-2025-1-0001")
}

func TestApplicationHandlerRegisterDuplicateConflict(t *testing.T) {
	mock := &registrationServiceMock{registerErr: appErrors.ErrDuplicateRegistration}
	h := NewApplicationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/applications", service.RegisterApplicationRequest{})
	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrDuplicateRegistration.Code)
}

func TestApplicationHandlerRegisterInvalidBody(t *testing.T) {
	h := NewApplicationHandler(&registrationServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/applications", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Register(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplicationHandlerTransitionIllegal(t *testing.T) {
	mock := &registrationServiceMock{transitionErr: appErrors.ErrIllegalTransition}
	h := NewApplicationHandler(mock)

	c, w := testContext(t, http.MethodPut, "/applications/app-1/status", service.TransitionRequest{
		Status: models.ApplicationStatusAccepted,
	})
	c.Params = gin.Params{{Key: "id", Value: "app-1"}}
	h.Transition(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApplicationHandlerCancelPassesReason(t *testing.T) {
	mock := &registrationServiceMock{app: &models.Application{ID: "app-1", Status: models.ApplicationStatusCancelled}}
	h := NewApplicationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/applications/app-1/cancel", map[string]string{"reason": "withdrew"})
	c.Params = gin.Params{{Key: "id", Value: "app-1"}}
	h.Cancel(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ApplicationStatusCancelled, mock.lastRequest.Status)
	assert.Equal(t, "withdrew", mock.lastRequest.Reason)
}
