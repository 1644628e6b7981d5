package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

type selectionServiceMock struct {
	result *models.SelectionResult
	stats  *models.SelectionStatistics
	runErr error
}

func (m *selectionServiceMock) Run(ctx context.Context, configID string) (*models.SelectionResult, error) {
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.result, nil
}

func (m *selectionServiceMock) Statistics(ctx context.Context, configID string) (*models.SelectionStatistics, error) {
	return m.stats, nil
}

func TestSelectionHandlerRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &selectionServiceMock{result: &models.SelectionResult{
		ConfigID:     "cfg-1",
		AcademicYear: "2025/2026",
		Batch:        1,
		RanAt:        time.Now().UTC(),
	}}
	h := NewSelectionHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admission-configs/cfg-1/selection/run", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cfg-1"}}

	h.Run(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cfg-1")
}

func TestSelectionHandlerRunUnconfiguredGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &selectionServiceMock{runErr: appErrors.ErrUnconfiguredGroup}
	h := NewSelectionHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admission-configs/cfg-1/selection/run", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cfg-1"}}

	h.Run(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrUnconfiguredGroup.Code)
}

func TestSelectionHandlerStatistics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &selectionServiceMock{stats: &models.SelectionStatistics{
		ConfigID: "cfg-1",
		Groups: []models.GroupStatistics{
			{Major: "IPA", Path: "ZONASI", Capacity: 30, Accepted: 20},
		},
	}}
	h := NewSelectionHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/admission-configs/cfg-1/selection/statistics", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cfg-1"}}

	h.Statistics(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "IPA")
}
