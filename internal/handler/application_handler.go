package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/internal/service"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
	"github.com/noah-isme/sma-ppdb-api/pkg/response"
)

type registrationService interface {
	Register(ctx context.Context, req service.RegisterApplicationRequest) (*models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
	GetByNumber(ctx context.Context, schoolID, number string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error)
	UpdateScores(ctx context.Context, id string, req service.UpdateScoresRequest) (*models.Application, error)
	Transition(ctx context.Context, id string, req service.TransitionRequest) (*models.Application, error)
	OpenSelection(ctx context.Context, req service.OpenSelectionRequest) (int64, error)
}

// ApplicationHandler exposes admission application endpoints.
type ApplicationHandler struct {
	service registrationService
}

// NewApplicationHandler builds a new handler.
func NewApplicationHandler(svc registrationService) *ApplicationHandler {
	return &ApplicationHandler{service: svc}
}

// Register godoc
// @Summary Register an application
// @Description Submit an admission application and receive a registration number
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.RegisterApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Register(c *gin.Context) {
	var req service.RegisterApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}

	app, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, app)
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param school_id query string true "School ID"
// @Param academic_year query string false "Academic year"
// @Param batch query int false "Batch"
// @Param status query string false "Status filter"
// @Param major query string false "Major filter"
// @Param path query string false "Admission path filter"
// @Param search query string false "Name, email or number search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	batch, _ := strconv.Atoi(c.Query("batch"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := models.ApplicationFilter{
		SchoolID:      c.Query("school_id"),
		AcademicYear:  c.Query("academic_year"),
		Batch:         batch,
		Status:        models.ApplicationStatus(c.Query("status")),
		MajorChoice:   c.Query("major"),
		AdmissionPath: c.Query("path"),
		Search:        c.Query("search"),
		Page:          page,
		PageSize:      pageSize,
		SortBy:        c.Query("sort_by"),
		SortOrder:     c.Query("sort_order"),
	}

	apps, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, apps, pagination)
}

// Get godoc
// @Summary Get application by ID
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// GetByNumber godoc
// @Summary Get application by registration number
// @Description Lets an applicant check their status by registration number
// @Tags Applications
// @Produce json
// @Param school_id query string true "School ID"
// @Param number path string true "Registration number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/number/{number} [get]
func (h *ApplicationHandler) GetByNumber(c *gin.Context) {
	app, err := h.service.GetByNumber(c.Request.Context(), c.Query("school_id"), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// UpdateScores godoc
// @Summary Update application scores
// @Description Record selection, interview and document scores
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.UpdateScoresRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /applications/{id}/scores [put]
func (h *ApplicationHandler) UpdateScores(c *gin.Context) {
	var req service.UpdateScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid score payload"))
		return
	}

	app, err := h.service.UpdateScores(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Transition godoc
// @Summary Transition application status
// @Description Move an application along its status lifecycle
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/status [put]
func (h *ApplicationHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	app, err := h.service.Transition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Cancel godoc
// @Summary Cancel an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body object false "Optional cancel reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/cancel [post]
func (h *ApplicationHandler) Cancel(c *gin.Context) {
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&payload)

	app, err := h.service.Transition(c.Request.Context(), c.Param("id"), service.TransitionRequest{
		Status: models.ApplicationStatusCancelled,
		Reason: payload.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// OpenSelection godoc
// @Summary Open the selection stage
// @Description Move all registered applications of a cycle into selection
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.OpenSelectionRequest true "Cycle scope"
// @Success 200 {object} response.Envelope
// @Router /applications/open-selection [post]
func (h *ApplicationHandler) OpenSelection(c *gin.Context) {
	var req service.OpenSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	moved, err := h.service.OpenSelection(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"moved": moved}, nil)
}
