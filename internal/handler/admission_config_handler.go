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

type admissionConfigService interface {
	Create(ctx context.Context, req service.AdmissionConfigRequest) (*models.AdmissionConfig, error)
	Update(ctx context.Context, id string, req service.AdmissionConfigRequest) (*models.AdmissionConfig, error)
	Get(ctx context.Context, id string) (*models.AdmissionConfig, error)
	GetActive(ctx context.Context, schoolID, academicYear string, batch int) (*models.AdmissionConfig, error)
	List(ctx context.Context, schoolID string) ([]models.AdmissionConfig, error)
	Validate(ctx context.Context, id string) ([]models.ConfigurationError, error)
	Activate(ctx context.Context, id string) (*models.AdmissionConfig, error)
}

// AdmissionConfigHandler exposes admission cycle configuration endpoints.
type AdmissionConfigHandler struct {
	service admissionConfigService
}

// NewAdmissionConfigHandler builds a new handler.
func NewAdmissionConfigHandler(svc admissionConfigService) *AdmissionConfigHandler {
	return &AdmissionConfigHandler{service: svc}
}

// Create godoc
// @Summary Create admission config
// @Tags Admission Config
// @Accept json
// @Produce json
// @Param payload body service.AdmissionConfigRequest true "Config payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admission-configs [post]
func (h *AdmissionConfigHandler) Create(c *gin.Context) {
	var req service.AdmissionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid config payload"))
		return
	}

	cfg, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cfg)
}

// Update godoc
// @Summary Update admission config
// @Tags Admission Config
// @Accept json
// @Produce json
// @Param id path string true "Config ID"
// @Param payload body service.AdmissionConfigRequest true "Config payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admission-configs/{id} [put]
func (h *AdmissionConfigHandler) Update(c *gin.Context) {
	var req service.AdmissionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid config payload"))
		return
	}

	cfg, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// Get godoc
// @Summary Get admission config
// @Tags Admission Config
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admission-configs/{id} [get]
func (h *AdmissionConfigHandler) Get(c *gin.Context) {
	cfg, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// GetActive godoc
// @Summary Get the active config for a cycle
// @Tags Admission Config
// @Produce json
// @Param school_id query string true "School ID"
// @Param academic_year query string true "Academic year"
// @Param batch query int true "Batch"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admission-configs/active [get]
func (h *AdmissionConfigHandler) GetActive(c *gin.Context) {
	batch, _ := strconv.Atoi(c.Query("batch"))
	cfg, err := h.service.GetActive(c.Request.Context(), c.Query("school_id"), c.Query("academic_year"), batch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// List godoc
// @Summary List admission configs
// @Tags Admission Config
// @Produce json
// @Param school_id query string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /admission-configs [get]
func (h *AdmissionConfigHandler) List(c *gin.Context) {
	cfgs, err := h.service.List(c.Request.Context(), c.Query("school_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfgs, nil)
}

// Validate godoc
// @Summary Validate admission config
// @Description Audit a stored config and report its problems without changing it
// @Tags Admission Config
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} response.Envelope
// @Router /admission-configs/{id}/validate [get]
func (h *AdmissionConfigHandler) Validate(c *gin.Context) {
	problems, err := h.service.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"valid": len(problems) == 0, "problems": problems}, nil)
}

// Activate godoc
// @Summary Activate admission config
// @Description Mark a config as the live one for its cycle scope
// @Tags Admission Config
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admission-configs/{id}/activate [post]
func (h *AdmissionConfigHandler) Activate(c *gin.Context) {
	cfg, err := h.service.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}
