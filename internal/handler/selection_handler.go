package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/pkg/response"
)

type selectionService interface {
	Run(ctx context.Context, configID string) (*models.SelectionResult, error)
	Statistics(ctx context.Context, configID string) (*models.SelectionStatistics, error)
}

// SelectionHandler exposes selection run endpoints.
type SelectionHandler struct {
	service selectionService
}

// NewSelectionHandler builds a new handler.
func NewSelectionHandler(svc selectionService) *SelectionHandler {
	return &SelectionHandler{service: svc}
}

// Run godoc
// @Summary Run selection
// @Description Execute quota-bounded selection for an admission cycle
// @Tags Selection
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admission-configs/{id}/selection/run [post]
func (h *SelectionHandler) Run(c *gin.Context) {
	result, err := h.service.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Statistics godoc
// @Summary Selection statistics
// @Description Per-group registration and decision counts for a cycle
// @Tags Selection
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admission-configs/{id}/selection/statistics [get]
func (h *SelectionHandler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
