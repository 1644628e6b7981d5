package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ppdb-api/internal/models"
	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
	"github.com/noah-isme/sma-ppdb-api/pkg/response"
)

type exportService interface {
	Enqueue(ctx context.Context, configID string, format models.ExportFormat) (*models.ExportJob, error)
	Get(jobID string) (*models.ExportJob, error)
}

// ExportHandler exposes announcement export endpoints.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds a new handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Enqueue godoc
// @Summary Request an announcement export
// @Description Queue an asynchronous export of the decided applications of a cycle
// @Tags Exports
// @Produce json
// @Param id path string true "Config ID"
// @Param format query string true "Export format (csv or pdf)"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admission-configs/{id}/exports [post]
func (h *ExportHandler) Enqueue(c *gin.Context) {
	format := models.ExportFormat(c.DefaultQuery("format", string(models.ExportFormatCSV)))
	job, err := h.service.Enqueue(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Get godoc
// @Summary Fetch an export job
// @Description Returns job status, or the rendered document once completed
// @Tags Exports
// @Produce json
// @Param jobID path string true "Export job ID"
// @Param download query bool false "Stream the rendered document"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{jobID} [get]
func (h *ExportHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Param("jobID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if c.Query("download") == "true" {
		if job.Status != models.ExportJobCompleted {
			response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "export is not completed yet"))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+job.Filename+`"`)
		c.Data(http.StatusOK, job.ContentType, job.Payload)
		return
	}

	response.JSON(c, http.StatusOK, job, nil)
}
