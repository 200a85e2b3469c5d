package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/physioconnect/physioconnect-api/internal/middleware"
	"github.com/physioconnect/physioconnect-api/internal/models"
	"github.com/physioconnect/physioconnect-api/internal/service"
	"github.com/physioconnect/physioconnect-api/pkg/response"
)

// AdminHandler serves the admin dashboard endpoints.
type AdminHandler struct {
	stats   *service.StatsService
	exports *service.ExportService
	metrics *service.MetricsService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(stats *service.StatsService, exports *service.ExportService, metrics *service.MetricsService) *AdminHandler {
	return &AdminHandler{stats: stats, exports: exports, metrics: metrics}
}

// Stats godoc
// @Summary Platform statistics
// @Description Totals of users and cases for the admin dashboard
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, cacheHit, err := h.stats.AdminStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// ExportCases godoc
// @Summary Export the case roster
// @Description Download the full case roster as CSV or PDF
// @Tags Admin
// @Produce octet-stream
// @Param format query string true "Export format (csv or pdf)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /admin/cases/export [get]
func (h *AdminHandler) ExportCases(c *gin.Context) {
	filter := models.CaseFilter{}
	if raw := c.Query("status"); raw != "" {
		status := models.CaseStatus(raw)
		filter.Status = &status
	}

	result, err := h.exports.ExportCases(c.Request.Context(), c.DefaultQuery("format", "csv"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// SystemMetrics godoc
// @Summary Runtime metrics snapshot
// @Description Aggregated request and cache counters
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/metrics [get]
func (h *AdminHandler) SystemMetrics(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
