package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/physioconnect/physioconnect-api/internal/models"
	"github.com/physioconnect/physioconnect-api/internal/service"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
	"github.com/physioconnect/physioconnect-api/pkg/response"
)

// CaseHandler wires HTTP endpoints to the case service.
type CaseHandler struct {
	service *service.CaseService
	metrics *service.MetricsService
}

// NewCaseHandler creates a new handler.
func NewCaseHandler(svc *service.CaseService, metrics *service.MetricsService) *CaseHandler {
	return &CaseHandler{service: svc, metrics: metrics}
}

// Create godoc
// @Summary Open a new case
// @Description Create a treatment case and attempt physiotherapist assignment
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body service.CreateCaseRequest true "Case payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases [post]
func (h *CaseHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid case payload"))
		return
	}

	created, warning, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		h.recordAssignment(service.AssignmentOutcomeRejected)
		response.Error(c, err)
		return
	}

	if created.Assigned() {
		h.recordAssignment(service.AssignmentOutcomeAssigned)
	} else {
		h.recordAssignment(service.AssignmentOutcomeUnmatched)
	}

	if warning != "" {
		response.CreatedWithMeta(c, created.View(), map[string]interface{}{"warning": warning})
		return
	}
	response.Created(c, created.View())
}

// List godoc
// @Summary List cases
// @Description List cases visible to the caller
// @Tags Cases
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.CaseFilter{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.CaseStatus(raw)
		filter.Status = &status
	}
	if claims.Role == models.RoleAdmin {
		filter.PatientID = c.Query("patient_id")
		filter.PhysiotherapistID = c.Query("physiotherapist_id")
		if cities := c.Query("cities"); cities != "" {
			filter.Cities = splitCSV(cities)
		}
	}

	cases, total, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, caseViews(cases), &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Unmapped godoc
// @Summary List unmapped cases
// @Description List open cases without a physiotherapist, optionally by city
// @Tags Cases
// @Produce json
// @Param cities query string false "Comma separated city list"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases/unmapped [get]
func (h *CaseHandler) Unmapped(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var cities []string
	if raw := c.Query("cities"); raw != "" {
		cities = splitCSV(raw)
	}

	cases, err := h.service.ListUnmapped(c.Request.Context(), claims, cities)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, caseViews(cases), nil)
}

// Get godoc
// @Summary Get a case
// @Description Fetch a single case with its comment thread
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	found, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, found.View(), nil)
}

// Assign godoc
// @Summary Assign a physiotherapist
// @Description Attach a physiotherapist to an open case, or auto-match when none is given
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.AssignCaseRequest false "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/assign [post]
func (h *CaseHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AssignCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	updated, warning, err := h.service.Assign(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		h.recordAssignment(service.AssignmentOutcomeRejected)
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{}
	if warning != "" {
		meta["warning"] = warning
	}
	if updated.Assigned() {
		h.recordAssignment(service.AssignmentOutcomeAssigned)
	} else {
		h.recordAssignment(service.AssignmentOutcomeUnmatched)
	}
	if len(meta) == 0 {
		meta = nil
	}
	response.JSON(c, http.StatusOK, updated.View(), nil, meta)
}

// Claim godoc
// @Summary Claim an open case
// @Description Physiotherapist takes an unassigned case in a covered city
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/claim [post]
func (h *CaseHandler) Claim(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.service.ClaimCase(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		h.recordAssignment(service.AssignmentOutcomeRejected)
		response.Error(c, err)
		return
	}

	h.recordAssignment(service.AssignmentOutcomeAssigned)
	response.JSON(c, http.StatusOK, updated.View(), nil)
}

// RequestClosure godoc
// @Summary Request case closure
// @Description Move the case to pending closure
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/request-closure [post]
func (h *CaseHandler) RequestClosure(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.service.RequestClosure(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, updated.View(), nil)
}

// Close godoc
// @Summary Close a case
// @Description Finalize a pending-closure case with the patient's review
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body models.Review true "Closing review"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/close [post]
func (h *CaseHandler) Close(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var review models.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	updated, err := h.service.Close(c.Request.Context(), claims, c.Param("id"), review)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, updated.View(), nil)
}

// AddComment godoc
// @Summary Comment on a case
// @Description Append a comment to the case thread
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.AddCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases/{id}/comments [post]
func (h *CaseHandler) AddComment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}

	comment, err := h.service.AddComment(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, comment)
}

func (h *CaseHandler) recordAssignment(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordAssignment(outcome)
	}
}

func caseViews(cases []models.Case) []models.CaseView {
	views := make([]models.CaseView, 0, len(cases))
	for i := range cases {
		views = append(views, cases[i].View())
	}
	return views
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
