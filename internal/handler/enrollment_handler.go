package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/middleware"
	"github.com/noah-isme/course-admission-api/internal/models"
	"github.com/noah-isme/course-admission-api/internal/service"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
	"github.com/noah-isme/course-admission-api/pkg/response"
)

type admissionService interface {
	RequestEnrollment(ctx context.Context, actor models.Actor, req dto.EnrollmentRequest) (*models.AdmissionResult, error)
	CancelEnrollment(ctx context.Context, actor models.Actor, id string, req dto.CancelEnrollmentRequest) (*models.Enrollment, error)
	UpdateStatus(ctx context.Context, actor models.Actor, id string, req dto.UpdateEnrollmentStatusRequest) (*models.Enrollment, error)
	UpdateProgress(ctx context.Context, actor models.Actor, id string, req dto.UpdateProgressRequest) (*models.Enrollment, error)
	MarkPaymentPaid(ctx context.Context, actor models.Actor, id string, req dto.MarkPaymentRequest) (*models.Enrollment, error)
}

type enrollmentReader interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error)
	ListByUser(ctx context.Context, actor models.Actor, userID string, query dto.EnrollmentListQuery) ([]models.Enrollment, *models.Pagination, error)
	ListByCourse(ctx context.Context, actor models.Actor, courseID string, query dto.EnrollmentListQuery) ([]models.Enrollment, *models.Pagination, error)
	Stats(ctx context.Context, courseID string) (*models.EnrollmentStats, error)
	History(ctx context.Context, actor models.Actor, id string) ([]models.EnrollmentHistory, error)
	ExportRoster(ctx context.Context, actor models.Actor, courseID string, query dto.RosterExportQuery) (*service.ExportFile, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	admission   admissionService
	enrollments enrollmentReader
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(admission admissionService, enrollments enrollmentReader) *EnrollmentHandler {
	return &EnrollmentHandler{admission: admission, enrollments: enrollments}
}

// Create godoc
// @Summary Request enrollment in a course
// @Description Grants a seat, queues the caller on the waitlist, or rejects with CAPACITY_EXCEEDED.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.EnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.admission.RequestEnrollment(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Outcome == models.AdmissionRejected {
		response.Error(c,
			appErrors.Clone(appErrors.ErrCapacityExceeded, "course is full and does not allow a waitlist"),
			map[string]interface{}{"reason": result.Reason})
		return
	}
	response.Created(c, result)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Cancel godoc
// @Summary Cancel enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.CancelEnrollmentRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CancelEnrollmentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	enrollment, err := h.admission.CancelEnrollment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// UpdateStatus godoc
// @Summary Change enrollment status
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.UpdateEnrollmentStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/status [patch]
func (h *EnrollmentHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateEnrollmentStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.admission.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// UpdateProgress godoc
// @Summary Record course progress
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.UpdateProgressRequest true "Progress payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/progress [put]
func (h *EnrollmentHandler) UpdateProgress(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.admission.UpdateProgress(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// MarkPayment godoc
// @Summary Mark enrollment payment as paid
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.MarkPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payment [post]
func (h *EnrollmentHandler) MarkPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.MarkPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.admission.MarkPaymentPaid(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// History godoc
// @Summary List enrollment status history
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/history [get]
func (h *EnrollmentHandler) History(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	history, err := h.enrollments.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// ListByUser godoc
// @Summary List a user's enrollments
// @Tags Enrollments
// @Produce json
// @Param userId path string true "User ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/enrollments [get]
func (h *EnrollmentHandler) ListByUser(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.EnrollmentListQuery
	if !bindQuery(c, &query) {
		return
	}
	enrollments, pagination, err := h.enrollments.ListByUser(c.Request.Context(), actor, c.Param("userId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// ListByCourse godoc
// @Summary List a course roster
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/enrollments [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.EnrollmentListQuery
	if !bindQuery(c, &query) {
		return
	}
	enrollments, pagination, err := h.enrollments.ListByCourse(c.Request.Context(), actor, c.Param("courseId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination, middleware.ExtractMeta(c))
}

// Stats godoc
// @Summary Course enrollment statistics
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/enrollment-stats [get]
func (h *EnrollmentHandler) Stats(c *gin.Context) {
	stats, err := h.enrollments.Stats(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// ExportRoster godoc
// @Summary Export a course roster
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Param format query string false "csv or pdf"
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Router /courses/{courseId}/enrollments/export [get]
func (h *EnrollmentHandler) ExportRoster(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.RosterExportQuery
	if !bindQuery(c, &query) {
		return
	}
	file, err := h.enrollments.ExportRoster(c.Request.Context(), actor, c.Param("courseId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
